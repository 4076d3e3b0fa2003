package domain

// RedirectURLs are where the end user is sent after the consent page.
type RedirectURLs struct {
	Success string `json:"success"`
	Cancel  string `json:"cancel"`
}

// PendingAuthRequest is persisted between initiate and finalize.
type PendingAuthRequest struct {
	RedirectURLs      RedirectURLs   `json:"redirectURLs"`
	WebhookClientData map[string]any `json:"webhookClientData"`
	// ResponseBody is the platform's access request response, verbatim.
	ResponseBody     map[string]any `json:"responseBody"`
	OnboardingSecret string         `json:"onboardingSecret"`
}

// PollURL returns the poll URL of the stored access request.
func (p *PendingAuthRequest) PollURL() string {
	s, _ := p.ResponseBody["poll"].(string)
	return s
}

// Onboard result types.
const (
	OnboardTypeUserExists  = "userExists"
	OnboardTypeAuthRequest = "authRequest"
)

// OnboardResult is returned by initiate.
type OnboardResult struct {
	Type             string              `json:"type"`
	User             *UserInfo           `json:"user,omitempty"`
	OnboardingSecret string              `json:"onboardingSecret,omitempty"`
	RedirectUserURL  string              `json:"redirectUserURL,omitempty"`
	Context          *PendingAuthRequest `json:"context,omitempty"`
}

// Webhook types.
const (
	WebhookTypeSuccess = "SUCCESS"
	WebhookTypeCancel  = "CANCEL"
	WebhookTypeError   = "ERROR"
)

// ReservedClientDataKeys may not appear in partner supplied client data since
// they would collide with webhook parameters.
var ReservedClientDataKeys = []string{
	"onboardingSecret", "partnerUserId", "status", "error", "errorObject", "type",
	"errorObjectJSON", "pluginResultJSON", "pluginsResultJSON", "pluginResult",
}
