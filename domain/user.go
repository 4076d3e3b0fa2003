package domain

// Event types persisted on the bridge account.
const (
	EventTypeCredential  = "credentials/pryv-api-endpoint"
	EventTypeSyncStatus  = "sync-status/bridge"
	EventTypeAuthRequest = "temp-status/bridge-auth-request"
	EventTypeError       = "error/message-object"
)

// UserInfo is the partner user as derived from its credential event.
type UserInfo struct {
	Active        bool    `json:"active"`
	PartnerUserID string  `json:"partnerUserId"`
	APIEndpoint   string  `json:"apiEndpoint"`
	Created       float64 `json:"created"`
	Modified      float64 `json:"modified"`
}

// SyncStatus is the last plugin-reported synchronization, if any.
type SyncStatus struct {
	Content  any      `json:"content"`
	LastSync *float64 `json:"lastSync"`
}

// UserStatus is returned by status queries.
type UserStatus struct {
	User       UserInfo   `json:"user"`
	SyncStatus SyncStatus `json:"syncStatus"`
}

// UserConnection pairs a user's status with a connection on its account.
type UserConnection struct {
	UserStatus
	Connection Connection `json:"-"`
}

// ErrorRecord is the content of an audit error event.
type ErrorRecord struct {
	Message     string `json:"message"`
	ErrorObject any    `json:"errorObject"`
}
