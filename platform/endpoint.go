package platform

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseAPIEndpoint splits an API endpoint of the form
// "https://<token>@<host>/<path>/" into its base URL (always ending with a
// slash, without credentials) and its token.
func ParseAPIEndpoint(apiEndpoint string) (baseURL string, token string, err error) {
	u, err := url.Parse(apiEndpoint)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidAPIEndpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAPIEndpoint, apiEndpoint)
	}
	if u.User != nil {
		token = u.User.Username()
		u.User = nil
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String(), token, nil
}

// BuildAPIEndpoint is the inverse of ParseAPIEndpoint.
func BuildAPIEndpoint(baseURL, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAPIEndpoint, err)
	}
	if token != "" {
		u.User = url.User(token)
	}
	return u.String(), nil
}
