package config

import "time"

type Auth struct{}

var _ AuthConfig = Auth{}

// GetAuthAPIURL returns the base URL of the Auth API (e.g. "https://api.example.com")
func (Auth) GetAuthAPIURL() string {
	return GetEnv("AUTH_API_URL", "http://localhost:8080")
}

func (Auth) GetHTTPTimeout() time.Duration {
	return GetDuration("AUTH_HTTP_TIMEOUT", 10*time.Second)
}

// GetRefreshLeeway is how long before expiry an access token is considered stale.
func (Auth) GetRefreshLeeway() time.Duration {
	return GetDuration("AUTH_REFRESH_LEEWAY", 30*time.Second)
}
