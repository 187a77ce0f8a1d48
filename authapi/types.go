package authapi

import "time"

// Routes served by the Auth API.
const (
	RouteLogin            = "/auth/login"
	RouteRegister         = "/tenants/register"
	RouteRefresh          = "/auth/refresh"
	RouteLogout           = "/auth/logout"
	RouteLogoutAll        = "/auth/logout-all"
	RouteSessions         = "/auth/sessions"
	RouteTerminateSession = "/auth/sessions/{sessionId}/logout"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Credentials is the bundle returned by a successful login or refresh.
// ExpiresIn and RefreshExpiresIn are informational and never persisted.
type Credentials struct {
	Token            string `json:"token"`
	RefreshToken     string `json:"refreshToken"`
	SessionID        string `json:"sessionId"`
	ExpiresIn        int    `json:"expiresIn"`
	RefreshExpiresIn int    `json:"refreshExpiresIn"`
}

// LoginResponse adds the identity of the signed-in user to the bundle.
type LoginResponse struct {
	Credentials
	UserID   string `json:"userId"`
	TenantID string `json:"tenantId,omitempty"`
	Role     string `json:"role"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RegisterRequest creates a tenant together with its first admin user.
type RegisterRequest struct {
	TenantName    string `json:"tenantName"`
	TenantSlug    string `json:"tenantSlug,omitempty"`
	AdminEmail    string `json:"adminEmail"`
	AdminPassword string `json:"adminPassword"`
	AdminName     string `json:"adminName,omitempty"`
}

type RegisterResponse struct {
	TenantID string `json:"tenantId"`
	UserID   string `json:"userId"`
}

// SessionInfo describes one server-side session of the signed-in user.
type SessionInfo struct {
	ID           string    `json:"id"`
	DeviceInfo   string    `json:"deviceInfo,omitempty"`
	IPAddress    string    `json:"ipAddress,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type sessionsEnvelope struct {
	Sessions []SessionInfo `json:"sessions"`
}
