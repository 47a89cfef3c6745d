package model

import "strings"

const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// AuthClaims are the JWT claims issued by the registry's identity provider.
type AuthClaims struct {
	UserID   string `json:"sub"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Type     string `json:"typ"`
	TokenID  string `json:"jti"`
}

// Principal is the acting user of a recycle bin operation.
type Principal struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// NewPrincipal builds the principal for a validated set of claims. It is the
// only place a principal is created from identity data.
func NewPrincipal(claims *AuthClaims) Principal {
	if claims == nil {
		return Principal{}
	}

	return Principal{
		ID:       strings.TrimSpace(claims.UserID),
		Username: strings.TrimSpace(claims.Username),
		Role:     strings.ToLower(strings.TrimSpace(claims.Role)),
	}
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

func (p Principal) IsZero() bool {
	return p.ID == ""
}

// Label is used in log lines and reports.
func (p Principal) Label() string {
	if p.Username != "" {
		return p.Username
	}
	if p.ID != "" {
		return p.ID
	}
	return "system"
}

// RequestContext carries transport metadata recorded alongside ledger and
// audit rows.
type RequestContext struct {
	IP          string `json:"ip,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	RequestPath string `json:"request_path,omitempty"`
	Referer     string `json:"referer,omitempty"`
}

func (c RequestContext) AsMap() map[string]any {
	out := map[string]any{}
	if c.IP != "" {
		out["ip"] = c.IP
	}
	if c.UserAgent != "" {
		out["user_agent"] = c.UserAgent
	}
	if c.SessionID != "" {
		out["session_id"] = c.SessionID
	}
	if c.RequestPath != "" {
		out["request_path"] = c.RequestPath
	}
	if c.Referer != "" {
		out["referer"] = c.Referer
	}
	return out
}
