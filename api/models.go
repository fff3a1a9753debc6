package api

// LoginRequest is the JSON or form body for POST /login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	CSRF     string `json:"_csrf,omitempty"`
}

// LoginResponse is returned from a successful POST /login.
type LoginResponse struct {
	Success  bool   `json:"success"`
	Redirect string `json:"redirect"`
	Message  string `json:"message"`
}

// CSRFTokenResponse is returned from GET /csrf-token.
type CSRFTokenResponse struct {
	Success   bool   `json:"success"`
	CSRFToken string `json:"csrfToken"`
}

// SuccessResponse is the body of operations without a payload.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SessionUser describes the principal in GET /session.
type SessionUser struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	LoginTime string `json:"loginTime"`
}

// SessionResponse is returned from GET /session.
type SessionResponse struct {
	Success bool        `json:"success"`
	User    SessionUser `json:"user"`
}

// AuditEntry is one persisted audit record in GET /admin/audit.
type AuditEntry struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	Username  string `json:"username,omitempty"`
	IP        string `json:"ip,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at"`
}

// AuditListResponse is returned from GET /admin/audit.
type AuditListResponse struct {
	Success bool         `json:"success"`
	Entries []AuditEntry `json:"entries"`
	PaginationMeta
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is returned for all error cases. Code carries the
// machine-readable denial reason; Field names the invalid input.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
}
