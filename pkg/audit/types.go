package audit

import (
	"net/http"
	"time"

	"github.com/platinummonkey/taskboard/pkg/contextkeys"
	"github.com/platinummonkey/taskboard/pkg/httputil"
)

// EventType names an audited action
type EventType string

const (
	EventRegister          EventType = "auth.register"
	EventEmailVerified     EventType = "auth.email_verified"
	EventLogin             EventType = "auth.login"
	EventLoginFailed       EventType = "auth.login_failed"
	EventLogout            EventType = "auth.logout"
	EventTokenRefresh      EventType = "auth.token_refresh"
	EventTokenRejected     EventType = "auth.token_rejected"
	EventPasswordChange    EventType = "auth.password_change"
	EventPasswordReset     EventType = "auth.password_reset"
	EventAccountDelete     EventType = "account.delete"
	EventAdminCreate       EventType = "admin.user_create"
	EventPasswordResetSent EventType = "auth.password_reset_requested"
)

// Status is the outcome of an event
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Event is a single audit entry
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"event_type"`
	Status    Status    `json:"status"`

	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`

	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Message string `json:"message,omitempty"`
}

// NewEvent creates an event stamped with the current time
func NewEvent(typ EventType, status Status) *Event {
	return &Event{Timestamp: time.Now().UTC(), Type: typ, Status: status}
}

// FromRequest creates an event carrying the caller address, user agent and
// request id of r
func FromRequest(r *http.Request, typ EventType, status Status) *Event {
	e := NewEvent(typ, status)
	e.IPAddress = httputil.ClientIP(r)
	e.UserAgent = r.UserAgent()
	e.RequestID = contextkeys.GetRequestID(r.Context())
	return e
}

// WithUser sets the acting user
func (e *Event) WithUser(id string) *Event {
	e.UserID = id
	return e
}

// WithEmail sets the email the event concerns, for events without a resolved user
func (e *Event) WithEmail(email string) *Event {
	e.Email = email
	return e
}

// WithMessage sets a human readable detail
func (e *Event) WithMessage(msg string) *Event {
	e.Message = msg
	return e
}
