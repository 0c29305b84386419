package domain

type SessionEventType string

const (
	SessionLogin           SessionEventType = "session.login"
	SessionRefreshed       SessionEventType = "session.refreshed"
	SessionLoggedOut       SessionEventType = "session.logged_out"
	SessionPasswordChanged SessionEventType = "session.password_changed"
)

// SessionEvent tells a user's other connected clients that their session
// state changed.
type SessionEvent struct {
	Type   SessionEventType `json:"type"`
	UserID string           `json:"user_id"`
}
