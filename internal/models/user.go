package models

import "time"

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash []byte
	IsActive     bool
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// Session is the server-side record an issued handle points at. Deleting
// the row invalidates every outstanding copy of the handle at once.
type Session struct {
	ID         string
	UserID     string
	Remember   bool
	IPAddress  string
	UserAgent  string
	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
}

func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
