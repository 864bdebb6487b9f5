package domain

import "time"

type User struct {
	ID            string
	Username      string
	PreferredName string
	PasswordHash  string   // argon2id PHC string
	Scopes        []string // granted to every token the user obtains
	TOTPSecret    *string  // base32; nil when the account has no second factor
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasTOTP reports whether logins must carry a one-time code.
func (u User) HasTOTP() bool { return u.TOTPSecret != nil && *u.TOTPSecret != "" }
