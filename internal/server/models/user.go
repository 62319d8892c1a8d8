// Package models defines server-side data models persisted in the database.
package models

import "time"

// User is an account of the polls application.
type User struct {
	ID       string
	Email    string
	UserName string

	// PasswordHash is an argon2id PHC string.
	PasswordHash string
	// SecurityStamp changes whenever credentials change; purpose tokens embed it.
	SecurityStamp string

	EmailConfirmed    bool
	AccessFailedCount int
	LockoutEnd        *time.Time
	DeletedAt         *time.Time
	CreatedAt         time.Time
}

// IsDeleted reports whether the account has been anonymized.
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// IsLockedOut reports whether the account is locked at now.
func (u *User) IsLockedOut(now time.Time) bool {
	return u.LockoutEnd != nil && u.LockoutEnd.After(now)
}
