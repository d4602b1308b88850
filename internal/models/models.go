// Package models contains the data models for the noticeboard.
package models

import (
	"time"
)

// Notice is one announcement on the board: a title, a department label and
// the stored media file it presents.
type Notice struct {
	ID         int64     `db:"id" json:"id"`
	Title      string    `db:"title" json:"title"`
	FilePath   string    `db:"file_path" json:"file_path"` // BlobStore reference, e.g. uploads/<name>
	FileType   string    `db:"file_type" json:"file_type"` // lower-cased extension
	Department string    `db:"department" json:"department"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// NoticeInsert holds the caller-supplied columns of a new notice.
type NoticeInsert struct {
	Title      string
	FilePath   string
	FileType   string
	Department string
}

// User represents a system user for authentication and access control
type User struct {
	ID                  int64      `db:"id" json:"id"`
	Username            string     `db:"username" json:"username"`
	FullName            string     `db:"full_name" json:"full_name"`
	PasswordHash        string     `db:"password_hash" json:"-"`
	Email               *string    `db:"email" json:"email"`
	Role                string     `db:"role" json:"role"` // admin, editor, viewer
	SuspendedAt         *time.Time `db:"suspended_at" json:"suspended_at,omitempty"`
	LastLoginAt         *time.Time `db:"last_login_at" json:"last_login_at"`
	LoginCount          int        `db:"login_count" json:"login_count"`
	FailedLoginAttempts int        `db:"failed_login_attempts" json:"-"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// IsSuspended reports whether the account may no longer log in.
func (u *User) IsSuspended() bool {
	return u.SuspendedAt != nil
}

// Role constants define the access levels within the system.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// Caller identifies who is performing an operation. The zero value is an anonymous caller.
type Caller struct {
	UserID   int64
	Username string
	Role     string
}

// Anonymous reports whether the caller carries no authenticated identity.
func (c Caller) Anonymous() bool {
	return c.UserID == 0
}
