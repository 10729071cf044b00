package domain

import "time"

// UserStatus is the lifecycle status of a user.
type UserStatus string

// User status values
const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
	UserStatusPending  UserStatus = "pending"
)

// Valid reports whether s is a known status.
func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusActive, UserStatusInactive, UserStatusPending:
		return true
	}
	return false
}

// User represents a trader or liquidity provider wallet.
// Corresponds to users table in PostgreSQL.
type User struct {
	ID        int64
	Address   string // lower-case, unique
	Name      *string
	Email     *string
	Swaps     int64
	Status    UserStatus // defaults to pending
	CreatedAt time.Time
}
