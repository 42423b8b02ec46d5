// Package models defines server-side data models persisted in the database.
package models

import "time"

// DefaultUserLevel is the privilege floor assigned to newly provisioned
// operators.
const DefaultUserLevel = 500

// User is an authenticated operator. Users are created once by an explicit
// provisioning step and never mutated or deleted by the key lifecycle.
type User struct {
	ID       string
	Username string
	// Passwd holds the encoded argon2id hash with its salt and parameters.
	Passwd    []byte
	Level     int
	CreatedAt time.Time
}
