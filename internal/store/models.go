package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

// User is the relational side of a participant identity.
type User struct {
	ID        string    `json:"id" db:"id"`
	Identity  string    `json:"identity" db:"identity"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type TokenKind string

const (
	TokenKindVoIP TokenKind = "voip"
	TokenKindAPNs TokenKind = "apns"
)

// Device is a push-routing record owned by a user.
type Device struct {
	ID              string    `json:"id" db:"id"`
	UserID          string    `json:"user_id" db:"user_id"`
	TokenKind       TokenKind `json:"token_kind" db:"token_kind"`
	Token           string    `json:"token" db:"token"`
	Platform        string    `json:"platform" db:"platform"`
	Env             string    `json:"env" db:"env"`
	SupportsCallKit bool      `json:"supports_callkit" db:"supports_callkit"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// RoomMember is one roster entry of a room.
type RoomMember struct {
	RoomName string    `json:"room_name" db:"room_name"`
	Identity string    `json:"identity" db:"identity"`
	Role     string    `json:"role" db:"role"`
	JoinedAt time.Time `json:"joined_at" db:"joined_at"`
}
