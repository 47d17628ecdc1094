package user

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrIDRequired = errors.New("user: id is required")
	ErrNotFound   = errors.New("user: not found")
)

type ID string

// User is the identity record owned by the identity service. Messaging only reads it.
type User struct {
	ID    ID
	Name  string
	Email string
}

// Summary is the display projection embedded in conversation and message payloads.
type Summary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (u *User) Summary() Summary {
	if u == nil {
		return Summary{}
	}
	return Summary{ID: string(u.ID), Name: u.Name, Email: u.Email}
}

// Repository is a read-only view over the user directory.
type Repository interface {
	ByID(ctx context.Context, id ID) (*User, error)
	ByIDs(ctx context.Context, ids []ID) (map[ID]*User, error)
}

func NormalizeID(raw string) (ID, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", ErrIDRequired
	}
	return ID(id), nil
}
