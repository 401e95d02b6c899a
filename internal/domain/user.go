package domain

import (
	"time"
)

// Roles recognized by the messaging layer. Conversations are restricted
// to cross-role pairs (patient to doctor); admins may message anyone.
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

// Verification states for doctor accounts.
const (
	VerificationPending  = "pending"
	VerificationApproved = "approved"
	VerificationRejected = "rejected"
)

// User represents a principal in the user directory.
// Maps to the MongoDB users collection. Credentials live in the external
// identity service; this record only carries profile and role data.
type User struct {
	ID                 string    `json:"id" bson:"_id"`
	Email              string    `json:"email" bson:"email"`
	FirstName          string    `json:"first_name" bson:"first_name"`
	LastName           string    `json:"last_name" bson:"last_name"`
	Role               string    `json:"role" bson:"role"`
	ProfilePicture     string    `json:"profile_picture,omitempty" bson:"profile_picture,omitempty"`
	VerificationStatus string    `json:"verification_status,omitempty" bson:"verification_status,omitempty"`
	IsActive           bool      `json:"is_active" bson:"is_active"`
	CreatedAt          time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" bson:"updated_at"`
}

// UserSummary is the projection of a user embedded in conversation
// listings and search results.
type UserSummary struct {
	ID             string `json:"id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Role           string `json:"role"`
	ProfilePicture string `json:"profile_picture,omitempty"`
	IsOnline       bool   `json:"is_online"`
}

// ToSummary converts a User to its embedded projection. Presence is
// stamped by the caller, not here.
func (u *User) ToSummary() *UserSummary {
	return &UserSummary{
		ID:             u.ID,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Role:           u.Role,
		ProfilePicture: u.ProfilePicture,
	}
}
