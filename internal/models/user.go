package models

import "time"

type User struct {
	ID       string `gorm:"type:uuid;primaryKey" json:"_id"`
	Name     string `gorm:"not null" json:"name"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `json:"-"` // empty for OAuth users

	// OAuth fields
	GoogleID     string `gorm:"index" json:"-"`
	Picture      string `json:"picture,omitempty"`
	AuthProvider string `json:"authProvider"` // "email" or "google"

	CreatedAt time.Time `json:"createdAt"`
}

type SignUpRequest struct {
	FirstName       string `json:"firstName" binding:"notblank"`
	LastName        string `json:"lastName" binding:"notblank"`
	Email           string `json:"email" binding:"required,email"`
	Password        string `json:"password" binding:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
}

type SignInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type GoogleSignInRequest struct {
	Token string `json:"token" binding:"required"`
}

// AuthResponse is returned by every sign-in flavour.
type AuthResponse struct {
	Result User   `json:"result"`
	Token  string `json:"token"`
}
