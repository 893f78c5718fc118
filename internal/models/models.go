package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// ValidRole reports whether role is one of the closed enumeration.
func ValidRole(role string) bool {
	switch role {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID             string `gorm:"primaryKey"      json:"_id"`
	Name           string `gorm:"not null"        json:"name"`
	Surname        string `gorm:"not null"        json:"surname"`
	Email          string `gorm:"unique;not null" json:"email"`
	PasswordHash   string `gorm:"not null"        json:"-"`
	ContactDetails string `json:"contactDetails,omitempty"`
	Role           string `gorm:"not null;default:buyer" json:"role"`
	IsVerified     bool   `gorm:"not null;default:false" json:"isVerified"`

	// Most recently issued refresh token, empty when logged out.
	// Exactly one live session per account.
	RefreshToken string `gorm:"index" json:"-"`

	// Reset material: both set between a forgot-password request and its
	// consumption, both cleared together. The digest is sha256 hex of the
	// emailed code, never the code itself.
	ResetTokenDigest  string     `gorm:"index" json:"-"`
	ResetTokenExpires *time.Time `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = RoleBuyer
	}
	return nil
}
