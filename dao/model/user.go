package model

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// User is the basic account entity of the platform.
type User struct {
	gorm.Model
	Username       string  `gorm:"uniqueIndex;type:varchar(64);not null;comment:login name"`
	Email          string  `gorm:"uniqueIndex;type:varchar(255);not null;comment:primary email"`
	Password       *string `gorm:"type:varchar(128);comment:bcrypt hash"`
	FirstNames     string  `gorm:"type:varchar(128);comment:given names"`
	LastName       string  `gorm:"type:varchar(64);comment:family name"`
	Role           Role    `gorm:"not null;default:2;comment:platform role (guest, user, editor, admin)"`
	IsActive       bool    `gorm:"not null;default:true;comment:account enabled"`
	IsCredentialed bool    `gorm:"not null;default:false;comment:passed credentialing review"`
}

// FullName joins the profile name fields for display.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstNames + " " + u.LastName)
}

// ReverseFullName renders "Last, First" for citation building.
func (u *User) ReverseFullName() string {
	if u.FirstNames == "" {
		return u.LastName
	}
	return u.LastName + ", " + u.FirstNames
}

// CanEdit reports whether the user may act as an editor.
func (u *User) CanEdit() bool {
	return u.Role == RoleEditor || u.Role == RoleAdmin
}

// TrainingRecord is the minimal completion row access checks consult.
// The credentialing subsystem that produces these rows lives elsewhere.
type TrainingRecord struct {
	gorm.Model
	UserID         uint       `gorm:"not null;index;comment:trainee"`
	User           User       `gorm:"foreignKey:UserID"`
	TrainingTypeID uint       `gorm:"not null;index;comment:required training type"`
	CompletedAt    time.Time  `gorm:"not null;comment:completion time"`
	ExpiresAt      *time.Time `gorm:"comment:expiry, null means never"`
}

// Valid reports whether the record counts at the given instant.
func (t *TrainingRecord) Valid(now time.Time) bool {
	return t.ExpiresAt == nil || t.ExpiresAt.After(now)
}

// TrainingType is a catalog row referenced by credentialed projects.
type TrainingType struct {
	gorm.Model
	Name        string `gorm:"uniqueIndex;type:varchar(128);not null;comment:training course name"`
	Description string `gorm:"type:text;comment:course description"`
}
