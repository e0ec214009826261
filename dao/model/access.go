package model

import (
	"time"

	"gorm.io/gorm"
)

// DUASignature records a user signing the data use agreement of a
// published project.
type DUASignature struct {
	gorm.Model
	PublishedProjectID uint      `gorm:"index:idx_dua_sig,unique;not null;comment:signed project"`
	UserID             uint      `gorm:"index:idx_dua_sig,unique;not null;comment:signing user"`
	User               User      `gorm:"foreignKey:UserID"`
	SignDatetime       time.Time `gorm:"not null;comment:signature time"`
}

// DataAccessRequest is a contributor-review application for access to
// a published project.
type DataAccessRequest struct {
	gorm.Model
	PublishedProjectID uint             `gorm:"not null;index;comment:requested project"`
	PublishedProject   PublishedProject `gorm:"foreignKey:PublishedProjectID"`
	RequesterID        uint             `gorm:"not null;index;comment:applicant"`
	Requester          User             `gorm:"foreignKey:RequesterID"`

	DataUseTitle   string `gorm:"type:varchar(200);comment:title of the proposed use"`
	DataUsePurpose string `gorm:"type:text;comment:description of the proposed use"`

	Status           AccessRequestStatus `gorm:"not null;default:0;comment:0 pending, 1 rejected, 2 withdrawn, 3 accepted"`
	ResponderID      *uint               `gorm:"comment:reviewer who decided"`
	ResponderComments string             `gorm:"type:text;comment:message to the applicant"`
	DecisionDatetime *time.Time          `gorm:"comment:decision time"`

	// Duration of the grant in days after the decision. Null means the
	// grant never expires.
	DurationDays *int `gorm:"comment:grant validity in days, null permanent"`
}

// IsAccepted reports whether the request currently grants access. An
// accepted grant with a duration lapses by computation, no event fires.
func (r *DataAccessRequest) IsAccepted(now time.Time) bool {
	if r.Status != RequestAccepted {
		return false
	}
	if r.DurationDays == nil {
		return true
	}
	if r.DecisionDatetime == nil {
		return false
	}
	return r.DecisionDatetime.AddDate(0, 0, *r.DurationDays).After(now)
}

// DataAccessRequestReviewer delegates request review to a user besides
// the corresponding author. Revocation is soft; rows are never deleted.
type DataAccessRequestReviewer struct {
	gorm.Model
	PublishedProjectID uint       `gorm:"not null;index;comment:managed project"`
	ReviewerID         uint       `gorm:"not null;index;comment:delegated reviewer"`
	Reviewer           User       `gorm:"foreignKey:ReviewerID"`
	AddedDatetime      time.Time  `gorm:"not null;comment:delegation time"`
	IsRevoked          bool       `gorm:"not null;default:false;comment:delegation withdrawn"`
	RevocationDatetime *time.Time `gorm:"comment:withdrawal time"`
}

// AnonymousAccess is the one-per-project passphrase-gated reviewer URL.
// The passphrase is stored hashed and cannot be recovered.
type AnonymousAccess struct {
	gorm.Model
	Owner
	URLToken       string    `gorm:"uniqueIndex;type:varchar(64);not null;comment:random url segment"`
	PassphraseHash string    `gorm:"type:varchar(128);not null;comment:bcrypt hash of the passphrase"`
	CreationDatetime time.Time `gorm:"not null;comment:generation time, expiry is computed from it"`
}
