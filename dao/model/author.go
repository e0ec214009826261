package model

import (
	"time"

	"gorm.io/gorm"
)

// Author attaches a user to an active or archived project. Published
// snapshots use PublishedAuthor with names frozen at publish time.
type Author struct {
	gorm.Model
	Owner
	UserID uint `gorm:"not null;index;comment:account of the author"`
	User   User `gorm:"foreignKey:UserID"`

	DisplayOrder    int  `gorm:"not null;comment:1-based contiguous order"`
	IsSubmitting    bool `gorm:"not null;default:false;comment:exactly one true per project"`
	IsCorresponding bool `gorm:"not null;default:false;comment:exactly one true per project"`

	CorrespondingEmail *string    `gorm:"type:varchar(255);comment:chosen contact address"`
	ApprovalDatetime   *time.Time `gorm:"comment:publication approval, reset on copyedit reopen"`

	Affiliations []Affiliation `gorm:"foreignKey:AuthorID"`
}

// Approved reports whether the author has approved publication.
func (a *Author) Approved() bool {
	return a.ApprovalDatetime != nil
}

// Affiliation is one institution line on an author.
type Affiliation struct {
	gorm.Model
	AuthorID uint   `gorm:"not null;index;comment:owning author"`
	Name     string `gorm:"type:varchar(202);not null;comment:institution name"`
}

// PublishedAuthor is the immutable author copy on a published project.
// Name fields are copied from the profile at publish time, not linked.
type PublishedAuthor struct {
	gorm.Model
	PublishedProjectID uint `gorm:"not null;index;comment:owning published project"`
	UserID             uint `gorm:"not null;index;comment:account of the author"`

	FirstNames         string  `gorm:"type:varchar(128);not null;comment:given names at publish time"`
	LastName           string  `gorm:"type:varchar(64);not null;comment:family name at publish time"`
	DisplayOrder       int     `gorm:"not null;comment:1-based contiguous order"`
	IsSubmitting       bool    `gorm:"not null;default:false"`
	IsCorresponding    bool    `gorm:"not null;default:false"`
	CorrespondingEmail *string `gorm:"type:varchar(255);comment:contact address at publish time"`

	Affiliations []PublishedAffiliation `gorm:"foreignKey:PublishedAuthorID"`
}

// FullName joins the frozen name fields.
func (a *PublishedAuthor) FullName() string {
	if a.FirstNames == "" {
		return a.LastName
	}
	return a.FirstNames + " " + a.LastName
}

// PublishedAffiliation is the frozen institution line.
type PublishedAffiliation struct {
	gorm.Model
	PublishedAuthorID uint   `gorm:"not null;index;comment:owning published author"`
	Name              string `gorm:"type:varchar(202);not null;comment:institution name"`
}

// AuthorInvitation invites a user by email to join the author list.
// Outstanding invitations block submission.
type AuthorInvitation struct {
	gorm.Model
	ActiveProjectID  uint       `gorm:"not null;index;comment:inviting project"`
	Email            string     `gorm:"type:varchar(255);not null;comment:invitee address"`
	InviterID        uint       `gorm:"not null;comment:inviting author"`
	Inviter          User       `gorm:"foreignKey:InviterID"`
	Response         *bool      `gorm:"comment:null outstanding, true accepted, false declined"`
	ResponseDatetime *time.Time `gorm:"comment:response time"`
}

// Outstanding reports whether the invitation still awaits a response.
func (i *AuthorInvitation) Outstanding() bool {
	return i.Response == nil
}
