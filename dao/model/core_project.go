package model

import "gorm.io/gorm"

// CoreProject is the immutable identity anchor shared by every version
// of one logical resource. It is created once, when the project is
// first authored, and survives archive or publish of any version.
type CoreProject struct {
	gorm.Model
	// DOI of the latest published version. Holds the pending sentinel
	// during remote registration.
	DOI              *string `gorm:"uniqueIndex;type:varchar(64);comment:doi of the latest version"`
	StorageAllowance int64   `gorm:"not null;comment:allowed storage in bytes"`
	InodeAllowance   int64   `gorm:"not null;default:0;comment:allowed file and directory count, 0 unlimited"`
}

// StorageRequest asks for a change to the core project allowance.
// Outstanding requests block submission until responded to.
type StorageRequest struct {
	gorm.Model
	CoreProjectID uint        `gorm:"not null;index;comment:target core project"`
	CoreProject   CoreProject `gorm:"foreignKey:CoreProjectID"`
	RequestBytes  int64       `gorm:"not null;comment:requested allowance in bytes"`
	RequesterID   uint        `gorm:"not null;comment:submitting author"`
	Requester     User        `gorm:"foreignKey:RequesterID"`
	ResponderID   *uint       `gorm:"comment:admin who responded"`
	Response      *bool       `gorm:"comment:null pending, true granted, false denied"`
	ResponseText  string      `gorm:"type:text;comment:message to the requester"`
}

// Pending reports whether the request still awaits a response.
func (r *StorageRequest) Pending() bool {
	return r.Response == nil
}
