package model

import (
	"fmt"
	"path"
	"time"

	"gorm.io/gorm"
)

// DOIPending is the sentinel held on the DOI field for the duration of
// a remote registration call, so a concurrent caller is rejected
// instead of registering twice.
const DOIPending = "PENDING"

// PublishedProject is the immutable public snapshot produced by
// publishing an active project. Scientific content never changes after
// creation; only operational metadata (DOI, storage stats, topics,
// deprecation, zip presence) may be updated post hoc.
type PublishedProject struct {
	gorm.Model
	Metadata       Metadata       `gorm:"embedded"`
	SubmissionInfo SubmissionInfo `gorm:"embedded"`

	Slug            string    `gorm:"index:idx_slug_version,unique;type:varchar(30);not null;comment:url identifier, shared by the version chain"`
	Version         string    `gorm:"index:idx_slug_version,unique;type:varchar(15);not null;comment:published version"`
	DOI             *string   `gorm:"uniqueIndex;type:varchar(64);comment:version doi"`
	PublishDatetime time.Time `gorm:"not null;comment:publication time"`

	VersionOrder    int  `gorm:"not null;default:0;comment:rank within the version chain"`
	IsLatestVersion bool `gorm:"not null;default:true;comment:exactly one true per core project"`

	MainStorageSize        int64 `gorm:"not null;default:0;comment:bytes of the main files"`
	CompressedStorageSize  int64 `gorm:"not null;default:0;comment:bytes of the zip archive"`
	IncrementalStorageSize int64 `gorm:"not null;default:0;comment:bytes unique to this version"`

	EmbargoFilesDays int  `gorm:"not null;default:0;comment:days files stay embargoed after publication"`
	Deprecated       bool `gorm:"not null;default:false;comment:withdrawn from active use"`
	HasZip           bool `gorm:"not null;default:false;comment:zip archive exists"`

	// SelfManagedAccess lets the corresponding author and delegated
	// reviewers process data access requests without staff.
	SelfManagedAccess bool `gorm:"not null;default:false;comment:authors manage access requests"`
}

// FileRoot returns the published directory relative to the public or
// protected area, depending on access policy.
func (p *PublishedProject) FileRoot() string {
	return path.Join(p.Slug, p.Version)
}

// ZipName is the downloadable archive file name.
func (p *PublishedProject) ZipName() string {
	return fmt.Sprintf("%s-%s.zip", p.Slug, p.Version)
}

// EmbargoEndDate returns when the file embargo lifts, or the zero time
// when no embargo was set.
func (p *PublishedProject) EmbargoEndDate() time.Time {
	if p.EmbargoFilesDays <= 0 {
		return time.Time{}
	}
	return p.PublishDatetime.AddDate(0, 0, p.EmbargoFilesDays)
}

// EmbargoActive reports whether files are still embargoed.
func (p *PublishedProject) EmbargoActive(now time.Time) bool {
	end := p.EmbargoEndDate()
	return !end.IsZero() && now.Before(end)
}
