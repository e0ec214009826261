package model

import "gorm.io/gorm"

// Metadata holds the descriptive and bibliographic fields shared by
// every lifecycle stage. It is embedded as a value object; relation
// rows (authors, references, topics) carry an Owner pair instead.
type Metadata struct {
	CoreProjectID uint         `gorm:"not null;index;comment:identity anchor"`
	ResourceType  ResourceType `gorm:"not null;comment:resource type (database, software, challenge, model)"`

	Title               string `gorm:"type:varchar(200);not null;comment:project title"`
	ShortDescription    string `gorm:"type:varchar(250);comment:one-line description"`
	Abstract            string `gorm:"type:text;comment:abstract"`
	Background          string `gorm:"type:text;comment:background"`
	Methods             string `gorm:"type:text;comment:methods"`
	ContentDescription  string `gorm:"type:text;comment:data or software description"`
	UsageNotes          string `gorm:"type:text;comment:usage notes"`
	Installation        string `gorm:"type:text;comment:installation instructions (software)"`
	Acknowledgements    string `gorm:"type:text;comment:acknowledgements"`
	ConflictsOfInterest string `gorm:"type:text;comment:conflicts of interest"`
	ReleaseNotes        string `gorm:"type:text;comment:release notes"`
	EthicsStatement     string `gorm:"type:text;comment:ethics statement"`

	Version      string       `gorm:"type:varchar(15);comment:semantic version"`
	AccessPolicy AccessPolicy `gorm:"not null;default:1;comment:access policy"`
	LicenseID    *uint        `gorm:"comment:selected license"`
	DUAID        *uint        `gorm:"comment:selected data use agreement"`
}

// requiredFields maps each resource type to the metadata fields that
// must be filled before submission or publication.
var requiredFields = map[ResourceType][]string{
	ResourceDatabase: {
		"title", "abstract", "background", "methods",
		"content description", "usage notes", "conflicts of interest",
		"version", "license", "short description",
	},
	ResourceSoftware: {
		"title", "abstract", "background", "content description",
		"usage notes", "installation", "conflicts of interest",
		"version", "license", "short description",
	},
	ResourceChallenge: {
		"title", "abstract", "background", "methods",
		"content description", "usage notes", "conflicts of interest",
		"version", "license", "short description",
	},
	ResourceModel: {
		"title", "abstract", "background", "methods",
		"content description", "usage notes", "installation",
		"conflicts of interest", "version", "license", "short description",
	},
}

// MissingRequiredFields lists the resource-type-specific fields that
// are still empty, using display names suitable for error messages.
func (m *Metadata) MissingRequiredFields() []string {
	values := map[string]bool{
		"title":                 m.Title != "",
		"abstract":              m.Abstract != "",
		"background":            m.Background != "",
		"methods":               m.Methods != "",
		"content description":   m.ContentDescription != "",
		"usage notes":           m.UsageNotes != "",
		"installation":          m.Installation != "",
		"conflicts of interest": m.ConflictsOfInterest != "",
		"version":               m.Version != "",
		"license":               m.LicenseID != nil,
		"short description":     m.ShortDescription != "",
	}
	var missing []string
	for _, f := range requiredFields[m.ResourceType] {
		if !values[f] {
			missing = append(missing, f)
		}
	}
	return missing
}

// License is a catalog row. Selectable licenses must match the project
// access policy exactly and allow the project resource type.
type License struct {
	gorm.Model
	Name          string       `gorm:"uniqueIndex;type:varchar(128);not null;comment:license name"`
	Slug          string       `gorm:"uniqueIndex;type:varchar(128);not null;comment:url identifier"`
	AccessPolicy  AccessPolicy `gorm:"not null;comment:access policy this license is valid for"`
	Text          string       `gorm:"type:text;comment:full license text"`
	ResourceTypes string       `gorm:"type:varchar(32);comment:allowed resource types, comma separated codes"`
}

// DUA is a data use agreement catalog row, required whenever the
// access policy is not open.
type DUA struct {
	gorm.Model
	Name         string       `gorm:"uniqueIndex;type:varchar(128);not null;comment:agreement name"`
	Slug         string       `gorm:"uniqueIndex;type:varchar(128);not null;comment:url identifier"`
	AccessPolicy AccessPolicy `gorm:"not null;comment:access policy this agreement is valid for"`
	Text         string       `gorm:"type:text;comment:full agreement text"`
}

// Reference is a numbered citation attached to a lifecycle entity.
type Reference struct {
	gorm.Model
	Owner
	Description string `gorm:"type:varchar(1000);not null;comment:citation text"`
	Order       int    `gorm:"column:ref_order;not null;comment:display order"`
}

// Publication is the associated paper authors ask readers to cite.
type Publication struct {
	gorm.Model
	Owner
	Citation string `gorm:"type:varchar(1000);not null;comment:citation text"`
	URL      string `gorm:"type:varchar(500);comment:link to the paper"`
}

// Topic is a free-text keyword on an active or archived project.
type Topic struct {
	gorm.Model
	Owner
	Description string `gorm:"type:varchar(50);not null;comment:keyword"`
}

// PublishedTopic is the global tag table published projects share.
// ProjectCount is maintained by the tagging operations.
type PublishedTopic struct {
	gorm.Model
	Description  string `gorm:"uniqueIndex;type:varchar(50);not null;comment:keyword, lowercased"`
	ProjectCount int    `gorm:"not null;default:0;comment:number of published projects using the tag"`
}

// ProjectTopic links a published project to a global topic tag.
type ProjectTopic struct {
	gorm.Model
	PublishedProjectID uint           `gorm:"not null;index;comment:tagged project"`
	PublishedTopicID   uint           `gorm:"not null;index;comment:global tag"`
	PublishedTopic     PublishedTopic `gorm:"foreignKey:PublishedTopicID"`
}

// ProgrammingLanguage is a catalog row for software projects.
type ProgrammingLanguage struct {
	gorm.Model
	Name string `gorm:"uniqueIndex;type:varchar(50);not null;comment:language name"`
}

// ProjectLanguage links a lifecycle entity to a programming language.
type ProjectLanguage struct {
	gorm.Model
	Owner
	ProgrammingLanguageID uint                `gorm:"not null;comment:language"`
	ProgrammingLanguage   ProgrammingLanguage `gorm:"foreignKey:ProgrammingLanguageID"`
}

// ParentProject records that a project is derived from a previously
// published core project.
type ParentProject struct {
	gorm.Model
	Owner
	ParentCoreProjectID uint        `gorm:"not null;comment:core project this one derives from"`
	ParentCoreProject   CoreProject `gorm:"foreignKey:ParentCoreProjectID"`
}

// RequiredTraining links a lifecycle entity to a training users must
// complete before access. Only meaningful for credentialed and
// contributor-review policies.
type RequiredTraining struct {
	gorm.Model
	Owner
	TrainingTypeID uint         `gorm:"not null;comment:required training type"`
	TrainingType   TrainingType `gorm:"foreignKey:TrainingTypeID"`
}

// UploadedDocument is a supporting file (ethics approval, DUA draft)
// attached to a lifecycle entity. Re-parented on archive or publish,
// never copied.
type UploadedDocument struct {
	gorm.Model
	Owner
	DocumentType string `gorm:"type:varchar(64);not null;comment:document category"`
	FileName     string `gorm:"type:varchar(255);not null;comment:stored file name"`
}

// Contact freezes the corresponding author's details at publish time.
type Contact struct {
	gorm.Model
	PublishedProjectID uint   `gorm:"uniqueIndex;not null;comment:owning published project"`
	Name               string `gorm:"type:varchar(128);not null;comment:contact name"`
	Affiliations       string `gorm:"type:varchar(255);comment:affiliations, semicolon separated"`
	Email              string `gorm:"type:varchar(255);not null;comment:contact email"`
}
