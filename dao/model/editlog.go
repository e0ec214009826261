package model

import (
	"time"

	"gorm.io/gorm"
)

// EditLog is one row per submission or resubmission cycle. Append
// only; re-parented, never duplicated, when the project moves between
// lifecycle entities.
type EditLog struct {
	gorm.Model
	Owner
	IsResubmission bool   `gorm:"not null;default:false;comment:belongs to a resubmission cycle"`
	AuthorComments string `gorm:"type:text;comment:cover letter from the authors"`

	// Quality-assurance answers, tri-state until the decision is made.
	// The subset that applies depends on the project resource type.
	SoundlyProduced     *bool `gorm:"comment:data or software soundly produced"`
	WellDescribed       *bool `gorm:"comment:metadata describes the resource well"`
	OpenFormat          *bool `gorm:"comment:files are in an open format"`
	DataMachineReadable *bool `gorm:"comment:data files are machine readable"`
	Reusable            *bool `gorm:"comment:all information for reuse is present"`
	NoPHI               *bool `gorm:"comment:no protected health information remains"`
	PNSuitable          *bool `gorm:"comment:resource suits the platform"`
	EthicsIncluded      *bool `gorm:"comment:ethics statement is adequate"`

	EditorComments   string        `gorm:"type:text;comment:message to the authors"`
	Decision         *EditDecision `gorm:"comment:null pending, 0 reject, 1 revise, 2 accept"`
	DecisionDatetime *time.Time    `gorm:"comment:when the decision was made"`

	// AutoDOI records whether the editor asked for DOI registration on
	// acceptance.
	AutoDOI bool `gorm:"not null;default:true;comment:register a doi on acceptance"`
}

// QAField pairs a checklist answer with its display question.
type QAField struct {
	Question string
	Value    *bool
}

// qaDatabase is the checklist for data-bearing resources, qaSoftware
// the reduced set for code-bearing ones.
func (e *EditLog) qaDatabase() []QAField {
	return []QAField{
		{"The data is produced in a sound manner", e.SoundlyProduced},
		{"The data is adequately described", e.WellDescribed},
		{"The files are in an open format", e.OpenFormat},
		{"The data files are machine readable", e.DataMachineReadable},
		{"All information needed for reuse is present", e.Reusable},
		{"No protected health information remains", e.NoPHI},
		{"The resource is suitable for the platform", e.PNSuitable},
		{"The ethics statement is adequate", e.EthicsIncluded},
	}
}

func (e *EditLog) qaSoftware() []QAField {
	return []QAField{
		{"The software is produced in a sound manner", e.SoundlyProduced},
		{"The software is adequately described", e.WellDescribed},
		{"The files are in an open format", e.OpenFormat},
		{"All information needed for reuse is present", e.Reusable},
		{"No protected health information remains", e.NoPHI},
		{"The resource is suitable for the platform", e.PNSuitable},
		{"The ethics statement is adequate", e.EthicsIncluded},
	}
}

// QualityAssuranceFields returns the checklist subset that applies to
// the given resource type.
func (e *EditLog) QualityAssuranceFields(rt ResourceType) []QAField {
	switch rt {
	case ResourceSoftware, ResourceModel:
		return e.qaSoftware()
	default:
		return e.qaDatabase()
	}
}

// QualityAssuranceComplete reports whether every applicable answer is
// set and affirmative. Acceptance is never permitted otherwise.
func (e *EditLog) QualityAssuranceComplete(rt ResourceType) bool {
	for _, f := range e.QualityAssuranceFields(rt) {
		if f.Value == nil || !*f.Value {
			return false
		}
	}
	return true
}

// QAResult is one line of the read-side checklist projection.
type QAResult struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// QualityAssuranceResults builds the display list of question and
// answer pairs. It returns nothing while the decision is pending and
// never mutates state.
func (e *EditLog) QualityAssuranceResults(rt ResourceType) []QAResult {
	if e.DecisionDatetime == nil {
		return nil
	}
	fields := e.QualityAssuranceFields(rt)
	results := make([]QAResult, 0, len(fields))
	for _, f := range fields {
		answer := "Undetermined"
		if f.Value != nil {
			if *f.Value {
				answer = "Yes"
			} else {
				answer = "No"
			}
		}
		results = append(results, QAResult{Question: f.Question, Answer: answer})
	}
	return results
}

// CopyeditLog is one row per copyedit interval.
type CopyeditLog struct {
	gorm.Model
	Owner
	IsReedit         bool       `gorm:"not null;default:false;comment:opened by a copyedit reopen"`
	MadeChanges      *bool      `gorm:"comment:whether the editor changed content"`
	ChangelogSummary string     `gorm:"type:text;comment:summary of copyedit changes"`
	CompleteDatetime *time.Time `gorm:"comment:when this copyedit round finished"`
}
