package doi

import (
	"github.com/samber/lo"

	"github.com/mit-lcp/physionet-server/dao/model"
)

// Payload carries the DataCite attributes of one DOI. Construction is
// a pure function of frozen published metadata.
type Payload struct {
	Prefix string `json:"prefix,omitempty"`
	Event  string `json:"event,omitempty"`

	Creators           []Creator           `json:"creators"`
	Titles             []Title             `json:"titles"`
	Publisher          string              `json:"publisher"`
	PublicationYear    int                 `json:"publicationYear"`
	Types              ResourceType        `json:"types"`
	Version            string              `json:"version,omitempty"`
	URL                string              `json:"url,omitempty"`
	RelatedIdentifiers []RelatedIdentifier `json:"relatedIdentifiers,omitempty"`
}

type Creator struct {
	Name       string `json:"name"`
	GivenName  string `json:"givenName,omitempty"`
	FamilyName string `json:"familyName,omitempty"`
}

type Title struct {
	Title string `json:"title"`
}

type ResourceType struct {
	ResourceTypeGeneral string `json:"resourceTypeGeneral"`
}

type RelatedIdentifier struct {
	RelatedIdentifier     string `json:"relatedIdentifier"`
	RelatedIdentifierType string `json:"relatedIdentifierType"`
	RelationType          string `json:"relationType"`
}

func resourceTypeGeneral(rt model.ResourceType) string {
	switch rt {
	case model.ResourceSoftware, model.ResourceModel:
		return "Software"
	default:
		return "Dataset"
	}
}

// BuildProjectPayload assembles the attributes of one published
// version. Siblings are the other published versions of the same core
// project; their DOIs become version links, and the core DOI, when it
// differs, becomes an IsVersionOf link.
func BuildProjectPayload(
	project *model.PublishedProject,
	authors []model.PublishedAuthor,
	coreDOI *string,
	siblings []model.PublishedProject,
	siteName, url string,
) Payload {
	creators := lo.Map(authors, func(a model.PublishedAuthor, _ int) Creator {
		return Creator{
			Name:       a.LastName + ", " + a.FirstNames,
			GivenName:  a.FirstNames,
			FamilyName: a.LastName,
		}
	})

	var related []RelatedIdentifier
	if coreDOI != nil && *coreDOI != "" && *coreDOI != model.DOIPending {
		related = append(related, RelatedIdentifier{
			RelatedIdentifier:     *coreDOI,
			RelatedIdentifierType: "DOI",
			RelationType:          "IsVersionOf",
		})
	}
	for i := range siblings {
		s := &siblings[i]
		if s.ID == project.ID || s.DOI == nil || *s.DOI == model.DOIPending {
			continue
		}
		relation := "IsNewVersionOf"
		if s.VersionOrder > project.VersionOrder {
			relation = "IsPreviousVersionOf"
		}
		related = append(related, RelatedIdentifier{
			RelatedIdentifier:     *s.DOI,
			RelatedIdentifierType: "DOI",
			RelationType:          relation,
		})
	}

	return Payload{
		Creators:           creators,
		Titles:             []Title{{Title: project.Metadata.Title}},
		Publisher:          siteName,
		PublicationYear:    project.PublishDatetime.Year(),
		Types:              ResourceType{ResourceTypeGeneral: resourceTypeGeneral(project.Metadata.ResourceType)},
		Version:            project.Version,
		URL:                url,
		RelatedIdentifiers: related,
	}
}
