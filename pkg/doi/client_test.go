package doi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/imroc/req/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mit-lcp/physionet-server/dao/model"
)

func newTestClient(url string) *DataCiteClient {
	return &DataCiteClient{
		req:    req.C(),
		apiURL: url,
		prefix: "10.13026",
	}
}

func TestCreateDOI(t *testing.T) {
	var received doiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/dois", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"10.13026/ab12-cd34",
			"attributes":{"doi":"10.13026/ab12-cd34","state":"findable"}}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	doi, err := client.CreateDOI(context.Background(), Payload{
		Titles: []Title{{Title: "Demo Database"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "10.13026/ab12-cd34", doi)

	assert.Equal(t, "dois", received.Data.Type)
	assert.Equal(t, "10.13026", received.Data.Attributes.Prefix)
	assert.Equal(t, "publish", received.Data.Attributes.Event)
}

func TestCreateDOIServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).CreateDOI(context.Background(), Payload{})
	assert.Error(t, err)
}

func TestGetDOIStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/dois/10.13026/ab12-cd34", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"attributes":{"doi":"10.13026/ab12-cd34","state":"registered"}}}`))
	}))
	defer server.Close()

	status, err := newTestClient(server.URL).GetDOIStatus(context.Background(), "10.13026/ab12-cd34")
	require.NoError(t, err)
	assert.Equal(t, StatusRegistered, status)
}

func TestBuildProjectPayload(t *testing.T) {
	coreDOI := "10.13026/core-0001"
	siblingDOI := "10.13026/sib-0001"
	project := &model.PublishedProject{
		Model: gorm.Model{ID: 1},
		Metadata: model.Metadata{
			Title:        "Demo Database",
			ResourceType: model.ResourceDatabase,
		},
		Version:         "2.0.0",
		VersionOrder:    1,
		PublishDatetime: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	authors := []model.PublishedAuthor{
		{FirstNames: "Tom", LastName: "Pollard", DisplayOrder: 1},
	}
	siblings := []model.PublishedProject{
		{Model: gorm.Model{ID: 2}, DOI: &siblingDOI, VersionOrder: 0},
	}

	payload := BuildProjectPayload(project, authors, &coreDOI, siblings, "PhysioNet", "https://example.org/demo/2.0.0")

	assert.Equal(t, "PhysioNet", payload.Publisher)
	assert.Equal(t, 2026, payload.PublicationYear)
	assert.Equal(t, "Dataset", payload.Types.ResourceTypeGeneral)
	require.Len(t, payload.Creators, 1)
	assert.Equal(t, "Pollard, Tom", payload.Creators[0].Name)

	require.Len(t, payload.RelatedIdentifiers, 2)
	assert.Equal(t, "IsVersionOf", payload.RelatedIdentifiers[0].RelationType)
	assert.Equal(t, "IsNewVersionOf", payload.RelatedIdentifiers[1].RelationType)
}
