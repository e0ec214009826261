// Package doi wraps the DataCite registrar. Registration holds a
// pending sentinel on the project DOI column for the duration of the
// remote call, so two concurrent callers cannot register twice.
package doi

import (
	"context"
	"fmt"

	"github.com/imroc/req/v3"
	"github.com/pkg/errors"

	"github.com/mit-lcp/physionet-server/pkg/config"
)

// Status is the registrar-side lifecycle of a DOI.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusRegistered Status = "registered"
	StatusFindable   Status = "findable"
)

// Client is the remote registrar surface.
type Client interface {
	CreateDOI(ctx context.Context, payload Payload) (string, error)
	UpdateDOI(ctx context.Context, doi string, payload Payload) error
	GetDOIStatus(ctx context.Context, doi string) (Status, error)
}

// DataCiteClient talks to the DataCite REST API.
type DataCiteClient struct {
	req    *req.Client
	apiURL string
	prefix string
}

func NewDataCiteClient(cfg *config.Config) *DataCiteClient {
	client := req.C().
		SetCommonBasicAuth(cfg.DataCite.User, cfg.DataCite.Password).
		SetCommonHeader("Content-Type", "application/vnd.api+json")
	return &DataCiteClient{
		req:    client,
		apiURL: cfg.DataCite.APIURL,
		prefix: cfg.DataCite.Prefix,
	}
}

type doiEnvelope struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			DOI   string `json:"doi"`
			State string `json:"state"`
		} `json:"attributes"`
	} `json:"data"`
}

type doiRequest struct {
	Data struct {
		Type       string  `json:"type"`
		Attributes Payload `json:"attributes"`
	} `json:"data"`
}

// CreateDOI registers a new findable DOI under the configured prefix
// and returns the identifier the registrar assigned.
func (c *DataCiteClient) CreateDOI(ctx context.Context, payload Payload) (string, error) {
	payload.Prefix = c.prefix
	payload.Event = "publish"

	var body doiRequest
	body.Data.Type = "dois"
	body.Data.Attributes = payload

	var result doiEnvelope
	resp, err := c.req.R().
		SetContext(ctx).
		SetBody(&body).
		SetSuccessResult(&result).
		Post(c.apiURL + "/dois")
	if err != nil {
		return "", errors.Wrap(err, "datacite create")
	}
	if !resp.IsSuccessState() {
		return "", errors.Errorf("datacite create: unexpected status %s", resp.Status)
	}
	if result.Data.Attributes.DOI == "" {
		return "", errors.New("datacite create: empty doi in response")
	}
	return result.Data.Attributes.DOI, nil
}

func (c *DataCiteClient) UpdateDOI(ctx context.Context, doi string, payload Payload) error {
	var body doiRequest
	body.Data.Type = "dois"
	body.Data.Attributes = payload

	resp, err := c.req.R().
		SetContext(ctx).
		SetBody(&body).
		Put(fmt.Sprintf("%s/dois/%s", c.apiURL, doi))
	if err != nil {
		return errors.Wrap(err, "datacite update")
	}
	if !resp.IsSuccessState() {
		return errors.Errorf("datacite update: unexpected status %s", resp.Status)
	}
	return nil
}

func (c *DataCiteClient) GetDOIStatus(ctx context.Context, doi string) (Status, error) {
	var result doiEnvelope
	resp, err := c.req.R().
		SetContext(ctx).
		SetSuccessResult(&result).
		Get(fmt.Sprintf("%s/dois/%s", c.apiURL, doi))
	if err != nil {
		return "", errors.Wrap(err, "datacite status")
	}
	if !resp.IsSuccessState() {
		return "", errors.Errorf("datacite status: unexpected status %s", resp.Status)
	}
	switch result.Data.Attributes.State {
	case "draft":
		return StatusDraft, nil
	case "registered":
		return StatusRegistered, nil
	case "findable":
		return StatusFindable, nil
	default:
		return "", errors.Errorf("datacite status: unknown state %q", result.Data.Attributes.State)
	}
}
