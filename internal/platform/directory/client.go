// Package directory talks to a remote patient registry over HTTP. It is used
// instead of the local patient table when PATIENT_DIRECTORY_URL is set.
package directory

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/platform/apperr"
)

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration
	// Token, when set, is sent as a bearer token on every call.
	Token string
}

// PatientClient implements identity.Directory against GET {BaseURL}/patients/{id}.
type PatientClient struct {
	http *resty.Client
}

var _ identity.Directory = (*PatientClient)(nil)

func NewPatientClient(cfg Config) *PatientClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 200 * time.Millisecond
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(4 * cfg.RetryWait).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &PatientClient{http: client}
}

func (c *PatientClient) GetPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error) {
	var p identity.Patient
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id.String()).
		SetResult(&p).
		Get("/patients/{id}")
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("patient_id", id.String()).Msg("patient directory call failed")
		return nil, apperr.Wrap(apperr.KindInternal, "patient directory unavailable", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, apperr.NotFound("patient")
	case resp.IsError():
		zerolog.Ctx(ctx).Error().
			Int("status_code", resp.StatusCode()).
			Str("patient_id", id.String()).
			Msg("patient directory returned error")
		return nil, apperr.Wrap(apperr.KindInternal, "patient directory unavailable",
			fmt.Errorf("status %d", resp.StatusCode()))
	}

	if p.ID == uuid.Nil {
		p.ID = id
	}
	return &p, nil
}

// Ping checks that the registry answers at all. Any HTTP response counts.
func (c *PatientClient) Ping(ctx context.Context) error {
	_, err := c.http.R().SetContext(ctx).Head("/")
	return err
}
