// Package remote talks to the pharmacy service on behalf of the sync agent.
package remote

import (
	"context"
	"fmt"
	"net/http"

	resty "github.com/go-resty/resty/v2"
	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/pkg/config"
	"github.com/medflow/medtrack/pkg/errors"
	"github.com/medflow/medtrack/pkg/httputil"
	"github.com/medflow/medtrack/pkg/logger"
)

const apiPrefix = "/api/v1/pharmacy"

type envelope[T any] struct {
	Success bool                `json:"success"`
	Data    T                   `json:"data"`
	Error   *httputil.ErrorBody `json:"error"`
}

// Client is the HTTP remote.
type Client struct {
	http   *resty.Client
	logger *logger.Logger
}

// New creates a client for cfg.RemoteURL authenticating with cfg.Token.
func New(cfg config.SyncConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	c := resty.New().
		SetBaseURL(cfg.RemoteURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.RequestTimeout > 0 {
		c.SetTimeout(cfg.RequestTimeout)
	}
	if cfg.Token != "" {
		c.SetAuthToken(cfg.Token)
	}
	return &Client{http: c, logger: log.WithComponent("remote")}
}

// Ping checks that the service answers its health check.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return errors.SyncFailed(err)
	}
	if res.StatusCode() != http.StatusOK {
		return errors.SyncFailed(fmt.Errorf("health check returned status %d", res.StatusCode()))
	}
	return nil
}

// SubmitIntent replays one offline dispense. A summary whose outcome is
// failed comes back without an error; rejections (validation, shortage,
// auth) come back as the service's error.
func (c *Client) SubmitIntent(ctx context.Context, sub domain.IntentSubmission) (*domain.DispenseSummary, error) {
	env := &envelope[domain.DispenseSummary]{}
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(sub).
		SetResult(env).
		SetError(env).
		Post(apiPrefix + "/sync/intents")
	if err := c.check(res, err, env.Error); err != nil {
		return nil, err
	}
	if env.Data.AllocationResult == nil {
		return nil, errors.SyncFailed(fmt.Errorf("empty dispense summary (status %d)", res.StatusCode()))
	}
	return &env.Data, nil
}

// Medications lists the active formulary with derived stock.
func (c *Client) Medications(ctx context.Context) ([]*domain.Medication, error) {
	env := &envelope[[]*domain.Medication]{}
	res, err := c.http.R().
		SetContext(ctx).
		SetResult(env).
		SetError(env).
		Get(apiPrefix + "/medications")
	if err := c.check(res, err, env.Error); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// Stock reads the derived stock of one medication.
func (c *Client) Stock(ctx context.Context, medicationID string) (int, error) {
	env := &envelope[struct {
		CurrentStock int `json:"current_stock"`
	}]{}
	res, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", medicationID).
		SetResult(env).
		SetError(env).
		Get(apiPrefix + "/medications/{id}/stock")
	if err := c.check(res, err, env.Error); err != nil {
		return 0, err
	}
	return env.Data.CurrentStock, nil
}

// check turns transport failures into SyncFailed and error envelopes
// back into the service's AppError.
func (c *Client) check(res *resty.Response, err error, body *httputil.ErrorBody) error {
	if err != nil {
		c.logger.Debug().Err(err).Msg("request failed")
		return errors.SyncFailed(err)
	}
	if body != nil {
		return errors.FromWire(body.Code, body.Message, res.StatusCode(), body.Details)
	}
	if res.StatusCode() >= http.StatusInternalServerError {
		return errors.SyncFailed(fmt.Errorf("%s %s returned status %d", res.Request.Method, res.Request.URL, res.StatusCode()))
	}
	return nil
}
