// Package airflow is a REST client for the task engine that hosts the
// tutorial DAG.
package airflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	resty "github.com/go-resty/resty/v2"

	"airlift-demo/internal/config"
	"airlift-demo/internal/domain"
)

const (
	RequestTimeout   = 30 * time.Second
	RetryCount       = 3
	RetryWaitTime    = 100 * time.Millisecond
	RetryWaitTimeMax = 2 * time.Second

	DefaultWaitTimeout  = 30 * time.Second
	DefaultPollInterval = time.Second

	apiPrefix = "/api/v1"
)

// APIError is a non-2xx response that maps to no domain error.
type APIError struct {
	StatusCode int
	Title      string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("airflow: %d %s: %s", e.StatusCode, e.Title, e.Detail)
	}
	return fmt.Sprintf("airflow: %d %s", e.StatusCode, e.Title)
}

// Client talks to one task engine instance using basic auth.
type Client struct {
	http   *resty.Client
	name   string
	logger *slog.Logger

	// PollInterval and WaitTimeout drive WaitForRun.
	PollInterval time.Duration
	WaitTimeout  time.Duration
}

// NewClient creates a client for the configured instance.
func NewClient(cfg config.AirflowConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Client{
		name:         cfg.InstanceName,
		logger:       logger.With("component", "airflow", "instance", cfg.InstanceName),
		PollInterval: DefaultPollInterval,
		WaitTimeout:  DefaultWaitTimeout,
	}
	c.http = createHTTPClient(cfg, c.logger)
	return c
}

// Name returns the instance name.
func (c *Client) Name() string { return c.name }

func createHTTPClient(cfg config.AirflowConfig, logger *slog.Logger) *resty.Client {
	h := resty.New()
	h.SetBaseURL(cfg.WebserverURL)
	h.SetBasicAuth(cfg.Username, cfg.Password)
	h.SetHeader("Accept", "application/json")
	h.SetHeader("User-Agent", "airlift-demo")
	h.SetTimeout(RequestTimeout)
	h.SetRetryCount(RetryCount)
	h.SetRetryWaitTime(RetryWaitTime)
	h.SetRetryMaxWaitTime(RetryWaitTimeMax)
	h.AddRetryCondition(func(response *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		switch response.StatusCode() {
		case
			http.StatusRequestTimeout,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	})
	h.AddRetryHook(func(response *resty.Response, err error) {
		if response == nil || response.Request == nil {
			logger.Warn("retrying request", "error", err)
			return
		}
		logger.Warn("retrying request",
			"method", response.Request.Method,
			"url", response.Request.URL,
			"status", response.StatusCode(),
			"error", err)
	})
	return h
}

func (c *Client) r(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx).SetError(&apiProblem{})
}

// check converts transport failures and error responses into errors.
func check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("airflow request: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	var title, detail string
	if p, ok := resp.Error().(*apiProblem); ok && p != nil {
		title, detail = p.Title, p.Detail
	}
	if title == "" {
		title = http.StatusText(resp.StatusCode())
	}
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return domain.ErrNotFound("airflow: %s %s", title, detail)
	case http.StatusConflict:
		return domain.ErrConflict("airflow: %s %s", title, detail)
	}
	return &APIError{StatusCode: resp.StatusCode(), Title: title, Detail: detail}
}

// TriggerDagRun starts a new run of dagID.
func (c *Client) TriggerDagRun(ctx context.Context, dagID string, conf map[string]any) (*DagRun, error) {
	if conf == nil {
		conf = map[string]any{}
	}
	var out DagRun
	resp, err := c.r(ctx).
		SetPathParam("dag_id", dagID).
		SetBody(map[string]any{"conf": conf}).
		SetResult(&out).
		Post(apiPrefix + "/dags/{dag_id}/dagRuns")
	if err := check(resp, err); err != nil {
		return nil, fmt.Errorf("trigger %s: %w", dagID, err)
	}
	c.logger.Info("dag run triggered", "dag_id", dagID, "run_id", out.DagRunID)
	return &out, nil
}

// GetDagRun fetches one run.
func (c *Client) GetDagRun(ctx context.Context, dagID, runID string) (*DagRun, error) {
	var out DagRun
	resp, err := c.r(ctx).
		SetPathParams(map[string]string{"dag_id": dagID, "run_id": runID}).
		SetResult(&out).
		Get(apiPrefix + "/dags/{dag_id}/dagRuns/{run_id}")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDagRuns lists runs of dagID matching opts.
func (c *Client) ListDagRuns(ctx context.Context, dagID string, opts ListDagRunsOptions) ([]DagRun, error) {
	q := url.Values{}
	for _, s := range opts.States {
		q.Add("state", s)
	}
	if opts.EndDateGTE != nil {
		q.Set("end_date_gte", opts.EndDateGTE.UTC().Format(time.RFC3339Nano))
	}
	if opts.OrderBy != "" {
		q.Set("order_by", opts.OrderBy)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}

	var out dagRunList
	resp, err := c.r(ctx).
		SetPathParam("dag_id", dagID).
		SetQueryParamsFromValues(q).
		SetResult(&out).
		Get(apiPrefix + "/dags/{dag_id}/dagRuns")
	if err := check(resp, err); err != nil {
		return nil, fmt.Errorf("list runs of %s: %w", dagID, err)
	}
	return out.DagRuns, nil
}

// ListTaskInstances lists the task instances of one run.
func (c *Client) ListTaskInstances(ctx context.Context, dagID, runID string) ([]TaskInstance, error) {
	var out taskInstanceList
	resp, err := c.r(ctx).
		SetPathParams(map[string]string{"dag_id": dagID, "run_id": runID}).
		SetResult(&out).
		Get(apiPrefix + "/dags/{dag_id}/dagRuns/{run_id}/taskInstances")
	if err := check(resp, err); err != nil {
		return nil, fmt.Errorf("list task instances of %s/%s: %w", dagID, runID, err)
	}
	return out.TaskInstances, nil
}

// ListDags lists the DAGs of the instance.
func (c *Client) ListDags(ctx context.Context) ([]Dag, error) {
	var out dagList
	resp, err := c.r(ctx).SetResult(&out).Get(apiPrefix + "/dags")
	if err := check(resp, err); err != nil {
		return nil, fmt.Errorf("list dags: %w", err)
	}
	return out.Dags, nil
}

// ListTasks lists the tasks of dagID.
func (c *Client) ListTasks(ctx context.Context, dagID string) ([]Task, error) {
	var out taskList
	resp, err := c.r(ctx).
		SetPathParam("dag_id", dagID).
		SetResult(&out).
		Get(apiPrefix + "/dags/{dag_id}/tasks")
	if err := check(resp, err); err != nil {
		return nil, fmt.Errorf("list tasks of %s: %w", dagID, err)
	}
	return out.Tasks, nil
}

// SetDagPaused pauses or unpauses dagID.
func (c *Client) SetDagPaused(ctx context.Context, dagID string, paused bool) error {
	resp, err := c.r(ctx).
		SetPathParam("dag_id", dagID).
		SetQueryParam("update_mask", "is_paused").
		SetBody(map[string]any{"is_paused": paused}).
		Patch(apiPrefix + "/dags/{dag_id}")
	if err := check(resp, err); err != nil {
		return fmt.Errorf("set %s paused=%t: %w", dagID, paused, err)
	}
	return nil
}

var errNotTerminal = errors.New("run not finished")

// WaitForRun polls the run every PollInterval until it reaches a terminal
// state or timeout elapses. A non-positive timeout uses WaitTimeout.
func (c *Client) WaitForRun(ctx context.Context, dagID, runID string, timeout time.Duration) (*DagRun, error) {
	if timeout <= 0 {
		timeout = c.WaitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last *DagRun
	op := func() error {
		run, err := c.GetDagRun(ctx, dagID, runID)
		if err != nil {
			var nf *domain.NotFoundError
			if errors.As(err, &nf) {
				return backoff.Permanent(err)
			}
			return err
		}
		last = run
		if run.Terminal() {
			return nil
		}
		return errNotTerminal
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(c.PollInterval), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			state := "unknown"
			if last != nil {
				state = last.State
			}
			return last, fmt.Errorf("run %s of %s did not finish within %s (state %s): %w",
				runID, dagID, timeout, state, err)
		}
		return last, err
	}
	c.logger.Info("dag run finished", "dag_id", dagID, "run_id", runID, "state", last.State)
	return last, nil
}

// StartRunAndWaitForCompletion triggers dagID and waits for the run. It
// fails unless the run ends in success.
func (c *Client) StartRunAndWaitForCompletion(ctx context.Context, dagID string) (*DagRun, error) {
	run, err := c.TriggerDagRun(ctx, dagID, nil)
	if err != nil {
		return nil, err
	}
	done, err := c.WaitForRun(ctx, dagID, run.DagRunID, 0)
	if err != nil {
		return done, err
	}
	if done.State != StateSuccess {
		return done, fmt.Errorf("run %s of %s finished with state %s", done.DagRunID, dagID, done.State)
	}
	return done, nil
}
