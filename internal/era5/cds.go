// Package era5 retrieves ERA5 model-level analyses from the Copernicus
// Climate Data Store and interpolates them to pressure levels with cdo.
package era5

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/qmodes/internal/httputil"
)

// Job states reported by the retrieve API.
const (
	StatusAccepted   = "accepted"
	StatusRunning    = "running"
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
	StatusRejected   = "rejected"
	StatusDismissed  = "dismissed"
)

var ErrJobFailed = errors.New("cds job failed")

// Job is the status document of a retrieval job.
type Job struct {
	JobID  string `json:"jobID"`
	Status string `json:"status"`
}

type results struct {
	Asset struct {
		Value struct {
			Href string `json:"href"`
			Size int64  `json:"file:size"`
		} `json:"value"`
	} `json:"asset"`
}

// CDSClient talks to the CDS retrieve API.
type CDSClient struct {
	http    *httputil.Client
	baseURL string
	key     string
	logger  *slog.Logger

	// PollBackOff paces status polling. The default never gives up;
	// cancel the context to stop waiting.
	PollBackOff func() backoff.BackOff
}

func NewCDSClient(h *httputil.Client, baseURL, key string, logger *slog.Logger) *CDSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &CDSClient{
		http:    h,
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		logger:  logger,
		PollBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 2 * time.Second
			bo.MaxInterval = time.Minute
			bo.MaxElapsedTime = 0
			return bo
		},
	}
}

func (c *CDSClient) request(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("PRIVATE-TOKEN", c.key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Submit queues a retrieval and returns the job.
func (c *CDSClient) Submit(ctx context.Context, dataset string, req Request) (*Job, error) {
	body, err := json.Marshal(map[string]any{"inputs": req})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	url := fmt.Sprintf("%s/retrieve/v1/processes/%s/execution", c.baseURL, dataset)

	var job Job
	err = c.http.GetJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		return c.request(ctx, http.MethodPost, url, body)
	}, &job)
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", dataset, err)
	}
	if job.JobID == "" {
		return nil, fmt.Errorf("submit %s: no job id in response", dataset)
	}
	return &job, nil
}

// Status fetches the current job state.
func (c *CDSClient) Status(ctx context.Context, id string) (*Job, error) {
	var job Job
	url := fmt.Sprintf("%s/retrieve/v1/jobs/%s", c.baseURL, id)
	err := c.http.GetJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		return c.request(ctx, http.MethodGet, url, nil)
	}, &job)
	if err != nil {
		return nil, fmt.Errorf("job %s status: %w", id, err)
	}
	return &job, nil
}

// Wait polls until the job succeeds. Failed, rejected or dismissed jobs
// return ErrJobFailed.
func (c *CDSClient) Wait(ctx context.Context, id string) error {
	operation := func() error {
		job, err := c.Status(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		switch job.Status {
		case StatusSuccessful:
			return nil
		case StatusFailed, StatusRejected, StatusDismissed:
			return backoff.Permanent(fmt.Errorf("%w: job %s is %s", ErrJobFailed, id, job.Status))
		}
		c.logger.Debug("waiting for cds job", "job", id, "status", job.Status)
		return fmt.Errorf("job %s is %s", id, job.Status)
	}
	return backoff.Retry(operation, backoff.WithContext(c.PollBackOff(), ctx))
}

// Download writes the result of a successful job to dst.
func (c *CDSClient) Download(ctx context.Context, id, dst string) (int64, error) {
	var res results
	url := fmt.Sprintf("%s/retrieve/v1/jobs/%s/results", c.baseURL, id)
	err := c.http.GetJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		return c.request(ctx, http.MethodGet, url, nil)
	}, &res)
	if err != nil {
		return 0, fmt.Errorf("job %s results: %w", id, err)
	}
	href := res.Asset.Value.Href
	if href == "" {
		return 0, fmt.Errorf("job %s results: no asset link", id)
	}

	n, err := c.http.DownloadFile(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	}, dst)
	if err != nil {
		return 0, fmt.Errorf("download job %s: %w", id, err)
	}
	if res.Asset.Value.Size > 0 && n != res.Asset.Value.Size {
		return n, fmt.Errorf("download job %s: got %d bytes, expected %d", id, n, res.Asset.Value.Size)
	}
	return n, nil
}

// Retrieve runs a request to completion and saves the result to dst.
func (c *CDSClient) Retrieve(ctx context.Context, dataset string, req Request, dst string) (*Job, int64, error) {
	job, err := c.Submit(ctx, dataset, req)
	if err != nil {
		return nil, 0, err
	}
	c.logger.Info("cds job submitted", "job", job.JobID, "param", req.Param, "date", req.Date)
	if err := c.Wait(ctx, job.JobID); err != nil {
		return job, 0, err
	}
	job.Status = StatusSuccessful
	n, err := c.Download(ctx, job.JobID, dst)
	return job, n, err
}
