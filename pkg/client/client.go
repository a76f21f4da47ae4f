// Package client talks to a running balancer server over its REST api.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"ner-balancer/pkg/api"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const defaultTimeout = 5 * time.Minute

type Client struct {
	client *resty.Client
}

// ResponseError is returned when the server answers with a non 2xx status.
type ResponseError struct {
	StatusCode int
	Message    string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func New(baseURL string) *Client {
	return &Client{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(defaultTimeout),
	}
}

func checkResponse(res *resty.Response) error {
	if res.IsSuccess() {
		return nil
	}
	return &ResponseError{StatusCode: res.StatusCode(), Message: strings.TrimSpace(res.String())}
}

func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var health api.HealthResponse
	res, err := c.client.R().
		SetContext(ctx).
		SetResult(&health).
		Get("/health")
	if err != nil {
		return nil, fmt.Errorf("error calling health endpoint: %w", err)
	}
	if err := checkResponse(res); err != nil {
		return nil, err
	}
	return &health, nil
}

func balanceForm(req api.BalanceRequest) map[string]string {
	form := map[string]string{
		"target_frequencies": req.TargetFrequencies,
		"tag_column":         strconv.Itoa(req.TagColumn),
		"strict":             strconv.FormatBool(req.Strict),
	}
	if req.OutputFilename != "" {
		form["output_filename"] = req.OutputFilename
	}
	if req.MaxIterations > 0 {
		form["max_iterations"] = strconv.Itoa(req.MaxIterations)
	}
	if req.IgnoreTags != "" {
		form["ignore_tags"] = req.IgnoreTags
	}
	return form
}

// Balance uploads a dataset and waits for the balanced result.
func (c *Client) Balance(ctx context.Context, filename string, data []byte, req api.BalanceRequest) (*api.BalanceResponse, error) {
	var result api.BalanceResponse
	res, err := c.client.R().
		SetContext(ctx).
		SetFileReader("file", filename, bytes.NewReader(data)).
		SetFormData(balanceForm(req)).
		SetResult(&result).
		Post("/balance")
	if err != nil {
		return nil, fmt.Errorf("error calling balance endpoint: %w", err)
	}
	if err := checkResponse(res); err != nil {
		return nil, err
	}
	return &result, nil
}

// SubmitJob uploads a dataset to be balanced by a worker.
func (c *Client) SubmitJob(ctx context.Context, filename string, data []byte, req api.BalanceRequest) (uuid.UUID, error) {
	var result api.SubmitJobResponse
	res, err := c.client.R().
		SetContext(ctx).
		SetFileReader("file", filename, bytes.NewReader(data)).
		SetFormData(balanceForm(req)).
		SetResult(&result).
		Post("/jobs")
	if err != nil {
		return uuid.Nil, fmt.Errorf("error submitting job: %w", err)
	}
	if err := checkResponse(res); err != nil {
		return uuid.Nil, err
	}
	return result.JobId, nil
}

func (c *Client) GetJob(ctx context.Context, jobId uuid.UUID) (*api.Job, error) {
	var job api.Job
	res, err := c.client.R().
		SetContext(ctx).
		SetPathParam("job_id", jobId.String()).
		SetResult(&job).
		Get("/jobs/{job_id}")
	if err != nil {
		return nil, fmt.Errorf("error getting job %s: %w", jobId, err)
	}
	if err := checkResponse(res); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) ListJobs(ctx context.Context, params api.ListJobsParams) ([]api.Job, error) {
	query := map[string]string{}
	if params.Status != "" {
		query["status"] = params.Status
	}
	if params.Limit > 0 {
		query["limit"] = strconv.Itoa(params.Limit)
	}

	var jobs []api.Job
	res, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetResult(&jobs).
		Get("/jobs")
	if err != nil {
		return nil, fmt.Errorf("error listing jobs: %w", err)
	}
	if err := checkResponse(res); err != nil {
		return nil, err
	}
	return jobs, nil
}

// DownloadOutput copies the balanced CoNLL file of a completed job into w.
func (c *Client) DownloadOutput(ctx context.Context, jobId uuid.UUID, w io.Writer) error {
	res, err := c.client.R().
		SetContext(ctx).
		SetPathParam("job_id", jobId.String()).
		SetDoNotParseResponse(true).
		Get("/jobs/{job_id}/output")
	if err != nil {
		return fmt.Errorf("error downloading output of job %s: %w", jobId, err)
	}
	body := res.RawBody()
	defer body.Close()

	if !res.IsSuccess() {
		msg, _ := io.ReadAll(body)
		return &ResponseError{StatusCode: res.StatusCode(), Message: strings.TrimSpace(string(msg))}
	}

	if _, err := io.Copy(w, body); err != nil {
		return fmt.Errorf("error reading output of job %s: %w", jobId, err)
	}
	return nil
}

// WaitForJob polls a job until it is completed or failed.
func (c *Client) WaitForJob(ctx context.Context, jobId uuid.UUID, interval time.Duration) (*api.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, jobId)
		if err != nil {
			return nil, err
		}
		if job.Status == "COMPLETED" || job.Status == "FAILED" {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
