// Package client talks to the report job HTTP API: submit, poll, download.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/order-reports/internal/api/dto"
	"github.com/cuongbtq/order-reports/internal/domain"
)

// DefaultPollInterval is used when Poll is given a non-positive interval
const DefaultPollInterval = 2 * time.Second

// ErrNotFound is returned for 404 responses
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response other than 404 and 409
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("report api: %d %s", e.StatusCode, e.Message)
}

// ConflictError is returned when a job for the same order and format is
// already active, or a download is requested before the job completed
type ConflictError struct {
	Message        string
	ExistingJobID  string
	ExistingStatus string
}

func (e *ConflictError) Error() string {
	if e.ExistingJobID != "" {
		return fmt.Sprintf("%s (job %s is %s)", e.Message, e.ExistingJobID, e.ExistingStatus)
	}
	return e.Message
}

// Report is a downloaded artifact
type Report struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Client is a report job API client
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the API rooted at baseURL (e.g. http://localhost:8080)
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/") + "/api/v1",
		httpClient: httpClient,
	}
}

// Submit creates a report job
func (c *Client) Submit(ctx context.Context, orderID int64, format domain.Format) (*dto.ReportJobDTO, error) {
	body, err := json.Marshal(dto.CreateReportJobRequest{OrderID: orderID, Format: string(format)})
	if err != nil {
		return nil, err
	}

	var job dto.ReportJobDTO
	if err := c.do(ctx, http.MethodPost, "/report-jobs", bytes.NewReader(body), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Get returns the current snapshot of a job
func (c *Client) Get(ctx context.Context, jobID string) (*dto.ReportJobDTO, error) {
	var job dto.ReportJobDTO
	if err := c.do(ctx, http.MethodGet, "/report-jobs/"+url.PathEscape(jobID), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListByOrder returns every job of an order, newest first
func (c *Client) ListByOrder(ctx context.Context, orderID int64) ([]dto.ReportJobDTO, error) {
	var resp dto.ListReportJobsResponse
	path := "/orders/" + strconv.FormatInt(orderID, 10) + "/report-jobs"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Delete removes a job and its artifact
func (c *Client) Delete(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/report-jobs/"+url.PathEscape(jobID), nil, nil)
}

// Download fetches the artifact of a COMPLETED job
func (c *Client) Download(ctx context.Context, jobID string) (*Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/report-jobs/"+url.PathEscape(jobID)+"/download", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read report body: %w", err)
	}

	report := &Report{ContentType: resp.Header.Get("Content-Type"), Data: data}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		report.FileName = params["filename"]
	}
	return report, nil
}

// Poll fetches the job every interval until it is COMPLETED or FAILED and
// returns the terminal snapshot. onUpdate, if set, sees every snapshot.
func (c *Client) Poll(ctx context.Context, jobID string, interval time.Duration, onUpdate func(*dto.ReportJobDTO)) (*dto.ReportJobDTO, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(job)
		}
		if domain.Status(job.Status).IsTerminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch resp.StatusCode {
	case http.StatusConflict:
		var conflict dto.ConflictResponse
		if err := json.Unmarshal(raw, &conflict); err == nil && conflict.Message != "" {
			return &ConflictError{
				Message:        conflict.Message,
				ExistingJobID:  conflict.ExistingJobID,
				ExistingStatus: conflict.ExistingStatus,
			}
		}
		return &ConflictError{Message: strings.TrimSpace(string(raw))}
	case http.StatusNotFound:
		var e dto.ErrorResponse
		if err := json.Unmarshal(raw, &e); err == nil && e.Error != "" {
			return fmt.Errorf("%w: %s", ErrNotFound, e.Error)
		}
		return ErrNotFound
	}

	var e dto.ErrorResponse
	if err := json.Unmarshal(raw, &e); err == nil && e.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
}
