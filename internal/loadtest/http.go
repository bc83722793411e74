package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPClient wraps http.Client with a base URL.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

func newHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// do sends a request with an optional JSON body and decodes a JSON answer
// into out when out is non-nil. It returns the status code.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var rd io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

type diagnosticAnswer struct {
	FromCache bool `json:"from_cache"`
}

type jobAnswer struct {
	JobID string `json:"job_id"`
}

func (c *HTTPClient) health(ctx context.Context) error {
	code, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if code != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", code)
	}
	return nil
}

func (c *HTTPClient) putSubject(ctx context.Context, s *Subject) error {
	code, err := c.do(ctx, http.MethodPut, "/subjects/"+url.PathEscape(s.ID), s, nil)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return fmt.Errorf("put subject %s: status %d", s.ID, code)
	}
	return nil
}

// diagnose calls POST /diagnose/{id} and classifies the answer.
func (c *HTTPClient) diagnose(ctx context.Context, id string) Outcome {
	var ans diagnosticAnswer
	code, err := c.do(ctx, http.MethodPost, "/diagnose/"+url.PathEscape(id), nil, &ans)
	return classify(code, err, ans.FromCache)
}

// diagnoseAsync submits a job and waits for its result.
func (c *HTTPClient) diagnoseAsync(ctx context.Context, id, priority string, wait time.Duration) Outcome {
	q := url.Values{}
	if priority != "" {
		q.Set("priority", priority)
	}
	var job jobAnswer
	code, err := c.do(ctx, http.MethodPost, "/diagnose/"+url.PathEscape(id)+"/async?"+q.Encode(), nil, &job)
	if err != nil || code != http.StatusAccepted {
		return classify(code, err, false)
	}

	var ans diagnosticAnswer
	code, err = c.do(ctx, http.MethodGet,
		"/jobs/"+url.PathEscape(job.JobID)+"/result?wait="+url.QueryEscape(wait.String()), nil, &ans)
	if err == nil && code == http.StatusAccepted {
		return OutcomePending
	}
	return classify(code, err, ans.FromCache)
}

func classify(code int, err error, fromCache bool) Outcome {
	switch {
	case err != nil:
		return OutcomeFailed
	case code == http.StatusTooManyRequests:
		return OutcomeRateLimited
	case code != http.StatusOK:
		return OutcomeFailed
	case fromCache:
		return OutcomeCached
	default:
		return OutcomeFresh
	}
}
