package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// JobState is the lifecycle of one extraction.
type JobState int

const (
	JobSubmitted JobState = iota
	JobPolling
	JobCompleted
	JobFailed
	JobTimedOut
)

func (s JobState) String() string {
	switch s {
	case JobSubmitted:
		return "submitted"
	case JobPolling:
		return "polling"
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	case JobTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions happen.
func (s JobState) Terminal() bool { return s >= JobCompleted }

type job struct {
	client   *Client
	state    JobState
	id       string
	attempts int
	data     json.RawMessage
	err      error
}

func (j *job) run(ctx context.Context, req request) (json.RawMessage, error) {
	for !j.state.Terminal() {
		switch j.state {
		case JobSubmitted:
			j.submit(ctx, req)
		case JobPolling:
			j.poll(ctx)
		}
	}
	j.client.logger.Debug("extract: job finished",
		"job_id", j.id, "state", j.state.String(), "attempts", j.attempts)
	if j.state != JobCompleted {
		return nil, j.err
	}
	return j.data, nil
}

func (j *job) fail(err error) {
	j.state = JobFailed
	j.err = err
}

func (j *job) submit(ctx context.Context, req request) {
	status, body, err := j.client.do(ctx, http.MethodPost, "/v1/extract", req)
	if err != nil {
		j.fail(err)
		return
	}
	if status < 200 || status >= 300 {
		j.fail(fmt.Errorf("Firecrawl request failed (%d): %s", status, body))
		return
	}
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		j.fail(fmt.Errorf("extract: decode: %w", err))
		return
	}
	if resp.failed() {
		j.fail(fmt.Errorf("Firecrawl error: %s", resp.errorText()))
		return
	}
	if resp.ID != "" && !hasData(resp.Data) {
		j.id = resp.ID
		j.state = JobPolling
		return
	}
	j.data = resp.Data
	j.state = JobCompleted
}

func (j *job) poll(ctx context.Context) {
	if j.attempts >= j.client.cfg.MaxAttempts {
		j.state = JobTimedOut
		j.err = errors.New("Firecrawl extract polling timed out.")
		return
	}
	j.attempts++

	status, body, err := j.client.do(ctx, http.MethodGet, "/v1/extract/"+url.PathEscape(j.id), nil)
	if err != nil {
		j.fail(err)
		return
	}
	if status < 200 || status >= 300 {
		j.fail(fmt.Errorf("Firecrawl extract poll failed (%d): %s", status, body))
		return
	}
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		j.fail(fmt.Errorf("extract: decode poll: %w", err))
		return
	}
	if resp.failed() {
		j.fail(fmt.Errorf("Firecrawl extract poll error: %s", resp.errorText()))
		return
	}

	switch resp.Status {
	case "completed":
		j.data = resp.Data
		j.state = JobCompleted
		return
	case "failed", "cancelled":
		j.fail(fmt.Errorf("Firecrawl extract job %s", resp.Status))
		return
	}

	if err := j.client.sleep(ctx, j.client.cfg.Interval); err != nil {
		j.fail(fmt.Errorf("extract: wait: %w", err))
	}
}
