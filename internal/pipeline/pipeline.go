// Package pipeline talks to the external render service that turns a task's
// source material into a narrated video.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/docvivid/backend/internal/models"
)

const (
	submitTimeout = 30 * time.Second
	pollInterval  = 3 * time.Second
)

// HTTPClient drives a render job over the render service's HTTP API: one
// POST to start, then polling until the job reports a terminal state.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: submitTimeout},
	}
}

// renderRequest is the JSON body submitted to the render service.
type renderRequest struct {
	TaskID         uuid.UUID `json:"task_id"`
	InputType      string    `json:"input_type"`
	SourceText     string    `json:"source_text,omitempty"`
	SourceURL      string    `json:"source_url,omitempty"`
	InputFileRef   string    `json:"input_file_ref,omitempty"`
	TargetLanguage string    `json:"target_language"`
	VoiceType      string    `json:"voice_type"`
}

// renderStatus is one polling response.
type renderStatus struct {
	State     string `json:"state"` // queued | rendering | done | error
	Progress  int    `json:"progress"`
	OutputRef string `json:"output_ref"`
	Error     string `json:"error"`
}

// Process submits the render job and polls it to completion, reporting
// progress along the way. It returns the render service's output reference,
// or ctx.Err() as soon as the context is cancelled between polls.
func (c *HTTPClient) Process(ctx context.Context, task *models.Task, report func(progress int)) (string, error) {
	jobURL, err := c.submit(ctx, task)
	if err != nil {
		return "", err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		status, err := c.poll(ctx, jobURL)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", err
		}
		report(status.Progress)

		switch status.State {
		case "done":
			if status.OutputRef == "" {
				return "", fmt.Errorf("render service finished without an output reference")
			}
			return status.OutputRef, nil
		case "error":
			return "", fmt.Errorf("render service: %s", status.Error)
		}
	}
}

func (c *HTTPClient) submit(ctx context.Context, task *models.Task) (string, error) {
	body, err := json.Marshal(renderRequest{
		TaskID:         task.ID,
		InputType:      task.InputType,
		SourceText:     task.SourceText,
		SourceURL:      task.SourceURL,
		InputFileRef:   task.InputFileRef,
		TargetLanguage: task.TargetLanguage,
		VoiceType:      task.VoiceType,
	})
	if err != nil {
		return "", fmt.Errorf("marshal render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit render job: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("render service http %d", resp.StatusCode)
	}

	var created struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode render job response: %w", err)
	}
	if created.JobID == "" {
		return "", fmt.Errorf("render service returned no job id")
	}
	return fmt.Sprintf("%s/render/%s", c.baseURL, created.JobID), nil
}

func (c *HTTPClient) poll(ctx context.Context, jobURL string) (*renderStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jobURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create poll request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll render job: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("render service http %d", resp.StatusCode)
	}
	var status renderStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode render status: %w", err)
	}
	return &status, nil
}
