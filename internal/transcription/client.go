// Package transcription submits audio to the speech-to-text provider and
// polls the resulting task until it reaches a terminal state.
package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"dialix-pipeline/internal/config"
	"dialix-pipeline/internal/conversation"
)

var (
	ErrTaskFailed = errors.New("transcription task failed")
	ErrTimeout    = errors.New("transcription did not finish in time")
)

const statusSuccess = "SUCCESS"

// failedStatuses are task states that will never reach SUCCESS.
var failedStatuses = map[string]bool{
	"FAILED":  true,
	"FAILURE": true,
	"ERROR":   true,
	"REVOKED": true,
}

const (
	submitRetries = 4
	submitBackoff = 500 * time.Millisecond
)

// Transcript is a finished task. Raw is the provider payload as received and
// is what gets cached on the record.
type Transcript struct {
	Raw   json.RawMessage
	Text  string
	Words []conversation.Word
}

type payload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result struct {
		Text    string              `json:"text"`
		Offsets []conversation.Word `json:"offsets"`
	} `json:"result"`
}

// Parse decodes a cached provider payload.
func Parse(raw []byte) (Transcript, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Transcript{}, fmt.Errorf("decode transcript: %w", err)
	}
	return Transcript{Raw: raw, Text: p.Result.Text, Words: p.Result.Offsets}, nil
}

type Client struct {
	baseURL  string
	apiKey   string
	language string
	http     *http.Client

	minPoll time.Duration
	maxPoll time.Duration
	maxWait time.Duration
}

func New(cfg config.TranscriptionConfig) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		language: cfg.Language,
		http:     &http.Client{Timeout: cfg.RequestTimeout},
		minPoll:  cfg.MinPollInterval,
		maxPoll:  cfg.MaxPollInterval,
		maxWait:  cfg.MaxWait,
	}
}

// Transcribe uploads the file and blocks until the task succeeds, fails
// terminally or the wait bound expires.
func (c *Client) Transcribe(ctx context.Context, path string, duration time.Duration) (Transcript, error) {
	taskID, err := c.Submit(ctx, path)
	if err != nil {
		return Transcript{}, err
	}
	slog.Info("transcription submitted", "task_id", taskID, "path", path)
	return c.Wait(ctx, taskID, duration)
}

// Submit posts the audio as a non-blocking diarized task and returns its id.
// Transport errors and 5xx responses are retried.
func (c *Client) Submit(ctx context.Context, path string) (string, error) {
	body, contentType, err := c.multipartBody(path)
	if err != nil {
		return "", err
	}

	var created payload
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stt", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", c.apiKey)
		req.Header.Set("Content-Type", contentType)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("submit: server error %d: %s", resp.StatusCode, raw)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("%w: submit status %d: %s", ErrTaskFailed, resp.StatusCode, raw))
		}
		if err := json.Unmarshal(raw, &created); err != nil {
			return backoff.Permanent(fmt.Errorf("decode submit response: %w", err))
		}
		if created.ID == "" {
			return backoff.Permanent(fmt.Errorf("%w: empty task id", ErrTaskFailed))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = submitBackoff
	bo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, submitRetries), ctx)); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (c *Client) multipartBody(path string) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	fields := [][2]string{
		{"return_offsets", "true"},
		{"run_diarization", "true"},
		{"language", c.language},
		{"blocking", "false"},
	}
	for _, kv := range fields {
		if err := w.WriteField(kv[0], kv[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// Wait polls the task. 404, 408, 5xx and a failed task status are terminal;
// any other non-200 status, or a 200 with a pending status, means not ready
// yet.
func (c *Client) Wait(ctx context.Context, taskID string, duration time.Duration) (Transcript, error) {
	interval := c.PollInterval(duration)
	deadline := time.Now().Add(c.maxWait)

	for attempt := 1; ; attempt++ {
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return Transcript{}, ctx.Err()
		case <-t.C:
		}

		tr, done, err := c.poll(ctx, taskID)
		if err != nil {
			return Transcript{}, err
		}
		if done {
			slog.Info("transcription finished", "task_id", taskID, "attempts", attempt)
			return tr, nil
		}
		if time.Now().After(deadline) {
			return Transcript{}, fmt.Errorf("%w: task %s after %d polls", ErrTimeout, taskID, attempt)
		}
	}
}

func (c *Client) poll(ctx context.Context, taskID string) (Transcript, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks?id="+url.QueryEscape(taskID), nil)
	if err != nil {
		return Transcript{}, false, err
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Transcript{}, false, ctx.Err()
		}
		slog.Warn("transcription poll failed", "task_id", taskID, "error", err)
		return Transcript{}, false, nil
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= 500:
		return Transcript{}, false, fmt.Errorf("%w: task %s status %d: %s", ErrTaskFailed, taskID, resp.StatusCode, raw)
	default:
		slog.Warn("transcription not ready", "task_id", taskID, "status", resp.StatusCode)
		return Transcript{}, false, nil
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Transcript{}, false, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	status := strings.ToUpper(strings.TrimSpace(p.Status))
	if failedStatuses[status] {
		return Transcript{}, false, fmt.Errorf("%w: task %s status %s: %s", ErrTaskFailed, taskID, p.Status, raw)
	}
	if status != statusSuccess {
		return Transcript{}, false, nil
	}
	return Transcript{Raw: raw, Text: p.Result.Text, Words: p.Result.Offsets}, true, nil
}

// PollInterval waits one second per minute of audio, clamped to the
// configured bounds.
func (c *Client) PollInterval(duration time.Duration) time.Duration {
	d := time.Duration(duration.Minutes() * float64(time.Second))
	if d < c.minPoll {
		d = c.minPoll
	}
	if c.maxPoll > 0 && d > c.maxPoll {
		d = c.maxPoll
	}
	return d
}
