// Package classify sends conversation text to a chat-completion model and
// decodes the structured answers.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"dialix-pipeline/internal/config"
	"dialix-pipeline/internal/models"
)

var (
	ErrRateLimited     = errors.New("classification provider rate limited")
	ErrCredentials     = errors.New("classification provider rejected credentials")
	ErrMalformedAnswer = errors.New("classification answer is not valid JSON")
)

type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// RetryPolicy bounds the exponential wait applied to rate-limited requests.
type RetryPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	MaxElapsed time.Duration
}

type Client struct {
	api     chatAPI
	model   string
	courses []string
	retry   RetryPolicy
}

// New builds a client for either the public OpenAI API or an Azure OpenAI
// deployment, depending on cfg.APIType.
func New(cfg config.ClassificationConfig) *Client {
	var oc openai.ClientConfig
	if strings.EqualFold(cfg.APIType, "azure") {
		oc = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
		if cfg.APIVersion != "" {
			oc.APIVersion = cfg.APIVersion
		}
		model := cfg.Model
		oc.AzureModelMapperFunc = func(string) string { return model }
	} else {
		oc = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
	}
	return NewWithAPI(openai.NewClientWithConfig(oc), cfg.Model, cfg.Courses, RetryPolicy{
		Initial:    cfg.InitialBackoff,
		Max:        cfg.MaxBackoff,
		MaxElapsed: cfg.MaxElapsed,
	})
}

func NewWithAPI(api chatAPI, model string, courses []string, retry RetryPolicy) *Client {
	return &Client{api: api, model: model, courses: courses, retry: retry}
}

// complete runs one system+user exchange. Rate-limited attempts are retried
// with exponential backoff until the policy's elapsed bound or ctx expires;
// every other failure is returned immediately.
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}

	var (
		answer   string
		attempts int
	)
	op := func() error {
		attempts++
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			err = classifyError(err)
			if errors.Is(err, ErrRateLimited) {
				slog.Warn("classification rate limited", "attempt", attempts)
				return err
			}
			return backoff.Permanent(err)
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("%w: no choices", ErrMalformedAnswer))
		}
		answer = resp.Choices[0].Message.Content
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retry.Initial
	bo.MaxInterval = c.retry.Max
	bo.MaxElapsedTime = c.retry.MaxElapsed
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return "", err
	}
	return answer, nil
}

func classifyError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	switch status {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %v", ErrCredentials, err)
	}
	return err
}

// General asks for the fixed-schema sentiment and intent fields. The
// returned bundle has only the semantic fields set.
func (c *Client) General(ctx context.Context, conversation string) (models.ResultBundle, error) {
	answer, err := c.complete(ctx, generalPrompt(c.courses), conversation)
	if err != nil {
		return models.ResultBundle{}, err
	}
	return parseGeneral(answer)
}

// Checklist scores the conversation against every question of the checklist.
func (c *Client) Checklist(ctx context.Context, conversation string, checklist map[string][]string) (models.ChecklistResult, error) {
	answer, err := c.complete(ctx, checklistPrompt(checklist), conversation)
	if err != nil {
		return nil, err
	}
	return parseChecklist(answer, checklist)
}
