package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"dialix-pipeline/internal/config"
)

func completion(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "gpt4",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
	return string(body)
}

func testConfig(baseURL string) config.ClassificationConfig {
	return config.ClassificationConfig{
		APIType:        "openai",
		BaseURL:        baseURL,
		APIKey:         "sk-test",
		Model:          "gpt4",
		Courses:        []string{"Full Stack Python", "Computer Vision"},
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		MaxElapsed:     2 * time.Second,
	}
}

func TestGeneralRetriesRateLimits(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if calls.Add(1) <= 3 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completion("```json\n{\"is_conversation_over\": true, \"sentiment_analysis_of_customer\": \"positive\", \"which_course_customer_interested\": [\"Full Stack Python\", \"Computer Vision\"], \"summary\": \"Mijoz kursga yozildi.\"}\n```"))
	}))
	defer srv.Close()

	got, err := New(testConfig(srv.URL + "/v1")).General(context.Background(), "Speaker 0: salom")
	if err != nil {
		t.Fatalf("general: %v", err)
	}
	if calls.Load() != 4 {
		t.Fatalf("expected 4 calls, got %d", calls.Load())
	}
	if got.IsConversationOver == nil || !*got.IsConversationOver {
		t.Fatalf("expected is_conversation_over=true, got %+v", got)
	}
	if got.SentimentOfCustomer == nil || *got.SentimentOfCustomer != "positive" {
		t.Fatalf("unexpected customer sentiment %v", got.SentimentOfCustomer)
	}
	if got.WhichCourseCustomerInterested == nil || *got.WhichCourseCustomerInterested != "Full Stack Python, Computer Vision" {
		t.Fatalf("unexpected course %v", got.WhichCourseCustomerInterested)
	}
	if got.OperatorAnswerDelay != nil || got.ChecklistResult != nil {
		t.Fatalf("general answer should only set semantic fields")
	}
}

func TestRateLimitGivesUpAfterElapsedBound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"requests"}}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL + "/v1")
	cfg.MaxElapsed = 30 * time.Millisecond
	_, err := New(cfg).General(context.Background(), "text")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestCredentialErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	_, err := New(testConfig(srv.URL + "/v1")).General(context.Background(), "text")
	if !errors.Is(err, ErrCredentials) {
		t.Fatalf("expected ErrCredentials, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestChecklistOverAzureDeployment(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/openai/deployments/dialix-gpt4/") {
			t.Errorf("unexpected azure path %s", r.URL.Path)
		}
		if r.Header.Get("api-key") != "sk-test" {
			t.Errorf("missing azure api-key header")
		}
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 || !strings.Contains(req.Messages[0].Content, "- Ismingiz nima?") {
			t.Errorf("checklist questions missing from prompt")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completion(`Natija: {"Greeting": {"Ismingiz nima?": true}, "Closing": {"Yana savollar bormi?": false}}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.APIType = "azure"
	cfg.APIVersion = "2024-02-01"
	cfg.Model = "dialix-gpt4"

	got, err := New(cfg).Checklist(context.Background(), "Speaker 1: Ismingiz nima?", map[string][]string{
		"Greeting": {"Ismingiz nima?"},
		"Closing":  {"Yana savollar bormi?"},
	})
	if err != nil {
		t.Fatalf("checklist: %v", err)
	}
	if !got["Greeting"]["Ismingiz nima?"] || got["Closing"]["Yana savollar bormi?"] {
		t.Fatalf("unexpected checklist result %v", got)
	}
}
