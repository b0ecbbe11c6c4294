package gender

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"dialix-pipeline/internal/config"
)

func recording(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "rec.wav")
	if err := os.WriteFile(p, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write recording: %v", err)
	}
	return p
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		title       string
		wantChannel string
		reply       string
		want        string
	}{
		{"outbound call picks channel 1", "2024-05-01_[10_00_00]_101_998901234567.mp3", "1", "Female", Female},
		{"inbound call picks channel 0", "2024-05-01_[10_00_00]_998901234567_101.mp3", "0", "male", Male},
		{"unexpected label", "upload.mp3", "0", "robot", Unknown},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := r.ParseMultipartForm(1 << 20); err != nil {
					t.Errorf("parse form: %v", err)
				}
				if got := r.FormValue("channel"); got != tc.wantChannel {
					t.Errorf("expected channel %s, got %s", tc.wantChannel, got)
				}
				fmt.Fprintf(w, `{"result":{"gender":%q}}`, tc.reply)
			}))
			defer srv.Close()

			got, err := New(config.GenderConfig{BaseURL: srv.URL}).Classify(context.Background(), recording(t), tc.title)
			if err != nil {
				t.Fatalf("classify: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestClassifyServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(config.GenderConfig{BaseURL: srv.URL}).Classify(context.Background(), recording(t), "a.mp3")
	if !errors.Is(err, ErrClassifier) {
		t.Fatalf("expected ErrClassifier, got %v", err)
	}
}

func TestClassifyDisabled(t *testing.T) {
	t.Parallel()

	got, err := New(config.GenderConfig{}).Classify(context.Background(), "/missing", "a.mp3")
	if err != nil || got != "" {
		t.Fatalf("expected no label without error, got %q, %v", got, err)
	}
}
