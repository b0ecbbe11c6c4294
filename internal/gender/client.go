// Package gender talks to the voice-gender classifier sidecar.
package gender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dialix-pipeline/internal/audio"
	"dialix-pipeline/internal/config"
)

var ErrClassifier = errors.New("gender classifier failed")

const (
	Male    = "male"
	Female  = "female"
	Unknown = "unknown"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(cfg config.GenderConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

type response struct {
	Result struct {
		Gender string `json:"gender"`
	} `json:"result"`
}

// Classify labels the counter-party's voice in a stereo recording. The
// counter-party channel is picked from the PBX title convention. A client
// without a sidecar URL returns an empty label so no gender is recorded.
func (c *Client) Classify(ctx context.Context, path, title string) (string, error) {
	if c.baseURL == "" {
		return "", nil
	}

	body, contentType, err := form(path, audio.ClientChannel(title))
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrClassifier, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrClassifier, resp.StatusCode, raw)
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrClassifier, err)
	}
	return normalize(r.Result.Gender), nil
}

func form(path string, channel int) (io.Reader, string, error) {
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
	if err := w.WriteField("channel", strconv.Itoa(channel)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func normalize(label string) string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case Male:
		return Male
	case Female:
		return Female
	}
	return Unknown
}
