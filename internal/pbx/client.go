// Package pbx is a client for the hosted PBX call-history API.
package pbx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"dialix-pipeline/internal/config"
	"dialix-pipeline/internal/models"
)

var (
	// ErrUnauthorized is returned when the provider rejects the key pair.
	ErrUnauthorized = errors.New("pbx credentials rejected")
	ErrProvider     = errors.New("pbx request failed")
	// ErrInvalidCall marks a history entry that cannot be cached.
	ErrInvalidCall = errors.New("invalid pbx call")
)

// Call is one entry of the provider's call history. Numeric fields arrive
// either as numbers or as numeric strings.
type Call struct {
	UUID              string      `json:"uuid"`
	CallerIDName      string      `json:"caller_id_name"`
	CallerIDNumber    string      `json:"caller_id_number"`
	DestinationNumber string      `json:"destination_number"`
	StartStamp        json.Number `json:"start_stamp"`
	EndStamp          json.Number `json:"end_stamp"`
	Duration          json.Number `json:"duration"`
	UserTalkTime      json.Number `json:"user_talk_time"`
	AccountCode       string      `json:"accountcode"`
}

// Record converts the call into a cache row owned by ownerID. The call id
// and both stamps are required and the call may not end before it starts.
func (c Call) Record(ownerID string) (models.IntervalRecord, error) {
	id := strings.TrimSpace(c.UUID)
	if id == "" {
		return models.IntervalRecord{}, fmt.Errorf("%w: missing uuid", ErrInvalidCall)
	}
	start, err := requiredInt(c.StartStamp, "start_stamp")
	if err != nil {
		return models.IntervalRecord{}, err
	}
	end, err := requiredInt(c.EndStamp, "end_stamp")
	if err != nil {
		return models.IntervalRecord{}, err
	}
	if start > end {
		return models.IntervalRecord{}, fmt.Errorf("%w: call %s ends at %d before it starts at %d", ErrInvalidCall, id, end, start)
	}
	duration, err := intField(c.Duration, "duration")
	if err != nil {
		return models.IntervalRecord{}, err
	}
	talk, err := intField(c.UserTalkTime, "user_talk_time")
	if err != nil {
		return models.IntervalRecord{}, err
	}
	return models.IntervalRecord{
		OwnerID:           ownerID,
		CallID:            id,
		CallerIDName:      nullableString(c.CallerIDName),
		CallerIDNumber:    nullableString(c.CallerIDNumber),
		DestinationNumber: nullableString(c.DestinationNumber),
		StartStamp:        start,
		EndStamp:          end,
		Duration:          int(duration),
		UserTalkTime:      int(talk),
		CallType:          nullableString(c.AccountCode),
	}, nil
}

func requiredInt(n json.Number, field string) (int64, error) {
	if strings.TrimSpace(n.String()) == "" {
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidCall, field)
	}
	return intField(n, field)
}

// intField parses an optional numeric field; empty means zero.
func intField(n json.Number, field string) (int64, error) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", ErrInvalidCall, field, s)
	}
	return int64(v), nil
}

func nullableString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

type searchResponse struct {
	Status  json.Number `json:"status"`
	Comment string      `json:"comment"`
	Data    []Call      `json:"data"`
}

type Client struct {
	baseURL string
	keyID   string
	key     string
	http    *http.Client
}

// New builds a client. A "{domain}" placeholder in the base URL is replaced
// with the configured domain.
func New(cfg config.PBXConfig) *Client {
	base := strings.ReplaceAll(cfg.BaseURL, "{domain}", cfg.Domain)
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		keyID:   cfg.KeyID,
		key:     cfg.Key,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// History returns the calls that started within [from, to], unix seconds.
func (c *Client) History(ctx context.Context, from, to int64) ([]Call, error) {
	form := url.Values{}
	form.Set("start_stamp_from", strconv.FormatInt(from, 10))
	form.Set("end_stamp_to", strconv.FormatInt(to, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mongo_history/search.json", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-pbx-authentication", c.keyID+":"+c.key)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, raw)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrProvider, err)
	}
	if out.Status.String() == "0" {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, out.Comment)
	}

	slog.Info("pbx history fetched", "from", from, "to", to, "calls", len(out.Data))
	return out.Data, nil
}
