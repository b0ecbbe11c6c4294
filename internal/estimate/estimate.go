// Package estimate prices analysis batches and performs admission control.
package estimate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"dialix-pipeline/internal/config"
	"dialix-pipeline/internal/storage"
)

var (
	ErrUnreadableAudio     = errors.New("invalid audio file")
	ErrMismatchedBatch     = errors.New("mismatched lengths of arrays")
	ErrInsufficientBalance = errors.New("not enough balance")
	ErrEmptyBatch          = errors.New("no audio items")
)

// Rates are prices per millisecond of audio.
type Rates struct {
	TranscriptionPerMS float64
	GeneralPerMS       float64
	ChecklistPerMS     float64
}

func RatesFromConfig(p config.PricingConfig) Rates {
	return Rates{
		TranscriptionPerMS: p.TranscriptionPerMS,
		GeneralPerMS:       p.GeneralPerMS,
		ChecklistPerMS:     p.ChecklistPerMS,
	}
}

// Prober resolves the duration of a staged audio file.
type Prober interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// BalanceSource reports an owner's current balance.
type BalanceSource interface {
	Balance(ctx context.Context, ownerID string) (float64, error)
}

// Item is one staged audio file with its requested analysis modes.
type Item struct {
	Name        string
	Path        string
	General     bool
	ChecklistID *string
}

// Analyze reports whether any analysis was requested for the item.
func (i Item) Analyze() bool {
	return i.General || i.ChecklistID != nil
}

// BuildItems zips the parallel multipart arrays into items. Checklist ids
// "", "null" and "None" mean no checklist.
func BuildItems(names, paths []string, general []bool, checklists []string) ([]Item, error) {
	if len(names) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(names) != len(paths) || len(names) != len(general) || len(names) != len(checklists) {
		return nil, ErrMismatchedBatch
	}
	items := make([]Item, len(names))
	for i := range names {
		items[i] = Item{Name: names[i], Path: paths[i], General: general[i], ChecklistID: NormalizeChecklistID(checklists[i])}
	}
	return items, nil
}

func NormalizeChecklistID(raw string) *string {
	v := strings.TrimSpace(raw)
	switch v {
	case "", "null", "None", "undefined":
		return nil
	}
	return &v
}

// ItemCost is the price breakdown for one item.
type ItemCost struct {
	Duration           int64   `json:"duration"`
	TranscriptionPrice float64 `json:"mohirai_price"`
	GeneralPrice       float64 `json:"general_price"`
	ChecklistPrice     float64 `json:"checklist_price"`
	Total              float64 `json:"total_for_this_audio"`
}

// Report is the itemized cost of a batch against the owner's balance.
type Report struct {
	TotalPrice              float64             `json:"total_price"`
	CurrentBalance          float64             `json:"current_balance"`
	IsEnough                bool                `json:"is_enough"`
	BalanceAfter            *float64            `json:"balance_after,omitempty"`
	TotalTranscriptionPrice float64             `json:"total_mohirai_price"`
	TotalGeneralPrice       float64             `json:"total_general_price"`
	TotalChecklistPrice     float64             `json:"total_checklist_price"`
	Detailed                map[string]ItemCost `json:"detailed"`
}

// Admitted is an accepted item with its resolved duration. The caller owns
// the staged file from here on.
type Admitted struct {
	Item
	DurationMS int64
}

type Estimator struct {
	rates    Rates
	prober   Prober
	balances BalanceSource
}

func New(rates Rates, prober Prober, balances BalanceSource) *Estimator {
	return &Estimator{rates: rates, prober: prober, balances: balances}
}

// Price computes the cost of one item. Transcription is charged when
// transcribe is set; reprocessing a record with a cached transcript passes
// false.
func (e *Estimator) Price(durationMS int64, transcribe, general, checklist bool) ItemCost {
	d := float64(durationMS)
	c := ItemCost{Duration: durationMS}
	if transcribe {
		c.TranscriptionPrice = roundMoney(d * e.rates.TranscriptionPerMS)
	}
	if general {
		c.GeneralPrice = roundMoney(d * e.rates.GeneralPerMS)
	}
	if checklist {
		c.ChecklistPrice = roundMoney(d * e.rates.ChecklistPerMS)
	}
	c.Total = roundMoney(c.TranscriptionPrice + c.GeneralPrice + c.ChecklistPrice)
	return c
}

// Estimate prices the batch. Every staged file is removed before it returns.
func (e *Estimator) Estimate(ctx context.Context, ownerID string, items []Item) (Report, error) {
	defer removeAll(items)

	report, _, err := e.price(ctx, ownerID, items)
	return report, err
}

// Admit prices the batch and rejects it when the total exceeds the balance.
// On any error every staged file is removed; on success the staged files are
// handed to the caller through the returned items.
func (e *Estimator) Admit(ctx context.Context, ownerID string, items []Item) (report Report, admitted []Admitted, err error) {
	defer func() {
		if err != nil {
			removeAll(items)
		}
	}()

	report, admitted, err = e.price(ctx, ownerID, items)
	if err != nil {
		return report, nil, err
	}
	if !report.IsEnough {
		slog.Info("batch rejected", "owner_id", ownerID, "total_price", report.TotalPrice, "balance", report.CurrentBalance)
		return report, nil, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientBalance, report.TotalPrice, report.CurrentBalance)
	}
	return report, admitted, nil
}

func (e *Estimator) price(ctx context.Context, ownerID string, items []Item) (Report, []Admitted, error) {
	if len(items) == 0 {
		return Report{}, nil, ErrEmptyBatch
	}

	balance, err := e.balances.Balance(ctx, ownerID)
	if err != nil {
		return Report{}, nil, fmt.Errorf("get balance: %w", err)
	}

	report := Report{CurrentBalance: balance, Detailed: make(map[string]ItemCost, len(items))}
	admitted := make([]Admitted, 0, len(items))

	for _, it := range items {
		d, err := e.prober.Duration(ctx, it.Path)
		if err != nil || d <= 0 {
			slog.Warn("audio rejected", "owner_id", ownerID, "name", it.Name, "error", err)
			return Report{}, nil, fmt.Errorf("%w: %s", ErrUnreadableAudio, it.Name)
		}
		durationMS := d.Milliseconds()

		cost := e.Price(durationMS, it.Analyze(), it.General, it.ChecklistID != nil)
		report.Detailed[it.Name] = cost
		report.TotalTranscriptionPrice += cost.TranscriptionPrice
		report.TotalGeneralPrice += cost.GeneralPrice
		report.TotalChecklistPrice += cost.ChecklistPrice
		report.TotalPrice += cost.Total

		admitted = append(admitted, Admitted{Item: it, DurationMS: durationMS})
	}

	report.TotalPrice = roundMoney(report.TotalPrice)
	report.IsEnough = balance >= report.TotalPrice
	if report.IsEnough {
		after := roundMoney(balance - report.TotalPrice)
		report.BalanceAfter = &after
	}
	return report, admitted, nil
}

func removeAll(items []Item) {
	for _, it := range items {
		storage.RemoveFile(it.Path)
	}
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
