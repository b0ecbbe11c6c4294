package intervalcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"

	"dialix-pipeline/internal/models"
	"dialix-pipeline/internal/pbx"
)

type fakeProvider struct {
	mu      sync.Mutex
	fetches []Range
	calls   []pbx.Call
	err     error
}

func (p *fakeProvider) History(_ context.Context, from, to int64) ([]pbx.Call, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetches = append(p.fetches, Range{Start: from, End: to})
	if p.err != nil {
		return nil, p.err
	}
	var out []pbx.Call
	for _, c := range p.calls {
		start, err := c.StartStamp.Int64()
		if err != nil || (start >= from && start <= to) {
			out = append(out, c)
		}
	}
	return out, nil
}

type memStore struct {
	mu   sync.Mutex
	rows map[string]models.IntervalRecord
}

func newMemStore(rows ...models.IntervalRecord) *memStore {
	s := &memStore{rows: map[string]models.IntervalRecord{}}
	for _, r := range rows {
		s.rows[r.CallID] = r
	}
	return s
}

func (s *memStore) SyncedRange(_ context.Context, ownerID string) (Range, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		r  Range
		ok bool
	)
	for _, row := range s.rows {
		if row.OwnerID != ownerID {
			continue
		}
		if !ok || row.StartStamp < r.Start {
			r.Start = row.StartStamp
		}
		if !ok || row.EndStamp > r.End {
			r.End = row.EndStamp
		}
		ok = true
	}
	return r, ok, nil
}

func (s *memStore) Insert(_ context.Context, calls []models.IntervalRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range calls {
		if _, dup := s.rows[c.CallID]; dup {
			continue
		}
		s.rows[c.CallID] = c
		n++
	}
	return n, nil
}

func (s *memStore) CallsBetween(_ context.Context, ownerID string, r Range) ([]models.IntervalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.IntervalRecord
	for _, row := range s.rows {
		if row.OwnerID == ownerID && row.StartStamp >= r.Start && row.EndStamp <= r.End && row.UserTalkTime > 0 {
			out = append(out, row)
		}
	}
	return out, nil
}

func call(id string, start, end int64, talk int) pbx.Call {
	return pbx.Call{
		UUID:         id,
		StartStamp:   jsonNumber(start),
		EndStamp:     jsonNumber(end),
		Duration:     jsonNumber(end - start),
		UserTalkTime: jsonNumber(int64(talk)),
	}
}

func cached(id string, start, end int64) models.IntervalRecord {
	return models.IntervalRecord{OwnerID: "owner-1", CallID: id, StartStamp: start, EndStamp: end, UserTalkTime: 10}
}

func TestPlan(t *testing.T) {
	t.Parallel()

	c := New(nil, nil, 1000*time.Second, time.Minute)
	synced := Range{Start: 500, End: 1000}

	tests := []struct {
		name   string
		req    Range
		synced Range
		have   bool
		want   []Range
	}{
		{"no data", Range{100, 200}, Range{}, false, []Range{{100, 200}}},
		{"contained", Range{600, 900}, synced, true, nil},
		{"exact", Range{500, 1000}, synced, true, nil},
		{"left gap", Range{100, 700}, synced, true, []Range{{100, 500}}},
		{"right gap", Range{700, 1500}, synced, true, []Range{{1000, 1500}}},
		{"both gaps", Range{100, 1500}, synced, true, []Range{{100, 500}, {1000, 1500}}},
		{"after within limit", Range{1200, 1300}, synced, true, []Range{{1000, 1300}}},
		{"after beyond limit", Range{5000, 5100}, synced, true, []Range{{5000, 5100}}},
		{"before within limit", Range{100, 200}, synced, true, []Range{{100, 500}}},
		{"before beyond limit", Range{-2000, -1900}, synced, true, []Range{{-2000, -1900}}},
		{"split long window", Range{0, 2500}, Range{}, false, []Range{{0, 1000}, {1000, 2000}, {2000, 2500}}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := c.Plan(tc.req, tc.synced, tc.have)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestSyncMarkerDeduplicatesRepeatedRequests(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{calls: []pbx.Call{call("c-1", 150, 160, 5)}}
	cache := New(provider, newMemStore(), 7*24*time.Hour, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	cache.now = func() time.Time { return now }

	req := Range{Start: 100, End: 200}
	for i := 0; i < 2; i++ {
		got, err := cache.Sync(context.Background(), "owner-1", req)
		if err != nil {
			t.Fatalf("sync %d: %v", i, err)
		}
		if len(got) != 1 {
			t.Fatalf("sync %d: expected 1 call, got %d", i, len(got))
		}
	}
	if len(provider.fetches) != 1 {
		t.Fatalf("expected one provider fetch within the ttl, got %d", len(provider.fetches))
	}

	now = now.Add(2 * time.Minute)
	if _, err := cache.Sync(context.Background(), "owner-1", req); err != nil {
		t.Fatalf("sync after ttl: %v", err)
	}
	if len(provider.fetches) != 3 {
		t.Fatalf("expired marker should fall back to range reconciliation, got fetches %v", provider.fetches)
	}
}

func TestSyncContainedRangeSkipsProvider(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	st := newMemStore(cached("a", 0, 100), cached("b", 400, 1000))
	cache := New(provider, st, time.Hour, time.Minute)

	got, err := cache.Sync(context.Background(), "owner-1", Range{Start: 300, End: 1000})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(provider.fetches) != 0 {
		t.Fatalf("contained range must not contact the provider, got %v", provider.fetches)
	}
	if len(got) != 1 || got[0].CallID != "b" {
		t.Fatalf("unexpected calls %+v", got)
	}
}

func TestSyncFetchesOnlyTheGap(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{calls: []pbx.Call{
		call("new-early", 120, 130, 5),
		call("old", 600, 700, 5),
		call("silent", 140, 145, 0),
	}}
	st := newMemStore(cached("old", 600, 700), cached("edge", 500, 1000))
	cache := New(provider, st, time.Hour, time.Minute)

	got, err := cache.Sync(context.Background(), "owner-1", Range{Start: 100, End: 800})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !reflect.DeepEqual(provider.fetches, []Range{{100, 500}}) {
		t.Fatalf("expected a single left-gap fetch, got %v", provider.fetches)
	}
	if len(st.rows) != 4 {
		t.Fatalf("expected new calls cached once, got %d rows", len(st.rows))
	}
	for _, c := range got {
		if c.CallID == "silent" {
			t.Fatalf("calls without talk time must not be served")
		}
	}
}

func TestSyncProviderAuthErrorPersistsNothing(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{err: fmt.Errorf("%w: bad key", pbx.ErrUnauthorized)}
	st := newMemStore()
	cache := New(provider, st, time.Hour, time.Minute)

	_, err := cache.Sync(context.Background(), "owner-1", Range{Start: 0, End: 100})
	if !errors.Is(err, pbx.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if len(st.rows) != 0 {
		t.Fatalf("nothing may be cached after a failed fetch")
	}

	provider.err = nil
	if _, err := cache.Sync(context.Background(), "owner-1", Range{Start: 0, End: 100}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(provider.fetches) != 2 {
		t.Fatalf("a failed sync must not set the marker")
	}
}

func TestSyncRejectsInvalidRange(t *testing.T) {
	t.Parallel()

	cache := New(&fakeProvider{}, newMemStore(), time.Hour, time.Minute)
	if _, err := cache.Sync(context.Background(), "owner-1", Range{Start: 10, End: 10}); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func jsonNumber(v int64) json.Number { return json.Number(strconv.FormatInt(v, 10)) }

func TestSyncSkipsCallsWithoutValidStamps(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{calls: []pbx.Call{
		{UUID: "no-start", EndStamp: "1700000100", UserTalkTime: "5"},
		{UUID: "backwards", StartStamp: "1700000150", EndStamp: "1700000120", UserTalkTime: "5"},
		{StartStamp: "1700000010", EndStamp: "1700000020", UserTalkTime: "5"},
		call("good", 1700000050, 1700000060, 5),
	}}
	st := newMemStore()
	cache := New(provider, st, 7*24*time.Hour, time.Minute)

	got, err := cache.Sync(context.Background(), "owner-1", Range{Start: 1700000000, End: 1700000200})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(got) != 1 || got[0].CallID != "good" {
		t.Fatalf("expected only the valid call, got %+v", got)
	}
	synced, ok, _ := st.SyncedRange(context.Background(), "owner-1")
	if !ok || synced.Start != 1700000050 || synced.End != 1700000060 {
		t.Fatalf("invalid calls must not widen the synced range, got %v", synced)
	}

	if _, err := cache.Sync(context.Background(), "owner-1", Range{Start: 1600000000, End: 1600000200}); err != nil {
		t.Fatalf("sync earlier window: %v", err)
	}
	last := provider.fetches[len(provider.fetches)-1]
	if last.Start != 1600000000 {
		t.Fatalf("an earlier window must be fetched from the provider, got fetches %v", provider.fetches)
	}
}
