package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/ListingPipe/internal/fetch"
	"github.com/BTreeMap/ListingPipe/internal/filter"
	"github.com/BTreeMap/ListingPipe/internal/models"
	"github.com/BTreeMap/ListingPipe/internal/notify"
	"github.com/BTreeMap/ListingPipe/internal/store"
	"github.com/BTreeMap/ListingPipe/internal/testutil"
)

var (
	testNow   = testutil.ScrapeTime
	testQuery = models.Query{SearchTerm: "iphone", Location: "toronto"}
)

func raw(id, title string, shipping *bool) models.RawListing {
	return testutil.NewRawListing(id, title, shipping)
}

func staticFetcher(records ...models.RawListing) *fetch.StaticFetcher {
	return &fetch.StaticFetcher{
		Records: map[models.Query][]models.RawListing{testQuery: records},
		Now:     func() time.Time { return testNow },
	}
}

func newPipeline(f fetch.Fetcher, dedup *store.Dedup, opts ...Option) *Pipeline {
	cfg := models.NewFilterConfig(10*time.Minute, []string{"firm price"}, false)
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return New(f, dedup, cfg, opts...)
}

func TestRunScenarios(t *testing.T) {
	const loud = "iPhone 13 128GB, firm price, ships nationwide"
	tests := []struct {
		name       string
		record     models.RawListing
		wantReason filter.Reason
	}{
		{"shipping enabled", raw("123", loud, models.BoolPtr(true)), filter.Shipping},
		{"anti keyword", raw("123", loud, models.BoolPtr(false)), filter.AntiKeyword},
		{"unknown shipping", raw("124", "iPhone 13", nil), filter.Shipping},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewInMemoryStore()
			p := newPipeline(staticFetcher(tt.record), store.NewDedup(mem, mem))

			report, err := p.Run(context.Background(), []models.Query{testQuery})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if report.Totals.FilteredOut != 1 || report.Totals.Rejections[string(tt.wantReason)] != 1 {
				t.Errorf("unexpected totals: %+v", report.Totals)
			}
			if len(mem.Listings()) != 0 {
				t.Error("rejected listing was persisted")
			}
		})
	}
}

func TestRunIdempotent(t *testing.T) {
	dir := t.TempDir()
	records := []models.RawListing{
		raw("200", "iPhone 13 mint", models.BoolPtr(false)),
		raw("201", "iPhone 13 case", models.BoolPtr(false)),
		raw("200", "iPhone 13 mint (bumped)", models.BoolPtr(false)),
		{ID: "bad", URL: "https://example.com/x"},
	}

	run := func() *Report {
		seen, err := store.NewFileSeenStore(filepath.Join(dir, store.DefaultSeenFile))
		if err != nil {
			t.Fatalf("NewFileSeenStore failed: %v", err)
		}
		defer seen.Close()
		sink, err := store.NewJSONLSink(filepath.Join(dir, store.DefaultOutputFile))
		if err != nil {
			t.Fatalf("NewJSONLSink failed: %v", err)
		}
		defer sink.Close()

		report, err := newPipeline(staticFetcher(records...), store.NewDedup(seen, sink)).Run(context.Background(), []models.Query{testQuery})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		return report
	}

	first := run()
	if first.Totals.NewlyAdmitted != 2 || first.Totals.Duplicate != 1 || first.Totals.NormalizeFailed != 1 {
		t.Errorf("first run totals: %+v", first.Totals)
	}
	second := run()
	if second.Totals.NewlyAdmitted != 0 || second.Totals.Duplicate != 3 {
		t.Errorf("second run totals: %+v", second.Totals)
	}
	if first.RunID == second.RunID {
		t.Error("run ids should differ")
	}
}

func TestRunMalformedIDDoesNotAbortBatch(t *testing.T) {
	dir := t.TempDir()
	run := func(records ...models.RawListing) *Report {
		seen, err := store.NewFileSeenStore(filepath.Join(dir, store.DefaultSeenFile))
		if err != nil {
			t.Fatalf("NewFileSeenStore failed: %v", err)
		}
		defer seen.Close()
		sink, err := store.NewJSONLSink(filepath.Join(dir, store.DefaultOutputFile))
		if err != nil {
			t.Fatalf("NewJSONLSink failed: %v", err)
		}
		defer sink.Close()

		report, err := newPipeline(staticFetcher(records...), store.NewDedup(seen, sink)).Run(context.Background(), []models.Query{testQuery})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		return report
	}

	first := run(raw("12\t3", "iPhone 13", models.BoolPtr(false)), raw("456", "iPhone 13", models.BoolPtr(false)))
	if first.Totals.NewlyAdmitted != 1 || first.Totals.NormalizeFailed != 1 {
		t.Errorf("first run totals: %+v", first.Totals)
	}
	second := run(raw("789", "iPhone 13", models.BoolPtr(false)))
	if second.Totals.NewlyAdmitted != 1 {
		t.Errorf("second run totals: %+v", second.Totals)
	}
}

func TestRunFreshnessUsesScrapeTime(t *testing.T) {
	mem := store.NewInMemoryStore()
	stale := raw("300", "iPhone 13", models.BoolPtr(false))
	stale.PostedAt = "11 minutes ago"
	fresh := raw("301", "iPhone 13", models.BoolPtr(false))
	fresh.PostedAt = "10 minutes ago"

	report, err := newPipeline(staticFetcher(stale, fresh), store.NewDedup(mem, mem)).Run(context.Background(), []models.Query{testQuery})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Totals.NewlyAdmitted != 1 || report.Totals.Rejections[string(filter.Freshness)] != 1 {
		t.Errorf("unexpected totals: %+v", report.Totals)
	}
}

type failingSink struct{}

func (failingSink) Persist(context.Context, models.Listing) error {
	return errors.New("disk full")
}

func TestRunStopsOnStoreError(t *testing.T) {
	p := newPipeline(staticFetcher(raw("400", "iPhone 13", models.BoolPtr(false))), store.NewDedup(store.NewInMemoryStore(), failingSink{}))

	report, err := p.Run(context.Background(), []models.Query{testQuery})
	var ioErr *store.IOError
	if !errors.As(err, &ioErr) || ioErr.Op != "persist" {
		t.Fatalf("expected persist IOError, got %v", err)
	}
	if report.Totals.NewlyAdmitted != 0 {
		t.Errorf("nothing should be admitted: %+v", report.Totals)
	}
}

func TestRunAllFetchesFailed(t *testing.T) {
	mem := store.NewInMemoryStore()
	f := &fetch.StaticFetcher{Fail: map[models.Query]error{testQuery: errors.New("timeout")}}

	report, err := newPipeline(f, store.NewDedup(mem, mem)).Run(context.Background(), []models.Query{testQuery})
	if !errors.Is(err, ErrAllFetchesFailed) {
		t.Fatalf("expected ErrAllFetchesFailed, got %v", err)
	}
	if report.FetchFailures() != 1 || report.Queries[0].FetchError == "" {
		t.Errorf("fetch error not recorded: %+v", report.Queries)
	}
}

func TestRunPartialFetchFailure(t *testing.T) {
	mem := store.NewInMemoryStore()
	other := models.Query{SearchTerm: "bike", Location: "ottawa"}
	f := staticFetcher(raw("500", "iPhone 13", models.BoolPtr(false)))
	f.Fail = map[models.Query]error{other: errors.New("503")}

	report, err := newPipeline(f, store.NewDedup(mem, mem), WithWorkers(2)).Run(context.Background(), []models.Query{testQuery, other})
	if err != nil {
		t.Fatalf("partial failure should not fail the run: %v", err)
	}
	if report.Totals.NewlyAdmitted != 1 || report.FetchFailures() != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestRunConcurrentQueriesAdmitOnce(t *testing.T) {
	mem := store.NewInMemoryStore()
	queries := []models.Query{testQuery, {SearchTerm: "iphone 13", Location: "toronto"}, {SearchTerm: "apple", Location: "toronto"}}
	records := map[models.Query][]models.RawListing{}
	for _, q := range queries {
		records[q] = []models.RawListing{raw("600", "iPhone 13", models.BoolPtr(false))}
	}
	f := &fetch.StaticFetcher{Records: records, Now: func() time.Time { return testNow }}

	report, err := newPipeline(f, store.NewDedup(mem, mem), WithWorkers(3)).Run(context.Background(), queries)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Totals.NewlyAdmitted != 1 || report.Totals.Duplicate != 2 || len(mem.Listings()) != 1 {
		t.Errorf("unexpected totals: %+v", report.Totals)
	}
}

func TestRunNotifiesNewListings(t *testing.T) {
	mem := store.NewInMemoryStore()
	ok := &notify.MockNotifier{ChannelName: "ok"}
	down := &notify.MockNotifier{ChannelName: "down", FailFirst: -1}
	d, err := notify.NewDispatcher([]notify.Notifier{ok, down}, notify.WithMaxAttempts(1), notify.WithReceiptRepo(mem))
	if err != nil {
		t.Fatal(err)
	}

	records := []models.RawListing{raw("700", "iPhone 13", models.BoolPtr(false)), raw("701", "iPhone 13", models.BoolPtr(true))}
	report, err := newPipeline(staticFetcher(records...), store.NewDedup(mem, mem), WithDispatcher(d)).Run(context.Background(), []models.Query{testQuery})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if ok.Calls() != 1 || report.Totals.NotificationFailed != 1 {
		t.Errorf("calls=%d totals=%+v", ok.Calls(), report.Totals)
	}
	if len(mem.GetReceipts()) != 2 {
		t.Errorf("expected 2 receipts, got %d", len(mem.GetReceipts()))
	}
}

func TestRunCancelled(t *testing.T) {
	mem := store.NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newPipeline(staticFetcher(raw("800", "iPhone 13", models.BoolPtr(false))), store.NewDedup(mem, mem)).Run(ctx, []models.Query{testQuery})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report.Totals.NewlyAdmitted != 0 {
		t.Errorf("nothing should be admitted after cancel: %+v", report.Totals)
	}
}
