// Package pipeline runs listing ingestion: fetch, normalize, filter, admit,
// notify. A run loads the seen set once, processes each query and returns a
// Report with per-query and total counts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/ListingPipe/internal/fetch"
	"github.com/BTreeMap/ListingPipe/internal/filter"
	"github.com/BTreeMap/ListingPipe/internal/models"
	"github.com/BTreeMap/ListingPipe/internal/normalize"
	"github.com/BTreeMap/ListingPipe/internal/notify"
	"github.com/BTreeMap/ListingPipe/internal/store"
)

// ErrAllFetchesFailed is returned by Run when no query could be fetched.
var ErrAllFetchesFailed = errors.New("all fetches failed")

// Pipeline wires the stages together. It is safe to reuse across runs.
type Pipeline struct {
	fetcher    fetch.Fetcher
	dedup      *store.Dedup
	filterCfg  models.FilterConfig
	chain      *filter.Chain
	normalizer *normalize.Normalizer
	dispatcher *notify.Dispatcher
	workers    int
	now        func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDispatcher enables notifications for newly admitted listings.
func WithDispatcher(d *notify.Dispatcher) Option {
	return func(p *Pipeline) { p.dispatcher = d }
}

// WithClock sets the clock for report timestamps and the normalizer.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithWorkers sets how many queries run concurrently. Values below 1 mean 1.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n < 1 {
			n = 1
		}
		p.workers = n
	}
}

func WithNormalizer(n *normalize.Normalizer) Option {
	return func(p *Pipeline) { p.normalizer = n }
}

func WithChain(c *filter.Chain) Option {
	return func(p *Pipeline) { p.chain = c }
}

// New builds a Pipeline.
func New(fetcher fetch.Fetcher, dedup *store.Dedup, filterCfg models.FilterConfig, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher:   fetcher,
		dedup:     dedup,
		filterCfg: filterCfg,
		chain:     filter.DefaultChain(),
		workers:   1,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.normalizer == nil {
		p.normalizer = normalize.NewNormalizer().WithClock(p.now)
	}
	return p
}

// Run loads the seen set and processes every query. A store error stops the
// run and is returned together with the partial report. Fetch errors are
// recorded per query; if every query failed to fetch, ErrAllFetchesFailed is
// returned.
func (p *Pipeline) Run(ctx context.Context, queries []models.Query) (*Report, error) {
	report := &Report{
		RunID:     uuid.New().String(),
		StartedAt: p.now().UTC(),
		Queries:   make([]QueryResult, len(queries)),
	}
	log := slog.With("run_id", report.RunID)

	if err := p.dedup.Load(ctx); err != nil {
		report.FinishedAt = p.now().UTC()
		return report, fmt.Errorf("load seen set: %w", err)
	}
	log.Info("Pipeline.Run: starting", "queries", len(queries), "seen", p.dedup.Len(), "workers", p.workers)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		sem      = make(chan struct{}, p.workers)
	)
	for i, q := range queries {
		if runCtx.Err() != nil {
			report.Queries[i] = QueryResult{Query: q, Skipped: true}
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, q models.Query) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := p.RunQuery(runCtx, q)
			report.Queries[i] = res
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
			}
		}(i, q)
	}
	wg.Wait()

	report.FinishedAt = p.now().UTC()
	report.sum()
	log.Info("Pipeline.Run: finished", report.Totals.LogAttrs()...)
	log.Info(fmt.Sprintf("Run finished. Found %d new listings.", report.Totals.NewlyAdmitted))

	if firstErr != nil {
		return report, firstErr
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	if len(queries) > 0 && report.FetchFailures() == len(queries) {
		return report, ErrAllFetchesFailed
	}
	return report, nil
}

// RunQuery fetches and processes one query. The seen set must already be
// loaded. Only store errors are returned; a fetch error is recorded in the
// result. Cancellation is honored between listings.
func (p *Pipeline) RunQuery(ctx context.Context, q models.Query) (QueryResult, error) {
	res := QueryResult{Query: q, Stats: newStats()}
	log := slog.With("query", q.String())

	raws, err := p.fetcher.Fetch(ctx, q)
	if err != nil {
		log.Warn("Pipeline.RunQuery: fetch failed", "error", err)
		res.FetchError = err.Error()
		return res, nil
	}
	res.Stats.Fetched = len(raws)

	for _, raw := range raws {
		if err := ctx.Err(); err != nil {
			res.Skipped = true
			return res, nil
		}
		if err := p.process(ctx, raw, &res.Stats, log); err != nil {
			return res, err
		}
	}
	log.Debug("Pipeline.RunQuery: done", res.Stats.LogAttrs()...)
	return res, nil
}

func (p *Pipeline) process(ctx context.Context, raw models.RawListing, st *Stats, log *slog.Logger) error {
	l, err := p.normalizer.Normalize(raw)
	if err != nil {
		st.NormalizeFailed++
		log.Debug("Pipeline.process: normalize failed", "raw_id", raw.ID, "error", err)
		return nil
	}
	st.Normalized++

	// Freshness is measured at the moment the record was scraped.
	ok, reason := p.chain.Evaluate(l, p.filterCfg, l.ScrapedAt)
	if !ok {
		st.FilteredOut++
		st.Rejections[string(reason)]++
		log.Debug("Pipeline.process: filtered out", "id", l.ID, "reason", reason)
		return nil
	}

	result, err := p.dedup.Admit(ctx, l)
	if errors.Is(err, store.ErrInvalidID) {
		st.NormalizeFailed++
		log.Warn("Pipeline.process: rejected malformed id", "error", err)
		return nil
	}
	if err != nil {
		return err
	}
	if result == models.AlreadySeen {
		st.Duplicate++
		return nil
	}
	st.NewlyAdmitted++
	log.Info("Pipeline.process: new listing", "id", l.ID, "title", l.Title, "price", l.PriceText())

	if p.dispatcher == nil {
		return nil
	}
	for _, r := range p.dispatcher.Notify(ctx, l) {
		if !r.Delivered() {
			st.NotificationFailed++
		}
	}
	return nil
}
