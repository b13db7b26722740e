package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/BTreeMap/ListingPipe/internal/config"
	"github.com/BTreeMap/ListingPipe/internal/genai"
	"github.com/BTreeMap/ListingPipe/internal/notify"
	"github.com/BTreeMap/ListingPipe/internal/store"
	"github.com/BTreeMap/ListingPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/ListingPipe/internal/whatsapp"
)

// DefaultWhatsAppDBFileName is the whatsmeow session database in the state directory
const DefaultWhatsAppDBFileName = "whatsmeow.db"

// stores holds the storage opened for one run.
type stores struct {
	dedup    *store.Dedup
	receipts store.ReceiptRepo
	closers  []func() error
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}
}

// openStores selects the backend from the configured DSN. SQL backends hold
// both the seen set and the output; Redis holds only the seen set and pairs
// with a file sink; no DSN means file stores in the state directory.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	st := &stores{}
	dsnType := store.DetectDSNType(cfg.DatabaseDSN)

	switch dsnType {
	case store.BackendPostgres:
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		pg, err := store.NewPostgresStore(store.WithPostgresDSN(cfg.DatabaseDSN))
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, pg.Close)
		st.dedup = store.NewDedup(pg, pg)
		st.receipts = pg
		return st, nil

	case store.BackendSQLite:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", cfg.DatabaseDSN)
		lite, err := store.NewSQLiteStore(store.WithSQLiteDSN(cfg.DatabaseDSN))
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, lite.Close)
		st.dedup = store.NewDedup(lite, lite)
		st.receipts = lite
		return st, nil
	}

	sink, closeSink, err := openFileSink(cfg)
	if err != nil {
		return nil, err
	}
	st.closers = append(st.closers, closeSink)

	var repo store.SeenRepo
	if dsnType == store.BackendRedis {
		slog.Debug("Detected Redis URL, configuring Redis seen set")
		rs, err := store.NewRedisSeenStore(ctx, store.WithRedisURL(cfg.DatabaseDSN))
		if err != nil {
			st.Close()
			return nil, err
		}
		st.closers = append(st.closers, rs.Close)
		repo = rs
	} else {
		slog.Debug("No database DSN provided, using file stores", "dedup", cfg.DedupPath, "output", cfg.OutputPath)
		fs, err := store.NewFileSeenStore(cfg.DedupPath)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.closers = append(st.closers, fs.Close)
		repo = fs
	}
	st.dedup = store.NewDedup(repo, sink)
	return st, nil
}

func openFileSink(cfg *config.Config) (store.ListingSink, func() error, error) {
	if cfg.OutputFormat == config.FormatCSV {
		s, err := store.NewCSVSink(cfg.OutputPath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	s, err := store.NewJSONLSink(cfg.OutputPath)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

// dispatcher holds the long-lived notification channels; a Dispatcher is
// built per run so receipts go to that run's store.
type dispatcher struct {
	notifiers []notify.Notifier
	opts      []notify.DispatcherOption
}

func (d dispatcher) build(receipts store.ReceiptRepo) *notify.Dispatcher {
	if len(d.notifiers) == 0 {
		return nil
	}
	opts := d.opts
	if receipts != nil {
		opts = append(append([]notify.DispatcherOption(nil), opts...), notify.WithReceiptRepo(receipts))
	}
	nd, err := notify.NewDispatcher(d.notifiers, opts...)
	if err != nil {
		slog.Warn("Notifications disabled", "error", err)
		return nil
	}
	return nd
}

// buildDispatcher connects every configured channel. A channel with no
// recipients is skipped.
func buildDispatcher(ctx context.Context, cfg *config.Config, flags Flags) (dispatcher, func(), error) {
	n := cfg.Notifications
	var (
		d       dispatcher
		cleanup []func()
	)
	closeAll := func() {
		for _, c := range cleanup {
			c()
		}
	}

	if !notify.IsPlaceholderWebhook(n.SlackWebhookURL) {
		slack, err := notify.NewSlackNotifier(n.SlackWebhookURL, nil)
		if err != nil {
			return d, closeAll, err
		}
		d.notifiers = append(d.notifiers, slack)
	}

	if len(n.Twilio.To) > 0 {
		tw, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(n.Twilio.AccountSID),
			twiliowhatsapp.WithAuthToken(n.Twilio.AuthToken),
			twiliowhatsapp.WithFrom(n.Twilio.From),
		)
		if err != nil {
			return d, closeAll, fmt.Errorf("twilio: %w", err)
		}
		for _, to := range n.Twilio.To {
			d.notifiers = append(d.notifiers, notify.NewChatNotifier(tw.Channel(), to, tw))
		}
	}

	if len(n.WhatsApp.To) > 0 {
		dsn := n.WhatsApp.DBDSN
		if dsn == "" {
			dsn = "file:" + filepath.Join(cfg.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
		}
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(dsn)}
		qrPath := n.WhatsApp.QRPath
		if *flags.qrOutput != "" {
			qrPath = *flags.qrOutput
		}
		if qrPath != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(qrPath))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		wa, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return d, closeAll, fmt.Errorf("whatsapp: %w", err)
		}
		cleanup = append(cleanup, wa.Close)
		for _, to := range n.WhatsApp.To {
			d.notifiers = append(d.notifiers, notify.NewChatNotifier("whatsapp", to, wa))
		}
	}

	d.opts = append(d.opts, notify.WithMaxAttempts(n.MaxAttempts))
	if n.GenAI.Enabled {
		gen, err := genai.NewClient(genai.WithAPIKey(n.GenAI.APIKey), genai.WithModel(n.GenAI.Model))
		if err != nil {
			if !errors.Is(err, genai.ErrNoAPIKey) {
				return d, closeAll, fmt.Errorf("genai: %w", err)
			}
			slog.Warn("GenAI formatting disabled: no API key")
		} else {
			d.opts = append(d.opts, notify.WithFormatter(notify.GenAIFormatter{Generator: gen}))
		}
	}

	if len(d.notifiers) == 0 {
		slog.Info("No notification channels configured")
	} else {
		slog.Info("Notification channels configured", "count", len(d.notifiers))
	}
	return d, closeAll, nil
}
