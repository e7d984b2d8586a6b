package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"scrapekit/config"
	"scrapekit/db"
	"scrapekit/fetcher"
	"scrapekit/filter"
	"scrapekit/models"
	"scrapekit/rules"
	"scrapekit/scraper"
	"scrapekit/sheets"
	"scrapekit/storage"
	"scrapekit/telegram"
	"scrapekit/urlsplit"
)

// loadConfig loads the job file, or defaults when the file does not exist
func loadConfig(configPath string) (*config.JobConfig, error) {
	if _, err := os.Stat(configPath); err != nil {
		log.Printf("Config file %s not found. Using default configuration.\n", configPath)
		cfg := config.GetDefaultConfig()
		cfg.ApplyEnv()
		return cfg, nil
	}
	return config.LoadConfig(configPath)
}

// backendOptions converts job settings to parser backend options
func backendOptions(cfg *config.JobConfig) fetcher.Options {
	opts := fetcher.DefaultOptions()
	b := cfg.Backend
	if b.UserAgent != "" {
		opts.UserAgent = b.UserAgent
	}
	if b.Timeout > 0 {
		opts.RequestTimeout = b.Timeout
	}
	opts.Delay = b.Delay
	opts.Headless = b.IsHeadless()
	opts.BrowserBin = b.BrowserBin
	opts.NextSelector = b.NextSelector
	opts.BlockPatterns = b.Block
	return opts
}

// buildStore registers the optional sinks next to the built-in ones. Sinks
// needing credentials connect on first save, so a job only fails on a sink
// it actually uses.
func buildStore(cfg *config.JobConfig, notifier *telegram.Notifier) (*storage.Dispatcher, error) {
	store := storage.NewDispatcher()
	st := cfg.Storage

	if err := store.Register("postgres", db.Sink(db.Postgres, st.Postgres.DSN, st.Postgres.Table)); err != nil {
		return nil, err
	}
	sqlite := db.Sink(db.SQLite, "", st.SQLite.Table)
	for _, name := range []string{"sqlite", "db"} {
		if err := store.Register(name, sqlite); err != nil {
			return nil, err
		}
	}

	err := store.Register("sheets", func(ctx context.Context, records []models.Record, output string) error {
		if st.Sheets.SpreadsheetURL == "" {
			return fmt.Errorf("%w: storage.sheets.spreadsheet_url is not set", models.ErrConfiguration)
		}
		w, err := sheets.NewWriter(ctx, st.Sheets.SpreadsheetURL, st.Sheets.Credentials)
		if err != nil {
			return err
		}
		return w.Sink()(ctx, records, output)
	})
	if err != nil {
		return nil, err
	}

	err = store.Register("telegram", func(ctx context.Context, records []models.Record, output string) error {
		if notifier == nil {
			return fmt.Errorf("%w: telegram token and chat id are not set", models.ErrConfiguration)
		}
		return notifier.Sink()(ctx, records, output)
	})
	if err != nil {
		return nil, err
	}

	return store, nil
}

// newNotifier connects to Telegram when a token and chat are configured
func newNotifier(cfg *config.JobConfig) *telegram.Notifier {
	tg := cfg.Storage.Telegram
	if tg.Token == "" || tg.ChatID == 0 {
		return nil
	}
	n, err := telegram.New(tg.Token, tg.ChatID)
	if err != nil {
		log.Printf("Warning: Failed to initialize Telegram notifier: %v\n", err)
		return nil
	}
	return n
}

// runOptions converts the job to scraper options
func runOptions(cfg *config.JobConfig) scraper.Options {
	opts := scraper.Options{
		URLs:        cfg.URLs,
		Pages:       cfg.Pages,
		Format:      cfg.Format,
		Output:      cfg.Output,
		Parser:      cfg.Parser,
		Backend:     backendOptions(cfg),
		Concurrency: cfg.Concurrency,
	}
	if f := filter.NewFilter(&cfg.Filters); !f.Empty() {
		opts.Filter = f.ApplyFilters
	}
	return opts
}

// runJob validates cfg, builds the registry and sinks and performs one crawl
func runJob(ctx context.Context, cfg *config.JobConfig, notifier *telegram.Notifier) (*scraper.Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg, err := rules.FromConfig(cfg.Rules, cfg.Async)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(cfg, notifier)
	if err != nil {
		return nil, err
	}

	opts := runOptions(cfg)
	if cfg.Split != nil {
		r := urlsplit.Range{MinParam: cfg.Split.MinParam, MaxParam: cfg.Split.MaxParam, Step: cfg.Split.Step}
		if opts.URLs, err = r.Expand(cfg.URLs); err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrConfiguration, err)
		}
		log.Printf("Split %d URL(s) into %d range slices\n", len(cfg.URLs), len(opts.URLs))
	}

	return scraper.New(reg, store).Run(ctx, opts)
}

// formatRecordsConsole prints a short preview of the scraped records
func formatRecordsConsole(records []models.Record, limit int) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Scraped %d records\n", len(records)))
	if len(records) == 0 {
		return sb.String()
	}
	sb.WriteString("==================\n")

	for i, r := range records {
		if i == limit {
			sb.WriteString(fmt.Sprintf("\n... and %d more\n", len(records)-limit))
			break
		}
		sb.WriteString(fmt.Sprintf("\n%d. %v (page %v)\n", i+1, r[models.KeyPageURL], r[models.KeyPageNumber]))

		var keys []string
		for k := range r {
			if !models.IsReserved(k) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("   %s: %s\n", k, storage.FormatValue(r[k])))
		}
	}
	return sb.String()
}
