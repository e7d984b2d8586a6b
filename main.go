package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"scrapekit/config"
	"scrapekit/fetcher"
	"scrapekit/scheduler"
	"scrapekit/storage"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "scrapekit",
	Short:         "scrapekit crawls pages with selector rules and saves the records.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runFlags struct {
	urls    []string
	pages   int
	format  string
	output  string
	parser  string
	preview int
}

var runCmd = &cobra.Command{
	Use:   "run [-c job.yaml] [--url URL]... [--pages N] [--format F] [--output PATH] [--parser NAME]",
	Short: "Runs a job once and saves the records.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		applyRunFlags(cmd, cfg)

		notifier := newNotifier(cfg)
		res, err := runJob(cmd.Context(), cfg, notifier)
		if err != nil {
			return fmt.Errorf("scraping failed: %w", err)
		}

		// built-in sinks without an output path already wrote to stdout
		switch res.Format {
		case "json", "csv", "yaml", "yml":
			if cfg.Output == "" {
				return nil
			}
		}
		fmt.Fprint(cmd.OutOrStdout(), formatRecordsConsole(res.Records, runFlags.preview))
		return nil
	},
}

var scheduleEvery time.Duration

var scheduleCmd = &cobra.Command{
	Use:   "schedule [-c job.yaml] [--every 1h]",
	Short: "Re-runs a job at a fixed interval until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("every") || cfg.Schedule.Every == 0 {
			cfg.Schedule.Every = scheduleEvery
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		notifier := newNotifier(cfg)
		sched, err := scheduler.NewScheduler(cfg.Schedule.Every, func(ctx context.Context) error {
			res, err := runJob(ctx, cfg, notifier)
			if err != nil {
				return err
			}
			log.Printf("Run saved %d records as %s (session %s)\n", len(res.Records), res.Format, res.SessionID)
			return nil
		})
		if err != nil {
			return err
		}
		if notifier != nil {
			sched.OnFailure(func(ctx context.Context, run int, err error) {
				if err := notifier.Notify(ctx, fmt.Sprintf("❌ Scheduled run %d failed: %v", run, err)); err != nil {
					log.Printf("Error sending failure notification: %v\n", err)
				}
			})
		}

		log.Printf("Scheduler started, running every %s\n", cfg.Schedule.Every)
		sched.Run(cmd.Context())
		log.Println("Scheduler stopped")
		return nil
	},
}

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "Lists output formats and parser backends.",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := buildStore(config.GetDefaultConfig(), nil)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "formats: %s\n", strings.Join(store.Formats(), ", "))
		fmt.Fprintf(cmd.OutOrStdout(), "parsers: %s\n", strings.Join(fetcher.Backends(), ", "))
		fmt.Fprintf(cmd.OutOrStdout(), "default: format %s, parser %s\n", storage.DefaultFormat, config.GetDefaultConfig().Parser)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "job.yaml", "Path to the job configuration file")

	runCmd.Flags().StringSliceVar(&runFlags.urls, "url", nil, "URL to crawl (repeatable, replaces the job's urls)")
	runCmd.Flags().IntVar(&runFlags.pages, "pages", 1, "Maximum number of pages per URL")
	runCmd.Flags().StringVar(&runFlags.format, "format", "", "Output format (default: inferred from --output, else json)")
	runCmd.Flags().StringVarP(&runFlags.output, "output", "o", "", "Output path or target handed to the sink")
	runCmd.Flags().StringVar(&runFlags.parser, "parser", "", "Parser backend: colly, rod or playwright")
	runCmd.Flags().IntVar(&runFlags.preview, "preview", 10, "Number of records to print after saving")

	scheduleCmd.Flags().DurationVar(&scheduleEvery, "every", time.Hour, "Interval between runs")

	rootCmd.AddCommand(runCmd, scheduleCmd, formatsCmd)
}

// applyRunFlags overrides job settings with explicitly set flags
func applyRunFlags(cmd *cobra.Command, cfg *config.JobConfig) {
	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.URLs = runFlags.urls
	}
	if flags.Changed("pages") {
		cfg.Pages = runFlags.pages
	}
	if flags.Changed("format") {
		cfg.Format = runFlags.format
	}
	if flags.Changed("output") {
		cfg.Output = runFlags.output
	}
	if flags.Changed("parser") {
		cfg.Parser = runFlags.parser
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Printf("Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
