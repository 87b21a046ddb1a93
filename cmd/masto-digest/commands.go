package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"masto-digest/internal/app"
	"masto-digest/internal/infra/config"
	applog "masto-digest/internal/infra/log"
	"masto-digest/internal/infra/metrics"
	"masto-digest/internal/usecase/ingest"
	"masto-digest/internal/usecase/status"
	"masto-digest/internal/usecase/summaries"
)

type rootOptions struct {
	registerer prometheus.Registerer
	cfg        config.AppConfig
	log        zerolog.Logger
	format     string
}

func newRootCommand(registerer prometheus.Registerer) *cobra.Command {
	opts := &rootOptions{registerer: registerer}
	cmd := &cobra.Command{
		Use:           "masto-digest",
		Short:         "Инкрементальная синхронизация подписок Mastodon и кэш сводок",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.format != "text" && opts.format != "json" {
				return fmt.Errorf("неизвестный формат %q: text или json", opts.format)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.log = applog.NewLogger(cfg.AppEnv, cfg.LogLevel)
			if cfg.MetricsAddr != "" && opts.registerer != nil {
				metrics.MustRegister(opts.registerer)
				metrics.StartServer(cmd.Context(), opts.log.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.format, "format", "text", "формат вывода (text|json)")

	cmd.AddCommand(newIngestCommand(opts))
	cmd.AddCommand(newSummarizeCommand(opts))
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	return cmd
}

type ingestFlags struct {
	sinceHours int
	forceFetch bool
	limit      int
}

func (f *ingestFlags) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.sinceHours, "since-hours", 0, "окно запуска в часах (по умолчанию SINCE_HOURS)")
	cmd.Flags().BoolVar(&f.forceFetch, "force-fetch", false, "игнорировать троттлинг и перекрытие")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "максимум аккаунтов за запуск")
}

type summarizeFlags struct {
	forceLLM bool
	limit    int
}

func (f *summarizeFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.forceLLM, "force-llm", false, "перегенерировать даже свежие сводки")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "максимум аккаунтов за запуск")
}

func newIngestCommand(opts *rootOptions) *cobra.Command {
	var flags ingestFlags
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Сверить подписки и забрать новые посты",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(cmd.Context(), opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := runIngest(cmd, opts, a, flags)
			if report.Run.RunID != "" {
				printIngest(cmd.OutOrStdout(), opts.format, report)
			}
			return err
		},
	}
	flags.bind(cmd)
	return cmd
}

func newSummarizeCommand(opts *rootOptions) *cobra.Command {
	var flags summarizeFlags
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Пересобрать устаревшие сводки",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(cmd.Context(), opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.Summaries.RegenerateSummaries(cmd.Context(), flags.forceLLM, flags.limit)
			printSummaries(cmd.OutOrStdout(), opts.format, report)
			return err
		},
	}
	flags.bind(cmd)
	return cmd
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	var (
		ingestF  ingestFlags
		forceLLM bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "ingest и summarize подряд",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(cmd.Context(), opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := runIngest(cmd, opts, a, ingestF)
			if report.Run.RunID != "" {
				printIngest(cmd.OutOrStdout(), opts.format, report)
			}
			if err != nil {
				return err
			}
			sums, err := a.Summaries.RegenerateSummaries(cmd.Context(), forceLLM, ingestF.limit)
			printSummaries(cmd.OutOrStdout(), opts.format, sums)
			return err
		},
	}
	ingestF.bind(cmd)
	cmd.Flags().BoolVar(&forceLLM, "force-llm", false, "перегенерировать даже свежие сводки")
	return cmd
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	var runs int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Показать состояние сводок и последние запуски",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(cmd.Context(), opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.Status.Build(cmd.Context(), runs)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), opts.format, report)
			return nil
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 5, "сколько последних запусков показать")
	return cmd
}

func runIngest(cmd *cobra.Command, opts *rootOptions, a *app.App, flags ingestFlags) (ingest.Report, error) {
	svc, err := a.Ingest()
	if err != nil {
		return ingest.Report{}, err
	}
	since := flags.sinceHours
	if since <= 0 {
		since = opts.cfg.Fetch.SinceHours
	}
	return svc.ReconcileAndSync(cmd.Context(), since, flags.forceFetch, flags.limit)
}

func printIngest(w io.Writer, format string, r ingest.Report) {
	if format == "json" {
		writeJSON(w, r)
		return
	}
	fmt.Fprintf(w, "run %s: accounts=%d synced=%d skipped=%d failed=%d new_posts=%d (%s)\n",
		r.Run.RunID, r.Targets, r.Synced, r.Skipped, r.Failed, r.Fetched, r.Run.Notes)
}

func printSummaries(w io.Writer, format string, r summaries.Report) {
	if format == "json" {
		writeJSON(w, r)
		return
	}
	if r.Disabled {
		fmt.Fprintln(w, "summaries: generation disabled (LLM_PROVIDER=none)")
		return
	}
	fmt.Fprintf(w, "summaries: accounts=%d hits=%d generated=%d failed=%d empty=%d conflicts=%d errors=%d\n",
		r.Targets, r.Hits, r.Generated, r.Failed, r.Empty, r.Conflicts, r.Errors)
	for _, o := range r.Outcomes {
		if o.Status == summaries.StatusEmpty {
			continue
		}
		fmt.Fprintf(w, "  %-10s %s: %s\n", o.Status, o.Handle, o.Headline)
	}
}

func printStatus(w io.Writer, format string, r status.Report) {
	if format == "json" {
		writeJSON(w, r)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "HANDLE\tSTATE\tPOSTS\tLAST FETCH\tHEADLINE")
	for _, a := range r.Accounts {
		lastFetch := "never"
		if a.LastFetchAt != nil {
			lastFetch = a.LastFetchAt.Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", a.Handle, a.State, a.Posts, lastFetch, a.Headline)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nfresh=%d stale=%d absent=%d\n", r.Counts["fresh"], r.Counts["stale"], r.Counts["absent"])
	for _, run := range r.Runs {
		fmt.Fprintf(w, "run %s %s → %s since=%dh %s\n", run.RunID, run.StartedAt.Format(time.DateTime),
			run.CompletedAt.Format(time.DateTime), run.SinceHours, run.Notes)
	}
}

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
