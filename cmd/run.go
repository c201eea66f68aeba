package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/signalnine/stopprobe/internal/anthropic"
	"github.com/signalnine/stopprobe/internal/config"
	"github.com/signalnine/stopprobe/internal/console"
	"github.com/signalnine/stopprobe/internal/logging"
	"github.com/signalnine/stopprobe/internal/metrics"
	"github.com/signalnine/stopprobe/internal/pricing"
	"github.com/signalnine/stopprobe/internal/publish"
	"github.com/signalnine/stopprobe/internal/report"
	"github.com/signalnine/stopprobe/internal/result"
	"github.com/signalnine/stopprobe/internal/runner"
)

var (
	flagTrials       int
	flagModel        string
	flagMarker       string
	flagBaseURL      string
	flagResultsDir   string
	flagNoArtifacts  bool
	flagFormat       string
	flagMetricsFile  string
	flagNoFail       bool
	flagHideResponse bool
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Send identical requests and classify each response",
		Args:  cobra.NoArgs,
		RunE:  runProbe,
	}
	cmd.Flags().IntVar(&flagTrials, "trials", 0, "override trial count")
	cmd.Flags().StringVar(&flagModel, "model", "", "override model id")
	cmd.Flags().StringVar(&flagMarker, "marker", "", "override the stop sequence")
	cmd.Flags().StringVar(&flagBaseURL, "base-url", "", "override the API base URL")
	cmd.Flags().StringVar(&flagResultsDir, "results-dir", "", "override the results directory")
	cmd.Flags().BoolVar(&flagNoArtifacts, "no-artifacts", false, "do not write a run directory")
	cmd.Flags().StringVar(&flagFormat, "format", "table", "summary format (table, markdown, json)")
	cmd.Flags().StringVar(&flagMetricsFile, "metrics-file", "", "write Prometheus textfile metrics here")
	cmd.Flags().BoolVar(&flagNoFail, "no-fail", false, "exit 0 even when the bug reproduced")
	cmd.Flags().BoolVar(&flagHideResponse, "hide-response", false, "do not print full responses of bug trials")
	return cmd
}

func loadRunConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if flagTrials > 0 {
		cfg.Trials = flagTrials
	}
	if flagModel != "" {
		cfg.Template.Model = flagModel
	}
	if flagMarker != "" {
		cfg.Template.StopSequences = []string{flagMarker}
	}
	if flagBaseURL != "" {
		cfg.API.BaseURL = flagBaseURL
	}
	if flagResultsDir != "" {
		cfg.Results.Dir = flagResultsDir
	}
	if flagMetricsFile != "" {
		cfg.Metrics.File = flagMetricsFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, &config.Error{Path: cfgFile, Err: err}
	}
	return cfg, nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	if err := report.ValidFormat(flagFormat); err != nil {
		return err
	}
	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}
	apiKey, err := cfg.ResolveAPIKey(os.Getenv)
	if err != nil {
		return err
	}

	logger, err := logging.New(flagVerbose, flagLogFile)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	client, err := anthropic.NewClient(apiKey,
		anthropic.WithBaseURL(cfg.API.BaseURL),
		anthropic.WithVersion(cfg.API.Version),
		anthropic.WithTimeout(cfg.Timeout()))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	// Keep stdout parseable when the summary is machine-readable.
	narration := out
	if flagFormat == "json" {
		narration = cmd.ErrOrStderr()
	}
	tmpl := cfg.RequestTemplate()
	narrator := console.NewNarrator(narration)
	narrator.ShowResponse = !flagHideResponse
	recorder := metrics.NewRecorder(tmpl.Model)
	observers := []runner.Observer{narrator, recorder}

	var runDir string
	if !flagNoArtifacts && cfg.Results.Dir != "" {
		runDir, err = result.CreateRunDir(cfg.Results.Dir)
		if err != nil {
			return err
		}
		sink, err := result.OpenRecordSink(runDir)
		if err != nil {
			return err
		}
		defer sink.Close()
		observers = append(observers, recordObserver(sink, logger))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	narrator.Header(tmpl, cfg.Trials)
	summary, err := runner.Run(ctx, &runner.RunOpts{
		Template:  tmpl,
		Trials:    cfg.Trials,
		Executor:  client,
		Observers: observers,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if cfg.Pricing.File != "" {
		table, err := pricing.Load(cfg.Pricing.File)
		if err != nil {
			logger.Warn("pricing unavailable", zap.Error(err))
		} else {
			summary.EstimatedCostUSD = table.EstimateRun(cfg.Pricing.Provider, summary)
		}
	}
	recorder.ObserveSummary(summary)

	if runDir != "" {
		if err := result.WriteSummary(runDir, summary); err != nil {
			return err
		}
	}

	narrator.Conclusion(summary)
	fmt.Fprintln(narration)
	if err := report.Generate(summary, flagFormat, out); err != nil {
		return err
	}
	if runDir != "" {
		fmt.Fprintf(narration, "\nRun directory: %s\n", runDir)
	}
	if cfg.Metrics.File != "" {
		if err := recorder.WriteTextfile(cfg.Metrics.File); err != nil {
			logger.Warn("metrics not written", zap.Error(err))
		}
	}
	if cfg.Publish.NATSURL != "" {
		publishSummary(cfg, summary, logger)
	}

	if flagNoFail {
		return nil
	}
	return runner.CheckSummary(summary)
}

func recordObserver(sink *result.RecordSink, logger *zap.Logger) runner.Observer {
	return runner.ObserverFunc(func(rec *result.TrialRecord) {
		if err := sink.Append(rec); err != nil {
			logger.Error("trial record not written", zap.Int("trial", rec.Trial), zap.Error(err))
		}
	})
}

func publishSummary(cfg *config.Config, s *result.Summary, logger *zap.Logger) {
	p, err := publish.Connect(cfg.Publish.NATSURL, cfg.Publish.Subject)
	if err != nil {
		logger.Warn("summary not published", zap.Error(err))
		return
	}
	defer p.Close()
	if err := p.PublishSummary(s); err != nil {
		logger.Warn("summary not published", zap.Error(err))
	}
}
