package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	json "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/v0xg/astarcheck/internal/artifacts"
	"github.com/v0xg/astarcheck/internal/browser"
	"github.com/v0xg/astarcheck/internal/config"
	"github.com/v0xg/astarcheck/internal/crawl"
	"github.com/v0xg/astarcheck/internal/fakedata"
	"github.com/v0xg/astarcheck/internal/linkstore"
	"github.com/v0xg/astarcheck/internal/logging"
	"github.com/v0xg/astarcheck/internal/pages"
	"github.com/v0xg/astarcheck/internal/walker"
)

var (
	configPath string
	driver     string
	baseURL    string
	headless   bool
	logLevel   string
	seed       uint64
	refresh    bool
	strict     bool
)

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "astarcheck",
		Short: "End-to-end checks for the Astar Financial website",
		Long: `astarcheck drives a real browser against astarfinancial.com.au. It verifies
that every navigation link opens a titled page and walks the loan application,
refinance and appointment booking funnels up to their OTP prompts.

Example:
  astarcheck links --refresh
  astarcheck apply --driver playwright --headless=false`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Config file (default: $ASTAR_CONFIG or ./astarcheck.yaml)")
	pf.StringVar(&driver, "driver", "", "Browser driver: rod, playwright")
	pf.StringVar(&baseURL, "base-url", "", "Site under test")
	pf.BoolVar(&headless, "headless", true, "Run the browser headless")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.Uint64Var(&seed, "seed", 0, "Seed for generated form data (0: random)")

	linksCmd := &cobra.Command{
		Use:   "links",
		Short: "Verify every navigation link on the home page",
		Args:  cobra.NoArgs,
		RunE:  runLinks,
	}
	linksCmd.Flags().BoolVar(&refresh, "refresh", false, "Re-scrape the link structure instead of using the cache")
	linksCmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when any link fails")

	scrapeCmd := &cobra.Command{
		Use:   "scrape",
		Short: "Re-scrape the link structure cache and print it",
		Args:  cobra.NoArgs,
		RunE:  runScrape,
	}

	allCmd := &cobra.Command{
		Use:   "all",
		Short: "Run the link check and the apply and book funnels",
		Args:  cobra.NoArgs,
		RunE:  runAll,
	}
	allCmd.Flags().BoolVar(&refresh, "refresh", false, "Re-scrape the link structure instead of using the cache")
	allCmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when any link fails")

	rootCmd.AddCommand(
		linksCmd,
		scrapeCmd,
		flowCommand("apply", "Walk the home loan application up to SMS verification", applyFlow),
		flowCommand("refinance", "Walk the refinance funnel up to the OTP screen", refinanceFlow),
		flowCommand("book", "Book an appointment up to OTP verification", bookFlow),
		allCmd,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// setup loads configuration, applies command-line overrides and builds the
// logger.
func setup(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Browser.Driver = driver
	}
	if flags.Changed("base-url") {
		cfg.BaseURL = baseURL
	}
	if flags.Changed("headless") {
		cfg.Browser.Headless = headless
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("seed") {
		cfg.Walker.Seed = seed
	}
	if err := config.Validate(cfg); err != nil {
		return nil, zerolog.Nop(), err
	}

	logger := logging.New(cfg.Log)
	logger.Debug().
		Str("base_url", cfg.BaseURL).
		Str("driver", cfg.Browser.Driver).
		Bool("headless", cfg.Browser.Headless).
		Msg("Configuration loaded")
	return cfg, logger, nil
}

func launch(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (browser.Browser, error) {
	fmt.Printf("→ Launching %s browser... ", cfg.Browser.Driver)
	b, err := browser.Launch(ctx, browser.Options{
		Driver:         cfg.Browser.Driver,
		Headless:       cfg.Browser.Headless,
		Width:          cfg.Browser.Width,
		Height:         cfg.Browser.Height,
		ChromePath:     cfg.Browser.ChromePath,
		UserDataDir:    cfg.Browser.UserDataDir,
		DefaultTimeout: cfg.DefaultTimeout,
		Logger:         logging.Component(logger, "browser"),
	})
	if err != nil {
		fmt.Println("failed")
		return nil, fmt.Errorf("browser launch failed: %w", err)
	}
	fmt.Println("done")
	return b, nil
}

// withPage runs fn on a fresh page of a fresh browser.
func withPage(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, logger zerolog.Logger, page browser.Page) error) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	b, err := launch(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	page, err := b.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	defer page.Close()
	return fn(ctx, cfg, logger, page)
}

func runLinks(cmd *cobra.Command, _ []string) error {
	return withPage(cmd, checkLinks)
}

func checkLinks(ctx context.Context, cfg *config.Config, logger zerolog.Logger, page browser.Page) error {
	home := pages.NewHomePage(page, cfg, nil, logger)

	fmt.Printf("→ Opening %s... ", cfg.BaseURL)
	if err := home.Navigate(ctx); err != nil {
		fmt.Println("failed")
		return err
	}
	fmt.Println("done")

	fmt.Println("→ Verifying links...")
	report, err := home.VerifyLinks(ctx, refresh)
	if report != nil {
		printReport(report)
		if cfg.Artifacts.Enabled {
			w := artifacts.NewWriter(cfg.Artifacts, logging.Component(logger, "artifacts"))
			if path, werr := w.WriteJSON(fmt.Sprintf("links-%s.json", report.RunID), report); werr != nil {
				logger.Warn().Err(werr).Msg("Failed to write link report")
			} else {
				fmt.Printf("  report: %s\n", path)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("link verification aborted: %w", err)
	}
	if failed := len(report.Failures()); strict && failed > 0 {
		return fmt.Errorf("%d link(s) failed", failed)
	}
	return nil
}

func printReport(report *crawl.Report) {
	for _, res := range report.Results {
		mark := "✓"
		switch {
		case res.Status == crawl.StatusFailed:
			mark = "✗"
		case res.Status.Skipped():
			mark = "-"
		}
		line := fmt.Sprintf("  %s %s", mark, res.ChildHref)
		if res.ParentHref != "" {
			line += fmt.Sprintf(" (via %s)", res.ParentHref)
		}
		if res.Reason != "" {
			line += fmt.Sprintf(" [%s]", res.Reason)
		} else if res.Title != "" && res.ResponseTimeMS != nil {
			line += fmt.Sprintf(" %q %dms", res.Title, *res.ResponseTimeMS)
		}
		fmt.Println(line)
	}

	counts := report.Counts()
	skipped := len(report.Results) - counts[crawl.StatusVisited] - counts[crawl.StatusFailed]
	fmt.Printf("✓ %d visited, %d failed, %d skipped in %s\n",
		counts[crawl.StatusVisited], counts[crawl.StatusFailed], skipped, report.Duration().Round(time.Millisecond))
	if report.Aborted {
		fmt.Printf("✗ aborted: %s\n", report.AbortError)
	}
}

func runScrape(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	store := linkstore.NewStore(cfg.Links, logging.Component(logger, "linkstore"))

	fmt.Fprintf(os.Stderr, "→ Scraping %s... ", cfg.LinkSource())
	st, err := store.Load(cmd.Context(), cfg.LinkSource(), true)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed")
		return err
	}
	fmt.Fprintf(os.Stderr, "done (%d links, saved to %s)\n", st.Len(), cfg.Links.CachePath)

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

type flowFunc func(ctx context.Context, r *pages.Runner, gen *fakedata.Generator) (*walker.Result, error)

func applyFlow(ctx context.Context, r *pages.Runner, gen *fakedata.Generator) (*walker.Result, error) {
	return pages.NewApplyLoanPage(r, gen).Apply(ctx)
}

func refinanceFlow(ctx context.Context, r *pages.Runner, gen *fakedata.Generator) (*walker.Result, error) {
	return pages.NewRefinanceLoanPage(r, gen).Refinance(ctx)
}

func bookFlow(ctx context.Context, r *pages.Runner, gen *fakedata.Generator) (*walker.Result, error) {
	return pages.NewBookAppointmentPage(r, gen).Book(ctx)
}

func flowCommand(name, short string, fn flowFunc) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPage(cmd, runFlow(name, fn))
		},
	}
}

func runFlow(name string, fn flowFunc) func(context.Context, *config.Config, zerolog.Logger, browser.Page) error {
	return func(ctx context.Context, cfg *config.Config, logger zerolog.Logger, page browser.Page) error {
		gen := fakedata.New(cfg.Walker.Seed)
		runner := pages.NewRunner(page, cfg, logging.Component(logger, name))

		fmt.Printf("→ Running %s flow (seed %d)... ", name, gen.Seed)
		res, err := fn(ctx, runner, gen)
		if err != nil {
			fmt.Println("failed")
			return err
		}
		fmt.Printf("done (%d steps", res.Completed)
		if len(res.Skipped) > 0 {
			fmt.Printf(", %d skipped", len(res.Skipped))
		}
		fmt.Println(")")
		if res.ReachedCheckpoint {
			fmt.Printf("✓ %s reached %q\n", name, res.Checkpoint)
		}
		return nil
	}
}

// runAll runs the link check and the apply and book funnels, each on its own
// page of one browser. A failing stage does not stop the others.
func runAll(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	b, err := launch(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	stages := []struct {
		name string
		run  func(context.Context, *config.Config, zerolog.Logger, browser.Page) error
	}{
		{"links", checkLinks},
		{"apply", runFlow("apply", applyFlow)},
		{"book", runFlow("book", bookFlow)},
	}

	var failures []error
	for _, stage := range stages {
		if ctx.Err() != nil {
			failures = append(failures, ctx.Err())
			break
		}
		page, err := b.NewPage(ctx)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: open page: %w", stage.name, err))
			continue
		}
		if err := stage.run(ctx, cfg, logger, page); err != nil {
			logger.Error().Err(err).Str("stage", stage.name).Msg("Stage failed")
			failures = append(failures, fmt.Errorf("%s: %w", stage.name, err))
		}
		page.Close()
	}
	return errors.Join(failures...)
}
