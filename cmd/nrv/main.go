// nrv is the nerve command line: it applies unified diffs and plans to the
// working tree (optionally journaled for rollback), talks to an orchestrator
// and serves the development orchestrator and the MCP tool server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matiasleandrokruk/nerve/internal/domain/apply"
	"github.com/matiasleandrokruk/nerve/internal/domain/journal"
	"github.com/matiasleandrokruk/nerve/internal/domain/llm"
	"github.com/matiasleandrokruk/nerve/internal/infra/config"
	"github.com/matiasleandrokruk/nerve/internal/infra/logging"
	"github.com/matiasleandrokruk/nerve/internal/infra/orchhttp"
	"github.com/matiasleandrokruk/nerve/internal/narrate"
	"github.com/matiasleandrokruk/nerve/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// run executes nrv with stderr logging. Exit codes: 0 success, 1 failure,
// 2 usage error.
func run(args []string, out io.Writer) int {
	return runWith(context.Background(), args, out, os.Stderr)
}

func runWith(ctx context.Context, args []string, out, errOut io.Writer) int {
	a := &app{out: out, errOut: errOut}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	if a.journal != nil {
		a.journal.Close() //nolint:errcheck
	}
	if err == nil {
		return 0
	}
	fmt.Fprintln(errOut, "error:", err) //nolint:errcheck
	var ue *usageError
	if errors.As(err, &ue) || strings.HasPrefix(err.Error(), "unknown command") {
		return 2
	}
	return 1
}

type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// errReported marks a failure whose details were already narrated.
var errReported = errors.New("see narration above")

// app carries what every command shares once flags are parsed.
type app struct {
	out, errOut io.Writer

	configPath string
	orchURL    string
	apiKey     string
	journalArg string
	logLevel   string
	jsonOut    bool

	cfg     config.Config
	logger  *slog.Logger
	journal *journal.Store
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nrv",
		Short:         "nrv - patch toolkit and orchestrator client",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.SetVersionTemplate(version.String() + "\n")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return &usageError{err: err} })

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML config file")
	pf.StringVar(&a.orchURL, "orch-url", "", "orchestrator base URL (overrides NRV_ORCH_URL)")
	pf.StringVar(&a.apiKey, "api-key", "", "orchestrator API key (overrides NRV_API_KEY)")
	pf.StringVar(&a.journalArg, "journal", "", "journal database path (overrides NRV_JOURNAL)")
	pf.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")
	pf.BoolVar(&a.jsonOut, "json", false, "machine-readable output")

	root.AddCommand(
		a.versionCmd(),
		a.applyCmd(),
		a.planCmd(),
		a.diffCmd(),
		a.checksumCmd(),
		a.capsCmd(),
		a.runCmd(),
		a.cancelCmd(),
		a.journalCmd(),
		a.serveDevCmd(),
		a.mcpCmd(),
		a.hashKeyCmd(),
	)
	return root
}

// setup loads configuration and applies flag overrides.
func (a *app) setup() error {
	var err error
	if a.configPath != "" {
		a.cfg, err = config.LoadFile(a.configPath)
		if err != nil {
			return err
		}
	} else {
		a.cfg = config.Load()
	}
	if a.orchURL != "" {
		a.cfg.OrchURL = a.orchURL
	}
	if a.apiKey != "" {
		a.cfg.APIKey = a.apiKey
	}
	if a.journalArg != "" {
		a.cfg.Journal = a.journalArg
	}
	if a.logLevel != "" {
		a.cfg.LogLevel = a.logLevel
	}

	a.logger, err = logging.New(a.errOut, a.cfg.LogLevel, a.cfg.LogFormat)
	if err != nil {
		return &usageError{err: err}
	}
	return nil
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(a.out, version.String()) //nolint:errcheck
		},
	}
}

// ===== SHARED HELPERS =====

func (a *app) guard() apply.Guard {
	return apply.Guard{Root: a.cfg.Guard.Root, Allow: a.cfg.Guard.Allow, Deny: a.cfg.Guard.Deny}
}

// openJournal opens the configured journal once. It returns nil when none
// is configured.
func (a *app) openJournal(ctx context.Context) (*journal.Store, error) {
	if a.journal != nil || a.cfg.Journal == "" {
		return a.journal, nil
	}
	store, err := journal.Open(ctx, a.cfg.Journal, journal.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	a.journal = store
	return store, nil
}

func (a *app) requireJournal(ctx context.Context) (*journal.Store, error) {
	store, err := a.openJournal(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, &usageError{err: errors.New("no journal configured (use --journal or NRV_JOURNAL)")}
	}
	return store, nil
}

func (a *app) orchestrator() *llm.Client {
	backend := orchhttp.New(a.cfg.OrchURL, a.cfg.APIKey,
		orchhttp.WithSubject("nrv"),
		orchhttp.WithLogger(a.logger),
	)
	return llm.NewClient(backend, llm.WithClientLogger(a.logger))
}

func (a *app) narrate(step narrate.Step) {
	if err := narrate.NewRenderer(a.out, a.jsonOut).Render(step); err != nil {
		a.logger.Warn("narration failed", "error", err)
	}
}

func (a *app) parseStrategy(name string) (apply.Strategy, error) {
	st, err := apply.ParseStrategy(name)
	if err != nil {
		return apply.Strategy{}, &usageError{err: err}
	}
	if name == "backup" {
		st = apply.WriteBackup(a.cfg.BackupSuffix)
	}
	return st, nil
}
