// Package cli implements the toolbridge command tree.
package cli

import (
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/sammcj/toolbridge/config"
	"github.com/sammcj/toolbridge/llm"
	"github.com/sammcj/toolbridge/types"
	"github.com/spf13/cobra"
)

var logger = xlog.NewPackageLogger("github.com/sammcj/toolbridge", "cli")

// Version information set at build time via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// Exit codes
const (
	ExitSuccess   = 0
	ExitFailure   = 1
	ExitConfig    = 2
	ExitTool      = 3
	ExitTransport = 4
	ExitModel     = 5
)

// ConfigLoader loads the configuration; an empty path means the default location
type ConfigLoader func(path string) (*config.Config, error)

// ModelFactory creates the model from the configuration
type ModelFactory func(cfg *config.Config) (llm.Model, error)

// AppOption customizes App dependencies
type AppOption func(*App)

// App holds CLI state and runtime dependencies
type App struct {
	root *cobra.Command

	loadConfig ConfigLoader
	newModel   ModelFactory
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer

	cfgFile     string
	verbose     bool
	jsonOutput  bool
	llmProvider string
	model       string
	transport   string
	providerURL string

	cfg *config.Config
}

// WithConfigLoader injects a config loader
func WithConfigLoader(loader ConfigLoader) AppOption {
	return func(a *App) {
		if loader != nil {
			a.loadConfig = loader
		}
	}
}

// WithModelFactory injects a model factory
func WithModelFactory(factory ModelFactory) AppOption {
	return func(a *App) {
		if factory != nil {
			a.newModel = factory
		}
	}
}

// WithIO injects process I/O streams
func WithIO(stdin io.Reader, stdout, stderr io.Writer) AppOption {
	return func(a *App) {
		if stdin != nil {
			a.stdin = stdin
		}
		if stdout != nil {
			a.stdout = stdout
		}
		if stderr != nil {
			a.stderr = stderr
		}
	}
}

// NewApp creates a new CLI app with default dependencies
func NewApp(opts ...AppOption) *App {
	a := &App{
		loadConfig: loadConfig,
		newModel:   newModel,
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.root = a.newRootCommand()
	return a
}

func (a *App) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "toolbridge",
		Short: "Bridge chat models and tool providers",
		Long: `toolbridge connects a chat model to a tool provider.

The provider advertises tools, the model decides which to call, and the
bridge runs the calls and asks the model for a final answer.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ~/.config/toolbridge/config.yaml)")
	root.PersistentFlags().StringVar(&a.llmProvider, "provider", "", "model provider (groq, openai, ollama)")
	root.PersistentFlags().StringVar(&a.model, "model", "", "model ID")
	root.PersistentFlags().StringVar(&a.transport, "transport", "", "tool provider transport (inprocess, stdio, http)")
	root.PersistentFlags().StringVar(&a.providerURL, "url", "", "tool provider URL for the http transport")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "emit JSON output")
	root.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "enable debug logging")

	root.AddCommand(a.newAskCommand())
	root.AddCommand(a.newDirectCommand())
	root.AddCommand(a.newChatCommand())
	root.AddCommand(a.newToolsCommand())
	root.AddCommand(a.newCallCommand())
	root.AddCommand(a.newServeStdioCommand())
	root.AddCommand(a.newServeHTTPCommand())
	root.AddCommand(a.newSeedDBCommand())
	root.AddCommand(a.newVersionCommand())

	return root
}

// Execute runs the root command with the given arguments
func (a *App) Execute(args ...string) error {
	a.root.SetArgs(args)
	return a.root.Execute()
}

func (a *App) initConfig() error {
	cfg, err := a.loadConfig(a.cfgFile)
	if err != nil {
		return exitWithCode(ExitConfig, err)
	}

	if a.llmProvider != "" {
		cfg.LLM.Provider = a.llmProvider
		if a.model == "" {
			cfg.LLM.Model = ""
		}
	}
	if a.model != "" {
		cfg.LLM.Model = a.model
	}
	if a.providerURL != "" {
		cfg.Provider.URL = a.providerURL
		if a.transport == "" {
			a.transport = config.TransportHTTP
		}
	}
	if a.transport != "" {
		cfg.Provider.Transport = a.transport
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return exitWithCode(ExitConfig, err)
	}
	a.cfg = cfg

	xlog.SetFormatter(xlog.NewStringFormatter(a.stderr))
	xlog.SetGlobalLogLevel(logLevel(cfg.Logging.Level))
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg, created, err := config.LoadOrCreate()
	if err != nil {
		return nil, err
	}
	if created {
		logger.KV(xlog.INFO, "status", "config_created")
	}
	return cfg, nil
}

func newModel(cfg *config.Config) (llm.Model, error) {
	return llm.New(llm.Options{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
		Temperature: cfg.LLM.Temperature,
	})
}

func logLevel(level string) xlog.LogLevel {
	switch strings.ToLower(level) {
	case "trace":
		return xlog.TRACE
	case "debug":
		return xlog.DEBUG
	case "notice":
		return xlog.NOTICE
	case "warning":
		return xlog.WARNING
	case "error":
		return xlog.ERROR
	case "critical":
		return xlog.CRITICAL
	default:
		return xlog.INFO
	}
}

// exitError wraps an error with an exit code
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// ExitCode returns the process exit status for the error
func (e *exitError) ExitCode() int {
	return e.code
}

func exitWithCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// ExitCode returns the process exit status for an error returned by Execute
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	switch {
	case errors.Is(err, types.ErrInvalidConfig):
		return ExitConfig
	case errors.Is(err, types.ErrTransport),
		errors.Is(err, types.ErrSessionBusy),
		errors.Is(err, types.ErrNotInitialized):
		return ExitTransport
	case errors.Is(err, types.ErrModelTimeout),
		errors.Is(err, types.ErrLLMResponse):
		return ExitModel
	case errors.Is(err, types.ErrToolExecution),
		errors.Is(err, types.ErrUnknownTool),
		errors.Is(err, types.ErrInvalidArguments),
		errors.Is(err, types.ErrSchemaAdaptation):
		return ExitTool
	default:
		return ExitFailure
	}
}
