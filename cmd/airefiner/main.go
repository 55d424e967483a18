package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	// earlyinit must be listed before bubbletea so its init() runs first and
	// pre-sets lipgloss.SetHasDarkBackground.
	_ "github.com/Dhanuzh/airefiner/internal/earlyinit"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Dhanuzh/airefiner/internal/catalog"
	"github.com/Dhanuzh/airefiner/internal/config"
	"github.com/Dhanuzh/airefiner/internal/langdetect"
	"github.com/Dhanuzh/airefiner/internal/logging"
	"github.com/Dhanuzh/airefiner/internal/provider"
	"github.com/Dhanuzh/airefiner/internal/refiner"
	"github.com/Dhanuzh/airefiner/internal/resilience"
	"github.com/Dhanuzh/airefiner/internal/server"
	"github.com/Dhanuzh/airefiner/internal/task"
	"github.com/Dhanuzh/airefiner/internal/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "airefiner",
		Short: "AIRefiner - refine and translate text with any LLM provider",
		Long: `AIRefiner polishes business writing, builds presentation talking points,
and translates between English and Chinese using whichever OpenAI, Anthropic,
Google, Groq, xAI or Qwen models your API keys unlock.`,
		RunE:          runTUI,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to a config file (default: "+filepath.Join(config.GetConfigDir(), "airefiner.yaml")+")")
	rootCmd.PersistentFlags().String("env-file", "", "Path to a .env file (default: ./.env)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringP("model", "m", "", "Model to use (provider/model format supported)")

	rootCmd.Flags().StringP("task", "t", "", "Task to preselect ("+strings.Join(task.Names(), ", ")+")")
	rootCmd.Flags().Duration("timeout", 0, "Limit for one task run (0 = no extra limit)")

	rootCmd.AddCommand(
		runCmd(),
		modelsCmd(),
		detectCmd(),
		serveCmd(),
		breakersCmd(),
		authCmd(),
		configCmd(),
		versionCmd(),
	)
	return rootCmd
}

// app is everything a command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	engine *refiner.Engine
}

func (a *app) Close() error { return a.engine.Close() }

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var opts config.LoadOptions
	opts.ConfigFile, _ = cmd.Flags().GetString("config")
	opts.EnvFile, _ = cmd.Flags().GetString("env-file")
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)
	return cfg, nil
}

// newApp loads configuration and builds the engine. Logs go to logOut.
func newApp(ctx context.Context, cmd *cobra.Command, logOut io.Writer) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, logOut)
	if err != nil {
		return nil, err
	}
	registry := refiner.BuildRegistry(ctx, cfg, logging.Component(logger, "registry"))
	engine := refiner.New(cfg, registry, refiner.WithLogger(logger))
	return &app{cfg: cfg, logger: logger, engine: engine}, nil
}

// ---------------------------------------------------------------------------
// TUI (default command)
// ---------------------------------------------------------------------------

func runTUI(cmd *cobra.Command, args []string) error {
	// Anything written to the terminal would corrupt the alternate screen, so
	// logs go to a file under --verbose and nowhere otherwise.
	var logOut io.Writer = io.Discard
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		f, err := openLogFile()
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}

	a, err := newApp(context.Background(), cmd, logOut)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(a.engine.Providers()) == 0 {
		return fmt.Errorf("no providers configured\n\nRun 'airefiner auth login <provider>' or set one of: %s", envVarList())
	}

	opts := tui.Options{
		Model:       a.cfg.Model.Default,
		HistoryFile: filepath.Join(config.GetConfigDir(), "history.jsonl"),
	}
	if t, _ := cmd.Flags().GetString("task"); t != "" {
		id, err := task.Parse(t)
		if err != nil {
			return err
		}
		opts.Task = id
	}
	opts.Timeout, _ = cmd.Flags().GetDuration("timeout")

	// Start the catalog fetch while the terminal switches screens.
	a.engine.Warm()
	if err := tui.Run(a.engine, opts); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func openLogFile() (*os.File, error) {
	dir := config.GetConfigDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, "airefiner.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
}

// ---------------------------------------------------------------------------
// run command
// ---------------------------------------------------------------------------

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [text...]",
		Short: "Run one task without the TUI",
		Long: `Run a task on text given as arguments, read from --file, or piped on stdin.
The result is written to stdout so it can be redirected or piped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			taskName, _ := cmd.Flags().GetString("task")
			taskID, err := task.Parse(taskName)
			if err != nil {
				return err
			}
			file, _ := cmd.Flags().GetString("file")
			text, err := readInput(args, file, os.Stdin, term.IsTerminal(int(os.Stdin.Fd())))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cmd, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			desc, err := pickModel(ctx, a.engine, a.cfg.Model.Default)
			if err != nil {
				return refiner.Friendly(err)
			}

			res, err := a.engine.RunTask(ctx, taskID, desc, text, task.Context{})
			if err != nil {
				return refiner.Friendly(err)
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			if res.Fallback {
				fmt.Fprintln(os.Stderr, "note: language was not detected confidently, refined instead of translating")
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Output)
			return nil
		},
	}
	cmd.Flags().StringP("task", "t", string(task.Refine), "Task to run ("+strings.Join(task.Names(), ", ")+")")
	cmd.Flags().StringP("file", "f", "", "Read input text from a file ('-' for stdin)")
	cmd.Flags().Bool("json", false, "Print the full result as JSON")
	return cmd
}

// readInput takes text from args, then file, then a piped stdin.
func readInput(args []string, file string, stdin io.Reader, stdinIsTerminal bool) (string, error) {
	var text string
	switch {
	case len(args) > 0:
		text = strings.Join(args, " ")
	case file == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(b)
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", file, err)
		}
		text = string(b)
	case !stdinIsTerminal:
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(b)
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("no input text: pass it as arguments, with --file, or on stdin")
	}
	return text, nil
}

// pickModel resolves spec, or the first listed model when spec is empty.
func pickModel(ctx context.Context, engine *refiner.Engine, spec string) (catalog.ModelDescriptor, error) {
	if spec != "" {
		return engine.ResolveModel(ctx, spec)
	}
	models, err := engine.GetAvailableModels(ctx)
	if err != nil {
		return catalog.ModelDescriptor{}, err
	}
	all := catalog.Flatten(models)
	if len(all) == 0 {
		return catalog.ModelDescriptor{}, catalog.ErrNoModelsAvailable
	}
	return all[0], nil
}

// ---------------------------------------------------------------------------
// models command
// ---------------------------------------------------------------------------

func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models [provider]",
		Short: "List models usable for text tasks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var only provider.ID
			if len(args) > 0 {
				id, err := provider.ParseID(args[0])
				if err != nil {
					return err
				}
				only = id
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cmd, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			var snap *catalog.Snapshot
			if refresh, _ := cmd.Flags().GetBool("refresh"); refresh {
				snap, err = a.engine.RefreshModels(ctx)
			} else {
				_, err = a.engine.GetAvailableModels(ctx)
				snap = a.engine.Snapshot()
			}
			if err != nil {
				return refiner.Friendly(err)
			}

			for _, id := range provider.All {
				if e, ok := snap.Degraded[id]; ok && (only == "" || only == id) {
					fmt.Fprintf(os.Stderr, "warning: %s unavailable: %v\n", id, e)
				}
			}

			models := catalog.Flatten(snap.Models)
			if only != "" {
				models = snap.Models[only]
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if models == nil {
					models = []catalog.ModelDescriptor{}
				}
				return enc.Encode(models)
			}
			printModels(cmd.OutOrStdout(), models)
			return nil
		},
	}
	cmd.Flags().Bool("refresh", false, "Ignore the cache and query every provider")
	cmd.Flags().Bool("json", false, "Print models as JSON")
	return cmd
}

func printModels(w io.Writer, models []catalog.ModelDescriptor) {
	fmt.Fprintf(w, "%-12s %-45s %s\n", "Provider", "Model", "Name")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, m := range models {
		fmt.Fprintf(w, "%-12s %-45s %s\n", m.Provider, m.ID, m.DisplayName)
	}
	fmt.Fprintf(w, "\n%d model(s)\n", len(models))
}

// ---------------------------------------------------------------------------
// detect command
// ---------------------------------------------------------------------------

func detectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect [text...]",
		Short: "Show the detected language and where auto-translate would route it",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(args, "", os.Stdin, term.IsTerminal(int(os.Stdin.Fd())))
			if err != nil {
				return err
			}
			a, err := newApp(context.Background(), cmd, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.cfg

			res := a.engine.Detect(text)
			route, err := task.NewRouter(cfg.Detect.Threshold).Route(task.AutoTranslate, res)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-12s %s\n", "Language", res.Language)
			fmt.Fprintf(w, "%-12s %.2f (%s)\n", "Confidence", res.Confidence, langdetect.Level(res.Confidence))
			fmt.Fprintf(w, "%-12s %s\n", "Routes to", route.Resolved.Name())
			if route.Fallback {
				fmt.Fprintf(w, "%-12s below %.2f threshold, refining instead\n", "", cfg.Detect.Threshold)
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// serve command
// ---------------------------------------------------------------------------

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long:  "Start a headless HTTP API server for programmatic access to AIRefiner.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cmd, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			srvCfg := a.cfg.Server
			if cmd.Flags().Changed("port") {
				srvCfg.Port, _ = cmd.Flags().GetInt("port")
			}
			if h, _ := cmd.Flags().GetString("host"); h != "" {
				srvCfg.Host = h
			}

			srv := server.New(a.engine, srvCfg, logging.Component(a.logger, "server"), version)
			a.engine.Warm()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				fmt.Fprintln(os.Stderr, "\nShutting down server...")
				return srv.Stop(context.Background())
			}
		},
	}
	cmd.Flags().IntP("port", "P", 4097, "Port to listen on")
	cmd.Flags().String("host", "", "Interface to bind (default from config)")
	return cmd
}

// ---------------------------------------------------------------------------
// breakers command
// ---------------------------------------------------------------------------

func breakersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breakers",
		Short: "Show circuit breaker state of a running server",
		Long: `Breaker state lives in the process that made the calls, so this queries
the /breakers endpoint of a running 'airefiner serve'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, _ := cmd.Flags().GetString("server")
			reset, _ := cmd.Flags().GetBool("reset")

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			client := &http.Client{}

			if reset {
				if err := postReset(ctx, client, base); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "All breakers reset.")
				return nil
			}

			states, err := fetchBreakers(ctx, client, base)
			if err != nil {
				return err
			}
			printBreakers(cmd.OutOrStdout(), states)
			return nil
		},
	}
	cmd.Flags().String("server", "http://localhost:4097", "Base URL of the airefiner server")
	cmd.Flags().Bool("reset", false, "Close every breaker")
	return cmd
}

func fetchBreakers(ctx context.Context, client *http.Client, base string) ([]resilience.BreakerState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/breakers", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot reach server at %s: %w", base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s", resp.Status)
	}
	var states []resilience.BreakerState
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		return nil, fmt.Errorf("invalid breaker response: %w", err)
	}
	return states, nil
}

func postReset(ctx context.Context, client *http.Client, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/breakers/reset", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach server at %s: %w", base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func printBreakers(w io.Writer, states []resilience.BreakerState) {
	if len(states) == 0 {
		fmt.Fprintln(w, "No breakers yet: no model has been called.")
		return
	}
	fmt.Fprintf(w, "%-45s %-10s %-9s %s\n", "Key", "Status", "Failures", "Opened")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, s := range states {
		opened := "-"
		if !s.OpenedAt.IsZero() {
			opened = s.OpenedAt.Local().Format(time.Kitchen)
		}
		fmt.Fprintf(w, "%-45s %-10s %-9d %s\n", s.Key, s.Status, s.ConsecutiveFailures, opened)
	}
}

// ---------------------------------------------------------------------------
// auth command
// ---------------------------------------------------------------------------

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage API credentials",
		Long:  "Log in, log out, and list configured API provider credentials.",
	}

	loginCmd := &cobra.Command{
		Use:       "login <provider>",
		Short:     "Store an API key for a provider",
		Args:      cobra.ExactArgs(1),
		ValidArgs: providerNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := provider.ParseID(args[0])
			if err != nil {
				return err
			}
			info, _ := config.LookupProviderInfo(id)
			path := config.GetCredentialsPath()
			creds, err := config.LoadCredentials(path)
			if err != nil {
				return fmt.Errorf("failed to load credentials: %w", err)
			}

			if info.URLHint != "" {
				fmt.Fprintf(os.Stderr, "Get a key at %s\n", info.URLHint)
			}
			key, err := config.ReadSecret(os.Stdin, os.Stderr, fmt.Sprintf("%s API key: ", info.Name))
			if err != nil {
				return err
			}
			if key == "" {
				return errors.New("no key entered")
			}
			creds.Set(id, key)
			if err := config.SaveCredentials(path, creds); err != nil {
				return fmt.Errorf("failed to save credentials: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s key %s to %s\n", id, config.MaskKey(key), path)
			return nil
		},
	}

	logoutCmd := &cobra.Command{
		Use:       "logout <provider>",
		Short:     "Remove a stored API key",
		Args:      cobra.ExactArgs(1),
		ValidArgs: providerNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := provider.ParseID(args[0])
			if err != nil {
				return err
			}
			path := config.GetCredentialsPath()
			creds, err := config.LoadCredentials(path)
			if err != nil {
				return fmt.Errorf("failed to load credentials: %w", err)
			}
			creds.Set(id, "")
			if err := config.SaveCredentials(path, creds); err != nil {
				return fmt.Errorf("failed to save credentials: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed stored %s key\n", id)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List configured credentials and their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := config.LoadCredentials(config.GetCredentialsPath())
			if err != nil {
				return fmt.Errorf("failed to load credentials: %w", err)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-12s %-12s %-14s %s\n", "Provider", "Source", "Status", "Key")
			fmt.Fprintln(w, strings.Repeat("-", 60))
			for _, info := range config.ProviderRegistry {
				key := cfg.GetAPIKey(info.ID)
				source, status := keySource(cfg, creds, info.ID, key), "not configured"
				if key != "" {
					status = "active"
					if !cfg.IsProviderEnabled(info.ID) {
						status = "disabled"
					}
				}
				fmt.Fprintf(w, "%-12s %-12s %-14s %s\n", info.ID, source, status, config.MaskKey(key))
			}
			return nil
		},
	}

	cmd.AddCommand(loginCmd, logoutCmd, listCmd)
	cmd.RunE = listCmd.RunE
	return cmd
}

// keySource names where the resolved key came from, in precedence order.
func keySource(cfg *config.Config, creds *config.Credentials, id provider.ID, key string) string {
	switch {
	case key == "":
		return "-"
	case cfg.Providers[string(id)].APIKey == key:
		return "config"
	case creds.Keys[id] == key && os.Getenv(provider.EnvVar(id)) != key:
		return "credentials"
	default:
		return "env"
	}
}

func providerNames() []string {
	out := make([]string, 0, len(provider.All))
	for _, id := range provider.All {
		out = append(out, string(id))
	}
	return out
}

func envVarList() string {
	vars := make([]string, 0, len(provider.All))
	for _, id := range provider.All {
		vars = append(vars, provider.EnvVar(id))
	}
	return strings.Join(vars, ", ")
}

// ---------------------------------------------------------------------------
// config command
// ---------------------------------------------------------------------------

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration (keys redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
			return nil
		},
	}

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Show where configuration is read from",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			file := cfg.ConfigFile
			if file == "" {
				file = "(none found, using defaults)"
			}
			fmt.Fprintf(w, "%-14s %s\n", "Config file", file)
			fmt.Fprintf(w, "%-14s %s\n", "Config dir", config.GetConfigDir())
			fmt.Fprintf(w, "%-14s %s\n", "Credentials", config.GetCredentialsPath())
			fmt.Fprintf(w, "\n%s\n", config.GetConfigPrecedence())
			return nil
		},
	}

	cmd.AddCommand(showCmd, pathCmd)
	cmd.RunE = showCmd.RunE
	return cmd
}

// ---------------------------------------------------------------------------
// version command
// ---------------------------------------------------------------------------

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "airefiner version %s (%s)\n", version, commit)
			fmt.Fprintf(cmd.OutOrStdout(), "go version %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if m, _ := cmd.Flags().GetString("model"); m != "" {
		cfg.Model.Default = m
	}
	if l, _ := cmd.Flags().GetString("log-level"); l != "" {
		cfg.Log.Level = l
	}
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		cfg.Log.Level = "debug"
	}
}
