// Package cli implements the supportdesk command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/labelhub/supportdesk/internal/config"
	"github.com/labelhub/supportdesk/internal/logging"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configFile string
	envFile    string
	baseURL    string
	token      string
	actor      string
	statePath  string
	logLevel   string
	logFormat  string
	noColor    bool
	jsonOutput bool
}

// app holds the loaded configuration for one invocation.
type app struct {
	opts   rootOptions
	loader *config.Loader
	cfg    *config.Config
}

// Execute runs the supportdesk command tree.
func Execute(ctx context.Context, version string) error {
	return newRootCmd(version).ExecuteContext(ctx)
}

func newRootCmd(version string) *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "supportdesk",
		Short:         "Work the label support inbox from the terminal",
		Long:          "supportdesk lists support tickets, shows conversations and replies to artists.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.opts.configFile, "config", "", "config file (default: ~/.config/supportdesk/config.yaml)")
	flags.StringVar(&a.opts.envFile, "env-file", ".env", "dotenv file read before the environment (empty disables)")
	flags.StringVar(&a.opts.baseURL, "base-url", "", "support API base URL")
	flags.StringVar(&a.opts.token, "token", "", "support API bearer token")
	flags.StringVar(&a.opts.actor, "actor", "", "agent user id, used to mark your own reactions")
	flags.StringVar(&a.opts.statePath, "state", "", "draft and preference database (\":memory:\" keeps nothing)")
	flags.StringVar(&a.opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&a.opts.logFormat, "log-format", "", "log format (console, json)")
	flags.BoolVar(&a.opts.noColor, "no-color", false, "disable colored output")
	flags.BoolVar(&a.opts.jsonOutput, "json", false, "print JSON instead of formatted text")

	cmd.AddCommand(
		a.newTicketsCmd(),
		a.newShowCmd(),
		a.newReplyCmd(),
		a.newReactCmd(),
		a.newDeleteCmd(),
		a.newStatusCmd(),
		a.newWatchCmd(),
		a.newMockAPICmd(),
		a.newConfigCmd(),
	)

	return cmd
}

// load resolves configuration with flags applied last, then sets up logging.
func (a *app) load(cmd *cobra.Command) error {
	loader := config.NewLoader()
	loader.SetConfigFile(a.opts.configFile)
	loader.SetEnvFile(a.opts.envFile)

	overrides := []struct {
		flag  string
		key   string
		value any
	}{
		{"base-url", "api.base_url", a.opts.baseURL},
		{"token", "api.token", a.opts.token},
		{"actor", "session.actor_id", a.opts.actor},
		{"state", "state.path", a.opts.statePath},
		{"log-level", "logging.level", a.opts.logLevel},
		{"log-format", "logging.format", a.opts.logFormat},
	}
	for _, o := range overrides {
		if cmd.Flags().Changed(o.flag) {
			loader.Set(o.key, o.value)
		}
	}

	cfg, err := loader.Load()
	if err != nil {
		return &ExitError{Code: ExitCodeUsage, Err: err}
	}

	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cmd.ErrOrStderr(),
		NoColor:      a.opts.noColor,
		EnableCaller: cfg.Logging.EnableCaller,
	})

	a.loader = loader
	a.cfg = cfg
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
