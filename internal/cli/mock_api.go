package cli

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/labelhub/supportdesk/internal/api/apitest"
	"github.com/labelhub/supportdesk/internal/logging"
)

func (a *app) newMockAPICmd() *cobra.Command {
	var (
		addr  string
		empty bool
	)

	cmd := &cobra.Command{
		Use:   "mock-api",
		Short: "Serve an in-memory support API for local development",
		Long: `Serve a fake support ticket API backed by memory.

The server requires the configured api.token, if any, and acts as the
configured session identity. Demo tickets are loaded unless --empty is set.`,
		Example: `  supportdesk mock-api --addr 127.0.0.1:8080
  supportdesk --base-url http://127.0.0.1:8080 tickets`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session := a.cfg.Session
			actor := apitest.Actor{ID: session.ActorID, Nickname: session.Nickname, Avatar: session.Avatar, IsAdmin: session.IsAdmin}
			fake := apitest.NewServer(apitest.Config{
				Token:          a.cfg.API.Token,
				Actor:          actor,
				MaxUploadBytes: a.cfg.Upload.MaxBytes,
			})
			if !empty {
				fake.SeedDemo()
			}

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return Exitf(ExitCodeFailure, "listening on %s: %v", addr, err)
			}
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "mock API listening on http://%s\n", ln.Addr()); err != nil {
				_ = ln.Close()
				return err
			}
			return serveListener(cmd.Context(), ln, fake.Handler())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().BoolVar(&empty, "empty", false, "start without demo tickets")

	return cmd
}

func (a *app) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the resolved configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := logging.RedactMap(a.loader.AllSettings())
			if a.opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), settings)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(settings); err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			return enc.Close()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			used := a.loader.ConfigFileUsed()
			if used == "" {
				used = "(none, defaults and environment only)"
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), used)
			return err
		},
	})

	return cmd
}
