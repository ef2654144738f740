package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"loaf/internal/config"
	"loaf/internal/logging"
	"loaf/internal/rpc"
	"loaf/internal/runtime"
	"loaf/internal/tools"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "loaf",
		Short:         "Local agent runtime: sessions, tools, and context compaction over JSON-RPC stdio",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default <data-dir>/config.yaml)")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newBashCmd(&configPath))
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadRuntime(configPath string, logToFile bool) (*runtime.Runtime, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.DataDir, logToFile)
	if err != nil {
		return nil, nil, fmt.Errorf("init logging: %w", err)
	}
	rt, err := runtime.New(cfg, logger, nil)
	if err != nil {
		return nil, nil, err
	}
	return rt, logger, nil
}

func newServeCmd(configPath *string) *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve JSON-RPC 2.0 over stdio for a frontend",
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout is the wire; logs go to the data dir.
			rt, logger, err := loadRuntime(*configPath, true)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer rt.Shutdown()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if session != "" {
				sess, err := rt.OpenSession(session)
				if err != nil {
					return err
				}
				if err := rt.AttachSessionTools(sess); err != nil {
					return err
				}
			}

			server := rpc.NewServer(rt, logger.Named("rpc"))
			logger.Info("serving json-rpc on stdio", zap.String("version", rpc.Version))
			return server.Serve(ctx, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "open this session (and register its tools) at startup")
	return cmd
}

func newBashCmd(configPath *string) *cobra.Command {
	var timeoutSeconds int
	var cwd string

	cmd := &cobra.Command{
		Use:   "bash -- <command>",
		Short: "Run one command through the stateful bash tool and print the result JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, logger, err := loadRuntime(*configPath, false)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer rt.Shutdown()

			sess, err := rt.OpenSession("cli")
			if err != nil {
				return err
			}
			if err := rt.AttachSessionTools(sess); err != nil {
				return err
			}

			input := map[string]interface{}{"command": args[0]}
			if timeoutSeconds > 0 {
				input["timeout_seconds"] = timeoutSeconds
			}
			if cwd != "" {
				input["cwd"] = cwd
			}

			res := rt.ExecuteTool(cmd.Context(), tools.Call{Name: "bash", Input: input})
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.OK {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "timeout in seconds (default 120, max 1200)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory override")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the loaf version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("loaf", rpc.Version)
		},
	}
}
