// Command bridge starts the OpenAI-compatible adapter in front of a
// Companion-backed coding agent.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/igoryan-dao/ricochet/internal/command"
	"github.com/igoryan-dao/ricochet/internal/config"
	"github.com/igoryan-dao/ricochet/internal/contextmgr"
	"github.com/igoryan-dao/ricochet/internal/dispatcher"
	"github.com/igoryan-dao/ricochet/internal/httpserver"
	"github.com/igoryan-dao/ricochet/internal/logging"
	"github.com/igoryan-dao/ricochet/internal/pool"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "bridge",
		Short: "OpenAI-compatible adapter for a Companion-backed coding agent",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML/JSON config file")
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var flags config.FlagOverrides
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, flags)
		},
	}
	cmd.Flags().IntVar(&flags.Port, "port", 0, "adapter listen port (overrides ADAPTER_PORT)")
	cmd.Flags().StringVar(&flags.CompanionURL, "companion-url", "", "Companion base URL (overrides COMPANION_URL)")
	cmd.Flags().StringVar(&flags.ToolMode, "tool-mode", "", "auto|passthrough (overrides TOOL_MODE)")
	cmd.Flags().StringVar(&flags.PermissionMode, "permission-mode", "", "overrides PERMISSION_MODE")
	cmd.Flags().StringVar(&flags.ModelName, "model-name", "", "overrides MODEL_NAME")
	cmd.Flags().StringVar(&flags.SessionCwd, "session-cwd", "", "overrides SESSION_CWD")
	cmd.Flags().IntVar(&flags.MaxSessions, "max-sessions", 0, "overrides MAX_SESSIONS")
	cmd.Flags().StringVar(&flags.LogFormat, "log-format", "", "pretty|json (overrides LOG_FORMAT)")
	cmd.Flags().StringVar(&flags.LogLevel, "log-level", "", "overrides LOG_LEVEL")
	cmd.Flags().StringVar(&flags.ContextDir, "context-dir", "", "overrides CONTEXT_DIR")
	return cmd
}

// serve only carries forward the flags the operator actually set, so an
// unset flag's zero value never clobbers what Load already resolved from
// the environment or config file.
func serve(cmd *cobra.Command, flags config.FlagOverrides) error {
	var file *config.FileConfig
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("load config file: %w", err)
		}
		file = loaded
	}

	cfg := config.Load(file)
	config.ApplyFlagOverrides(cfg, setFlagsOnly(cmd, flags))
	logging.Init(cfg.LogFormat, cfg.LogLevel)

	strategy := config.InitialStrategy(file)
	register := config.NewRegister(strategy)

	p := pool.New(pool.Config{
		CompanionURL:       cfg.CompanionURL,
		PermissionMode:     cfg.PermissionMode,
		SessionCwd:         cfg.SessionCwd,
		MaxSessions:        cfg.MaxSessions,
		ResponseTimeout:    cfg.ResponseTimeout,
		SessionIdleTimeout: cfg.SessionIdleTimeout,
	}, cfg.PolicyEngine)

	manager := contextmgr.NewManager(cfg.ContextDir, cfg.SummaryTriggerPct, cfg.SummaryRecompactPct)
	interceptor := command.New(manager, p)

	d := &dispatcher.Dispatcher{
		Pool:            p,
		Manager:         manager,
		Register:        register,
		Commands:        interceptor,
		ModelName:       cfg.ModelName,
		ResponseTimeout: cfg.ResponseTimeout,
	}

	srv := &httpserver.Server{Pool: p, Dispatcher: d, Config: cfg}

	addr := fmt.Sprintf(":%d", cfg.AdapterPort)
	log.Info().Str("component", "main").Str("addr", addr).Str("companion_url", cfg.CompanionURL).Msg("starting bridge server")

	return http.ListenAndServe(addr, srv.Mux())
}

// setFlagsOnly clears every field of flags whose corresponding --flag
// wasn't explicitly passed, so ApplyFlagOverrides only ever sees the
// operator's actual intent rather than each flag's zero-value default.
func setFlagsOnly(cmd *cobra.Command, flags config.FlagOverrides) config.FlagOverrides {
	out := config.FlagOverrides{}
	set := cmd.Flags().Changed
	if set("port") {
		out.Port = flags.Port
	}
	if set("companion-url") {
		out.CompanionURL = flags.CompanionURL
	}
	if set("tool-mode") {
		out.ToolMode = flags.ToolMode
	}
	if set("permission-mode") {
		out.PermissionMode = flags.PermissionMode
	}
	if set("model-name") {
		out.ModelName = flags.ModelName
	}
	if set("session-cwd") {
		out.SessionCwd = flags.SessionCwd
	}
	if set("max-sessions") {
		out.MaxSessions = flags.MaxSessions
	}
	if set("log-format") {
		out.LogFormat = flags.LogFormat
	}
	if set("log-level") {
		out.LogLevel = flags.LogLevel
	}
	if set("context-dir") {
		out.ContextDir = flags.ContextDir
	}
	return out
}
