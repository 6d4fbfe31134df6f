package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/SikeGottem/agent-comms/internal/config"
	"github.com/SikeGottem/agent-comms/internal/daemon"
	"github.com/spf13/cobra"
)

// serveFlags are the flags shared by start and the hidden daemon command.
// Each overrides the config file and env only when set on the command line.
type serveFlags struct {
	port      int
	grpcPort  int
	dev       bool
	pprofAddr string
	dbDriver  string
	dbURL     string
	otel      bool
	logLevel  string
	logFormat string
}

func (sf *serveFlags) register(cmd *cobra.Command) {
	def := config.Default()
	cmd.Flags().IntVar(&sf.port, "port", def.Port, "HTTP port")
	cmd.Flags().IntVar(&sf.grpcPort, "grpc-port", 0, "gRPC health port (0 disables)")
	cmd.Flags().BoolVar(&sf.dev, "dev", false, "Enable dev mode (permissive CORS)")
	cmd.Flags().StringVar(&sf.pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().StringVar(&sf.dbDriver, "db-driver", def.DBDriver, "Store driver: sqlite or postgres")
	cmd.Flags().StringVar(&sf.dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	cmd.Flags().BoolVar(&sf.otel, "otel", def.Otel, "Enable OpenTelemetry metrics (Prometheus exporter at /metrics)")
	cmd.Flags().StringVar(&sf.logLevel, "log-level", def.LogLevel, "debug, info, warn or error")
	cmd.Flags().StringVar(&sf.logFormat, "log-format", def.LogFormat, "text or json")
}

// resolve layers config file, env and changed flags into one validated config.
func (sf *serveFlags) resolve(cmd *cobra.Command, home string) (*config.File, error) {
	cfg, err := config.Load(home)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	fl := cmd.Flags()
	if fl.Changed("port") {
		cfg.Port = sf.port
	}
	if fl.Changed("grpc-port") {
		cfg.GRPCPort = sf.grpcPort
	}
	if fl.Changed("db-driver") {
		cfg.DBDriver = sf.dbDriver
	}
	if fl.Changed("db-url") {
		cfg.DBURL = sf.dbURL
		if !fl.Changed("db-driver") {
			cfg.DBDriver = "postgres"
		}
	}
	if fl.Changed("otel") {
		cfg.Otel = sf.otel
	}
	if fl.Changed("log-level") {
		cfg.LogLevel = sf.logLevel
	}
	if fl.Changed("log-format") {
		cfg.LogFormat = sf.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setupLogging installs the default slog logger for the daemon process.
func setupLogging(cfg *config.File) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func newStartCmd() *cobra.Command {
	var (
		sf         serveFlags
		foreground bool
		envFile    string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the agent-comms hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := config.LoadEnvFile(envFile); err != nil {
					return err
				}
			}
			home := config.MustHomeFrom(cmd.Context())
			cfg, err := sf.resolve(cmd, home)
			if err != nil {
				return err
			}

			opts := daemon.StartOptions{
				Home:      home,
				Dev:       sf.dev,
				PprofAddr: sf.pprofAddr,
				Config:    cfg,
			}
			addr := fmt.Sprintf("http://localhost:%d", cfg.Port)

			if foreground {
				setupLogging(cfg)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Starting agent-comms in foreground on %s\n", addr)
				return daemon.StartForeground(cmd.Context(), opts)
			}

			pid, err := daemon.StartBackground(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "agent-comms started (pid %d)\n", pid)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "API: %s\n", addr)
			return nil
		},
	}

	sf.register(cmd)
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in foreground (do not daemonize)")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load env vars from file (KEY=VALUE per line) before starting")
	return cmd
}
