package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/SikeGottem/agent-comms/internal/config"
	"github.com/SikeGottem/agent-comms/internal/httpapi"
	"github.com/SikeGottem/agent-comms/internal/otel"
	"github.com/SikeGottem/agent-comms/internal/store"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var errNotRunning = errors.New("agent-comms is not running")

// resolveConfig returns opts.Config, or the home config file with env overrides.
func resolveConfig(opts StartOptions) (config.File, error) {
	if opts.Config != nil {
		return *opts.Config, opts.Config.Validate()
	}
	cfg, err := config.Load(opts.Home)
	if err != nil {
		return cfg, err
	}
	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

func StartForeground(ctx context.Context, opts StartOptions) error {
	if opts.Home == "" {
		return errors.New("home is required")
	}
	cfg, err := resolveConfig(opts)
	if err != nil {
		return err
	}
	if cfg.Port == 0 {
		cfg.Port = config.Default().Port
	}

	// Ensure dirs exist.
	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return err
	}

	// Acquire singleton lock (released on exit).
	lock, err := acquireLock(lockPath(opts.Home))
	if err != nil {
		return err
	}
	defer lock.release()

	// Optional pprof.
	startPprof(opts.PprofAddr)

	// Ensure DB schema exists before serving (SQLite only; Postgres migrates on connect).
	if cfg.DBDriver != "postgres" {
		if err := store.EnsureSchema(opts.Home); err != nil {
			return err
		}
	}

	// Early port check for clearer error.
	if err := checkPortAvailable(cfg.Port); err != nil {
		return err
	}

	// Write PID + addr files.
	pid := os.Getpid()
	if err := os.WriteFile(pidPath(opts.Home), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return err
	}
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	_ = os.WriteFile(addrPath(opts.Home), []byte(addr+"\n"), 0o644)
	defer func() {
		_ = os.Remove(pidPath(opts.Home))
		_ = os.Remove(addrPath(opts.Home))
	}()

	srvOpts := httpapi.ServerOptions{
		Home:   opts.Home,
		Addr:   addr,
		Dev:    opts.Dev,
		Config: &cfg,
	}
	if cfg.Otel {
		metricsHandler, err := otel.InitMeterProvider(ctx, "agent-comms")
		if err != nil {
			slog.Warn("otel init failed, using plain metrics", "err", err)
		} else {
			srvOpts.MetricsHandler = metricsHandler
			srvOpts.UseOtelHTTP = true
		}
	}
	app, err := httpapi.NewApp(srvOpts)
	if err != nil {
		return err
	}
	if srvOpts.MetricsHandler != nil {
		if err := otel.InitMetricsWithTaskCount(ctx, app.Tasks.StatusCounts); err != nil {
			slog.Warn("otel instruments init failed", "err", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	slog.Info("daemon starting", "addr", addr, "home", opts.Home, "db", cfg.DBDriver)
	g.Go(func() error {
		err := app.Server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	var grpcSrv *grpc.Server
	if cfg.GRPCPort > 0 {
		grpcSrv = grpc.NewServer()
		hs := health.NewServer()
		hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		healthpb.RegisterHealthServer(grpcSrv, hs)
		lis, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", cfg.GRPCPort))
		if err != nil {
			_ = app.Server.Close()
			return fmt.Errorf("grpc port %d: %w", cfg.GRPCPort, err)
		}
		slog.Info("grpc health listening", "port", cfg.GRPCPort)
		g.Go(func() error {
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		})
	}

	if cfg.Tasks.SweepInterval > 0 {
		g.Go(func() error {
			runSweeper(gctx, app, cfg.Tasks.SweepInterval)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
		return app.Server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func StartBackground(ctx context.Context, opts StartOptions) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}

	// Ensure dirs exist before starting.
	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return 0, err
	}

	// Best-effort: refuse to start if already running.
	if st, _ := Status(ctx, opts.Home); st.Running {
		return 0, fmt.Errorf("agent-comms already running (pid %d)", st.PID)
	}

	logFile := filepath.Join(protectedDir(opts.Home), "daemon.log")
	stderr, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	// Kept open for child lifetime; closing here may break writes on some platforms.

	args := []string{"daemon", "--home", opts.Home}
	if c := opts.Config; c != nil {
		args = append(args, "--port", strconv.Itoa(c.Port))
		if c.GRPCPort > 0 {
			args = append(args, "--grpc-port", strconv.Itoa(c.GRPCPort))
		}
	}
	if opts.Dev {
		args = append(args, "--dev")
	}
	if opts.PprofAddr != "" {
		args = append(args, "--pprof", opts.PprofAddr)
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	setDaemonSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	// Wait briefly for pid file to appear or process to die.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := Status(ctx, opts.Home); st.Running {
			return st.PID, nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	// Fallback to started pid even if status isn't ready yet.
	return cmd.Process.Pid, nil
}

func Stop(ctx context.Context, home string) (bool, error) {
	st, err := Status(ctx, home)
	if err != nil {
		return false, err
	}
	if !st.Running {
		return false, nil
	}

	proc, err := os.FindProcess(st.PID)
	if err != nil {
		return false, errNotRunning
	}
	if err := signalTerm(proc); err != nil {
		return false, err
	}

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if st2, _ := Status(ctx, home); !st2.Running {
			return true, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = proc.Kill()
	return true, nil
}

func Status(ctx context.Context, home string) (StatusInfo, error) {
	pb, err := os.ReadFile(pidPath(home))
	if err != nil {
		return StatusInfo{Running: false}, nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(pb)))
	if err != nil || pid <= 0 {
		return StatusInfo{Running: false}, nil
	}

	if !processExists(pid) {
		_ = os.Remove(pidPath(home))
		return StatusInfo{Running: false}, nil
	}

	addr := ""
	if ab, err := os.ReadFile(addrPath(home)); err == nil {
		addr = strings.TrimSpace(string(ab))
	}
	if addr == "" {
		addr = "unknown"
	}
	return StatusInfo{Running: true, PID: pid, Addr: addr}, nil
}

func checkPortAvailable(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return fmt.Errorf("port %d is already in use", port)
	}
	_ = ln.Close()
	return nil
}
