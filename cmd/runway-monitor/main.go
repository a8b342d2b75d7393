package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/signalsfoundry/runway-monitor/internal/config"
	"github.com/signalsfoundry/runway-monitor/internal/logging"
	"github.com/signalsfoundry/runway-monitor/internal/observability"
	"github.com/signalsfoundry/runway-monitor/internal/session"
	"github.com/signalsfoundry/runway-monitor/internal/status"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logging.New(cfg.LoggingConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, listeners{}); err != nil {
		log.Error(ctx, "runway monitor exited", logging.Err(err))
		os.Exit(1)
	}
}

// loadConfig layers defaults, the optional config file, RUNWAY_* variables
// and finally any flags given explicitly on the command line.
func loadConfig(args []string) (config.Config, error) {
	fs := flag.NewFlagSet("runway-monitor", flag.ContinueOnError)
	path := fs.String("config", "", "Path to a YAML or TOML config file")
	host := fs.String("host", "", "Scheduler backend host")
	port := fs.Int("port", 0, "Scheduler backend TCP port")
	priorities := fs.String("priorities", "", "Comma-separated plane priorities, e.g. 2,1,3")
	runways := fs.Int("runways", 0, "Number of runways")
	httpAddr := fs.String("http-addr", "", "HTTP status address (empty string disables)")
	grpcAddr := fs.String("grpc-addr", "", "gRPC health address (empty string disables)")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}

	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Backend.Host = *host
		case "port":
			cfg.Backend.Port = *port
		case "priorities":
			if err := cfg.SetPriorities(*priorities); err != nil {
				flagErr = err
			}
		case "runways":
			cfg.Session.Runways = *runways
		case "http-addr":
			cfg.Status.HTTPAddr = *httpAddr
		case "grpc-addr":
			cfg.Status.GRPCAddr = *grpcAddr
		}
	})
	if flagErr != nil {
		return cfg, flagErr
	}
	return cfg, cfg.Validate()
}

// listeners lets tests hand run pre-bound sockets. A nil listener is opened
// from the configured address, or skipped when the address is empty.
type listeners struct {
	http net.Listener
	grpc net.Listener
}

func (l *listeners) open(cfg config.Status) error {
	var err error
	if l.http == nil && cfg.HTTPAddr != "" {
		if l.http, err = net.Listen("tcp", cfg.HTTPAddr); err != nil {
			return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
		}
	}
	if l.grpc == nil && cfg.GRPCAddr != "" {
		if l.grpc, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
			if l.http != nil {
				_ = l.http.Close()
			}
			return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
		}
	}
	return nil
}

// run connects to the backend, starts one session and serves the status
// endpoints until the event stream ends or ctx is cancelled.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis listeners) error {
	tracingCfg := observability.TracingConfigFromEnv()
	tracingCfg.BackendAddr = cfg.WireSettings().Address()
	tracingCfg.Runways = cfg.Session.Runways
	tracingCfg.Planes = cfg.Session.Planes
	shutdownTracing, err := observability.InitTracing(ctx, tracingCfg, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewMonitorCollector(nil)
	if err != nil {
		return fmt.Errorf("initialise metrics collector: %w", err)
	}

	monitor := session.NewMonitor(cfg.SessionSettings(),
		session.WithLogger(log),
		session.WithMetrics(collector),
		session.WithSink(session.LogSink{Log: log}),
	)
	defer monitor.Close()

	if err := lis.open(cfg.Status); err != nil {
		return err
	}

	health := status.NewHealthServer(monitor, log)
	grpcSrv := status.NewGRPCServer(health, grpc.ChainUnaryInterceptor(
		status.RequestLoggingInterceptor(log),
		collector.UnaryServerInterceptor(),
	))
	httpSrv := &http.Server{
		Handler:           status.NewHTTPHandler(monitor, collector.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if lis.http != nil {
		log.Info(ctx, "serving HTTP status", logging.String("addr", lis.http.Addr().String()))
		g.Go(func() error {
			if err := httpSrv.Serve(lis.http); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http status server: %w", err)
			}
			return nil
		})
	}
	if lis.grpc != nil {
		log.Info(ctx, "serving gRPC health", logging.String("addr", lis.grpc.Addr().String()))
		g.Go(func() error {
			if err := grpcSrv.Serve(lis.grpc); err != nil {
				return fmt.Errorf("grpc health server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		health.Poll(gctx, status.DefaultHealthInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down status servers")
		grpcSrv.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		// The stream ending is the normal way out; take the servers down too.
		defer cancel()
		return runSession(gctx, monitor, health, cfg.Session.Priorities)
	})

	return g.Wait()
}

func runSession(ctx context.Context, monitor *session.Monitor, health *status.HealthServer, priorities []int) error {
	if err := monitor.Connect(ctx); err != nil {
		return err
	}
	health.Sync()

	// CONFIG goes out before the reader starts; the backend sends nothing
	// until it has it, so no frame can race the reset.
	if _, err := monitor.Start(ctx, priorities); err != nil {
		return err
	}

	err := monitor.Run(ctx)
	health.Sync()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
