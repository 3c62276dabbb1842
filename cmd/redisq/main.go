// Command redisq is the single entrypoint exposing both runtime roles
// (spec §6 "CLI"): `worker` runs the poll/claim/execute loop, `server`
// runs the read-only introspection HTTP surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/geocoder89/redisq/internal/config"
	"github.com/geocoder89/redisq/internal/cron"
	"github.com/geocoder89/redisq/internal/functions"
	"github.com/geocoder89/redisq/internal/httpapi"
	"github.com/geocoder89/redisq/internal/introspect"
	"github.com/geocoder89/redisq/internal/notifications"
	"github.com/geocoder89/redisq/internal/observability"
	"github.com/geocoder89/redisq/internal/queue/keys"
	"github.com/geocoder89/redisq/internal/queue/redisclient"
	"github.com/geocoder89/redisq/internal/queue/store"
	"github.com/geocoder89/redisq/internal/queue/worker"
)

const version = "0.1.0"

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "-V", "-version", "--version":
		fmt.Println("redisq " + version)
		os.Exit(0)
	case "worker":
		runWorkerCmd(os.Args[2:])
	case "server":
		runServerCmd(os.Args[2:])
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: redisq <worker|server> [flags]")
	fmt.Fprintln(os.Stderr, "       redisq -V")
}

func runWorkerCmd(args []string) {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	burst := fs.Bool("burst", false, "exit once the queue drains instead of polling forever")
	check := fs.Bool("check", false, "exit 0 iff a fresh health record exists, else 1")
	watchDir := fs.String("watch", "", "poll this directory's mtime and re-exec on change")
	verbose := fs.Bool("v", false, "debug logging")
	fs.Parse(args)

	cfg := config.Load()
	if *verbose {
		cfg.Env = "dev"
	}

	logger := observability.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(context.Background(), "redisq-worker", "localhost:4317")
	if err != nil {
		log.Fatalf("otel init failed: %v", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	rc, err := redisclient.Dial(ctx, cfg.Redis)
	if err != nil {
		slog.Default().ErrorContext(ctx, "redis connect failed", "err", err)
		os.Exit(1)
	}
	defer rc.Close()

	schema := keys.New(keys.DefaultPrefix)
	st := store.New(rc.Raw(), schema, prom)

	if *check {
		blob, err := st.GetHealthCheck(ctx, cfg.Worker.WorkerName)
		if err != nil || blob == "" {
			os.Exit(1)
		}
		os.Exit(0)
	}

	baseNotifier := notifications.NewLogNotifier()
	notifier := notifications.NewProtectedNotifier(baseNotifier, notifications.ProtectedNotifierConfig{
		Timeout:          2 * time.Second,
		FailureThreshold: 3,
		Cooldown:         15 * time.Second,
		HalfOpenMaxCalls: 1,
	})

	registry := functions.NewRegistry(
		functions.NamedFunc{Name: "say_hi", Func: functions.SayHi},
		functions.NamedFunc{Name: "say_hello", Func: functions.SayHello},
		functions.NamedFunc{Name: "notify", Func: functions.NotifyFunc(notifier)},
		functions.NamedFunc{Name: "run_cron", Func: functions.RunCron},
	)

	cronJobs := []cron.Entry{
		{
			Name:     "run_cron_every_minute",
			Func:     "run_cron",
			Second:   cron.Set(0),
			Unique:   true,
			MaxTries: 1,
			Timeout:  30 * time.Second,
		},
	}

	wcfg := worker.Config{
		Functions: registry,
		CronJobs:  cronJobs,

		QueueName:  cfg.Worker.QueueName,
		WorkerName: cfg.Worker.WorkerName,

		MaxJobs:    cfg.Worker.MaxJobs,
		JobTimeout: cfg.Worker.JobTimeout,

		KeepResult:        cfg.Worker.KeepResult,
		KeepResultForever: cfg.Worker.KeepResultForever,

		PollDelay: cfg.Worker.PollDelay,

		MaxTries:       cfg.Worker.MaxTries,
		RetryJobs:      cfg.Worker.RetryJobs,
		AllowAbortJobs: cfg.Worker.AllowAbortJobs,

		HealthCheckInterval: cfg.Worker.HealthCheckInterval,
		ShutdownGrace:       cfg.Worker.ShutdownGrace,
		HealthAddr:          cfg.Worker.HealthAddr,
		Burst:               *burst,
	}

	w := worker.New(wcfg, st, prom)
	w.PromRegistry = reg

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	reexec := make(chan os.Signal, 1)
	signal.Notify(reexec, syscall.SIGUSR1)
	var reexecRequested atomic.Bool
	go func() {
		select {
		case <-reexec:
			slog.Default().InfoContext(ctx, "worker.reexec_signal_received")
			reexecRequested.Store(true)
			cancelRun()
		case <-ctx.Done():
		}
	}()

	if *watchDir != "" {
		go watchAndReexec(ctx, *watchDir, reexec)
	}

	slog.Default().InfoContext(ctx, "worker.start",
		"worker_name", cfg.Worker.WorkerName,
		"queue", cfg.Worker.QueueName,
		"health_addr", cfg.Worker.HealthAddr,
		"burst", *burst,
	)

	runErr := w.Run(runCtx)
	if runErr != nil {
		slog.Default().ErrorContext(ctx, "worker.run_failed", "err", runErr)
		os.Exit(1)
	}

	if reexecRequested.Load() {
		// worker has drained; re-exec into a fresh process image with the
		// same argv/env (spec §4.F "--watch"/SIGUSR1).
		slog.Default().InfoContext(context.Background(), "worker.reexec")
		execSelf()
	}

	slog.Default().InfoContext(context.Background(), "worker.shutdown_complete")
}

func execSelf() {
	self, err := os.Executable()
	if err != nil {
		log.Printf("reexec: could not resolve executable path: %v", err)
		return
	}
	if err := syscall.Exec(self, os.Args, os.Environ()); err != nil {
		log.Printf("reexec: exec failed: %v", err)
	}
}

func runServerCmd(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	host := fs.String("host", "", "override SERVER_HOST")
	port := fs.Int("port", 0, "override SERVER_PORT")
	fs.Parse(args)

	cfg := config.Load()
	if *host != "" {
		cfg.ServerHost = *host
	}
	if *port != 0 {
		cfg.ServerPort = *port
	}

	logger := observability.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(context.Background(), "redisq-server", "localhost:4317")
	if err != nil {
		log.Fatalf("otel init failed: %v", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	rc, err := redisclient.Dial(ctx, cfg.Redis)
	if err != nil {
		slog.Default().ErrorContext(ctx, "redis connect failed", "err", err)
		os.Exit(1)
	}
	defer rc.Close()

	schema := keys.New(keys.DefaultPrefix)
	st := store.New(rc.Raw(), schema, prom)
	reader := introspect.New(st, schema, 2*time.Second)

	router := httpapi.NewRouter(reader, prom)
	addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Default().InfoContext(ctx, "server.start", "addr", addr)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Default().ErrorContext(ctx, "server.run_failed", "err", err)
		os.Exit(1)
	}
}

// watchAndReexec polls dir's mtime (no fsnotify dependency appears in any
// full example repo, so mtime-polling stands in for it - see DESIGN.md)
// and signals the same SIGUSR1 path the operator would use manually
// (spec §4.F "--watch").
func watchAndReexec(ctx context.Context, dir string, reexec chan<- os.Signal) {
	info, err := os.Stat(dir)
	if err != nil {
		slog.Default().ErrorContext(ctx, "watch: stat failed", "dir", dir, "err", err)
		return
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(dir)
			if err != nil {
				continue
			}
			if info.ModTime().After(lastMod) {
				slog.Default().InfoContext(ctx, "watch: change detected, triggering reexec", "dir", dir)
				lastMod = info.ModTime()
				select {
				case reexec <- syscall.SIGUSR1:
				default:
				}
			}
		}
	}
}
