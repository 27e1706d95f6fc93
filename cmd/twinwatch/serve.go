package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/loykin/twinwatch/internal/auth"
	"github.com/loykin/twinwatch/internal/config"
	"github.com/loykin/twinwatch/internal/detector"
	"github.com/loykin/twinwatch/internal/history"
	"github.com/loykin/twinwatch/internal/history/factory"
	"github.com/loykin/twinwatch/internal/launcher"
	"github.com/loykin/twinwatch/internal/logger"
	"github.com/loykin/twinwatch/internal/metrics"
	"github.com/loykin/twinwatch/internal/server"
	twtls "github.com/loykin/twinwatch/internal/tls"
	"github.com/loykin/twinwatch/internal/watchdog"
)

const shutdownTimeout = 5 * time.Second

// daemon is everything serve runs: the watchdog, the processes it launched,
// and the HTTP listeners.
type daemon struct {
	cfg       *config.Config
	log       *slog.Logger
	wd        *watchdog.Watchdog
	sinks     history.Multi
	launchers []*launcher.CommandRestarter
	api       *http.Server
	apiLn     net.Listener
	metrics   *http.Server
	metricsLn net.Listener
}

func runServe(flags *ServeFlags, args []string) error {
	path := flags.ConfigPath
	if len(args) > 0 {
		path = args[0]
	}
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.Daemonize {
		if err := checkPidFile(flags.PidFile); err != nil {
			return err
		}
		pid, err := spawnDaemon(flags.LogFile)
		if err != nil {
			return err
		}
		fmt.Printf("twinwatch daemon started with pid %d\n", pid)
		return nil
	}

	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = closer.Close() }()
	slog.SetDefault(log)
	gin.SetMode(gin.ReleaseMode)

	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile, os.Getpid()) }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, log)
	if err != nil {
		return err
	}
	loader.Watch(func(next *config.Config, err error) {
		if err != nil {
			log.Warn("config reload rejected", "error", err)
			return
		}
		got := d.wd.SetInterval(next.Watchdog.CheckInterval)
		log.Info("config reloaded", "check_interval", got)
	})
	return d.run(ctx)
}

// newDaemon wires the watchdog from cfg, launches or adopts configured
// processes and binds the listeners. Nothing is served until run.
func newDaemon(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *daemon, err error) {
	d := &daemon{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			d.close()
		}
	}()

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	d.sinks, err = factory.NewSinks(cfg.History.DSNs)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	d.wd, err = watchdog.New(cfg.Watchdog, watchdog.WithLogger(log), watchdog.WithHistory(d.sinks))
	if err != nil {
		return nil, err
	}
	if err := d.registerProcesses(ctx); err != nil {
		return nil, err
	}
	if cfg.Server.Enabled {
		if err := d.setupAPI(); err != nil {
			return nil, err
		}
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen != "" {
		ln, err := net.Listen("tcp", cfg.Metrics.Listen)
		if err != nil {
			return nil, fmt.Errorf("metrics listen: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		d.metricsLn = ln
		d.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}
	return d, nil
}

func (d *daemon) registerProcesses(ctx context.Context) error {
	base, err := d.cfg.GlobalEnv()
	if err != nil {
		return err
	}
	for _, p := range d.cfg.Processes {
		r := &launcher.CommandRestarter{
			ID:          p.ID,
			Command:     p.Command,
			WorkDir:     p.WorkDir,
			Env:         p.Env,
			LogFile:     p.LogFile,
			PIDFile:     p.PIDFile,
			Rotation:    p.Rotation,
			BaseEnv:     base,
			StopTimeout: p.StopTimeout,
			Logger:      d.log,
		}
		pid := p.PID
		if pid == 0 && p.PIDFile != "" {
			if got, err := detector.ReadPIDFile(p.PIDFile); err == nil && detector.IsRunning(got) {
				pid = got
			}
		}
		switch {
		case pid > 0:
			r.Adopt(pid)
			d.log.Info("adopted running process", "id", p.ID, "pid", pid)
		case p.Command != "":
			// a failed start is left to the restart policy
			if pid, err = r.Start(ctx); err != nil {
				d.log.Warn("initial start failed", "id", p.ID, "error", err)
			}
		default:
			d.log.Warn("process not running and has no command", "id", p.ID)
		}
		d.launchers = append(d.launchers, r)
		d.wd.RegisterProcess(p.ID, pid, p.LogFile, r, p.ProcessType())
	}
	return nil
}

func (d *daemon) setupAPI() error {
	sc := d.cfg.Server
	authSvc, err := auth.New(sc.Auth)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	tlsCfg, err := twtls.Setup(sc.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	d.api = server.NewServer(sc.Listen, sc.BasePath, d.wd, server.Options{
		Auth:         authSvc,
		RunOnceRate:  rate.Limit(sc.RunOnceRate),
		RunOnceBurst: sc.RunOnceBurst,
		History:      d.sinks.Reader(),
		Logger:       d.log,
	})
	d.api.TLSConfig = tlsCfg
	d.apiLn, err = net.Listen("tcp", sc.Listen)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

// run starts the scheduler and serves until ctx is done or a listener fails.
func (d *daemon) run(ctx context.Context) error {
	defer d.close()
	d.wd.Start()

	g, gctx := errgroup.WithContext(ctx)
	if d.api != nil {
		proto := "http"
		if d.api.TLSConfig != nil {
			proto = "https"
		}
		d.log.Info("admin API listening", "addr", d.apiLn.Addr().String(), "proto", proto, "base_path", d.cfg.Server.BasePath)
		g.Go(func() error {
			var err error
			if d.api.TLSConfig != nil {
				err = d.api.ServeTLS(d.apiLn, "", "")
			} else {
				err = d.api.Serve(d.apiLn)
			}
			return serveErr("admin API", err)
		})
	}
	if d.metrics != nil {
		d.log.Info("metrics listening", "addr", d.metricsLn.Addr().String())
		g.Go(func() error { return serveErr("metrics", d.metrics.Serve(d.metricsLn)) })
	}
	g.Go(func() error {
		<-gctx.Done()
		d.log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, s := range []*http.Server{d.api, d.metrics} {
			if s != nil {
				errs = append(errs, s.Shutdown(sctx))
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

// close stops the scheduler and releases sinks. Launched processes keep
// running; their pid files let the next serve adopt them.
func (d *daemon) close() {
	if d.wd != nil {
		d.wd.Stop()
	}
	for _, c := range []io.Closer{d.apiLn, d.metricsLn} {
		if c != nil {
			_ = c.Close()
		}
	}
	if d.sinks != nil {
		if err := d.sinks.Close(); err != nil {
			d.log.Warn("closing history sinks", "error", err)
		}
	}
}

func serveErr(name string, err error) error {
	if err == nil || errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}
