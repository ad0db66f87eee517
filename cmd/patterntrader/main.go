package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pattern-trader/internal/alert"
	"pattern-trader/internal/config"
	"pattern-trader/internal/engine"
	"pattern-trader/internal/exchange/binance"
	"pattern-trader/internal/logging"
	"pattern-trader/internal/metrics"
	"pattern-trader/internal/safety"
	"pattern-trader/internal/store"
)

func main() {
	var configPath, envPath string
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.StringVar(&envPath, "env", ".env", "dotenv file with secrets")
	flag.Parse()

	if err := config.LoadEnv(envPath); err != nil {
		fatal(err.Error())
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	logger, closeLog, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		fatal(err.Error())
	}
	defer closeLog()
	instanceID := uuid.NewString()
	logger = logger.With(zap.String("mode", string(cfg.Mode)), zap.String("instance_id", instanceID))

	if err := run(configPath, cfg, instanceID, logger); err != nil {
		logger.Error("exit", zap.Error(err))
		closeLog()
		os.Exit(1)
	}
}

// run wires the process. Exchange, state, log and notification settings are
// read once at startup; trading settings are reloaded by the runner every
// cycle.
func run(configPath string, cfg config.Config, instanceID string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stateDir := filepath.Join(cfg.State.Dir, string(cfg.Mode))
	st, err := store.New(stateDir, logger)
	if err != nil {
		return err
	}
	lock, err := store.AcquireLock(stateDir, instanceID, store.LockOptions{
		Takeover:   *cfg.State.LockTakeover,
		StaleAfter: time.Duration(cfg.State.LockStaleSec) * time.Second,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("lock_release_failed", zap.Error(err))
		}
	}()
	journal, err := st.OpenJournal()
	if err != nil {
		return err
	}
	defer func() {
		if err := journal.Close(); err != nil {
			logger.Warn("journal_close_failed", zap.Error(err))
		}
	}()

	alerts := buildAlertManager(cfg, logger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := alerts.Close(closeCtx); err != nil {
			logger.Warn("alert_close_failed", zap.Error(err))
		}
	}()

	m := metrics.New()
	if cfg.Metrics.ListenAddr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           m.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics_server_failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("metrics_listening", zap.String("addr", cfg.Metrics.ListenAddr))
	}

	client, err := binance.NewClient(cfg.Exchange)
	if err != nil {
		return err
	}
	defer client.Close()
	client.SetAlerter(alerts)
	client.SetLogger(logger)

	breaker := safety.NewBreakerFromConfig(cfg.CircuitBreaker)
	breaker.SetLogger(logger)
	breaker.SetAlerter(alerts)

	runner := &engine.Runner{
		Exchange:   safety.NewGuardedExchange(client, breaker),
		Journal:    journal,
		Notifier:   alerts,
		Metrics:    m,
		Status:     st,
		Load:       func() (config.Config, error) { return config.Load(configPath) },
		Logger:     logger,
		Mode:       string(cfg.Mode),
		InstanceID: instanceID,
	}
	logger.Info("runner_started",
		zap.Int("pairs", len(cfg.SymbolPairs)),
		zap.Bool("continuous", cfg.Continuous),
		zap.String("state_dir", stateDir),
	)
	alerts.Important("runner_started", map[string]string{"instance_id": instanceID})
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

// buildNotifier returns nil when no channel is enabled.
func buildNotifier(cfg config.NotifyConfig) alert.Notifier {
	var out alert.Multi
	if email := alert.NewEmailNotifier(cfg.Email); email != nil {
		out = append(out, email)
	}
	if cfg.Telegram.Enabled {
		out = append(out, alert.NewTelegramNotifierFromConfig(cfg.Telegram))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func buildAlertManager(cfg config.Config, logger *zap.Logger) *alert.Manager {
	notifier := buildNotifier(cfg.Notify)
	if notifier == nil {
		return nil
	}
	return alert.NewManagerWithOptions(string(cfg.Mode), notifier, alert.ManagerOptions{
		QueueSize:     cfg.Notify.QueueSize,
		ErrorThrottle: time.Duration(cfg.Notify.ErrorThrottleSec) * time.Second,
		Logger:        logger,
	})
}
