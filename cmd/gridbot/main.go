package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vh7889/OKX-bot/internal/config"
	"github.com/vh7889/OKX-bot/internal/dotenv"
	"github.com/vh7889/OKX-bot/internal/grid"
	"github.com/vh7889/OKX-bot/internal/journal"
	"github.com/vh7889/OKX-bot/internal/ledger"
	"github.com/vh7889/OKX-bot/internal/logging"
	"github.com/vh7889/OKX-bot/internal/metrics"
	"github.com/vh7889/OKX-bot/internal/notify"
	"github.com/vh7889/OKX-bot/internal/okx"
	"github.com/vh7889/OKX-bot/internal/okxws"
	"github.com/vh7889/OKX-bot/internal/stream"
)

func main() {
	log.SetFlags(0)
	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	cfg, err := config.Parse(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[fatal] invalid configuration:\n%v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("grid bot stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))
	logger.Info("OKX grid bot starting", cfg.Summary()...)

	client, err := okx.NewClient(cfg.RESTURL, cfg.Credentials, cfg.Simulated)
	if err != nil {
		return err
	}
	gw, err := okx.NewGateway(client, okx.GatewayConfig{
		InstID:        cfg.InstID,
		InstType:      cfg.InstType,
		TdMode:        cfg.TdMode,
		ContractValue: cfg.ContractValue,
	})
	if err != nil {
		return err
	}

	// Bad credentials must stop startup, not surface on the first fill.
	eqCtx, eqCancel := context.WithTimeout(ctx, cfg.GatewayTimeout)
	equity, err := gw.AccountEquity(eqCtx)
	eqCancel()
	switch {
	case okx.IsAuth(err):
		return err
	case err != nil:
		logger.Warn("account equity unavailable at startup", zap.Error(err))
	default:
		logger.Info("account equity", zap.String("total_eq", equity.StringFixed(2)))
	}

	led, err := ledger.OpenBackend(cfg.LedgerBackend, cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := led.Close(); err != nil {
			logger.Warn("ledger close", zap.Error(err))
		}
	}()
	logger.Info("ledger opened",
		zap.String("backend", cfg.LedgerBackend),
		zap.Int("orders", led.Len()),
		zap.Bool("seeded", led.Seeded()),
	)

	jw := journal.New(cfg.JournalPath, runID, logger.Named("journal"))
	defer func() {
		if err := jw.Close(); err != nil {
			logger.Warn("journal close", zap.Error(err))
		}
	}()
	startedAt := time.Now()
	jw.Record(journal.Event{Event: journal.EventStart, InstID: cfg.InstID})

	var base grid.Notifier = notify.NewLog(logger.Named("notify"))
	if cfg.FeishuToken != "" {
		f, err := notify.NewFeishu(cfg.FeishuToken, notify.FeishuOptions{
			Title:     cfg.FeishuTitle,
			InstLabel: cfg.InstID,
			Equity:    gw,
		})
		if err != nil {
			return err
		}
		base = f
	}
	notifier := notify.NewAsync(base, cfg.NotifyQueue, logger.Named("notify"))

	engine, err := grid.New(grid.Config{
		InstID:         cfg.InstID,
		PriceDecimals:  int32(cfg.PriceDecimals),
		GatewayTimeout: cfg.GatewayTimeout,
	}, cfg.GridSides(), grid.Deps{
		Gateway:  gw,
		Ledger:   led,
		Notifier: notifier,
		Journal:  jw,
		Log:      logger.Named("grid"),
	})
	if err != nil {
		return err
	}

	dispatcher, err := stream.New(stream.Config{
		InstID:         cfg.InstID,
		InstType:       cfg.InstType,
		Credentials:    cfg.Credentials,
		ContractValue:  cfg.ContractValue,
		ReconnectDelay: cfg.ReconnectDelay,
	}, stream.OKXDialer(cfg.WSURL, okxws.Options{}), engine, jw, logger.Named("stream"))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		notifier.Run()
		return nil
	})
	g.Go(func() error {
		err := dispatcher.Run(gctx)
		// Stop the rest of the group once the stream is gone; drain
		// notifications already queued.
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := notifier.Close(closeCtx); cerr != nil {
			logger.Warn("notification drain incomplete", zap.Error(cerr))
		}
		return err
	})
	// Metrics are optional: a listener problem is logged and trading goes on.
	if cfg.MetricsAddr != "" {
		srv, ln, err := openMetrics(cfg.MetricsAddr)
		if err != nil {
			logger.Warn("metrics disabled", zap.String("addr", cfg.MetricsAddr), zap.Error(err))
		} else {
			g.Go(func() error {
				logger.Info("metrics listening", zap.String("addr", ln.Addr().String()))
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Warn("metrics server stopped", zap.Error(err))
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutCtx); err != nil {
					logger.Warn("metrics shutdown", zap.Error(err))
				}
				return nil
			})
		}
	}

	err = g.Wait()
	sides := engine.Sides()
	for _, s := range sides {
		logger.Info("final grid side",
			zap.String("side", string(s.Side)),
			zap.String("position", s.Position.String()),
			zap.Int64("take_profits", s.TakeProfitCount),
		)
	}
	jw.Record(journal.Event{
		Event:    journal.EventShutdown,
		InstID:   cfg.InstID,
		UptimeMs: time.Since(startedAt).Milliseconds(),
	})
	if err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// openMetrics binds the metrics address up front so a bad or busy address is
// reported before the stream starts.
func openMetrics(addr string) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	return &http.Server{Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}, ln, nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}
