package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/wellywell/wbtasks/internal/catalog"
	"github.com/wellywell/wbtasks/internal/config"
	"github.com/wellywell/wbtasks/internal/handlers"
	"github.com/wellywell/wbtasks/internal/ingest"
	"github.com/wellywell/wbtasks/internal/notify"
	"github.com/wellywell/wbtasks/internal/retry"
	"github.com/wellywell/wbtasks/internal/router"
	"github.com/wellywell/wbtasks/internal/sheets"
	"github.com/wellywell/wbtasks/internal/tracker"
	"github.com/wellywell/wbtasks/internal/wb"
)

func main() {
	conf, err := config.NewConfig()
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	limiter := retry.NewLimiter(time.Duration(conf.SheetsMinDelaySecs) * time.Second)
	client, err := sheets.NewClient(ctx, conf.SpreadsheetID, conf.CredentialsFile, limiter)
	if err != nil {
		panic(err)
	}
	store, err := sheets.NewStore(ctx, client)
	if err != nil {
		panic(err)
	}

	track := tracker.New(ctx, store)
	products := catalog.New(store)

	messenger, err := notify.NewTelegramMessenger(conf.TelegramToken)
	if err != nil {
		panic(err)
	}
	dispatcher := notify.NewDispatcher(store, messenger)

	sources := func(apiKey string) ingest.OrderSource {
		return wb.NewClient(apiKey, wb.Options{
			RetryAttempts: conf.WBRetryAttempts,
			RetryDelay:    time.Duration(conf.WBRetryDelaySecs) * time.Second,
			Cooldown:      time.Duration(conf.WBCooldownSecs) * time.Second,
		})
	}

	engine := ingest.NewEngine(store, track, products, dispatcher, sources, conf.MaxSupplyAgeDays)

	go runPolling(ctx, engine, conf.PollInterval())

	handlerSet := handlers.NewHandlerSet(engine)
	r := router.NewRouter(conf.RunAddress, handlerSet)

	if err := r.Run(ctx); err != nil {
		panic(err)
	}
}

// runPolling drives the processing loop. The first cycle starts right away,
// later ones on the ticker.
func runPolling(ctx context.Context, engine *ingest.Engine, interval time.Duration) {

	logger.Infof("Starting polling loop, interval %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	engine.ProcessCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Polling loop stopped")
			return
		case <-ticker.C:
			engine.ProcessCycle(ctx)
		}
	}
}
