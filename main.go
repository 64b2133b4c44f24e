package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"

	"itemsentry/sentry"
)

func main() {}

const (
	auditConfigFile   = "audit.json"
	catalogueFile     = "catalogue.json"
	defaultTickPeriod = time.Second
)

// noinspection GoUnusedExportedFunction
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	initStart := time.Now()

	logger.Info("Loading Itemsentry Nakama plugin...")

	system, err := sentry.Init(ctx, logger, nk, initializer, auditConfigFile, catalogueFile)
	if err != nil {
		logger.Error("Failed to initialize audit system: %v", err)
		return err
	}

	period := defaultTickPeriod
	if config, ok := system.GetConfig().(*sentry.AuditConfig); ok && config.TickIntervalMs > 0 {
		period = time.Duration(config.TickIntervalMs) * time.Millisecond
	}
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				system.Tick(ctx, logger, nk)
			}
		}
	}()

	logger.Info("Itemsentry Nakama plugin loaded in '%d' msec.", time.Now().Sub(initStart).Milliseconds())
	return nil
}
