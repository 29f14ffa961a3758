package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	appDisbursement "github.com/cassiomorais/disbursements/internal/application/disbursement"
	"github.com/cassiomorais/disbursements/internal/bootstrap"
	"github.com/cassiomorais/disbursements/internal/controller"
	infraRedis "github.com/cassiomorais/disbursements/internal/infrastructure/redis"
	"github.com/cassiomorais/disbursements/internal/repository/postgres"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "disbursements-api", "disbursements")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	svc, err := app.NewServices()
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to build services")
	}

	registerUnits := appDisbursement.NewRegisterUnitsUseCase(svc.Units, svc.TxManager, svc.Addresses)
	listUnits := appDisbursement.NewListUnitsUseCase(svc.Units)
	listNotes := appDisbursement.NewListNotesUseCase(svc.Notes)
	getBalance := appDisbursement.NewGetBalanceUseCase(svc.Settings, svc.Backends)

	// Settings are only editable when they live in the database; a nil
	// *SettingsRepository must stay a nil interface.
	var settingsStore controller.SettingsStore
	if svc.SettingsStore != nil {
		settingsStore = svc.SettingsStore
	}

	dcfg := app.Config.Disbursement
	disbursements := controller.NewDisbursementController(svc.Producer, svc.Engine, registerUnits, listUnits, listNotes).
		WithSyncRuns(func(orderID string) controller.OrderLocker {
			return infraRedis.NewOrderLock(app.Redis, orderID, dcfg.LockTTL)
		}, dcfg.ProcessingTimeout)

	router := controller.NewRouter(controller.RouterDeps{
		Health: controller.NewHealthController(map[string]controller.Pinger{
			"database": controller.PostgresPinger(app.Pool),
			"redis":    controller.RedisPinger(app.Redis),
		}),
		Disbursements:    disbursements,
		Addresses:        controller.NewAddressController(svc.Addresses),
		Backend:          controller.NewBackendController(getBalance, settingsStore),
		IdempotencyStore: postgres.NewIdempotencyRepository(app.Pool),
		IdempotencyTTL:   app.Config.Worker.IdempotencyTTL,
		Metrics:          app.Metrics,
		CORSConfig:       app.Config.Server.CORS,
		RateLimit:        app.Config.Server.RateLimit,
		JWTSecret:        app.Config.Auth.JWTSecret,
	})

	srvCfg := app.Config.Server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", srvCfg.Port),
		Handler:      router,
		ReadTimeout:  srvCfg.ReadTimeout,
		WriteTimeout: srvCfg.WriteTimeout,
		IdleTimeout:  srvCfg.IdleTimeout,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.Logger.Info().Str("addr", srv.Addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		app.Logger.Info().Msg("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), srvCfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		app.Logger.Error().Err(err).Msg("Server stopped on error")
		return
	}
	app.Logger.Info().Msg("Server exited")
}
