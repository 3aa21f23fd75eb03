package main

import (
	"context"
	"expvar"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/pkg/errors"

	echoapi "github.com/trezcool/masomo-dash/apps/api/echo"
	"github.com/trezcool/masomo-dash/core"
	"github.com/trezcool/masomo-dash/core/collection"
	logsvc "github.com/trezcool/masomo-dash/services/logger"
	"github.com/trezcool/masomo-dash/storage/database"
	"github.com/trezcool/masomo-dash/storage/database/memstore"
	"github.com/trezcool/masomo-dash/storage/database/postgres"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(logsvc.NewConsoleLogger(os.Stdout, conf, "API"), conf)
	logger.Enable(!conf.Debug)

	dbLogger := logsvc.NewRollbarLogger(logsvc.NewConsoleLogger(os.Stdout, conf, "DB"), conf)
	dbLogger.Enable(!conf.Debug)

	// set up storage
	svc, closer, err := setUpStorage(conf, dbLogger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up storage: %v", err), err)
	}
	defer func() {
		if err = closer.Close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate, translator := core.NewValidator()

	// =========================================================================
	// Start Debug Service
	//
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewString("storage").Set(conf.Storage.Driver)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugAddress, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			Service:    svc,
			Validate:   validate,
			Translator: translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func setUpStorage(conf *core.Config, logger core.Logger) (collection.Service, io.Closer, error) {
	switch conf.Storage.Driver {
	case "memory":
		return memstore.New(), nopCloser{}, nil

	case "postgres":
		db, err := database.Open(conf)
		if err != nil {
			return nil, nil, err
		}
		if err = database.Migrate(context.Background(), db.DB); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return postgres.NewFromConfig(db, conf, logger), db, nil

	default:
		return nil, nil, errors.Errorf("unknown storage driver %q", conf.Storage.Driver)
	}
}
