package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type AppProvider interface {
	Run() error
	Serve() func() error
	Stop(context.Context, context.Context) func() error
}

// App is a long running http process: the books api or the gateway.
type App struct {
	name     string
	logger   *zap.Logger
	config   *Config
	server   *http.Server
	cleanups []func()
}

// OpenLogFile ensures the logs folder exists and opens the log file in append mode.
func OpenLogFile(config *Config) (io.Writer, func(), error) {
	err := os.MkdirAll(filepath.Dir(config.LogFile), 0o700)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logging folder: %s", err)
	}
	logFile, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logging file: %s", err)
	}
	closer := func() {
		if cerr := logFile.Close(); cerr != nil {
			fmt.Println("error during closing of log file: ", cerr)
		}
	}
	return logFile, closer, nil
}

// NewAPIApp provides the books api application.
func NewAPIApp(config *Config) (AppProvider, error) {
	if err := ValidateServerConfig(config); err != nil {
		return nil, err
	}
	logFile, closer, err := OpenLogFile(config)
	if err != nil {
		return nil, err
	}
	logger, flusher := SetupLogging(config, logFile)

	storage, err := NewBookStorage(config, logger)
	if err != nil {
		flusher()
		closer()
		return nil, err
	}
	storageCloser := func() {
		if cerr := storage.Close(); cerr != nil {
			logger.Error("failed to close storage", zap.Error(cerr))
		}
	}

	clock := NewClock(config.IsProduction)
	bookService := NewBookService(logger, config, storage)
	apiService := NewAPIHandler(
		logger,
		config,
		&Statistics{
			version:   config.GitTag,
			container: IsAppRunningInDocker(),
			started:   clock.Now(),
			runtime:   runtime.Version(),
			platform:  runtime.GOOS + "/" + runtime.GOARCH,
		},
		clock,
		NewIDsHandler(),
		bookService,
	)

	// Use git commit in case the tag is not set.
	if config.GitTag == "" {
		apiService.stats.version = config.GitCommit
	}

	// Build the map of middlewares stacks.
	middlewaresPublic, middlewaresOps := apiService.MiddlewaresStacks()

	// Configure the endpoints with their handlers and middlewares.
	router := apiService.SetupRoutes(httprouter.New(),
		&MiddlewareMap{
			public: middlewaresPublic.Chain,
			ops:    middlewaresOps.Chain,
		},
	)
	// Wrap the router with the default http timeout handler.
	routerWithTimeout := http.TimeoutHandler(
		router,
		config.Server.RequestTimeout,
		"Timeout. Processing taking too long. Please reach out to support.")

	srv := &http.Server{
		Addr:           config.Server.Host + ":" + config.Server.Port,
		Handler:        routerWithTimeout,
		ReadTimeout:    config.Server.ReadTimeout,
		WriteTimeout:   config.Server.WriteTimeout,
		ErrorLog:       NewStdLogger(logger, "api.server"),
		MaxHeaderBytes: 1 << 20, // Max headers size : 1MB
	}

	return &App{
		name:     "api",
		logger:   logger,
		config:   config,
		server:   srv,
		cleanups: []func(){storageCloser, flusher, closer},
	}, nil
}

// NewGatewayApp provides the gateway application. The route table
// is loaded once here and never reloaded.
func NewGatewayApp(config *Config) (AppProvider, error) {
	if err := ValidateGatewayConfig(config); err != nil {
		return nil, err
	}
	table, err := LoadGatewayRoutes(config.Gateway.RoutesFile)
	if err != nil {
		return nil, err
	}
	logFile, closer, err := OpenLogFile(config)
	if err != nil {
		return nil, err
	}
	logger, flusher := SetupLogging(config, logFile)

	gw := NewGateway(logger, table, NewIDsHandler(), NewClock(config.IsProduction), nil)
	handler, err := gw.Handler()
	if err != nil {
		flusher()
		closer()
		return nil, err
	}
	for _, route := range table.Routes {
		logger.Info("gateway route loaded",
			zap.String("upstream.path", route.UpstreamPathTemplate),
			zap.Strings("upstream.methods", route.UpstreamHTTPMethods),
			zap.String("downstream.path", route.DownstreamPathTemplate),
			zap.String("downstream.address", route.DownstreamScheme+"://"+route.Downstream()),
		)
	}

	srv := &http.Server{
		Addr:           config.Gateway.Host + ":" + config.Gateway.Port,
		Handler:        handler,
		ReadTimeout:    config.Server.ReadTimeout,
		WriteTimeout:   config.Server.WriteTimeout,
		ErrorLog:       NewStdLogger(logger, "gateway.server"),
		MaxHeaderBytes: 1 << 20,
	}

	return &App{
		name:     "gateway",
		logger:   logger,
		config:   config,
		server:   srv,
		cleanups: []func(){flusher, closer},
	}, nil
}

// Run starts the web server and a goroutine which is responsible to stop it.
func (app *App) Run() error {
	defer app.Clean()
	nCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(nCtx)

	g.Go(app.Serve())
	g.Go(app.Stop(nCtx, gCtx))

	err := g.Wait()
	app.logger.Info(app.name+" server stopped", zap.String("app.address", app.server.Addr), zap.Error(err))
	return err
}

// Clean calls all registered cleanups functions.
func (app *App) Clean() {
	for _, f := range app.cleanups {
		f()
	}
}

// Serve starts the web server. It returned error
// will be caught by the errorgroup.
func (app *App) Serve() func() error {
	return func() error {
		app.logger.Info(app.name+" server starting", zap.String("app.address", app.server.Addr))
		err := app.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		return err
	}
}

// Stop listens for the group context and triggers the server graceful shutdown.
// It states the reason of its call. We proceed with a brutal shutdown if the
// the graceful did not complete successfully. We explicitly return `nil` to
// allow the errorgroup catches only the `Serve` method result.
func (app *App) Stop(nCtx, gCtx context.Context) func() error {
	return func() error {
		<-gCtx.Done()

		if nCtx.Err() != nil {
			app.logger.Info(app.name + " server stopping. reason: requested to stop")
		} else {
			app.logger.Info(app.name + " server stopping. reason: errored at running")
		}

		timeout := app.config.Server.ShutdownTimeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		sCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := app.server.Shutdown(sCtx)
		switch {
		case err == nil, errors.Is(err, http.ErrServerClosed):
			app.logger.Info(app.name + " server graceful shutdown succeeded")
		case errors.Is(err, context.DeadlineExceeded):
			app.logger.Info(app.name + " server graceful shutdown timed out")
		default:
			app.logger.Info(app.name+" server graceful shutdown failed", zap.Error(err))
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Info(app.name+" server going to force shutdown", zap.Error(app.server.Close()))
		}
		return nil
	}
}

// Migrate creates or updates the books table and optionally loads the seed file.
// Only the relational drivers need a migration.
func Migrate(ctx context.Context, config *Config, seed bool) error {
	logFile, closer, err := OpenLogFile(config)
	if err != nil {
		return err
	}
	defer closer()
	logger, flusher := SetupLogging(config, logFile)
	defer flusher()

	var storage BookStorage
	switch config.Database.Driver {
	case DriverPostgres, DriverSQLite:
		db, err := GetGormDB(config, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to %s database: %s", config.Database.Driver, err)
		}
		if err = MigrateBooks(db); err != nil {
			return fmt.Errorf("failed to migrate books table: %s", err)
		}
		logger.Info("books table migrated", zap.String("database.driver", config.Database.Driver))
		storage = NewGormBookStorage(logger, db)
	default:
		logger.Info("no migration needed", zap.String("database.driver", config.Database.Driver))
		if !seed {
			return nil
		}
		storage, err = NewBookStorage(config, logger)
		if err != nil {
			return err
		}
	}
	defer storage.Close()

	if !seed {
		return nil
	}
	if config.Database.SeedFile == "" {
		return errors.New("make sure to set the database seed file in configuration file")
	}
	books, err := LoadSeedFile(config.Database.SeedFile)
	if err != nil {
		return err
	}
	n, err := SeedBooks(ctx, storage, books)
	if err != nil {
		return err
	}
	logger.Info("books seeded", zap.Int("books.inserted", n), zap.String("seed.file", config.Database.SeedFile))
	return nil
}
