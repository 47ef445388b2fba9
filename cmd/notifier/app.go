// File: cmd/notifier/app.go
package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/mine-alert-notifier/internal/alerting"
	"github.com/smartdevs17/mine-alert-notifier/internal/config"
	"github.com/smartdevs17/mine-alert-notifier/internal/connection"
	"github.com/smartdevs17/mine-alert-notifier/internal/credential"
	"github.com/smartdevs17/mine-alert-notifier/internal/metrics"
	"github.com/smartdevs17/mine-alert-notifier/internal/monitor"
	"github.com/smartdevs17/mine-alert-notifier/internal/notification"
	"github.com/smartdevs17/mine-alert-notifier/internal/server"
	"github.com/smartdevs17/mine-alert-notifier/internal/session"
	"github.com/smartdevs17/mine-alert-notifier/internal/storage"
	"github.com/smartdevs17/mine-alert-notifier/internal/store"
	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

const (
	systemMetricsInterval = 15 * time.Second
	retentionInterval     = time.Hour
)

// Application represents the main application
type Application struct {
	config      *config.Config
	logger      *logrus.Entry
	credentials credential.Credentials
	metrics     *metrics.Manager
	storage     storage.Storage
	journal     *storage.Journal
	api         *notification.Client
	client      *connection.SocketClient
	toasts      *alerting.ToastBoard
	store       *store.Store
	session     *session.Session
	monitor     *monitor.BackendMonitor
	server      *server.HTTPServer
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	startTime   time.Time
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		app.closeStorage()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}

	app.logger = utils.ComponentLogger("app")
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	app.metrics = metrics.NewManager()

	if err := app.initializeCredentials(); err != nil {
		return fmt.Errorf("failed to resolve credentials: %w", err)
	}

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.initializeNotification()
	app.initializeConnection()
	app.initializeSession()
	app.initializeMonitor()

	if err := app.initializeServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeCredentials resolves the token and role hint
func (app *Application) initializeCredentials() error {
	var cache *credential.Store
	if app.config.Session.UseKeyring {
		var err error
		cache, err = credential.Open(app.config.Session.KeyringService)
		if err != nil {
			app.logger.WithError(err).Warn("Keyring unavailable, using configured credentials only")
			cache = nil
		}
	}

	creds, err := credential.Resolve(&app.config.Session, cache)
	if err != nil {
		return err
	}
	app.credentials = creds

	app.logger.WithField("role", creds.Role).Info("Credentials resolved")
	return nil
}

// initializeStorage opens the alert journal
func (app *Application) initializeStorage() error {
	if !app.config.Storage.Enabled {
		app.logger.Info("Alert journal disabled")
		return nil
	}

	app.logger.Info("Initializing alert journal")

	st, err := storage.NewStorage(&app.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	if err := st.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	app.storage = st
	if err := st.Migrate(); err != nil {
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}

	app.journal = storage.NewJournal(storage.NewStorageWithMetrics(st, app.metrics.GetPrometheusMetrics()))

	app.logger.WithField("type", app.config.Storage.Type).Info("Alert journal initialized successfully")
	return nil
}

// initializeNotification creates the REST client, toast board and store
func (app *Application) initializeNotification() {
	m := app.metrics.GetPrometheusMetrics()
	ncfg := app.config.Notifications

	app.api = notification.NewClient(&app.config.Backend, notification.StaticToken(app.credentials.Token), m)
	app.toasts = alerting.NewToastBoard(alerting.ToastOptions{
		UpDuration:       ncfg.UpToastDuration,
		FeedbackDuration: ncfg.FeedbackToastDuration,
	}, m)

	opts := store.Options{
		PageSize:   ncfg.PageSize,
		DedupePush: ncfg.DedupePush,
	}
	if app.journal != nil {
		opts.Recorder = app.journal
	}
	app.store = store.New(app.api, app.toasts, opts, m)
}

// initializeConnection creates the push client
func (app *Application) initializeConnection() {
	tcfg := app.config.Transport
	opts := connection.OptionsFromConfig(app.config.Backend.SocketURL, &tcfg)
	app.client = connection.NewSocketClient(opts, connection.NewDefaultDialer(tcfg.DialTimeout), app.metrics.GetPrometheusMetrics())
}

// initializeSession wires the session around the client and store
func (app *Application) initializeSession() {
	deps := session.Deps{
		Client:  app.client,
		Store:   app.store,
		Toasts:  app.toasts,
		Sounder: alerting.NewSounder(&app.config.Notifications),
		Metrics: app.metrics.GetPrometheusMetrics(),
	}
	if app.journal != nil {
		deps.Recorder = app.journal
	}
	app.session = session.New(deps)
}

// initializeMonitor creates the backend health monitor
func (app *Application) initializeMonitor() {
	app.monitor = monitor.NewBackendMonitor(app.api, &monitor.MonitorConfig{
		Interval: app.config.Backend.HealthInterval,
	}, app.metrics.GetPrometheusMetrics())
}

// initializeServer creates the local HTTP surface
func (app *Application) initializeServer() error {
	if !app.config.Server.Enabled {
		return nil
	}

	scfg := app.config.Server
	deps := server.Deps{
		Session: app.session,
		Store:   app.store,
		Toasts:  app.toasts,
		Client:  app.client,
		Monitor: app.monitor,
		Metrics: app.metrics,
	}
	if app.storage != nil {
		deps.Storage = app.storage
	}

	var err error
	app.server, err = server.NewHTTPServer(&server.ServerConfig{
		Port:          scfg.Port,
		Host:          scfg.Host,
		ReadTimeout:   scfg.ReadTimeout,
		WriteTimeout:  scfg.WriteTimeout,
		EnableMetrics: scfg.EnableMetrics,
		EnableHealth:  scfg.EnableHealth,
		Version:       AppVersion,
	}, deps)
	return err
}

// Start starts all components and opens the push channel
func (app *Application) Start() error {
	app.startTime = time.Now()
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
		"api_url":     app.config.Backend.APIURL,
	}).Info("Starting mine alert notifier")

	if app.server != nil {
		if err := app.server.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	if err := app.monitor.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start backend monitor: %w", err)
	}

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.metrics.Run(app.ctx, systemMetricsInterval)
	}()

	if app.journal != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.journal.RunRetention(app.ctx, app.config.Storage.RetentionDays, retentionInterval)
		}()
	}

	if err := app.session.Start(app.credentials.Token, app.credentials.Role); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	fields := logrus.Fields{
		"socket_url": app.config.Backend.SocketURL,
		"role":       app.credentials.Role,
	}
	if app.server != nil {
		fields["server_address"] = fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port)
	}
	app.logger.WithFields(fields).Info("Mine alert notifier started successfully")
	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	app.logger.Info("Stopping mine alert notifier")

	// Stop components in reverse order
	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.session != nil {
		app.session.Stop()
	}

	if app.monitor != nil {
		if err := app.monitor.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop backend monitor")
		}
	}

	app.cancel()
	app.wg.Wait()

	if app.toasts != nil {
		app.toasts.Close()
	}

	app.closeStorage()

	app.logger.WithField("uptime", time.Since(app.startTime).Round(time.Second)).Info("Mine alert notifier stopped successfully")
	return nil
}

func (app *Application) closeStorage() {
	if app.storage == nil {
		return
	}
	if err := app.storage.Close(); err != nil {
		app.logger.WithError(err).Error("Failed to close storage")
	}
	app.storage = nil
}

// GetStats returns application statistics
func (app *Application) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"version":   AppVersion,
		"uptime":    time.Since(app.startTime).String(),
		"timestamp": time.Now(),
		"session":   app.session.Status(),
		"backend":   app.monitor.GetStats(),
		"toasts":    len(app.toasts.Active()),
	}

	if app.storage != nil {
		if journal, err := app.storage.GetStorageStats(); err == nil {
			stats["journal"] = journal
		}
	}

	return stats
}
