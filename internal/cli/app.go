package cli

import (
	"go.uber.org/zap"

	"blockyard/internal/config"
	"blockyard/internal/domain"
	"blockyard/internal/metrics"
	"blockyard/internal/service"
	"blockyard/internal/ui"
	"blockyard/internal/util"
)

// AppContainer is the central dependency injection container for the application.
// The server and plugin services are built on first use so commands that need
// neither do not open log files or read the plugin registry.
type AppContainer struct {
	Config       *config.Config
	Logger       *zap.Logger
	Terminal     *ui.Terminal
	Metrics      *metrics.Metrics
	Notification *service.Notification

	server  *service.Server
	plugins *service.Plugins
}

// NewApp wires up all services and dependencies based on the provided config
func NewApp(cfg *config.Config) *AppContainer {
	a := &AppContainer{
		Config:   cfg,
		Logger:   util.NewLogger(cfg),
		Terminal: ui.NewTerminal(),
	}
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
	}
	a.Notification = service.NewNotification(cfg, a.tail, a.Logger)
	return a
}

// Server returns the server service, creating it on first call.
func (a *AppContainer) Server() (*service.Server, error) {
	if a.server != nil {
		return a.server, nil
	}
	srv, err := service.NewServer(a.Config, service.ServerOptions{Metrics: a.Metrics}, a.Logger)
	if err != nil {
		return nil, err
	}
	a.server = srv
	return srv, nil
}

// Plugins returns the plugin service, creating it on first call.
func (a *AppContainer) Plugins() (*service.Plugins, error) {
	if a.plugins != nil {
		return a.plugins, nil
	}
	p, err := service.NewPlugins(a.Config, service.PluginOptions{Metrics: a.Metrics}, a.Logger)
	if err != nil {
		return nil, err
	}
	a.plugins = p
	return p, nil
}

func (a *AppContainer) tail(n int) []domain.LogLine {
	if a.server == nil {
		return nil
	}
	return a.server.Tail(n)
}

// Close releases the server log sink and flushes the logger.
func (a *AppContainer) Close() {
	if a.server != nil {
		if err := a.server.Close(); err != nil {
			a.Logger.Warn("Failed to close server log", zap.Error(err))
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}
