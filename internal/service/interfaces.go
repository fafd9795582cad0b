// Package service wires the supervisor, registries, resolver and installer
// into the operations the CLI exposes.
package service

import (
	"context"

	"blockyard/internal/domain"
	"blockyard/internal/installer"
	"blockyard/internal/resolver"
)

// ServerManager supervises the game server process.
type ServerManager interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (domain.StopOutcome, error)
	Restart(ctx context.Context) error
	Status(ctx context.Context) domain.ServerStatus
	SendCommand(text string) error
	Tail(n int) []domain.LogLine
	HealthCheck(ctx context.Context) []domain.HealthCheck
}

// PluginManager searches registries and installs resolved plugin sets.
type PluginManager interface {
	Search(ctx context.Context, query string) (*SearchResult, error)
	Plan(ctx context.Context, req resolver.Request) (*resolver.Plan, error)
	Install(ctx context.Context, plan *resolver.Plan) (*installer.Report, error)
	CheckUpdates(ctx context.Context, names ...string) (*UpdateCheck, error)
	InstallFile(ctx context.Context, path string) (*FileInstall, error)
	ListInstalled() []domain.InstalledPluginRecord
	Uninstall(name string) error
	HealthCheck(ctx context.Context) []domain.HealthCheck
}

// Notifier sends alerts and status updates.
type Notifier interface {
	SendSuccess(ctx context.Context, message string) error
	SendError(ctx context.Context, message string) error
	SendCrash(ctx context.Context, status domain.ServerStatus) error
	SendRestartWarnings(ctx context.Context, console Broadcaster) error
	HealthCheck(ctx context.Context) []domain.HealthCheck
}

// Broadcaster relays a console command to the running server.
type Broadcaster interface {
	SendCommand(text string) error
}
