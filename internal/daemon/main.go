// Package daemon wires the long-running service: canonical store, hidden
// user registry, sync service and the HTTP façade.
package daemon

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/AccessMirror/AccessMirror/internal/config"
	"github.com/AccessMirror/AccessMirror/internal/db"
	"github.com/AccessMirror/AccessMirror/internal/hidden"
	syncsvc "github.com/AccessMirror/AccessMirror/internal/sync"
	"github.com/AccessMirror/AccessMirror/internal/web"
)

// defaultHiddenUsersPath is used when the registry location is not configured.
const defaultHiddenUsersPath = "hidden_users.json"

// Daemon represents the main application daemon.
type Daemon struct {
	cfg        *config.Config
	webService *web.Service
}

// Start runs the web service until a shutdown signal arrives.
func (d *Daemon) Start() error {
	go d.webService.WaitShutdown()

	return d.webService.Start(fmt.Sprintf(":%d", d.cfg.Webserver.Port))
}

// New creates a new Daemon instance with the provided configuration.
func New(cfg *config.Config) (*Daemon, error) {
	if cfg == nil {
		log.Fatal().Msg("config is nil")
		return nil, nil
	}

	gdb, err := db.Open(cfg)
	if err != nil {
		return nil, err
	}

	registryPath := cfg.Registry.HiddenUsersPath
	if registryPath == "" {
		registryPath = defaultHiddenUsersPath
	}

	registry, err := hidden.Open(registryPath)
	if err != nil {
		return nil, err
	}

	syncService := syncsvc.New(gdb, cfg, registry)

	return &Daemon{
		cfg:        cfg,
		webService: web.New(cfg, gdb, syncService),
	}, nil
}
