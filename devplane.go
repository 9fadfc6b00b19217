// Package devplane assembles the dev-server control plane: one HTTP service
// that syncs files into an application directory, installs its dependencies,
// and supervises its dev-server process with live log streaming.
package devplane

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/devplane/devplane/internal/appdir"
	"github.com/devplane/devplane/internal/broadcast"
	"github.com/devplane/devplane/internal/config"
	"github.com/devplane/devplane/internal/installer"
	"github.com/devplane/devplane/internal/logger"
	"github.com/devplane/devplane/internal/metrics"
	"github.com/devplane/devplane/internal/prewarm"
	"github.com/devplane/devplane/internal/registry"
	"github.com/devplane/devplane/internal/server"
	"github.com/devplane/devplane/internal/store"
	"github.com/devplane/devplane/internal/store/factory"
	"github.com/devplane/devplane/internal/supervisor"
	"github.com/devplane/devplane/internal/syncer"
)

// Config re-exports the configuration structure for embedders.
type Config = config.Config

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config { return config.Default() }

// LoadConfig reads a TOML config file over the defaults.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// Service is a fully wired control plane. Construct with New, then Serve.
type Service struct {
	cfg config.Config
	log *slog.Logger

	bc   *broadcast.Broadcaster
	sup  *supervisor.Supervisor
	runs store.Store
	rtr  *server.Router

	mirrorOut io.Closer
	mirrorErr io.Closer
}

// New wires all components from cfg. The application directory is created if
// missing so the service can come up before the first sync.
func New(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Color)

	if err := os.MkdirAll(cfg.App.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create app dir: %w", err)
	}
	guard, err := appdir.NewGuard(cfg.App.Dir)
	if err != nil {
		return nil, fmt.Errorf("app dir: %w", err)
	}

	// Child output is always mirrored to our own stdout/stderr; rotating
	// files are added when configured.
	var mirrorOut io.Writer = os.Stdout
	var mirrorErr io.Writer = os.Stderr
	outW, errW := cfg.Log.Mirror.Writers("devserver")
	if outW != nil {
		mirrorOut = io.MultiWriter(os.Stdout, outW)
	}
	if errW != nil {
		mirrorErr = io.MultiWriter(os.Stderr, errW)
	}
	bc := broadcast.New(mirrorOut, mirrorErr)
	go bc.Run()

	runs, err := factory.NewFromDSN(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("lifecycle store: %w", err)
	}
	if runs != nil {
		if err := runs.EnsureSchema(context.Background()); err != nil {
			return nil, fmt.Errorf("lifecycle store schema: %w", err)
		}
	}

	warm := prewarm.NewEngine(log)
	if cfg.Prewarm.ReadyTimeout > 0 {
		warm.ReadyTimeout = cfg.Prewarm.ReadyTimeout
	}
	if cfg.Prewarm.ReadyInterval > 0 {
		warm.ReadyInterval = cfg.Prewarm.ReadyInterval
	}
	if cfg.Prewarm.RequestTimeout > 0 {
		warm.RequestTimeout = cfg.Prewarm.RequestTimeout
	}

	sup := supervisor.New(supervisor.Config{
		Dir:         guard.Root(),
		Port:        cfg.App.Port,
		Registry:    registry.New(cfg.App.PIDFile),
		Broadcaster: bc,
		Prewarm:     warm,
		Runs:        runs,
		Logger:      log,
		StopGrace:   cfg.App.StopGrace,
		KillSettle:  cfg.App.KillSettle,
	})

	if cfg.Metrics.Enabled {
		if err := metrics.RegisterDefault(); err != nil {
			log.Warn("metrics registration failed", "error", err)
		}
	}

	rtr := server.NewRouter(server.Config{
		Supervisor:     sup,
		Syncer:         syncer.New(guard, log),
		Installer:      installer.New(guard.Root(), log, cfg.Install.ExtraArgs...),
		Broadcaster:    bc,
		Logger:         log,
		MetricsEnabled: cfg.Metrics.Enabled,
	})

	var oc, ec io.Closer
	if outW != nil {
		oc = outW
	}
	if errW != nil {
		ec = errW
	}
	return &Service{
		cfg:       cfg,
		log:       log,
		bc:        bc,
		sup:       sup,
		runs:      runs,
		rtr:       rtr,
		mirrorOut: oc,
		mirrorErr: ec,
	}, nil
}

// Logger returns the service's logger.
func (s *Service) Logger() *slog.Logger { return s.log }

// Handler returns the HTTP surface for mounting in a custom server.
func (s *Service) Handler() http.Handler { return s.rtr.Handler() }

// Supervisor exposes the dev-server supervisor for embedders.
func (s *Service) Supervisor() *supervisor.Supervisor { return s.sup }

// ListenAndServe runs the HTTP server until the listener fails or Shutdown
// is called on the returned server.
func (s *Service) ListenAndServe() *http.Server {
	s.log.Info("control plane listening", "addr", s.cfg.Server.Listen, "app_dir", s.cfg.App.Dir, "app_port", s.cfg.App.Port)
	return server.NewServer(s.cfg.Server.Listen, s.rtr)
}

// Shutdown stops a running dev server and releases held resources. The HTTP
// server returned by ListenAndServe is shut down by the caller.
func (s *Service) Shutdown() error {
	if _, err := s.sup.Stop(); err != nil {
		s.log.Warn("stopping dev server during shutdown failed", "error", err)
	}
	if s.runs != nil {
		if err := s.runs.Close(); err != nil {
			s.log.Warn("closing lifecycle store failed", "error", err)
		}
	}
	if s.mirrorOut != nil {
		_ = s.mirrorOut.Close()
	}
	if s.mirrorErr != nil {
		_ = s.mirrorErr.Close()
	}
	return nil
}
