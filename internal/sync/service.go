package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/AccessMirror/AccessMirror/internal/appdb"
	"github.com/AccessMirror/AccessMirror/internal/compare"
	"github.com/AccessMirror/AccessMirror/internal/config"
	"github.com/AccessMirror/AccessMirror/internal/db/controller/run"
	"github.com/AccessMirror/AccessMirror/internal/db/models"
	"github.com/AccessMirror/AccessMirror/internal/directory"
	"github.com/AccessMirror/AccessMirror/internal/hidden"
)

// runKey identifies the mutual-exclusion scope of a sync: one run per kind
// and environment at a time.
type runKey struct {
	kind models.SyncKind
	env  string
}

// Service owns the sync pipelines. It serializes runs per kind and
// environment, opens and finishes ledger rows, and picks the live or mock
// source from configuration.
type Service struct {
	db  *gorm.DB
	cfg *config.Config
	reg *hidden.Registry

	mu      gosync.Mutex
	running map[runKey]context.CancelFunc
}

// New builds the sync service.
func New(db *gorm.DB, cfg *config.Config, reg *hidden.Registry) *Service {
	return &Service{
		db:      db,
		cfg:     cfg,
		reg:     reg,
		running: map[runKey]context.CancelFunc{},
	}
}

// Hidden exposes the hidden-user registry.
func (s *Service) Hidden() *hidden.Registry {
	return s.reg
}

// acquire claims the run slot for a kind and environment.
func (s *Service) acquire(kind models.SyncKind, env string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := runKey{kind: kind, env: env}
	if _, ok := s.running[key]; ok {
		return ErrSyncAlreadyRunning
	}

	s.running[key] = nil

	return nil
}

// setCancel attaches the cancel function of an acquired slot so Cancel can
// abort the run.
func (s *Service) setCancel(kind models.SyncKind, env string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := runKey{kind: kind, env: env}
	if _, ok := s.running[key]; ok {
		s.running[key] = cancel
	}
}

func (s *Service) release(kind models.SyncKind, env string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, runKey{kind: kind, env: env})
}

// Cancel aborts the active run of a kind and environment. The in-flight
// batch commits, later batches are abandoned, and the run finishes failed
// with a cancellation error.
func (s *Service) Cancel(kind models.SyncKind, envName string) error {
	env := ""
	if kind == models.SyncKindAppDB {
		name, _, ok := s.cfg.AppDB.Env(envName)
		if !ok {
			return ErrNoActiveRun
		}

		env = name
	}

	s.mu.Lock()
	cancel, ok := s.running[runKey{kind: kind, env: env}]
	s.mu.Unlock()

	if !ok || cancel == nil {
		return ErrNoActiveRun
	}

	cancel()

	return nil
}

// runContext caps a run's wall time independently of the caller's context.
func (s *Service) runContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(),
		time.Duration(s.cfg.Sync.RunTimeoutS)*time.Second)
}

// SyncDirectory runs one directory sync to completion and returns its
// terminal ledger row. A second concurrent call fails with
// ErrSyncAlreadyRunning.
func (s *Service) SyncDirectory(ctx context.Context) (*models.SyncRun, error) {
	if err := s.acquire(models.SyncKindDirectory, ""); err != nil {
		return nil, err
	}
	defer s.release(models.SyncKindDirectory, "")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.setCancel(models.SyncKindDirectory, "", cancel)

	r, err := run.Open(s.db, models.SyncKindDirectory, "")
	if err != nil {
		return nil, err
	}

	return r, s.executeDirectory(ctx, r)
}

// StartDirectorySync opens a directory run and executes it in the
// background, returning the started ledger row immediately.
func (s *Service) StartDirectorySync() (*models.SyncRun, error) {
	if err := s.acquire(models.SyncKindDirectory, ""); err != nil {
		return nil, err
	}

	r, err := run.Open(s.db, models.SyncKindDirectory, "")
	if err != nil {
		s.release(models.SyncKindDirectory, "")

		return nil, err
	}

	go func() {
		defer s.release(models.SyncKindDirectory, "")

		ctx, cancel := s.runContext()
		defer cancel()

		s.setCancel(models.SyncKindDirectory, "", cancel)

		if err := s.executeDirectory(ctx, r); err != nil {
			log.Error().Err(err).Uint64("run", r.ID).Msg("directory sync failed")
		}
	}()

	return r, nil
}

// executeDirectory drives the directory pipeline under an already opened
// ledger row and stamps the terminal status.
func (s *Service) executeDirectory(ctx context.Context, r *models.SyncRun) error {
	src, err := s.directorySource(ctx)
	if err != nil {
		_ = run.Finish(s.db, r, models.RunStatusFailed, models.SyncStats{}, err.Error())

		return err
	}

	stats, pipeErr := runDirectoryPipeline(ctx, s.db, src,
		s.cfg.Sync.BatchSize, s.cfg.Sync.FailureRateCap)

	status, msg := terminalStatus(stats, pipeErr)
	if err := run.Finish(s.db, r, status, stats, msg); err != nil {
		return err
	}

	observeRun(models.SyncKindDirectory, status, stats)

	log.Info().
		Uint64("run", r.ID).
		Str("status", string(status)).
		Int("processed", stats.Processed).
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Msg("directory sync finished")

	return pipeErr
}

// directorySource picks the live client when credentials are configured,
// else the mock payload when allowed.
func (s *Service) directorySource(ctx context.Context) (directory.Source, error) {
	if s.cfg.Directory.Configured() {
		return directory.NewClient(ctx, s.cfg.Directory, s.cfg.Sync)
	}

	if s.cfg.Mocks.Allow && s.cfg.Mocks.DirectoryPath != "" {
		log.Info().Str("path", s.cfg.Mocks.DirectoryPath).Msg("using mock directory payload")

		return &directory.MockSource{Path: s.cfg.Mocks.DirectoryPath}, nil
	}

	return nil, ErrNoSourceAvailable
}

// SyncAppDB runs one application-database sync against the named
// environment, or the active environment for an empty name.
func (s *Service) SyncAppDB(ctx context.Context, envName string) (*models.SyncRun, error) {
	name, _, ok := s.cfg.AppDB.Env(envName)
	if !ok {
		return nil, appdb.ErrUnknownEnvironment
	}

	if err := s.acquire(models.SyncKindAppDB, name); err != nil {
		return nil, err
	}
	defer s.release(models.SyncKindAppDB, name)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.setCancel(models.SyncKindAppDB, name, cancel)

	r, err := run.Open(s.db, models.SyncKindAppDB, name)
	if err != nil {
		return nil, err
	}

	return r, s.executeAppDB(ctx, r, name)
}

// StartAppDBSync opens an application-database run and executes it in the
// background.
func (s *Service) StartAppDBSync(envName string) (*models.SyncRun, error) {
	name, _, ok := s.cfg.AppDB.Env(envName)
	if !ok {
		return nil, appdb.ErrUnknownEnvironment
	}

	if err := s.acquire(models.SyncKindAppDB, name); err != nil {
		return nil, err
	}

	r, err := run.Open(s.db, models.SyncKindAppDB, name)
	if err != nil {
		s.release(models.SyncKindAppDB, name)

		return nil, err
	}

	go func() {
		defer s.release(models.SyncKindAppDB, name)

		ctx, cancel := s.runContext()
		defer cancel()

		s.setCancel(models.SyncKindAppDB, name, cancel)

		if err := s.executeAppDB(ctx, r, name); err != nil {
			log.Error().Err(err).Uint64("run", r.ID).Msg("application database sync failed")
		}
	}()

	return r, nil
}

func (s *Service) executeAppDB(ctx context.Context, r *models.SyncRun, name string) error {
	src, tag, closer, err := s.appdbSource(ctx, name)
	if err != nil {
		_ = run.Finish(s.db, r, models.RunStatusFailed, models.SyncStats{}, err.Error())

		return err
	}

	if closer != nil {
		defer closer()
	}

	stats, pipeErr := runAppDBPipeline(ctx, s.db, src, tag,
		s.cfg.Sync.BatchSize, s.cfg.Sync.FailureRateCap)

	status, msg := terminalStatus(stats, pipeErr)
	if err := run.Finish(s.db, r, status, stats, msg); err != nil {
		return err
	}

	observeRun(models.SyncKindAppDB, status, stats)

	log.Info().
		Uint64("run", r.ID).
		Str("environment", name).
		Str("status", string(status)).
		Int("processed", stats.Processed).
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Int("warnings", stats.Warnings).
		Msg("application database sync finished")

	return pipeErr
}

// appdbSource opens the live connector for a configured environment, else
// the mock payload when allowed. The returned closer is nil for mocks.
func (s *Service) appdbSource(ctx context.Context, name string) (appdb.Source, string, func(), error) {
	_, env, ok := s.cfg.AppDB.Env(name)
	if !ok {
		return nil, "", nil, appdb.ErrUnknownEnvironment
	}

	display := env.Display
	if display == "" {
		display = name
	}

	tag := fmt.Sprintf("AppDB(%s)", display)

	if env.DSN != "" {
		conn, err := appdb.Connect(ctx, env.DSN, name)
		if err != nil {
			return nil, "", nil, err
		}

		closer := func() {
			if err := conn.Close(context.Background()); err != nil {
				log.Warn().Err(err).Msg("closing application database connection")
			}
		}

		return conn, tag, closer, nil
	}

	if s.cfg.Mocks.Allow && s.cfg.Mocks.AppDBPath != "" {
		log.Info().Str("path", s.cfg.Mocks.AppDBPath).Msg("using mock application database payload")

		return &appdb.MockSource{Path: s.cfg.Mocks.AppDBPath}, tag, nil, nil
	}

	return nil, "", nil, ErrNoSourceAvailable
}

// Compare runs one reconciliation pass over the latest successful snapshots.
func (s *Service) Compare(ctx context.Context) (*models.SyncRun, *models.ComparisonResult, error) {
	if err := s.acquire(models.SyncKindCompare, ""); err != nil {
		return nil, nil, err
	}
	defer s.release(models.SyncKindCompare, "")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.setCancel(models.SyncKindCompare, "", cancel)

	r, result, err := compare.Run(ctx, s.db, s.reg)
	if r != nil {
		if stats, decodeErr := r.DecodeStats(); decodeErr == nil {
			observeRun(models.SyncKindCompare, r.Status, stats)
		}
	}

	return r, result, err
}

// terminalStatus maps pipeline stats and the abort error to the ledger
// status. A cancelled or timed-out run is always failed, regardless of how
// many batches committed before the abort. Any other aborted run with zero
// applied records is failed; an aborted or partially failing run with some
// applied records is partially succeeded.
func terminalStatus(stats models.SyncStats, pipeErr error) (models.RunStatus, string) {
	applied := stats.Created + stats.Updated

	if errors.Is(pipeErr, context.Canceled) {
		return models.RunStatusFailed, "cancelled"
	}

	if errors.Is(pipeErr, context.DeadlineExceeded) {
		return models.RunStatusFailed, "timed out"
	}

	if pipeErr != nil {
		if applied == 0 {
			return models.RunStatusFailed, pipeErr.Error()
		}

		return models.RunStatusPartiallySucceeded, pipeErr.Error()
	}

	if stats.Failed > 0 {
		return models.RunStatusPartiallySucceeded, fmt.Sprintf("%d records failed", stats.Failed)
	}

	return models.RunStatusSucceeded, ""
}
