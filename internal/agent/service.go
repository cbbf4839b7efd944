// Package agent wires the capture-facing queue, the upload worker pool and
// the backend connector into one long-running sync service.
package agent

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"time"

	"github.com/fieldtrace/mediasync/internal/agent/api"
	"github.com/fieldtrace/mediasync/internal/agent/config"
	"github.com/fieldtrace/mediasync/internal/agent/connector"
	"github.com/fieldtrace/mediasync/internal/agent/localdb"
	"github.com/fieldtrace/mediasync/internal/agent/models"
	"github.com/fieldtrace/mediasync/internal/agent/queue"
	"github.com/fieldtrace/mediasync/internal/agent/repositories/oplog"
	"github.com/fieldtrace/mediasync/internal/agent/storage"
	"github.com/fieldtrace/mediasync/internal/agent/uploader"
	"github.com/fieldtrace/mediasync/internal/logging"
)

// Mode is the agent's view of server reachability. All queue operations work
// in either mode; online only controls whether uploads and drains make
// progress.
type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// Service owns the agent's moving parts. Construct with NewService, then
// Start; the zero value is not usable.
type Service struct {
	cfg     *config.Config
	db      *sql.DB
	queue   *queue.Queue
	pool    *uploader.Pool
	conn    *connector.Connector
	client  *api.Client
	adapter storage.Adapter
	log     logging.Logger

	mu   sync.Mutex
	mode Mode

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(ctx context.Context, cfg *config.Config, log logging.Logger) (*Service, error) {
	db, err := localdb.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	client := api.New(cfg.ServerBaseURL, cfg.DeviceID, cfg.DeviceSecret, cfg.TransferTimeout, log)
	adapter := storage.NewSignedURLAdapter(client, cfg.TransferTimeout, log)

	q := queue.New(db, queue.Config{
		MaxRetries:  cfg.MaxRetries,
		BackoffBase: cfg.BackoffBase,
		BackoffMax:  cfg.BackoffMax,
	}, log)

	pool := uploader.New(q, adapter, uploader.Config{
		Workers:     cfg.Workers,
		BatchSize:   cfg.BatchSize,
		Interval:    cfg.SyncInterval,
		CallTimeout: cfg.TransferTimeout,
	}, log)

	conn := connector.New(oplog.NewSQLiteRepository(db), client, connector.Config{
		BatchSize: cfg.BatchSize,
		Interval:  cfg.SyncInterval,
	}, log)

	return &Service{
		cfg:     cfg,
		db:      db,
		queue:   q,
		pool:    pool,
		conn:    conn,
		client:  client,
		adapter: adapter,
		log:     log,
		mode:    ModeOffline,
	}, nil
}

// Start recovers interrupted uploads and launches the background loops.
func (s *Service) Start(ctx context.Context) error {
	if err := s.queue.RecoverLeases(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(4)
	go func() {
		defer s.wg.Done()
		s.pool.Run(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.conn.Run(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.watchOnlineStatus(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.cleanupLoop(runCtx)
	}()

	s.log.Info(ctx, "sync service started",
		"workers", s.cfg.Workers, "db", s.cfg.DatabasePath)
	return nil
}

// Stop shuts the loops down and closes the database. In-flight uploads are
// abandoned; RecoverLeases picks them up on the next Start.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if err := s.db.Close(); err != nil {
		s.log.Warn(context.Background(), "closing database", "error", err)
	}
	s.log.Info(context.Background(), "sync service stopped")
}

// Mode returns the current reachability mode.
func (s *Service) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Service) setMode(mode Mode) {
	s.mu.Lock()
	changed := s.mode != mode
	s.mode = mode
	s.mu.Unlock()

	if !changed {
		return
	}
	s.log.Info(context.Background(), "switched mode", "mode", mode)
	if mode == ModeOnline {
		// Regained connectivity: push whatever accumulated while offline.
		s.pool.Kick()
		s.conn.Kick()
	}
}

func (s *Service) watchOnlineStatus(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.OnlineCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := s.client.Ping(pingCtx)
			cancel()

			if err != nil {
				s.setMode(ModeOffline)
			} else {
				s.setMode(ModeOnline)
			}
		}
	}
}

func (s *Service) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep reclaims local disk space for delivered uploads and finishes
// acknowledged deletes against remote storage.
func (s *Service) sweep(ctx context.Context) {
	paths, err := s.queue.CleanupSynced(ctx)
	if err != nil {
		s.log.Warn(ctx, "cleanup sweep", "error", err)
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.log.Warn(ctx, "removing synced file", "path", p, "error", err)
		}
	}

	ready, err := s.queue.DeleteReady(ctx)
	if err != nil {
		s.log.Warn(ctx, "delete sweep", "error", err)
		return
	}
	for _, a := range ready {
		if a.RemoteURL != "" {
			if err := s.adapter.Delete(ctx, a.ID, a.RemoteURL); err != nil {
				s.log.Warn(ctx, "remote delete", "id", a.ID, "error", err)
				continue
			}
		}
		path, err := s.queue.CompleteDelete(ctx, a.ID)
		if err != nil {
			s.log.Warn(ctx, "completing delete", "id", a.ID, "error", err)
			continue
		}
		if path != "" {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				s.log.Warn(ctx, "removing deleted file", "path", path, "error", err)
			}
		}
	}
}

// Enqueue registers a captured file for upload and nudges the pool.
func (s *Service) Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error) {
	id, err := s.queue.Enqueue(ctx, req)
	if err != nil {
		return "", err
	}
	s.pool.Kick()
	return id, nil
}

// Delete requests removal of an attachment and nudges the connector so a
// resulting DELETE entry reaches the server promptly.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.queue.Delete(ctx, id); err != nil {
		return err
	}
	s.conn.Kick()
	return nil
}

// Requeue puts a FAILED attachment back in line for upload.
func (s *Service) Requeue(ctx context.Context, id string) error {
	if err := s.queue.Requeue(ctx, id); err != nil {
		return err
	}
	s.pool.Kick()
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Attachment, error) {
	return s.queue.Get(ctx, id)
}

func (s *Service) ListByState(ctx context.Context, state models.State) ([]*models.Attachment, error) {
	return s.queue.ListByState(ctx, state)
}
