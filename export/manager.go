package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"forumd/database"
	"forumd/models"
	"forumd/utils"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// Store is the persistence the export workers need.
type Store interface {
	GetExport(ctx context.Context, id int64) (*models.Export, error)
	PendingExports(ctx context.Context) ([]models.Export, error)
	ResetRunningExports(ctx context.Context) (int64, error)
	ClaimExport(ctx context.Context, id int64) (bool, error)
	CompleteExport(ctx context.Context, id int64, path string, size int64) error
	FailExport(ctx context.Context, id int64, msg string) error
	ExpiredExports(ctx context.Context, before time.Time) ([]models.Export, error)
	DeleteExportRow(ctx context.Context, id int64) error

	GetExportProfile(ctx context.Context, memberID int64) (*database.ExportProfile, error)
	MemberMessages(ctx context.Context, memberID int64, limit int) ([]models.Message, error)
	ListPersonalMessages(ctx context.Context, memberID int64) ([]models.PersonalMessage, error)
}

// Gather loads the requested datatypes for a member concurrently.
func Gather(ctx context.Context, store Store, memberID int64, datatypes []string) (*Data, error) {
	for _, dt := range datatypes {
		if !lo.Contains(Datatypes, dt) {
			return nil, fmt.Errorf("unknown export datatype %q", dt)
		}
	}
	d := &Data{MemberID: memberID, Generated: utils.GetSQLTime()}
	g, gctx := errgroup.WithContext(ctx)
	for _, dt := range datatypes {
		switch dt {
		case DataProfile:
			g.Go(func() error {
				p, err := store.GetExportProfile(gctx, memberID)
				if err != nil {
					return fmt.Errorf("profile: %w", err)
				}
				d.Profile = p
				return nil
			})
		case DataPosts:
			g.Go(func() error {
				posts, err := store.MemberMessages(gctx, memberID, 0)
				if err != nil {
					return fmt.Errorf("posts: %w", err)
				}
				d.Posts = posts
				return nil
			})
		case DataPersonalMessages:
			g.Go(func() error {
				pms, err := store.ListPersonalMessages(gctx, memberID)
				if err != nil {
					return fmt.Errorf("personal messages: %w", err)
				}
				d.PersonalMessages = pms
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return d, nil
}

// Manager runs a fixed pool of export workers and prunes expired exports.
type Manager struct {
	store     Store
	storage   models.StorageService
	logger    *slog.Logger
	workers   int
	retention time.Duration
	jobs      chan int64

	mu      sync.Mutex
	queued  map[int64]bool
	started bool
}

// NewManager creates a manager; call Run to start the workers.
func NewManager(store Store, storage models.StorageService, logger *slog.Logger, workers, queueSize int, retention time.Duration) *Manager {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Manager{
		store:     store,
		storage:   storage,
		logger:    logger.With("component", "export"),
		workers:   workers,
		retention: retention,
		jobs:      make(chan int64, queueSize),
		queued:    make(map[int64]bool),
	}
}

// Storage returns where finished exports are kept.
func (m *Manager) Storage() models.StorageService { return m.storage }

// Enqueue schedules a pending export. It reports false when the queue is full;
// the job stays pending and is picked up by the next sweep.
func (m *Manager) Enqueue(id int64) bool {
	m.mu.Lock()
	if m.queued[id] {
		m.mu.Unlock()
		return true
	}
	m.queued[id] = true
	m.mu.Unlock()

	select {
	case m.jobs <- id:
		return true
	default:
		m.mu.Lock()
		delete(m.queued, id)
		m.mu.Unlock()
		m.logger.Warn("Export queue full, deferring job", "export_id", id)
		return false
	}
}

// Run requeues interrupted jobs, starts the workers and sweeps every interval
// until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, sweepEvery time.Duration) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("export manager already running")
	}
	m.started = true
	m.mu.Unlock()

	if n, err := m.store.ResetRunningExports(ctx); err != nil {
		m.logger.Error("Failed to requeue interrupted exports", "error", err)
	} else if n > 0 {
		m.logger.Info("Requeued interrupted exports", "count", n)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < m.workers; i++ {
		worker := i
		g.Go(func() error {
			m.work(gctx, worker)
			return nil
		})
	}
	g.Go(func() error {
		m.sweep(gctx)
		ticker := time.NewTicker(sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				m.sweep(gctx)
			}
		}
	})
	return g.Wait()
}

func (m *Manager) work(ctx context.Context, worker int) {
	logger := m.logger.With("worker", worker)
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-m.jobs:
			m.mu.Lock()
			delete(m.queued, id)
			m.mu.Unlock()
			if err := m.Process(ctx, id); err != nil {
				logger.Error("Export failed", "export_id", id, "error", err)
			}
		}
	}
}

// sweep queues pending jobs and prunes expired exports.
func (m *Manager) sweep(ctx context.Context) {
	pending, err := m.store.PendingExports(ctx)
	if err != nil {
		m.logger.Error("Failed to list pending exports", "error", err)
	}
	for _, e := range pending {
		if !m.Enqueue(e.ID) {
			break
		}
	}
	if n, err := m.Prune(ctx); err != nil {
		m.logger.Error("Failed to prune exports", "error", err)
	} else if n > 0 {
		m.logger.Info("Pruned expired exports", "count", n)
	}
}

// Process claims and builds a single export. A job claimed elsewhere is skipped.
func (m *Manager) Process(ctx context.Context, id int64) error {
	claimed, err := m.store.ClaimExport(ctx, id)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	e, err := m.store.GetExport(ctx, id)
	if err != nil {
		return err
	}

	path, size, err := m.build(ctx, e)
	if err != nil {
		if ferr := m.store.FailExport(ctx, id, err.Error()); ferr != nil {
			m.logger.Error("Failed to record export failure", "export_id", id, "error", ferr)
		}
		return err
	}
	if err := m.store.CompleteExport(ctx, id, path, size); err != nil {
		if derr := m.storage.DeleteFile(ctx, path); derr != nil {
			m.logger.Warn("Failed to remove orphaned export file", "path", path, "error", derr)
		}
		return err
	}
	m.logger.Info("Export complete", "export_id", id, "member_id", e.MemberID, "format", e.Format, "size", size)
	return nil
}

func (m *Manager) build(ctx context.Context, e *models.Export) (string, int64, error) {
	d, err := Gather(ctx, m.store, e.MemberID, e.Datatypes)
	if err != nil {
		return "", 0, fmt.Errorf("failed to gather export data: %w", err)
	}
	var buf bytes.Buffer
	if err := Write(&buf, e.Format, d); err != nil {
		return "", 0, err
	}
	filename := fmt.Sprintf("export_%d_%d.%s", e.MemberID, e.ID, e.Format)
	path, err := m.storage.SaveFile(ctx, filename, buf.Bytes(), ContentType(e.Format))
	if err != nil {
		return "", 0, fmt.Errorf("failed to store export: %w", err)
	}
	return path, int64(buf.Len()), nil
}

// Prune removes finished exports older than the retention period.
func (m *Manager) Prune(ctx context.Context) (int, error) {
	expired, err := m.store.ExpiredExports(ctx, utils.GetSQLTime().Add(-m.retention))
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, e := range expired {
		if e.Path != "" {
			if err := m.storage.DeleteFile(ctx, e.Path); err != nil {
				m.logger.Warn("Failed to remove export file", "path", e.Path, "error", err)
			}
		}
		if err := m.store.DeleteExportRow(ctx, e.ID); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}
