package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/listenupapp/addressbook-sync/internal/command"
	"github.com/listenupapp/addressbook-sync/internal/domain"
	domainerrors "github.com/listenupapp/addressbook-sync/internal/errors"
	"github.com/listenupapp/addressbook-sync/internal/events"
	"github.com/listenupapp/addressbook-sync/internal/id"
	"github.com/listenupapp/addressbook-sync/internal/model"
	"github.com/listenupapp/addressbook-sync/internal/ratelimit"
	"github.com/listenupapp/addressbook-sync/internal/remote"
)

// Sync progress messages.
const (
	msgNoActiveBook   = "No active addressbook sync found."
	msgPersonsUpdated = "Person updates completed."
	msgTagsUpdated    = "Tag updates completed."
)

// SyncRemote is the part of the remote client the sync service reads from.
type SyncRemote interface {
	ListUpdatedPersons(ctx context.Context, since time.Time, q remote.ListQuery) (*remote.ListResult[domain.Person], error)
	ListTags(ctx context.Context, q remote.ListQuery) (*remote.ListResult[domain.Tag], error)
}

// SyncConfig controls pulls from the remote.
type SyncConfig struct {
	Schedule          string
	PageSize          int
	RequestsPerSecond float64
	Attempts          uint
	RetryDelay        time.Duration
}

// SyncResult summarizes one pull.
type SyncResult struct {
	RunID          string    `json:"run_id"`
	StartedAt      time.Time `json:"started_at"`
	PersonsApplied int       `json:"persons_applied"`
	PersonsSkipped int       `json:"persons_skipped"`
	Tags           int       `json:"tags"`
	NotModified    int       `json:"not_modified_pages"`
}

type tagPage struct {
	etag string
	tags []domain.Tag
}

// SyncService pulls remote changes into the local model. Persons with an
// ongoing change command are left alone; the command reconciles them.
type SyncService struct {
	cfg      SyncConfig
	remote   SyncRemote
	local    *model.AddressBook
	registry *command.Registry
	limiter  *ratelimit.KeyedRateLimiter
	emitter  events.Emitter
	logger   *slog.Logger
	now      func() time.Time

	group singleflight.Group

	mu          sync.Mutex
	personSince time.Time
	personETags map[int]string
	tagPages    map[int]tagPage
	scheduler   *cron.Cron
}

// NewSyncService creates a sync service.
func NewSyncService(cfg SyncConfig, client SyncRemote, local *model.AddressBook, registry *command.Registry, limiter *ratelimit.KeyedRateLimiter, emitter events.Emitter, logger *slog.Logger) *SyncService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = remote.DefaultPerPage
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	return &SyncService{
		cfg:         cfg,
		remote:      client,
		local:       local,
		registry:    registry,
		limiter:     limiter,
		emitter:     emitter,
		logger:      logger,
		now:         time.Now,
		personETags: make(map[int]string),
		tagPages:    make(map[int]tagPage),
	}
}

// Sync pulls persons changed since the last successful pull, then the tag
// catalogue. Concurrent calls share one pull.
func (s *SyncService) Sync(ctx context.Context) (*SyncResult, error) {
	v, err, shared := s.group.Do("sync", func() (any, error) {
		return s.run(ctx)
	})
	if shared {
		s.logger.Debug("sync request joined a running pull")
	}
	result, _ := v.(*SyncResult)
	return result, err
}

func (s *SyncService) run(ctx context.Context) (*SyncResult, error) {
	result := &SyncResult{RunID: id.MustGenerate(id.PrefixSync), StartedAt: s.now()}
	log := s.logger.With("run_id", result.RunID)
	s.emitter.Emit(events.SyncStarted{RunID: result.RunID})

	book := s.local.Name()
	if book == "" {
		s.emitter.Emit(events.SyncFailed{RunID: result.RunID, Reason: msgNoActiveBook})
		return nil, domainerrors.NotFound(msgNoActiveBook)
	}

	if err := s.pullPersons(ctx, book, result); err != nil {
		return nil, s.fail(log, result.RunID, err)
	}
	s.emitter.Emit(events.SyncUpdate{RunID: result.RunID, Items: result.PersonsApplied, Description: msgPersonsUpdated})

	if err := s.pullTags(ctx, book, result); err != nil {
		return nil, s.fail(log, result.RunID, err)
	}
	s.emitter.Emit(events.SyncUpdate{RunID: result.RunID, Items: result.Tags, Description: msgTagsUpdated})

	s.local.SetLastSync(result.StartedAt)
	s.local.ForgetRemovedBefore(result.StartedAt)
	s.emitter.Emit(events.SyncCompleted{RunID: result.RunID, Persons: result.PersonsApplied, Tags: result.Tags})
	log.Info("sync completed",
		"persons_applied", result.PersonsApplied,
		"persons_skipped", result.PersonsSkipped,
		"tags", result.Tags,
		"not_modified_pages", result.NotModified)
	return result, nil
}

func (s *SyncService) pullPersons(ctx context.Context, book string, result *SyncResult) error {
	since := s.local.LastSync()

	s.mu.Lock()
	if !s.personSince.Equal(since) {
		s.personSince = since
		s.personETags = make(map[int]string)
	}
	s.mu.Unlock()

	for page := 1; page != remote.NoPage; {
		q := remote.ListQuery{Page: page, PerPage: s.cfg.PageSize, ETag: s.personETag(page)}

		res, err := fetch(ctx, s, book, func() (*remote.ListResult[domain.Person], error) {
			return s.remote.ListUpdatedPersons(ctx, since, q)
		})
		if err != nil {
			return fmt.Errorf("list updated persons page %d: %w", page, err)
		}
		s.setPersonETag(page, res.ETag)

		if res.NotModified {
			result.NotModified++
		} else {
			for _, p := range res.Items {
				if s.apply(p) {
					result.PersonsApplied++
				} else {
					result.PersonsSkipped++
				}
			}
		}
		page = res.NextPage
	}
	return nil
}

// apply writes p to the local model unless a command owns it or the model
// already holds something newer. A page fetched before a command finished
// must not undo that command.
func (s *SyncService) apply(p domain.Person) bool {
	applied := false
	s.registry.IfIdle(p.ID, func() {
		if s.local.Stale(p) {
			return
		}
		applied = true
		if p.Deleted {
			s.local.Remove(p.ID)
			return
		}
		s.local.Put(p)
	})
	return applied
}

func (s *SyncService) pullTags(ctx context.Context, book string, result *SyncResult) error {
	var catalogue []domain.Tag
	seen := make(map[int]tagPage)

	for page := 1; page != remote.NoPage; {
		cached := s.tagPage(page)
		q := remote.ListQuery{Page: page, PerPage: s.cfg.PageSize, ETag: cached.etag}

		res, err := fetch(ctx, s, book, func() (*remote.ListResult[domain.Tag], error) {
			return s.remote.ListTags(ctx, q)
		})
		if err != nil {
			return fmt.Errorf("list tags page %d: %w", page, err)
		}

		if res.NotModified {
			result.NotModified++
		} else {
			cached = tagPage{etag: res.ETag, tags: res.Items}
		}
		seen[page] = cached
		catalogue = append(catalogue, cached.tags...)
		page = res.NextPage
	}

	s.mu.Lock()
	s.tagPages = seen
	s.mu.Unlock()

	s.local.SetTags(catalogue)
	result.Tags = len(catalogue)
	return nil
}

// fetch paces one page request per address book and retries infrastructure
// failures. Quota and validation errors are returned at once.
func fetch[T any](ctx context.Context, s *SyncService, book string, call func() (*remote.ListResult[T], error)) (*remote.ListResult[T], error) {
	return retry.NewWithData[*remote.ListResult[T]](
		retry.Context(ctx),
		retry.Attempts(s.cfg.Attempts),
		retry.Delay(s.cfg.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			code := domainerrors.CodeOf(err)
			return code == domainerrors.CodeInternal || code == domainerrors.CodeUnavailable
		}),
		retry.OnRetry(func(attempt uint, err error) {
			s.logger.Warn("remote page fetch failed, retrying", "attempt", attempt+1, "error", err)
		}),
	).Do(func() (*remote.ListResult[T], error) {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx, book); err != nil {
				return nil, domainerrors.Wrap(err, domainerrors.CodeInterrupted, "wait for request slot")
			}
		}
		return call()
	})
}

func (s *SyncService) fail(log *slog.Logger, runID string, err error) error {
	log.Warn("sync failed", "error", err, "recoverable", domainerrors.CodeOf(err).Recoverable())
	s.emitter.Emit(events.SyncFailed{RunID: runID, Reason: err.Error()})
	return err
}

func (s *SyncService) personETag(page int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.personETags[page]
}

func (s *SyncService) setPersonETag(page int, etag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.personETags[page] = etag
}

func (s *SyncService) tagPage(page int) tagPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tagPages[page]
}

// UpdatePeriodically schedules Sync on the configured cron spec until
// Shutdown. Failures are reported through events and logs only.
func (s *SyncService) UpdatePeriodically(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler != nil {
		return nil
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.Sync(ctx); err != nil {
			s.logger.Debug("scheduled sync did not complete", "error", err)
		}
	}); err != nil {
		return domainerrors.Wrapf(err, domainerrors.CodeValidation, "invalid sync schedule %q", s.cfg.Schedule)
	}
	scheduler.Start()
	s.scheduler = scheduler

	s.logger.Info("periodic sync scheduled", "schedule", s.cfg.Schedule)
	return nil
}

// Shutdown stops the schedule and waits for a running pull.
func (s *SyncService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	scheduler := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()
	if scheduler == nil {
		return nil
	}

	select {
	case <-scheduler.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
