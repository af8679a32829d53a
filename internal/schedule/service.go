// Package schedule runs the stale unassigned contact digest on a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/disciple-tools/homescreen-apps/internal/accounts"
	"github.com/disciple-tools/homescreen-apps/internal/config"
	"github.com/disciple-tools/homescreen-apps/internal/crm"
	"github.com/disciple-tools/homescreen-apps/internal/notify"
)

// scanTimeout bounds one digest run.
const scanTimeout = time.Minute

// Service owns the cron runner that emits the stale unassigned contact digest.
type Service struct {
	store      crm.Store
	notify     *notify.Service
	cron       *cron.Cron
	spec       string
	staleAfter int
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	entryID cron.EntryID
	started bool
}

// NewService validates the digest schedule. The cron runner starts with Start.
func NewService(log *slog.Logger, store crm.Store, notifier *notify.Service, cfg config.ScheduleConfig) (*Service, error) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	spec := strings.TrimSpace(cfg.DigestSpec)
	if spec == "" {
		spec = config.DefaultDigestSpec
	}
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid digest schedule %q: %w", spec, err)
	}
	staleAfter := cfg.StaleAfterDays
	if staleAfter <= 0 {
		staleAfter = config.DefaultStaleAfterDays
	}
	return &Service{
		store:      store,
		notify:     notifier,
		cron:       cron.New(cron.WithParser(parser)),
		spec:       spec,
		staleAfter: staleAfter,
		logger:     log.With(slog.String("service", "schedule")),
		now:        time.Now,
	}, nil
}

// Start registers the digest job and starts the cron runner.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	entryID, err := s.cron.AddFunc(s.spec, s.run)
	if err != nil {
		return fmt.Errorf("schedule digest: %w", err)
	}
	s.entryID = entryID
	s.started = true
	s.cron.Start()
	s.logger.Info("digest scheduled", slog.String("spec", s.spec), slog.Int("stale_after_days", s.staleAfter))
	return nil
}

// Stop stops the runner and waits for a running digest until ctx is done.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cron.Remove(s.entryID)
	s.started = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) run() {
	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()
	if _, err := s.RunDigest(ctx); err != nil {
		s.logger.Error("digest failed", slog.Any("error", err))
	}
}

// RunDigest collects unassigned contacts at least staleAfter days old, oldest first,
// and emits them as one digest addressed to every dispatcher. Nothing is emitted when no
// contact is stale.
func (s *Service) RunDigest(ctx context.Context) (notify.UnassignedDigest, error) {
	recs, err := s.store.ListRecords(ctx, crm.ListQuery{
		PostType: crm.PostTypeContacts,
		Filters:  []crm.Filter{{Field: crm.FieldOverallStatus, Values: []string{crm.StatusUnassigned}}},
		Sort:     crm.SortOldest,
	})
	if err != nil {
		return notify.UnassignedDigest{}, fmt.Errorf("list unassigned: %w", err)
	}
	now := s.now()
	digest := notify.UnassignedDigest{StaleAfterDays: s.staleAfter, Contacts: []notify.StaleContact{}}
	for _, rec := range recs {
		age := rec.AgeDays(now)
		if age < s.staleAfter {
			continue
		}
		digest.Contacts = append(digest.Contacts, notify.StaleContact{ID: rec.ID, Name: rec.Name(), AgeDays: age})
	}
	if len(digest.Contacts) == 0 {
		s.logger.Debug("no stale contacts")
		return digest, nil
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return notify.UnassignedDigest{}, fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		if accounts.CanDispatch(u.Roles) {
			digest.Recipients = append(digest.Recipients, notify.Recipient{UserID: u.ID, Name: u.DisplayName, Email: u.Email})
		}
	}
	s.logger.Info("stale contacts found", slog.Int("count", len(digest.Contacts)), slog.Int("recipients", len(digest.Recipients)))
	s.notify.Emit(ctx, notify.EventUnassignedDigest, digest)
	return digest, nil
}
