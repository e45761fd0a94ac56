package snapshot

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultDebounce = 1500 * time.Millisecond
	defaultPeriodic = 5 * time.Minute
)

// Publisher is where recomputed snapshots go: the local bus, or the Redis
// bridge when cross-instance fan-out is enabled.
type Publisher interface {
	Publish(key string, payload any)
}

// KeyLister reports bus keys that still have live subscribers.
type KeyLister interface {
	Keys() []string
}

// SchoolLister enumerates every school for the periodic fallback.
type SchoolLister interface {
	ListIDs(ctx context.Context) ([]string, error)
}

// Scheduler turns dirty marks from the ingestion pipeline into debounced
// snapshot recomputes, and periodically refreshes every school plus every
// class key with a live subscriber so dashboards converge even when no
// scans arrive.
type Scheduler struct {
	service Service
	pub     Publisher
	bus     KeyLister
	schools SchoolLister
	logger  *zap.Logger

	debounce time.Duration
	periodic time.Duration

	mu       sync.Mutex
	timers   map[string]*time.Timer
	inFlight map[string]bool
}

func NewScheduler(service Service, pub Publisher, bus KeyLister, schools SchoolLister, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		service:  service,
		pub:      pub,
		bus:      bus,
		schools:  schools,
		logger:   logger.Named("snapshot.scheduler"),
		debounce: defaultDebounce,
		periodic: defaultPeriodic,
		timers:   make(map[string]*time.Timer),
		inFlight: make(map[string]bool),
	}
}

// MarkSchoolDirty requests a school recompute after the debounce window.
// Rapid successive marks for the same school collapse into one recompute.
func (s *Scheduler) MarkSchoolDirty(schoolID string) {
	s.schedule(SchoolKey(schoolID), func(ctx context.Context) {
		s.recomputeSchool(ctx, schoolID)
	})
}

func (s *Scheduler) MarkClassDirty(schoolID, classID string) {
	s.schedule(ClassKey(schoolID, classID), func(ctx context.Context) {
		s.recomputeClass(ctx, schoolID, classID)
	})
}

func (s *Scheduler) schedule(key string, fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A pending timer is left alone: first mark plus one debounce window,
	// so a key dirtied continuously still recomputes every window instead
	// of being postponed forever.
	if _, ok := s.timers[key]; ok {
		return
	}
	s.timers[key] = time.AfterFunc(s.debounce, func() {
		s.fire(key, fn)
	})
}

func (s *Scheduler) fire(key string, fn func(ctx context.Context)) {
	s.mu.Lock()
	delete(s.timers, key)
	if s.inFlight[key] {
		// a recompute for this key is already running; the next dirty mark
		// will schedule a fresh one
		s.mu.Unlock()
		return
	}
	s.inFlight[key] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight[key] = false
		s.mu.Unlock()
	}()
	fn(context.Background())
}

// recomputeSchool publishes fresh snapshots for both scopes: dashboards can
// watch either, and both go stale on the same dirty mark.
func (s *Scheduler) recomputeSchool(ctx context.Context, schoolID string) {
	for _, scope := range []string{ScopeStarted, ScopeActive} {
		snap, err := s.service.ComputeSchool(ctx, schoolID, scope, false)
		if err != nil {
			// a failed recompute never terminates anything; the next cycle
			// runs independently
			s.logger.Warn("school snapshot recompute failed",
				zap.String("school_id", schoolID), zap.String("scope", scope), zap.Error(err))
			continue
		}
		s.pub.Publish(SchoolKey(schoolID), snap)
		s.pub.Publish(AdminKey, &SchoolStatsUpdate{
			Type:      TypeSchoolStatsUpdate,
			SchoolID:  schoolID,
			Scope:     snap.Scope,
			Timestamp: snap.Timestamp,
			Stats:     snap.Stats,
		})
	}
}

func (s *Scheduler) recomputeClass(ctx context.Context, schoolID, classID string) {
	for _, scope := range []string{ScopeStarted, ScopeActive} {
		snap, err := s.service.ComputeClass(ctx, schoolID, classID, scope)
		if err != nil {
			s.logger.Warn("class snapshot recompute failed",
				zap.String("school_id", schoolID), zap.String("class_id", classID),
				zap.String("scope", scope), zap.Error(err))
			continue
		}
		s.pub.Publish(ClassKey(schoolID, classID), snap)
	}
}

// Start runs the periodic fallback loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.periodic)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.refreshAll(ctx)
			}
		}
	}()
}

// refreshAll recomputes every school, not just the subscribed ones: the
// admin feed carries school stats for subscribers who hold no school key of
// their own. Class snapshots are only refreshed where someone is watching.
func (s *Scheduler) refreshAll(ctx context.Context) {
	schoolIDs, err := s.schools.ListIDs(ctx)
	if err != nil {
		s.logger.Warn("school list for periodic refresh failed", zap.Error(err))
	}
	for _, id := range schoolIDs {
		s.recomputeSchool(ctx, id)
	}

	for _, key := range s.bus.Keys() {
		parts := strings.SplitN(key, ":", 3)
		if parts[0] == "class" && len(parts) == 3 {
			s.recomputeClass(ctx, parts[1], parts[2])
		}
	}
}
