package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeComputer struct {
	mu           sync.Mutex
	schoolScopes []string
	classScopes  []string
	err          error
}

func (f *fakeComputer) ComputeSchool(ctx context.Context, schoolID, scope string, includeWeekly bool) (*SchoolSnapshot, error) {
	f.mu.Lock()
	f.schoolScopes = append(f.schoolScopes, scope)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &SchoolSnapshot{
		Type:      TypeSchoolSnapshot,
		SchoolID:  schoolID,
		Scope:     scope,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (f *fakeComputer) ComputeClass(ctx context.Context, schoolID, classID, scope string) (*ClassSnapshot, error) {
	f.mu.Lock()
	f.classScopes = append(f.classScopes, scope)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &ClassSnapshot{Type: TypeClassSnapshot, SchoolID: schoolID, ClassID: classID, Scope: scope}, nil
}

func (f *fakeComputer) schools() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.schoolScopes)
}

type staticKeys []string

func (s staticKeys) Keys() []string { return s }

type staticSchools []string

func (s staticSchools) ListIDs(ctx context.Context) ([]string, error) { return s, nil }

type capturingPublisher struct {
	mu       sync.Mutex
	payloads map[string][]any
}

func newCapturingPublisher() *capturingPublisher {
	return &capturingPublisher{payloads: make(map[string][]any)}
}

func (p *capturingPublisher) Publish(key string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads[key] = append(p.payloads[key], payload)
}

func (p *capturingPublisher) count(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads[key])
}

func (p *capturingPublisher) scopes(key string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, payload := range p.payloads[key] {
		switch v := payload.(type) {
		case *SchoolSnapshot:
			out = append(out, v.Scope)
		case *ClassSnapshot:
			out = append(out, v.Scope)
		case *SchoolStatsUpdate:
			out = append(out, v.Scope)
		}
	}
	return out
}

func TestScheduler_DebounceCollapsesBursts(t *testing.T) {
	computer := &fakeComputer{}
	pub := newCapturingPublisher()
	sched := NewScheduler(computer, pub, staticKeys{}, staticSchools{}, zap.NewNop())
	sched.debounce = 20 * time.Millisecond

	for i := 0; i < 10; i++ {
		sched.MarkSchoolDirty("school-1")
	}

	// one recompute covers both scopes: two school snapshots plus two admin
	// stats updates
	assert.Eventually(t, func() bool {
		return pub.count(AdminKey) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, computer.schools())
	assert.Equal(t, []string{ScopeStarted, ScopeActive}, pub.scopes(SchoolKey("school-1")))

	update, ok := pub.payloads[AdminKey][0].(*SchoolStatsUpdate)
	assert.True(t, ok)
	assert.Equal(t, TypeSchoolStatsUpdate, update.Type)
	assert.Equal(t, "school-1", update.SchoolID)
}

func TestScheduler_RecomputePushesBothScopes(t *testing.T) {
	computer := &fakeComputer{}
	pub := newCapturingPublisher()
	sched := NewScheduler(computer, pub, staticKeys{}, staticSchools{}, zap.NewNop())
	sched.debounce = 10 * time.Millisecond

	sched.MarkSchoolDirty("school-1")
	sched.MarkClassDirty("school-1", "class-a")

	assert.Eventually(t, func() bool {
		return pub.count(SchoolKey("school-1")) == 2 && pub.count(ClassKey("school-1", "class-a")) == 2
	}, time.Second, 5*time.Millisecond)

	assert.ElementsMatch(t, []string{ScopeStarted, ScopeActive}, pub.scopes(SchoolKey("school-1")))
	assert.ElementsMatch(t, []string{ScopeStarted, ScopeActive}, pub.scopes(ClassKey("school-1", "class-a")))
	assert.ElementsMatch(t, []string{ScopeStarted, ScopeActive}, pub.scopes(AdminKey))
}

func TestScheduler_ContinuousMarksStillRecompute(t *testing.T) {
	computer := &fakeComputer{}
	pub := newCapturingPublisher()
	sched := NewScheduler(computer, pub, staticKeys{}, staticSchools{}, zap.NewNop())
	sched.debounce = 30 * time.Millisecond

	// marks keep arriving faster than the debounce window; the pending
	// timer must still fire instead of being pushed back forever
	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		sched.MarkSchoolDirty("school-1")
		time.Sleep(10 * time.Millisecond)
	}

	assert.GreaterOrEqual(t, pub.count(SchoolKey("school-1")), 2)
}

func TestScheduler_FailedRecomputePublishesNothing(t *testing.T) {
	computer := &fakeComputer{err: errors.New("store down")}
	pub := newCapturingPublisher()
	sched := NewScheduler(computer, pub, staticKeys{}, staticSchools{}, zap.NewNop())
	sched.debounce = 10 * time.Millisecond

	sched.MarkSchoolDirty("school-1")

	assert.Eventually(t, func() bool {
		return computer.schools() == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, pub.count(SchoolKey("school-1")))
	assert.Equal(t, 0, pub.count(AdminKey))
}

func TestScheduler_PeriodicRefreshCoversAllSchools(t *testing.T) {
	computer := &fakeComputer{}
	pub := newCapturingPublisher()
	// only the admin feed has a subscriber, yet every school refreshes
	keys := staticKeys{AdminKey, ClassKey("school-1", "class-a")}
	schools := staticSchools{"school-1", "school-2"}
	sched := NewScheduler(computer, pub, keys, schools, zap.NewNop())

	sched.refreshAll(context.Background())

	assert.Equal(t, 2, pub.count(SchoolKey("school-1")))
	assert.Equal(t, 2, pub.count(SchoolKey("school-2")))
	assert.Equal(t, 4, pub.count(AdminKey))
	assert.Equal(t, 2, pub.count(ClassKey("school-1", "class-a")))
}
