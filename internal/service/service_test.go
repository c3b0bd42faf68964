package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/locshare/internal/config"
	"github.com/xiaot623/gogo/locshare/internal/domain"
	"github.com/xiaot623/gogo/locshare/internal/repository"
	"github.com/xiaot623/gogo/locshare/internal/scheduler"
	"github.com/xiaot623/gogo/locshare/tests/helpers"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakePresence struct {
	live map[string]bool
}

func (f *fakePresence) HasParticipant(sessionID, participantID string) bool {
	return f.live[participantKey(sessionID, participantID)]
}

type fakeNotifier struct {
	mu       sync.Mutex
	sessions []string
}

func (f *fakeNotifier) ParticipantsChanged(_ context.Context, sessionID string) {
	f.mu.Lock()
	f.sessions = append(f.sessions, sessionID)
	f.mu.Unlock()
}

func testConfig() *config.Config {
	return &config.Config{
		DesktopOfflineDelay:   2 * time.Minute,
		MobileOfflineDelay:    5 * time.Minute,
		PageCloseOfflineDelay: 12 * time.Hour,
		OfflineMargin:         30 * time.Second,
		PageCloseMargin:       time.Minute,
		StayDistanceThreshold: 30,
		IdentityLookback:      7 * 24 * time.Hour,
		ChatHistoryWindow:     24 * time.Hour,
		SweepInterval:         time.Minute,
		SessionRetention:      24 * time.Hour,
		OfflineRetention:      7 * 24 * time.Hour,
		AuditRetention:        30 * 24 * time.Hour,
	}
}

type fixture struct {
	svc      *Service
	store    store.Store
	sched    *scheduler.Local
	clock    *testClock
	presence *fakePresence
	notifier *fakeNotifier
	session  *domain.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := helpers.NewTestSQLiteStore(t)
	sched := scheduler.NewLocal(zap.NewNop())
	t.Cleanup(func() { _ = sched.Close() })

	svc := New(db, sched, testConfig(), zap.NewNop())
	clock := &testClock{now: time.Now().UTC().Truncate(time.Millisecond)}
	svc.now = clock.Now

	presence := &fakePresence{live: map[string]bool{}}
	notifier := &fakeNotifier{}
	svc.SetPresenceChecker(presence)
	svc.SetNotifier(notifier)

	return &fixture{
		svc:      svc,
		store:    db,
		sched:    sched,
		clock:    clock,
		presence: presence,
		notifier: notifier,
		session:  helpers.CreateTestSession(t, db, time.Hour),
	}
}

func newID() string {
	return uuid.NewString()
}
