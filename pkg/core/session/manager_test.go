package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/numera-ai/voicecore/pkg/core"
	"github.com/numera-ai/voicecore/pkg/core/types"
)

type fakeRooms struct {
	mu         sync.Mutex
	creates    int
	deletes    int
	failCreate error
	failDelete error
}

func (f *fakeRooms) CreateRoom(ctx context.Context, sessionID string) (*types.RoomHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	return &types.RoomHandle{
		RoomID:      "room-" + sessionID,
		Name:        "voice-" + sessionID,
		JoinURL:     "https://rooms.example/voice-" + sessionID,
		AccessToken: "tok",
		ExpiresAt:   time.Now().Add(2 * time.Hour),
	}, nil
}

func (f *fakeRooms) DeleteRoom(ctx context.Context, handle *types.RoomHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	return f.failDelete
}

func (f *fakeRooms) counts() (creates, deletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.deletes
}

type fakeLog struct {
	mu      sync.Mutex
	started []types.ConversationSummary
	endings []string
	flushes int
}

func (f *fakeLog) ConversationStarted(s types.ConversationSummary) {
	f.mu.Lock()
	f.started = append(f.started, s)
	f.mu.Unlock()
}

func (f *fakeLog) ConversationEnded(sessionID string, endedAt time.Time, durationSeconds int) {
	f.mu.Lock()
	f.endings = append(f.endings, sessionID)
	f.mu.Unlock()
}

func (f *fakeLog) Flush(ctx context.Context, sessionID string) bool {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
	return true
}

type fakeCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (f *fakeCache) Invalidate(ctx context.Context, userRef string) {
	f.mu.Lock()
	f.invalidated = append(f.invalidated, userRef)
	f.mu.Unlock()
}

type fakePipeline struct {
	failure chan error
}

func (p *fakePipeline) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-p.failure:
		return err
	}
}

type harness struct {
	rooms    *fakeRooms
	log      *fakeLog
	cache    *fakeCache
	registry *Registry
	mgr      *Manager
	pipeline *fakePipeline

	mu          sync.Mutex
	lastProfile types.UserProfile
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		rooms:    &fakeRooms{},
		log:      &fakeLog{},
		cache:    &fakeCache{},
		registry: NewRegistry(),
		pipeline: &fakePipeline{failure: make(chan error, 1)},
	}
	if cfg.StopGrace == 0 {
		cfg.StopGrace = time.Second
	}
	mgr, err := NewManager(cfg, Dependencies{
		Rooms: h.rooms,
		Pipeline: func(sess types.Session, profile types.UserProfile, onActivity func(time.Time)) (Pipeline, error) {
			h.mu.Lock()
			h.lastProfile = profile
			h.mu.Unlock()
			return h.pipeline, nil
		},
		Transcripts: h.log,
		Cache:       h.cache,
	}, h.registry)
	require.NoError(t, err)
	h.mgr = mgr
	return h
}

func TestStartSession_ProvisionsRoomAndActivates(t *testing.T) {
	h := newHarness(t, Config{})

	sess, err := h.mgr.StartSession(context.Background(), "user-1", types.UserProfile{})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	require.Equal(t, types.StateActive, sess.State)
	require.NotNil(t, sess.Room)
	require.NotEmpty(t, sess.Room.JoinURL)
	require.NotEmpty(t, sess.Room.AccessToken)
	require.Equal(t, 1, h.registry.Count())

	h.log.mu.Lock()
	require.Len(t, h.log.started, 1)
	require.Equal(t, sess.ID, h.log.started[0].SessionID)
	require.Equal(t, "user-1", h.log.started[0].UserRef)
	h.log.mu.Unlock()

	_, err = h.mgr.EndSession(context.Background(), sess.ID, "user-1")
	require.NoError(t, err)
}

func TestStartSession_RoomFailureLeavesNothingBehind(t *testing.T) {
	h := newHarness(t, Config{})
	h.rooms.failCreate = core.NewRoomCreationFailed("", errors.New("provider timeout"))

	_, err := h.mgr.StartSession(context.Background(), "user-1", types.UserProfile{})
	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, core.ErrRoomCreationFailed, coreErr.Code)
	require.Equal(t, 0, h.registry.Count())
}

func TestStartSession_EmptyUserRefRejected(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.mgr.StartSession(context.Background(), "", types.UserProfile{})
	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, core.ErrInvalidRequest, coreErr.Code)
}

func TestEndSession_CleansUpAndReportsDuration(t *testing.T) {
	h := newHarness(t, Config{})

	sess, err := h.mgr.StartSession(context.Background(), "user-1", types.UserProfile{})
	require.NoError(t, err)

	duration, err := h.mgr.EndSession(context.Background(), sess.ID, "user-1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, duration, 0)

	_, deletes := h.rooms.counts()
	require.Equal(t, 1, deletes)
	require.Equal(t, 0, h.registry.Count())

	h.log.mu.Lock()
	require.Equal(t, []string{sess.ID}, h.log.endings)
	require.Equal(t, 1, h.log.flushes)
	h.log.mu.Unlock()

	h.cache.mu.Lock()
	require.Equal(t, []string{"user-1"}, h.cache.invalidated)
	h.cache.mu.Unlock()
}

func TestEndSession_TwiceIsIdempotentWithSameDuration(t *testing.T) {
	h := newHarness(t, Config{})

	sess, err := h.mgr.StartSession(context.Background(), "user-1", types.UserProfile{})
	require.NoError(t, err)

	first, err := h.mgr.EndSession(context.Background(), sess.ID, "user-1")
	require.NoError(t, err)
	second, err := h.mgr.EndSession(context.Background(), sess.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, first, second)

	_, deletes := h.rooms.counts()
	require.Equal(t, 1, deletes)
}

func TestEndSession_RoomDeletionFailureStillSucceeds(t *testing.T) {
	h := newHarness(t, Config{})
	h.rooms.failDelete = core.NewRoomDeletionFailed("", errors.New("provider 500"))

	sess, err := h.mgr.StartSession(context.Background(), "user-1", types.UserProfile{})
	require.NoError(t, err)

	_, err = h.mgr.EndSession(context.Background(), sess.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, 0, h.registry.Count())
}

func TestEndSession_OwnershipEnforced(t *testing.T) {
	h := newHarness(t, Config{})

	sess, err := h.mgr.StartSession(context.Background(), "user-1", types.UserProfile{})
	require.NoError(t, err)

	_, err = h.mgr.EndSession(context.Background(), sess.ID, "intruder")
	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, core.ErrPermissionDenied, coreErr.Code)

	_, err = h.mgr.GetSessionStatus(sess.ID, "intruder")
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, core.ErrPermissionDenied, coreErr.Code)

	_, err = h.mgr.EndSession(context.Background(), sess.ID, "user-1")
	require.NoError(t, err)
}

func TestGetSessionStatus(t *testing.T) {
	h := newHarness(t, Config{})

	_, err := h.mgr.GetSessionStatus("missing", "user-1")
	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, core.ErrSessionNotFound, coreErr.Code)

	sess, err := h.mgr.StartSession(context.Background(), "user-1", types.UserProfile{})
	require.NoError(t, err)

	status, err := h.mgr.GetSessionStatus(sess.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, types.StateActive, status.State)
	require.False(t, status.StartedAt.IsZero())

	_, err = h.mgr.EndSession(context.Background(), sess.ID, "user-1")
	require.NoError(t, err)
}

func TestPipelineFatalFailsSession(t *testing.T) {
	h := newHarness(t, Config{})

	sess, err := h.mgr.StartSession(context.Background(), "user-1", types.UserProfile{})
	require.NoError(t, err)

	h.pipeline.failure <- core.NewPipelineStageFatal(sess.ID, "stt", errors.New("socket torn down"))

	require.Eventually(t, func() bool {
		return h.registry.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, deletes := h.rooms.counts()
	require.Equal(t, 1, deletes)

	// The failed session still reports an idempotent end.
	duration, err := h.mgr.EndSession(context.Background(), sess.ID, "user-1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, duration, 0)
}

func TestIdleTimeoutEndsSession(t *testing.T) {
	h := newHarness(t, Config{
		IdleTimeout:       50 * time.Millisecond,
		IdleCheckInterval: 10 * time.Millisecond,
	})

	sess, err := h.mgr.StartSession(context.Background(), "user-1", types.UserProfile{})
	require.NoError(t, err)
	require.Equal(t, 1, h.registry.Count())

	require.Eventually(t, func() bool {
		return h.registry.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)

	h.log.mu.Lock()
	defer h.log.mu.Unlock()
	require.Equal(t, []string{sess.ID}, h.log.endings)
}

func TestEndAllDrainsRegistry(t *testing.T) {
	h := newHarness(t, Config{})

	for range 3 {
		_, err := h.mgr.StartSession(context.Background(), "user-1", types.UserProfile{})
		require.NoError(t, err)
	}
	require.Equal(t, 3, h.registry.Count())

	h.mgr.EndAll()
	require.Equal(t, 0, h.registry.Count())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.True(t, h.registry.Wait(ctx))
}

func TestStartSession_ForwardsProfileToPipeline(t *testing.T) {
	h := newHarness(t, Config{})

	profile := types.UserProfile{
		DisplayName: "Linh",
		Locale:      "vi-VN",
		BirthDate:   time.Date(1990, 5, 15, 0, 0, 0, 0, time.UTC),
	}
	sess, err := h.mgr.StartSession(context.Background(), "user-1", profile)
	require.NoError(t, err)

	h.mu.Lock()
	got := h.lastProfile
	h.mu.Unlock()
	require.Equal(t, profile, got)

	h.mgr.EndSession(context.Background(), sess.ID, "user-1")
}

func TestEndDuringStartWaitsForActivation(t *testing.T) {
	rooms := &fakeRooms{}
	log := &fakeLog{}
	registry := NewRegistry()
	pipe := &fakePipeline{failure: make(chan error, 1)}
	durCh := make(chan int, 1)

	var mgr *Manager
	deps := Dependencies{
		Rooms:       rooms,
		Transcripts: log,
		Pipeline: func(sess types.Session, _ types.UserProfile, _ func(time.Time)) (Pipeline, error) {
			// The session is registered but still starting; an end racing
			// in here must wait for activation instead of hanging.
			go func() {
				d, err := mgr.EndSession(context.Background(), sess.ID, "user-1")
				if err != nil {
					d = -1
				}
				durCh <- d
			}()
			time.Sleep(50 * time.Millisecond)
			return pipe, nil
		},
	}
	mgr, err := NewManager(Config{StopGrace: time.Second, FlushTimeout: time.Second}, deps, registry)
	require.NoError(t, err)

	_, err = mgr.StartSession(context.Background(), "user-1", types.UserProfile{})
	require.NoError(t, err)

	select {
	case d := <-durCh:
		require.GreaterOrEqual(t, d, 0)
	case <-time.After(2 * time.Second):
		t.Fatal("end racing an in-flight start never completed")
	}
	require.Eventually(t, func() bool {
		return registry.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTransitionGraph(t *testing.T) {
	require.True(t, transitionAllowed(types.StateIdle, types.StateStarting))
	require.True(t, transitionAllowed(types.StateStarting, types.StateActive))
	require.True(t, transitionAllowed(types.StateActive, types.StateEnding))
	require.True(t, transitionAllowed(types.StateEnding, types.StateEnded))
	require.True(t, transitionAllowed(types.StateStarting, types.StateFailed))
	require.True(t, transitionAllowed(types.StateActive, types.StateFailed))

	require.False(t, transitionAllowed(types.StateEnded, types.StateActive))
	require.False(t, transitionAllowed(types.StateEnded, types.StateFailed))
	require.False(t, transitionAllowed(types.StateIdle, types.StateActive))
	require.False(t, transitionAllowed(types.StateActive, types.StateStarting))
}
