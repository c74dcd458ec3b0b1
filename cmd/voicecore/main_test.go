package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/numera-ai/voicecore/pkg/core/contextcache"
	"github.com/numera-ai/voicecore/pkg/core/transcript"
	"github.com/numera-ai/voicecore/pkg/gateway/config"
)

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, serveDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if stderr.String() == "" {
		t.Fatal("expected stderr output for startup error")
	}
}

type fakeHistoryCache struct {
	data map[string]string
	sets int
}

func (c *fakeHistoryCache) Get(_ context.Context, userRef string) (string, bool) {
	v, ok := c.data[userRef]
	return v, ok
}

func (c *fakeHistoryCache) Set(_ context.Context, userRef, value string) {
	if c.data == nil {
		c.data = make(map[string]string)
	}
	c.data[userRef] = value
	c.sets++
}

type fakeHistorySource struct {
	calls   int
	err     error
	recalls []transcript.RecalledConversation
}

func (s *fakeHistorySource) RecentConversations(_ context.Context, _ string, _ int) ([]transcript.RecalledConversation, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.recalls, nil
}

func TestConversationHistory_MissComputesAndCaches(t *testing.T) {
	cache := &fakeHistoryCache{}
	source := &fakeHistorySource{recalls: []transcript.RecalledConversation{
		{StartedAt: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC), Opening: "tell me about my life path"},
	}}

	block := conversationHistory(context.Background(), cache, source, "user-1", nil)
	if !strings.Contains(block, "tell me about my life path") {
		t.Fatalf("block=%q", block)
	}
	if cache.sets != 1 {
		t.Fatalf("sets=%d, want 1", cache.sets)
	}
	if cache.data["user-1"] != block {
		t.Fatalf("cached=%q, want %q", cache.data["user-1"], block)
	}
}

func TestConversationHistory_HitSkipsStore(t *testing.T) {
	cache := &fakeHistoryCache{data: map[string]string{"user-1": "Previous conversations with this user:\n1. Aug 20: numerology basics"}}
	source := &fakeHistorySource{}

	block := conversationHistory(context.Background(), cache, source, "user-1", nil)
	if !strings.Contains(block, "numerology basics") {
		t.Fatalf("block=%q", block)
	}
	if source.calls != 0 {
		t.Fatalf("store queried %d times on a cache hit", source.calls)
	}
}

func TestConversationHistory_StoreFailureDegradesToEmpty(t *testing.T) {
	cache := &fakeHistoryCache{}
	source := &fakeHistorySource{err: errors.New("pool exhausted")}

	block := conversationHistory(context.Background(), cache, source, "user-1", nil)
	if block != "" {
		t.Fatalf("block=%q, want empty", block)
	}
	if cache.sets != 0 {
		t.Fatalf("sets=%d, want 0", cache.sets)
	}
}

func TestConversationHistory_NilCacheIsMissOnly(t *testing.T) {
	var cache *contextcache.Cache
	source := &fakeHistorySource{recalls: []transcript.RecalledConversation{
		{StartedAt: time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)},
	}}

	block := conversationHistory(context.Background(), cache, source, "user-1", nil)
	if !strings.Contains(block, "General discussion") {
		t.Fatalf("block=%q", block)
	}
}

func TestRunServe_RequiresDependencies(t *testing.T) {
	err := runServe(context.Background(), nil, serveDeps{})
	if err == nil {
		t.Fatal("runServe accepted empty dependencies")
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
	if srv.ReadTimeout != cfg.ReadTimeout {
		t.Fatalf("ReadTimeout=%v, want %v", srv.ReadTimeout, cfg.ReadTimeout)
	}
}

type countingPipeline struct{ calls int }

func (p *countingPipeline) Run(ctx context.Context) error {
	p.calls++
	return nil
}

func TestPipelineWithCleanup_RunsCleanupAfterExit(t *testing.T) {
	inner := &countingPipeline{}
	cleaned := false
	p := pipelineWithCleanup{inner: inner, cleanup: func() { cleaned = true }}

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if inner.calls != 1 || !cleaned {
		t.Fatalf("calls=%d cleaned=%v", inner.calls, cleaned)
	}
}
