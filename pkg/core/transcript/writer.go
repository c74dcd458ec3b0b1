package transcript

import (
	"context"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/numera-ai/voicecore/pkg/core/types"
)

// Counter is the minimal metrics hook the writer needs. Satisfied by
// prometheus.Counter; nil-safe via the noop below.
type Counter interface {
	Inc()
}

type noopCounter struct{}

func (noopCounter) Inc() {}

// WriterConfig configures the background persistence writer.
type WriterConfig struct {
	Workers      int           // concurrent writers, default 4
	QueueSize    int           // per-worker queue depth, default 256
	WriteTimeout time.Duration // per-attempt deadline, default 5s
	Retries      int           // extra attempts per op after a failure, default 0

	// WriteFailures counts store errors; Dropped counts events lost to
	// queue overflow. Both optional.
	WriteFailures Counter
	Dropped       Counter
}

// Writer consumes transcript ops and durably stores them without ever
// blocking the audio path. Ops shard to a worker by session id, so each
// session's ops commit in submission order even though dispatch is async.
// On overflow the oldest queued op for that shard is dropped and logged.
type Writer struct {
	store  Store
	logger *slog.Logger
	cfg    WriterConfig

	queues []chan op
	done   []chan struct{}
}

type opKind int

const (
	opEvent opKind = iota
	opCreate
	opComplete
	opFlush
)

type op struct {
	kind    opKind
	event   types.TranscriptEvent
	summary types.ConversationSummary

	sessionID string
	endedAt   time.Time
	duration  int

	flushed chan struct{}
}

// NewWriter starts the worker pool.
func NewWriter(store Store, logger *slog.Logger, cfg WriterConfig) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.WriteFailures == nil {
		cfg.WriteFailures = noopCounter{}
	}
	if cfg.Dropped == nil {
		cfg.Dropped = noopCounter{}
	}

	w := &Writer{
		store:  store,
		logger: logger,
		cfg:    cfg,
		queues: make([]chan op, cfg.Workers),
		done:   make([]chan struct{}, cfg.Workers),
	}
	for i := range w.queues {
		w.queues[i] = make(chan op, cfg.QueueSize)
		w.done[i] = make(chan struct{})
		go w.worker(w.queues[i], w.done[i])
	}
	return w
}

// Enqueue submits a transcript event and returns immediately.
func (w *Writer) Enqueue(ev types.TranscriptEvent) {
	w.submit(ev.SessionID, op{kind: opEvent, event: ev})
}

// ConversationStarted records the summary row for a session that just went
// active. Ordered before that session's events by the shared shard queue.
func (w *Writer) ConversationStarted(summary types.ConversationSummary) {
	w.submit(summary.SessionID, op{kind: opCreate, summary: summary})
}

// ConversationEnded stamps the summary row once the session is terminal.
func (w *Writer) ConversationEnded(sessionID string, endedAt time.Time, durationSeconds int) {
	w.submit(sessionID, op{kind: opComplete, sessionID: sessionID, endedAt: endedAt, duration: durationSeconds})
}

// Flush waits until every op submitted for the session before this call has
// been attempted (committed or failed). Returns false if ctx expires first.
func (w *Writer) Flush(ctx context.Context, sessionID string) bool {
	flushed := make(chan struct{})
	marker := op{kind: opFlush, sessionID: sessionID, flushed: flushed}
	q := w.queues[w.shard(sessionID)]
	select {
	case q <- marker:
	case <-ctx.Done():
		return false
	}
	select {
	case <-flushed:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close stops the workers after draining queued ops.
func (w *Writer) Close() {
	for _, q := range w.queues {
		close(q)
	}
	for _, d := range w.done {
		<-d
	}
}

func (w *Writer) shard(sessionID string) int {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return int(h.Sum32() % uint32(len(w.queues)))
}

func (w *Writer) submit(sessionID string, it op) {
	q := w.queues[w.shard(sessionID)]
	select {
	case q <- it:
		return
	default:
	}

	// Queue full: drop the oldest queued op on this shard to make room.
	// Losing the oldest keeps the tail of the conversation, which is the
	// part a reader reconnecting mid-outage still cares about.
	select {
	case old := <-q:
		w.logOverflow(old)
	default:
	}
	select {
	case q <- it:
	default:
		w.logOverflow(it)
	}
}

func (w *Writer) logOverflow(dropped op) {
	if dropped.kind == opFlush {
		close(dropped.flushed)
		return
	}
	w.cfg.Dropped.Inc()
	w.logger.Error("transcript op dropped, queue full",
		"session_id", opSessionID(dropped),
		"kind", opKindName(dropped.kind),
		"sequence", dropped.event.Sequence,
	)
}

func (w *Writer) worker(queue <-chan op, done chan<- struct{}) {
	defer close(done)
	for it := range queue {
		if it.kind == opFlush {
			close(it.flushed)
			continue
		}
		err := w.attempt(it)
		if err == nil {
			continue
		}
		// Persistence failures never propagate: log with full context and
		// count them, then move on.
		w.cfg.WriteFailures.Inc()
		w.logger.Error("transcript write failed",
			"session_id", opSessionID(it),
			"kind", opKindName(it.kind),
			"sequence", it.event.Sequence,
			"role", string(it.event.Role),
			"content_len", len(it.event.Content),
			"error", err,
		)
	}
}

// attempt runs the op against the store, retrying transient failures with
// exponential backoff up to cfg.Retries extra attempts. Each attempt gets
// its own write deadline.
func (w *Writer) attempt(it op) error {
	backoff := retry.WithMaxRetries(uint64(w.cfg.Retries), retry.NewExponential(100*time.Millisecond))
	return retry.Do(context.Background(), backoff, func(context.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteTimeout)
		defer cancel()
		if err := w.apply(ctx, it); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (w *Writer) apply(ctx context.Context, it op) error {
	switch it.kind {
	case opEvent:
		return w.store.InsertEvent(ctx, it.event)
	case opCreate:
		return w.store.CreateConversation(ctx, it.summary)
	case opComplete:
		return w.store.CompleteConversation(ctx, it.sessionID, it.endedAt, it.duration)
	}
	return nil
}

func opSessionID(it op) string {
	switch it.kind {
	case opEvent:
		return it.event.SessionID
	case opCreate:
		return it.summary.SessionID
	default:
		return it.sessionID
	}
}

func opKindName(k opKind) string {
	switch k {
	case opEvent:
		return "event"
	case opCreate:
		return "conversation_start"
	case opComplete:
		return "conversation_end"
	default:
		return "flush"
	}
}
