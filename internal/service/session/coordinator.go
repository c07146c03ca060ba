package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/zhouzirui/aaroh/backend/internal/analysis/feedback"
	"github.com/zhouzirui/aaroh/backend/internal/metrics"
	"github.com/zhouzirui/aaroh/backend/internal/model/practice"
	"github.com/zhouzirui/aaroh/backend/internal/service/events"
)

var (
	// ErrSessionExists is returned by Begin for an id that is already tracked.
	ErrSessionExists = errors.New("session already exists")
	// ErrUnknownSession is returned for ids the coordinator does not track.
	ErrUnknownSession = errors.New("unknown session")
	// ErrNotReceiving is returned when chunks or end-of-session arrive after
	// the session left the receiving stage.
	ErrNotReceiving = errors.New("session is not receiving")
)

// Notifier delivers session progress to the client that owns the session.
// Calls for one session are made from one goroutine at a time, in stage order.
type Notifier interface {
	Status(sessionID string, stage practice.Stage)
	Result(sessionID string, summary practice.FeedbackSummary, coaching string)
	Error(sessionID string, stage practice.Stage, kind, message string)
}

// FragmentStore persists incoming chunks.
type FragmentStore interface {
	Append(sessionID string, payload []byte) (practice.FragmentRef, error)
	AppendAt(sessionID string, seq int, payload []byte) (practice.FragmentRef, error)
	ListOrdered(sessionID string) ([]practice.FragmentRef, error)
	SessionDir(sessionID string) (string, error)
	Forget(sessionID string)
}

// Media merges fragments and converts the merged container to PCM.
type Media interface {
	Merge(ctx context.Context, dir string, fragments []practice.FragmentRef) (string, error)
	Transcode(ctx context.Context, containerPath string) (string, error)
}

// Analyzer scores a take against the reference recording.
type Analyzer interface {
	Compare(ctx context.Context, referencePath, subjectPath string) (practice.AnalysisResult, error)
}

// Coach writes an optional note for a delivered summary. An empty note is
// omitted.
type Coach interface {
	Advise(ctx context.Context, summary practice.FeedbackSummary) string
}

// Config holds the reference recording and per-stage deadlines. A zero
// timeout disables the deadline for that stage.
type Config struct {
	ReferencePath    string
	MergeTimeout     time.Duration
	TranscodeTimeout time.Duration
	AnalyzeTimeout   time.Duration
	CoachTimeout     time.Duration
}

// DefaultConfig returns the standard stage deadlines.
func DefaultConfig() Config {
	return Config{
		MergeTimeout:     60 * time.Second,
		TranscodeTimeout: 60 * time.Second,
		AnalyzeTimeout:   120 * time.Second,
		CoachTimeout:     15 * time.Second,
	}
}

// Deps groups the collaborators of a Coordinator. Coach, Events, Metrics and
// Logger are optional.
type Deps struct {
	Store    FragmentStore
	Media    Media
	Analyzer Analyzer
	Coach    Coach
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

type session struct {
	id        string
	stage     practice.Stage
	notifier  Notifier
	fragments int
	createdAt time.Time
	detached  bool
}

// Coordinator owns every live recording session and drives each finished
// recording through merge, transcode, analysis and aggregation.
type Coordinator struct {
	cfg      Config
	store    FragmentStore
	media    Media
	analyzer Analyzer
	coach    Coach
	events   events.Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewCoordinator wires a coordinator from its collaborators.
func NewCoordinator(cfg Config, deps Deps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	publisher := deps.Events
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Coordinator{
		cfg:      cfg,
		store:    deps.Store,
		media:    deps.Media,
		analyzer: deps.Analyzer,
		coach:    deps.Coach,
		events:   publisher,
		metrics:  deps.Metrics,
		logger:   logger.With(slog.String("component", "coordinator")),
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// Begin registers an idle session bound to notifier.
func (c *Coordinator) Begin(sessionID string, notifier Notifier) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sessions[sessionID]; ok {
		return fmt.Errorf("%s: %w", sessionID, ErrSessionExists)
	}
	c.sessions[sessionID] = &session{
		id:        sessionID,
		stage:     practice.StageIdle,
		notifier:  notifier,
		createdAt: c.now(),
	}
	c.metrics.RecordSessionStarted()
	c.logger.Info("session started", slog.String("session_id", sessionID))
	return nil
}

// Receive stores a chunk under the next sequence index.
func (c *Coordinator) Receive(sessionID string, payload []byte) (practice.FragmentRef, error) {
	return c.receive(sessionID, func() (practice.FragmentRef, error) {
		return c.store.Append(sessionID, payload)
	})
}

// ReceiveAt stores a chunk under a sender-supplied sequence index.
func (c *Coordinator) ReceiveAt(sessionID string, seq int, payload []byte) (practice.FragmentRef, error) {
	return c.receive(sessionID, func() (practice.FragmentRef, error) {
		return c.store.AppendAt(sessionID, seq, payload)
	})
}

func (c *Coordinator) receive(sessionID string, write func() (practice.FragmentRef, error)) (practice.FragmentRef, error) {
	s, err := c.lookupReceiving(sessionID)
	if err != nil {
		return practice.FragmentRef{}, err
	}

	ref, err := write()
	if err != nil {
		return practice.FragmentRef{}, fmt.Errorf("store fragment: %w", err)
	}

	c.mu.Lock()
	first := s.stage == practice.StageIdle
	if first {
		s.stage = practice.StageReceiving
	}
	s.fragments++
	notifier := s.notifier
	c.mu.Unlock()

	c.metrics.RecordFragment(ref.Size)
	if first {
		notifier.Status(sessionID, practice.StageReceiving)
	}
	return ref, nil
}

func (c *Coordinator) lookupReceiving(sessionID string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receivingLocked(sessionID)
}

// receivingLocked requires c.mu.
func (c *Coordinator) receivingLocked(sessionID string) (*session, error) {
	s, ok := c.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", sessionID, ErrUnknownSession)
	}
	if s.stage != practice.StageIdle && s.stage != practice.StageReceiving {
		return nil, fmt.Errorf("%s in stage %s: %w", sessionID, s.stage, ErrNotReceiving)
	}
	return s, nil
}

// Finish ends ingest for a session. With no stored fragments the session
// fails at once; otherwise the pipeline starts on its own goroutine and
// Finish returns immediately.
func (c *Coordinator) Finish(sessionID string) error {
	// The check and the transition happen under one lock so a repeated
	// end-of-session cannot start a second pipeline.
	c.mu.Lock()
	s, err := c.receivingLocked(sessionID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	s.stage = practice.StageFinalizing
	notifier := s.notifier
	c.mu.Unlock()
	notifier.Status(sessionID, practice.StageFinalizing)

	fragments, err := c.store.ListOrdered(sessionID)
	if err != nil {
		c.fail(s, practice.StageFinalizing, fmt.Errorf("list fragments: %w: %w", practice.ErrMissingInput, err))
		return nil
	}
	if len(fragments) == 0 {
		c.fail(s, practice.StageFinalizing, practice.ErrNoFragments)
		return nil
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(s, fragments)
	}()
	return nil
}

// Detach is called when the owning channel closes. Sessions still receiving
// are dropped immediately. A running pipeline completes its current stage,
// then stops without emitting anything.
func (c *Coordinator) Detach(sessionID string) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if s.stage == practice.StageIdle || s.stage == practice.StageReceiving {
		delete(c.sessions, sessionID)
		c.mu.Unlock()
		c.release(sessionID)
		c.logger.Info("session dropped on disconnect", slog.String("session_id", sessionID))
		return
	}
	s.detached = true
	c.mu.Unlock()
	c.logger.Info("session detached, pipeline will stop after current stage",
		slog.String("session_id", sessionID), slog.String("stage", string(s.stage)))
}

// Snapshot returns the current state of a tracked session.
func (c *Coordinator) Snapshot(sessionID string) (practice.SessionInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[sessionID]
	if !ok {
		return practice.SessionInfo{}, false
	}
	return practice.SessionInfo{
		ID:        s.id,
		Stage:     s.stage,
		Fragments: s.fragments,
		CreatedAt: s.createdAt,
	}, true
}

// Active returns the number of sessions held in memory.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Wait blocks until every started pipeline has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// run executes the post-ingest stages in order. Each stage only starts after
// the previous one succeeded.
func (c *Coordinator) run(s *session, fragments []practice.FragmentRef) {
	var (
		container string
		pcm       string
		result    practice.AnalysisResult
		summary   practice.FeedbackSummary
		coaching  string
	)

	ok := c.step(s, practice.StageMerging, c.cfg.MergeTimeout, func(ctx context.Context) error {
		dir, err := c.store.SessionDir(s.id)
		if err != nil {
			return fmt.Errorf("session dir: %w: %w", practice.ErrMissingInput, err)
		}
		container, err = c.media.Merge(ctx, dir, fragments)
		return err
	}) && c.step(s, practice.StageTranscoding, c.cfg.TranscodeTimeout, func(ctx context.Context) error {
		var err error
		pcm, err = c.media.Transcode(ctx, container)
		return err
	}) && c.step(s, practice.StageAnalyzing, c.cfg.AnalyzeTimeout, func(ctx context.Context) error {
		if _, err := os.Stat(c.cfg.ReferencePath); err != nil {
			return fmt.Errorf("reference recording %q: %w: %w", c.cfg.ReferencePath, practice.ErrMissingInput, err)
		}
		var err error
		result, err = c.analyzer.Compare(ctx, c.cfg.ReferencePath, pcm)
		return err
	}) && c.step(s, practice.StageAggregating, c.cfg.CoachTimeout, func(ctx context.Context) error {
		summary = feedback.Summarize(result)
		if c.coach != nil {
			coaching = c.coach.Advise(ctx, summary)
		}
		return nil
	})
	if !ok {
		return
	}

	c.deliver(s, summary, coaching)
}

// step moves s into stage, emits the status and runs fn under the stage
// deadline. It returns false when the pipeline must stop.
func (c *Coordinator) step(s *session, stage practice.Stage, timeout time.Duration, fn func(ctx context.Context) error) bool {
	if !c.advance(s, stage) {
		return false
	}

	ctx, cancel := stageContext(timeout)
	defer cancel()

	started := c.now()
	err := fn(ctx)
	c.metrics.RecordStage(string(stage), c.now().Sub(started))
	if err != nil {
		c.fail(s, stage, err)
		return false
	}
	return true
}

func stageContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

// advance records the transition and notifies the client. A detached session
// is released instead.
func (c *Coordinator) advance(s *session, stage practice.Stage) bool {
	c.mu.Lock()
	if s.detached {
		c.mu.Unlock()
		c.abandon(s)
		return false
	}
	s.stage = stage
	notifier := s.notifier
	c.mu.Unlock()

	c.logger.Debug("stage transition", slog.String("session_id", s.id), slog.String("stage", string(stage)))
	notifier.Status(s.id, stage)
	return true
}

// terminate marks s as finished. Only the first caller wins; false means the
// session was already terminal or has been detached and nothing may be
// emitted.
func (c *Coordinator) terminate(s *session, stage practice.Stage) (bool, Notifier) {
	c.mu.Lock()
	if s.stage.Terminal() {
		c.mu.Unlock()
		return false, nil
	}
	detached := s.detached
	s.stage = stage
	if current, ok := c.sessions[s.id]; ok && current == s {
		delete(c.sessions, s.id)
	}
	notifier := s.notifier
	c.mu.Unlock()

	c.release(s.id)
	if detached {
		c.logger.Info("detached session finished silently", slog.String("session_id", s.id))
		return false, nil
	}
	return true, notifier
}

func (c *Coordinator) abandon(s *session) {
	c.terminate(s, practice.StageFailed)
}

func (c *Coordinator) fail(s *session, stage practice.Stage, err error) {
	stageErr := practice.NewStageError(stage, err)
	kind := stageErr.KindName()

	c.logger.Error("session failed",
		slog.String("session_id", s.id),
		slog.String("stage", string(stage)),
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	)
	c.metrics.RecordFailure(string(stage), kind)

	emit, notifier := c.terminate(s, practice.StageFailed)
	if !emit {
		return
	}
	notifier.Error(s.id, stage, kind, failureMessage(stage, stageErr.Kind))

	if pubErr := c.events.Failed(events.Failed{
		SessionID: s.id,
		Stage:     string(stage),
		Kind:      kind,
		Timestamp: c.now(),
	}); pubErr != nil {
		c.logger.Warn("publish failure event failed", slog.String("error", pubErr.Error()))
	}
}

func (c *Coordinator) deliver(s *session, summary practice.FeedbackSummary, coaching string) {
	emit, notifier := c.terminate(s, practice.StageDelivered)
	if !emit {
		return
	}
	c.metrics.RecordDelivered(summary.Accuracy)
	notifier.Status(s.id, practice.StageDelivered)
	notifier.Result(s.id, summary, coaching)

	c.logger.Info("session delivered",
		slog.String("session_id", s.id),
		slog.Int("chords", summary.TotalChords),
		slog.Float64("accuracy", summary.Accuracy),
	)
	if err := c.events.Delivered(events.Delivered{
		SessionID: s.id,
		Summary:   summary,
		Timestamp: c.now(),
	}); err != nil {
		c.logger.Warn("publish delivered event failed", slog.String("error", err.Error()))
	}
}

func (c *Coordinator) release(sessionID string) {
	c.store.Forget(sessionID)
	c.metrics.RecordSessionReleased()
}

// failureMessage is the client-facing text for a failure. Subprocess
// diagnostics never reach the client.
func failureMessage(stage practice.Stage, kind error) string {
	switch {
	case errors.Is(kind, practice.ErrNoFragments):
		return "No audio was received for this recording."
	case errors.Is(kind, practice.ErrTimeout):
		return fmt.Sprintf("Processing took too long while %s and was stopped.", stage)
	case errors.Is(kind, practice.ErrMissingInput):
		return fmt.Sprintf("Audio needed for %s was not found. Please record again.", stage)
	case errors.Is(kind, practice.ErrExternalTool):
		return fmt.Sprintf("Audio processing failed while %s.", stage)
	case errors.Is(kind, practice.ErrEngineInvocation):
		return "Chord analysis could not be run."
	case errors.Is(kind, practice.ErrMalformedOutput):
		return "Chord analysis returned an unreadable result."
	default:
		return fmt.Sprintf("Recording failed while %s.", stage)
	}
}
