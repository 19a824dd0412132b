// Package orchestrator coordinates feature execution: admission against the
// live concurrency bound, the per-session runner goroutines, interrupt and
// continuation, status persistence, and the verified-edge worktree commit.
//
// The service mutex is the single serialization point for the running
// counter, the admission queue, and registry membership changes made on the
// admission path; session status changes go through the session's own
// compare-and-set. Event handlers subscribed on the bus must not call back
// into the service.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/featflow/featflow/internal/agent/mcpconfig"
	"github.com/featflow/featflow/internal/agent/provider"
	"github.com/featflow/featflow/internal/common/config"
	apperrors "github.com/featflow/featflow/internal/common/errors"
	"github.com/featflow/featflow/internal/common/logger"
	"github.com/featflow/featflow/internal/events"
	"github.com/featflow/featflow/internal/events/bus"
	"github.com/featflow/featflow/internal/feature"
	"github.com/featflow/featflow/internal/orchestrator/queue"
	"github.com/featflow/featflow/internal/session"
	"github.com/featflow/featflow/internal/sysprompt"
	"github.com/featflow/featflow/internal/worktree"
)

// featureSystemPrompt steers the agent for unattended feature work.
const featureSystemPrompt = "You are implementing a single kanban feature in this repository. " +
	"Work autonomously: plan briefly, make the code changes, run the relevant checks, " +
	"and finish with a concise summary of what changed. Do not ask questions; make " +
	"reasonable decisions and note them in the summary."

// Bounds for the live concurrency setting.
const (
	minConcurrency = 1
	maxConcurrency = 10
)

// WorktreeCommitter is the slice of the worktree manager the orchestrator
// uses for feature commits.
type WorktreeCommitter interface {
	CommitFeature(ctx context.Context, worktreePath, featureID, title string) (*worktree.CommitResult, error)
}

// Service owns the running set and drives feature sessions end to end.
type Service struct {
	logger    *logger.Logger
	store     feature.Store
	registry  *session.Registry
	providers *provider.Registry
	worktrees WorktreeCommitter
	eventBus  bus.EventBus
	cfg       config.OrchestratorConfig
	agentCfg  config.AgentConfig

	mu      sync.Mutex
	bound   int
	running int
	queue   *queue.StartQueue
	stopped bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
	runners    sync.WaitGroup
	commits    sync.WaitGroup
}

// StartResult acknowledges a start or continuation request. Queued requests
// carry their FIFO position; the actual outcome arrives as session events.
type StartResult struct {
	FeatureID     string `json:"feature_id"`
	Provider      string `json:"provider"`
	Queued        bool   `json:"queued"`
	QueuePosition int    `json:"queue_position,omitempty"`
	Resumed       bool   `json:"resumed,omitempty"`
}

// InterruptResult reports how an interrupt settled. Interrupted is false
// when natural completion won the race; FinalStatus says what actually
// happened.
type InterruptResult struct {
	FeatureID    string         `json:"feature_id"`
	Interrupted  bool           `json:"interrupted"`
	FinalStatus  session.Status `json:"final_status"`
	SDKSessionID string         `json:"sdk_session_id,omitempty"`
}

// SessionInfo is one live session in a status report.
type SessionInfo struct {
	FeatureID    string         `json:"feature_id"`
	ProjectPath  string         `json:"project_path"`
	Provider     string         `json:"provider"`
	Status       session.Status `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	SDKSessionID string         `json:"sdk_session_id,omitempty"`
}

// QueueInfo is one pending start in a status report.
type QueueInfo struct {
	FeatureID string    `json:"feature_id"`
	Position  int       `json:"position"`
	QueuedAt  time.Time `json:"queued_at"`
}

// Status is the orchestrator introspection snapshot for the UI.
type Status struct {
	Running        int           `json:"running"`
	MaxConcurrency int           `json:"max_concurrency"`
	Sessions       []SessionInfo `json:"sessions"`
	Queue          []QueueInfo   `json:"queue"`
}

// NewService creates the orchestrator. The session registry is internal;
// callers reach live sessions through Session and Status.
func NewService(
	cfg config.OrchestratorConfig,
	agentCfg config.AgentConfig,
	store feature.Store,
	providers *provider.Registry,
	worktrees WorktreeCommitter,
	eventBus bus.EventBus,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.Default()
	}
	rootCtx, rootCancel := context.WithCancel(context.Background())

	return &Service{
		logger:     log.WithFields(zap.String("component", "orchestrator")),
		store:      store,
		registry:   session.NewRegistry(cfg.OutputBufferLines),
		providers:  providers,
		worktrees:  worktrees,
		eventBus:   eventBus,
		cfg:        cfg,
		agentCfg:   agentCfg,
		bound:      clampConcurrency(cfg.MaxConcurrency),
		queue:      queue.NewStartQueue(cfg.QueueSize),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
	}
}

func clampConcurrency(n int) int {
	if n < minConcurrency {
		return minConcurrency
	}
	if n > maxConcurrency {
		return maxConcurrency
	}
	return n
}

// StartFeature admits a new agent session for the feature, or queues the
// start when the running set is at the bound. The prompt is composed from
// the feature card. AlreadyRunning guards both live sessions and queued
// starts.
func (s *Service) StartFeature(ctx context.Context, projectPath, featureID string) (*StartResult, error) {
	feat, err := s.store.Get(ctx, projectPath, featureID)
	if err != nil {
		return nil, err
	}

	providerName := s.agentCfg.DefaultProvider
	if _, err := s.providers.Get(providerName); err != nil {
		return nil, apperrors.InternalError("agent provider not registered", err)
	}

	prompt := buildPrompt(feat)
	if s.agentCfg.McpServerEnabled {
		prompt = sysprompt.InjectBoardContext(featureID, projectPath, prompt)
	}

	ps := &queue.PendingStart{
		FeatureID:   featureID,
		ProjectPath: projectPath,
		Provider:    providerName,
		Options: provider.ExecutionOptions{
			Prompt:       prompt,
			Model:        s.modelFor(feat),
			SystemPrompt: featureSystemPrompt,
			MCPConfig:    s.mcpConfig(),
			WorkDir:      workDirFor(feat),
		},
	}
	return s.admitOrQueue(ps)
}

// ContinueFeature resumes an interrupted feature with a new user message.
// Functionally a start with resumption context: same admission queue, same
// runner, and the same Session object when it is still live.
func (s *Service) ContinueFeature(ctx context.Context, projectPath, featureID, message string, imagePaths []string) (*StartResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, apperrors.ValidationError("message", "message must not be empty")
	}

	feat, err := s.store.Get(ctx, projectPath, featureID)
	if err != nil {
		return nil, err
	}

	var sdkID string
	if sess, ok := s.registry.Get(featureID); ok {
		switch sess.Status() {
		case session.StatusRunning, session.StatusInterrupting:
			return nil, apperrors.AlreadyRunning(featureID)
		case session.StatusPaused:
			sdkID = sess.SDKSessionID()
		}
	}
	if sdkID == "" {
		sdkID = feat.SDKSessionID
	}
	if sdkID == "" || !resumableStatus(feat.Status) {
		return nil, apperrors.NotInterrupted(featureID)
	}

	ps := &queue.PendingStart{
		FeatureID:   featureID,
		ProjectPath: projectPath,
		Provider:    s.agentCfg.DefaultProvider,
		Resume:      true,
		Options: provider.ExecutionOptions{
			Prompt:       message,
			ImagePaths:   imagePaths,
			Model:        s.modelFor(feat),
			SystemPrompt: featureSystemPrompt,
			SessionID:    sdkID,
			MCPConfig:    s.mcpConfig(),
			WorkDir:      workDirFor(feat),
		},
	}

	// The user's message joins the transcript before the run starts.
	if _, err := s.store.AppendContext(ctx, projectPath, featureID, message); err != nil {
		s.logger.Warn("failed to persist continuation message",
			zap.String("feature_id", featureID), zap.Error(err))
	}

	return s.admitOrQueue(ps)
}

// resumableStatus reports whether a feature in this store status may be
// continued. in_progress is excluded: a live run owns the session.
func resumableStatus(st feature.Status) bool {
	switch st {
	case feature.StatusPaused, feature.StatusCompleted, feature.StatusFailed:
		return true
	default:
		return false
	}
}

// InterruptFeature cancels a running session and waits for the driver to
// report the terminal state. The session CAS decides the winner when an
// interrupt races natural completion; the result reflects what actually
// happened. A start that is still queued has no session and reports
// NotRunning; cancel it by moving the card instead.
func (s *Service) InterruptFeature(ctx context.Context, projectPath, featureID string) (*InterruptResult, error) {
	sess, ok := s.registry.Get(featureID)
	if !ok {
		return nil, apperrors.NotRunning(featureID)
	}

	if sess.CompareAndSwap(session.StatusRunning, session.StatusInterrupting) {
		sess.Cancel()
	} else if sess.Status() == session.StatusPaused {
		// Already interrupted and waiting for a continuation.
		return &InterruptResult{
			FeatureID:    featureID,
			Interrupted:  false,
			FinalStatus:  session.StatusPaused,
			SDKSessionID: sess.SDKSessionID(),
		}, nil
	}
	// Otherwise another interrupt is in flight or the run is completing;
	// wait for the settled outcome either way.

	grace := s.cfg.InterruptGraceDuration()
	if grace <= 0 {
		grace = 10 * time.Second
	}
	select {
	case <-sess.Done():
	case <-ctx.Done():
		return nil, apperrors.Wrap(ctx.Err(), "interrupt wait cancelled")
	case <-time.After(grace + 15*time.Second):
		return nil, apperrors.InternalError("agent process did not exit within the grace period", nil)
	}

	final := sess.Status()
	return &InterruptResult{
		FeatureID:    featureID,
		Interrupted:  final == session.StatusPaused,
		FinalStatus:  final,
		SDKSessionID: sess.SDKSessionID(),
	}, nil
}

// CommitFeature commits the feature's worktree and reports the result. An
// empty change set succeeds with Committed=false.
func (s *Service) CommitFeature(ctx context.Context, projectPath, featureID string) (*worktree.CommitResult, error) {
	feat, err := s.store.Get(ctx, projectPath, featureID)
	if err != nil {
		return nil, err
	}

	result, err := s.worktrees.CommitFeature(ctx, workDirFor(feat), feat.ID, feat.Title)
	if err != nil {
		if errors.Is(err, worktree.ErrNotGitWorktree) {
			return nil, apperrors.Conflict(fmt.Sprintf("feature '%s' working tree is not a git worktree", featureID))
		}
		return nil, apperrors.InternalError("worktree commit failed", err)
	}

	s.publish(events.FeatureCommitted, map[string]any{
		"feature_id": featureID,
		"committed":  result.Committed,
		"commit_sha": result.CommitSHA,
	})
	return result, nil
}

// UpdateFeatureStatus applies a kanban move. Moves are refused while a
// session is running or interrupting; a pending queued start is cancelled by
// any move; moving a paused card anywhere else discards its resumable
// session. A move onto verified from any other status triggers the
// supervised background commit.
func (s *Service) UpdateFeatureStatus(ctx context.Context, projectPath, featureID string, newStatus feature.Status) (*feature.Feature, error) {
	if !newStatus.Valid() {
		return nil, apperrors.ValidationError("status", fmt.Sprintf("unknown status '%s'", newStatus))
	}

	if sess, ok := s.registry.Get(featureID); ok {
		switch sess.Status() {
		case session.StatusRunning, session.StatusInterrupting:
			return nil, apperrors.Conflict(fmt.Sprintf("feature '%s' has a running session; interrupt it first", featureID))
		}
	}

	prev, err := s.store.Get(ctx, projectPath, featureID)
	if err != nil {
		return nil, err
	}

	st := newStatus
	updated, err := s.store.Update(ctx, projectPath, featureID, feature.Update{Status: &st})
	if err != nil {
		return nil, err
	}

	// A card moved while waiting for admission no longer wants to start.
	s.mu.Lock()
	s.queue.Remove(featureID)
	s.mu.Unlock()

	if newStatus != feature.StatusPaused {
		if sess, ok := s.registry.Get(featureID); ok && sess.Status() == session.StatusPaused {
			s.registry.Remove(featureID)
		}
	}

	s.publish(events.FeatureStatusChanged, map[string]any{
		"feature_id": featureID,
		"from":       string(prev.Status),
		"to":         string(newStatus),
	})

	if s.cfg.CommitOnVerified && newStatus == feature.StatusVerified && prev.Status != feature.StatusVerified {
		s.commits.Add(1)
		go s.commitVerified(updated)
	}

	return updated, nil
}

// SetMaxConcurrency adjusts the live admission bound, clamped to 1..10.
// Raising it admits queued starts immediately; lowering it never stops
// running sessions, the new bound applies from the next admission check.
func (s *Service) SetMaxConcurrency(n int) int {
	n = clampConcurrency(n)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bound = n
	s.fillCapacityLocked()
	return n
}

// MaxConcurrency returns the current admission bound.
func (s *Service) MaxConcurrency() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Session returns the live session for a feature, if any.
func (s *Service) Session(featureID string) (*session.Session, bool) {
	return s.registry.Get(featureID)
}

// Status reports the live running set, the queue, and the bound.
func (s *Service) Status() *Status {
	s.mu.Lock()
	st := &Status{Running: s.running, MaxConcurrency: s.bound}
	pending := s.queue.List()
	s.mu.Unlock()

	for i, ps := range pending {
		st.Queue = append(st.Queue, QueueInfo{
			FeatureID: ps.FeatureID,
			Position:  i + 1,
			QueuedAt:  ps.QueuedAt,
		})
	}
	for _, id := range s.registry.FeatureIDs() {
		sess, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		st.Sessions = append(st.Sessions, SessionInfo{
			FeatureID:    sess.FeatureID,
			ProjectPath:  sess.ProjectPath,
			Provider:     sess.Provider,
			Status:       sess.Status(),
			StartedAt:    sess.StartedAt,
			SDKSessionID: sess.SDKSessionID(),
		})
	}
	return st
}

// Stop refuses new admissions, cancels every running session, and waits for
// runners and background commits to drain, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.rootCancel()

	done := make(chan struct{})
	go func() {
		s.runners.Wait()
		s.commits.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown timed out: %w", ctx.Err())
	}
}

// admitOrQueue runs the admission check for a pending start: launch when a
// slot is free, otherwise enqueue FIFO.
func (s *Service) admitOrQueue(ps *queue.PendingStart) (*StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, apperrors.Conflict("orchestrator is shutting down")
	}

	if sess, ok := s.registry.Get(ps.FeatureID); ok {
		// A live paused session is the resume target; anything else would
		// be a second logical session for the feature.
		if !ps.Resume || sess.Status() != session.StatusPaused {
			return nil, apperrors.AlreadyRunning(ps.FeatureID)
		}
	}
	if s.queue.Contains(ps.FeatureID) {
		return nil, apperrors.AlreadyRunning(ps.FeatureID)
	}

	if s.running < s.bound {
		if err := s.launchLocked(ps); err != nil {
			return nil, err
		}
		return &StartResult{FeatureID: ps.FeatureID, Provider: ps.Provider, Resumed: ps.Resume}, nil
	}

	if err := s.queue.Enqueue(ps); err != nil {
		switch {
		case errors.Is(err, queue.ErrExists):
			return nil, apperrors.AlreadyRunning(ps.FeatureID)
		case errors.Is(err, queue.ErrQueueFull):
			return nil, apperrors.Conflict(fmt.Sprintf("start queue is full (%d pending)", s.queue.Len()))
		default:
			return nil, apperrors.InternalError("failed to queue start", err)
		}
	}

	position := s.queue.Len()
	s.publish(events.SessionQueued, map[string]any{
		"feature_id": ps.FeatureID,
		"position":   position,
	})
	return &StartResult{
		FeatureID:     ps.FeatureID,
		Provider:      ps.Provider,
		Queued:        true,
		QueuePosition: position,
		Resumed:       ps.Resume,
	}, nil
}

// launchLocked starts the runner for an admitted start. Callers hold mu.
func (s *Service) launchLocked(ps *queue.PendingStart) error {
	runCtx, cancel := context.WithCancel(s.rootCtx)

	var sess *session.Session
	if ps.Resume {
		if existing, ok := s.registry.Get(ps.FeatureID); ok {
			if !existing.Resume(cancel) {
				cancel()
				return apperrors.Conflict(fmt.Sprintf("session for feature '%s' is no longer paused", ps.FeatureID))
			}
			sess = existing
		}
	}
	if sess == nil {
		created, err := s.registry.Create(ps.FeatureID, ps.ProjectPath, ps.Provider, cancel)
		if err != nil {
			cancel()
			return apperrors.AlreadyRunning(ps.FeatureID)
		}
		sess = created
	}

	s.running++
	s.runners.Add(1)
	go s.run(runCtx, sess, ps)
	return nil
}

// fillCapacityLocked admits queued starts while slots are free. Callers
// hold mu.
func (s *Service) fillCapacityLocked() {
	if s.stopped {
		return
	}
	for s.running < s.bound {
		ps := s.queue.Dequeue()
		if ps == nil {
			return
		}
		if err := s.launchLocked(ps); err != nil {
			// The original request was already acknowledged with a queued
			// result; all that remains is to surface the failure.
			s.logger.Error("failed to launch queued start",
				zap.String("feature_id", ps.FeatureID), zap.Error(err))
			s.publish(events.SessionFailed, map[string]any{
				"feature_id": ps.FeatureID,
				"error":      err.Error(),
			})
		}
	}
}

// run drives one admitted session to its terminal state. The deferred slot
// release is the only place the running counter decrements, so every exit
// path, natural completion, classified failure, or interrupt, frees exactly
// one admission slot.
func (s *Service) run(ctx context.Context, sess *session.Session, ps *queue.PendingStart) {
	defer s.runners.Done()
	defer s.releaseSlot()

	log := s.logger.WithFields(
		zap.String("feature_id", ps.FeatureID),
		zap.String("provider", ps.Provider))

	prov, err := s.providers.Get(ps.Provider)
	if err != nil {
		s.settle(ctx, sess, ps, "", apperrors.InternalError("agent provider not registered", err))
		return
	}

	st := feature.StatusInProgress
	if _, err := s.store.Update(ctx, ps.ProjectPath, ps.FeatureID, feature.Update{Status: &st}); err != nil {
		log.Warn("failed to mark feature in progress", zap.Error(err))
	}
	s.publish(events.SessionStarted, map[string]any{
		"feature_id": ps.FeatureID,
		"provider":   ps.Provider,
		"resumed":    ps.Resume,
	})
	log.Info("session started", zap.Bool("resumed", ps.Resume))

	// The composed prompt opens the run's transcript. Continuations skip
	// this: the user's message was recorded at request time. System-injected
	// segments are stripped on the way out by the transcript endpoints.
	if !ps.Resume && ps.Options.Prompt != "" {
		if _, err := s.store.AppendContext(ctx, ps.ProjectPath, ps.FeatureID, ps.Options.Prompt); err != nil && ctx.Err() == nil {
			log.Warn("failed to persist initial prompt", zap.Error(err))
		}
	}

	stream, err := prov.ExecuteQuery(ctx, ps.Options)
	if err != nil {
		s.settle(ctx, sess, ps, "", err)
		return
	}

	for msg := range stream.Messages() {
		sess.SetSDKSessionID(msg.SessionID)
		s.forward(ctx, sess, ps, msg)
	}
	s.settle(ctx, sess, ps, stream.SessionID(), stream.Err())
}

// forward publishes one normalized message and persists transcript-worthy
// content. Stream events keep per-feature publish order because the bus
// dispatches in order.
func (s *Service) forward(ctx context.Context, sess *session.Session, ps *queue.PendingStart, msg provider.Message) {
	text := strings.TrimSpace(msg.Text())
	if text != "" {
		sess.AppendOutput(text)
	}

	s.publishOn(events.BuildSessionStreamSubject(ps.FeatureID), string(msg.Type), map[string]any{
		"feature_id": ps.FeatureID,
		"message":    msg,
	})

	if text == "" {
		return
	}
	switch msg.Type {
	case provider.MessageAssistant, provider.MessageResult:
		if _, err := s.store.AppendContext(ctx, ps.ProjectPath, ps.FeatureID, text); err != nil && ctx.Err() == nil {
			s.logger.Warn("failed to persist transcript entry",
				zap.String("feature_id", ps.FeatureID), zap.Error(err))
		}
	}
}

// settle performs the terminal transition for a run: session CAS, store
// update, event, registry removal for non-resumable outcomes, and finally
// the done signal that wakes interrupt waiters. Runs exactly once per run.
func (s *Service) settle(ctx context.Context, sess *session.Session, ps *queue.PendingStart, streamSessionID string, runErr error) {
	sess.SetSDKSessionID(streamSessionID)
	sdkID := sess.SDKSessionID()

	// Store writes here must survive the run context's cancellation.
	storeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var final session.Status
	if runErr == nil {
		switch {
		case ctx.Err() == nil && sess.CompareAndSwap(session.StatusRunning, session.StatusCompleted):
			final = session.StatusCompleted
		case sess.CompareAndSwap(session.StatusInterrupting, session.StatusPaused):
			final = session.StatusPaused
		case sess.CompareAndSwap(session.StatusRunning, session.StatusPaused):
			// Cancelled without an explicit interrupt: daemon shutdown.
			// The run pauses with its session id preserved for resume.
			final = session.StatusPaused
		default:
			final = sess.Status()
		}
	} else {
		if sess.CompareAndSwap(session.StatusRunning, session.StatusFailed) ||
			sess.CompareAndSwap(session.StatusInterrupting, session.StatusFailed) {
			final = session.StatusFailed
		} else {
			final = sess.Status()
		}
	}

	switch final {
	case session.StatusCompleted:
		st := feature.StatusCompleted
		upd := feature.Update{Status: &st}
		if sdkID != "" {
			upd.SDKSessionID = &sdkID
		}
		if _, err := s.store.Update(storeCtx, ps.ProjectPath, ps.FeatureID, upd); err != nil {
			s.logger.Error("failed to persist completed status",
				zap.String("feature_id", ps.FeatureID), zap.Error(err))
		}
		s.publish(events.SessionCompleted, map[string]any{
			"feature_id":     ps.FeatureID,
			"sdk_session_id": sdkID,
		})
		s.logger.Info("session completed", zap.String("feature_id", ps.FeatureID))

	case session.StatusPaused:
		st := feature.StatusPaused
		upd := feature.Update{Status: &st}
		if sdkID != "" {
			upd.SDKSessionID = &sdkID
		}
		if _, err := s.store.Update(storeCtx, ps.ProjectPath, ps.FeatureID, upd); err != nil {
			s.logger.Error("failed to persist paused status",
				zap.String("feature_id", ps.FeatureID), zap.Error(err))
		}
		s.publish(events.SessionPaused, map[string]any{
			"feature_id":     ps.FeatureID,
			"sdk_session_id": sdkID,
		})
		s.logger.Info("session paused", zap.String("feature_id", ps.FeatureID),
			zap.String("sdk_session_id", sdkID))

	case session.StatusFailed:
		emsg := errorMessage(runErr)
		st := feature.StatusFailed
		upd := feature.Update{Status: &st, ErrorMessage: &emsg}
		if sdkID != "" {
			upd.SDKSessionID = &sdkID
		}
		if _, err := s.store.Update(storeCtx, ps.ProjectPath, ps.FeatureID, upd); err != nil {
			s.logger.Error("failed to persist failed status",
				zap.String("feature_id", ps.FeatureID), zap.Error(err))
		}
		s.publish(events.SessionFailed, map[string]any{
			"feature_id": ps.FeatureID,
			"code":       errorCode(runErr),
			"error":      emsg,
		})
		s.logger.Error("session failed", zap.String("feature_id", ps.FeatureID),
			zap.String("code", errorCode(runErr)), zap.String("error", emsg))
	}

	// Membership changes settle before waiters wake: a continuation that
	// fires the instant the interrupt returns must find the paused session
	// still registered, and nothing else.
	if final != session.StatusPaused {
		s.registry.Remove(ps.FeatureID)
	}
	sess.FinishRun()
}

// releaseSlot is the single decrement point for the running counter.
func (s *Service) releaseSlot() {
	s.mu.Lock()
	s.running--
	s.fillCapacityLocked()
	s.mu.Unlock()
}

// commitVerified runs the verified-edge commit in the background. It is
// awaited through the commits group on shutdown; failures are logged and
// published, never dropped.
func (s *Service) commitVerified(feat *feature.Feature) {
	defer s.commits.Done()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result, err := s.CommitFeature(ctx, feat.ProjectPath, feat.ID)
	if err != nil {
		s.logger.Error("verified commit failed",
			zap.String("feature_id", feat.ID), zap.Error(err))
		s.publish(events.FeatureCommitted, map[string]any{
			"feature_id": feat.ID,
			"committed":  false,
			"error":      err.Error(),
		})
		return
	}
	if result.Committed {
		s.logger.Info("verified commit created",
			zap.String("feature_id", feat.ID),
			zap.String("commit", result.CommitSHA))
	} else {
		s.logger.Info("verified commit skipped: nothing to commit",
			zap.String("feature_id", feat.ID))
	}
}

// publish emits a lifecycle event whose subject equals its type.
func (s *Service) publish(eventType string, data map[string]any) {
	s.publishOn(eventType, eventType, data)
}

func (s *Service) publishOn(subject, eventType string, data map[string]any) {
	if s.eventBus == nil {
		return
	}
	evt := bus.NewEvent(eventType, "orchestrator", data)
	if err := s.eventBus.Publish(context.Background(), subject, evt); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("subject", subject), zap.Error(err))
	}
}

func (s *Service) modelFor(feat *feature.Feature) string {
	if feat.Model != "" {
		return feat.Model
	}
	return s.agentCfg.DefaultModel
}

// mcpConfig renders the inline MCP server configuration handed to agent
// sessions, empty when the embedded server is disabled.
func (s *Service) mcpConfig() string {
	if !s.agentCfg.McpServerEnabled {
		return ""
	}
	js, err := mcpconfig.ForDaemon(s.agentCfg.McpServerPort).JSON()
	if err != nil {
		s.logger.Warn("failed to render MCP config", zap.Error(err))
		return ""
	}
	return js
}

// workDirFor picks the directory the agent runs in: the feature's isolated
// worktree when the shell created one, the project root otherwise.
func workDirFor(feat *feature.Feature) string {
	if feat.WorktreePath != "" {
		return feat.WorktreePath
	}
	return feat.ProjectPath
}

// buildPrompt composes the agent prompt from the feature card.
func buildPrompt(feat *feature.Feature) string {
	if strings.TrimSpace(feat.Description) == "" {
		return feat.Title
	}
	return feat.Title + "\n\n" + feat.Description
}

func errorMessage(err error) string {
	var perr *provider.Error
	if errors.As(err, &perr) {
		return perr.Message
	}
	return err.Error()
}

func errorCode(err error) string {
	var perr *provider.Error
	if errors.As(err, &perr) {
		return string(perr.Code)
	}
	return string(provider.ErrUnknown)
}
