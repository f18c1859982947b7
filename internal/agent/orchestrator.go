// Package agent implements the conversational orchestration loop: it streams
// model output, dispatches tool calls, persists the transcript and reports
// progress as an ordered event stream.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/sous/internal/observability"
	"github.com/haasonsaas/sous/internal/richblocks"
	"github.com/haasonsaas/sous/internal/sessions"
	"github.com/haasonsaas/sous/internal/tools"
	"github.com/haasonsaas/sous/internal/usage"
	"github.com/haasonsaas/sous/pkg/models"
)

// OrchestratorConfig configures run behavior.
type OrchestratorConfig struct {
	// Model is the chat model. Empty uses the client's default.
	Model string

	// TitleModel is used for title generation. Empty falls back to Model.
	TitleModel string

	// MaxTokens limits each chat model call.
	// Default: 4096
	MaxTokens int

	// TitleMaxTokens limits the title call.
	// Default: 30
	TitleMaxTokens int

	// MaxToolRounds bounds tool rounds per run; a run makes at most
	// MaxToolRounds+1 model calls.
	// Default: 5
	MaxToolRounds int

	// HistoryTokenBudget bounds the estimated tokens of replayed history.
	// Default: 100000
	HistoryTokenBudget int

	// SystemPrompt defaults to DefaultSystemPrompt.
	SystemPrompt string

	// Pricing converts token usage into the recorded cost.
	Pricing usage.Pricing

	// EventBuffer is the event channel buffer size.
	// Default: 64
	EventBuffer int

	// TitleTimeout bounds background title generation.
	// Default: 30 seconds
	TitleTimeout time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// DefaultOrchestratorConfig returns the default run settings.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxTokens:          4096,
		TitleMaxTokens:     30,
		MaxToolRounds:      5,
		HistoryTokenBudget: DefaultHistoryTokenBudget,
		SystemPrompt:       DefaultSystemPrompt,
		Pricing:            usage.DefaultPricing(),
		EventBuffer:        64,
		TitleTimeout:       30 * time.Second,
	}
}

func sanitizeOrchestratorConfig(cfg OrchestratorConfig) OrchestratorConfig {
	defaults := DefaultOrchestratorConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.TitleMaxTokens <= 0 {
		cfg.TitleMaxTokens = defaults.TitleMaxTokens
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = defaults.MaxToolRounds
	}
	if cfg.HistoryTokenBudget <= 0 {
		cfg.HistoryTokenBudget = defaults.HistoryTokenBudget
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = defaults.SystemPrompt
	}
	if cfg.Pricing == (usage.Pricing{}) {
		cfg.Pricing = defaults.Pricing
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaults.EventBuffer
	}
	if cfg.TitleTimeout <= 0 {
		cfg.TitleTimeout = defaults.TitleTimeout
	}
	if cfg.TitleModel == "" {
		cfg.TitleModel = cfg.Model
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// terminalEmitTimeout bounds delivery of the final event on a cancelled run.
const terminalEmitTimeout = 5 * time.Second

// Orchestrator runs conversations against a model client and the tool
// executor.
//
// Each Run owns one goroutine and shares no mutable state with other runs:
//
//	Init ──▶ HistoryBuilt ──▶ ModelCall ──▶ Finalize ──▶ Done
//	                            │    ▲
//	                            ▼    │
//	                          ToolRound     (at most MaxToolRounds times)
//
// Cancellation of the run context is observed at round boundaries and
// forwarded to the model call; a cancelled run still finalizes.
type Orchestrator struct {
	client   ModelClient
	executor *tools.Executor
	store    sessions.Store
	recorder usage.Recorder
	config   OrchestratorConfig
	logger   *slog.Logger

	background sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. recorder may be nil to skip usage
// accounting.
func NewOrchestrator(client ModelClient, executor *tools.Executor, store sessions.Store, recorder usage.Recorder, config OrchestratorConfig) *Orchestrator {
	config = sanitizeOrchestratorConfig(config)
	return &Orchestrator{
		client:   client,
		executor: executor,
		store:    store,
		recorder: recorder,
		config:   config,
		logger:   config.Logger.With("component", "orchestrator"),
	}
}

// RunRequest is one user turn.
type RunRequest struct {
	UserID  string
	Message string

	// ConversationID continues an existing conversation. Empty starts a new one.
	ConversationID string
}

// runState is the transient state of one run.
type runState struct {
	runID        string
	userID       string
	conversation *models.Conversation
	created      bool

	text      strings.Builder
	toolCalls []models.ToolCall
	messages  []Message

	modelCalls int
}

// Run starts a run and returns its event stream. The channel is closed after
// the terminal event (message_complete or error).
//
// If req.ConversationID names a conversation the user does not own, Run
// returns an error wrapping sessions.ErrNotFound before any event is produced.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (<-chan models.Event, error) {
	if o.client == nil {
		return nil, ErrNoModelClient
	}
	if o.executor == nil || o.store == nil {
		return nil, errors.New("orchestrator is missing its executor or store")
	}
	if req.UserID == "" {
		return nil, ErrMissingUser
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	state := &runState{runID: uuid.NewString(), userID: req.UserID}
	if req.ConversationID != "" {
		conv, err := o.store.GetConversation(ctx, req.ConversationID, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("load conversation: %w", err)
		}
		state.conversation = conv
	}

	sink := NewStreamSink(o.config.EventBuffer, o.config.Metrics)
	go o.run(ctx, sink, state, req.Message)
	return sink.Events(), nil
}

// Wait blocks until background title generation has finished.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

func (o *Orchestrator) run(ctx context.Context, sink *StreamSink, state *runState, userText string) {
	defer sink.Close()

	ctx = observability.AddRunID(ctx, state.runID)
	ctx = observability.AddUserID(ctx, state.userID)
	logger := observability.LoggerWithContext(ctx, o.logger)

	o.config.Metrics.RunStarted()
	outcome := "completed"
	defer func() {
		o.config.Metrics.RunFinished(outcome, state.modelCalls)
	}()

	defer func() {
		if r := recover(); r != nil {
			outcome = "error"
			logger.Error("run panicked", "panic", r)
			o.config.Metrics.RecordError("orchestrator", "panic")
			emitTerminal(ctx, sink, models.NewErrorEventWithMessage(genericFailureMessage, fmt.Errorf("internal error: %v", r)))
		}
	}()

	fail := func(phase RunPhase, round int, err error) {
		outcome = "error"
		runErr := &RunError{Phase: phase, Round: round, Cause: err}
		logger.Error("run failed", "phase", phase, "round", round, "error", err)
		o.config.Metrics.RecordError("orchestrator", string(phase))
		emitTerminal(ctx, sink, models.NewErrorEventWithMessage(runErr.ClientMessage(), runErr))
	}

	// Init: resolve or create the conversation, then persist the user turn.
	if state.conversation == nil {
		conv := &models.Conversation{ID: uuid.NewString(), UserID: state.userID}
		if err := o.store.CreateConversation(ctx, conv); err != nil {
			fail(PhaseInit, 0, fmt.Errorf("create conversation: %w", err))
			return
		}
		state.conversation = conv
		state.created = true
		sink.Emit(ctx, models.NewConversationEvent(conv.ID))
	}

	ctx, span := o.config.Tracer.TraceRun(ctx, state.runID, state.conversation.ID)
	defer span.End()
	logger = logger.With("conversation_id", state.conversation.ID)

	userMsg := &models.Message{
		ConversationID: state.conversation.ID,
		Role:           models.RoleUser,
		Content:        userText,
		TokenCount:     EstimateTokens(userText),
	}
	if err := o.store.AppendMessage(ctx, userMsg); err != nil {
		fail(PhaseInit, 0, fmt.Errorf("persist user message: %w", err))
		return
	}

	// HistoryBuilt
	history, err := o.store.ListMessages(ctx, state.conversation.ID)
	if err != nil {
		fail(PhaseHistory, 0, fmt.Errorf("load history: %w", err))
		return
	}
	state.messages = WindowHistory(history, o.config.HistoryTokenBudget)
	logger.Debug("history built", "stored", len(history), "replayed", len(state.messages))

	for round := 0; round <= o.config.MaxToolRounds; round++ {
		if ctx.Err() != nil {
			outcome = "cancelled"
			break
		}

		final, err := o.modelRound(ctx, sink, state, round)
		if err != nil {
			if isCancellation(ctx, err) {
				outcome = "cancelled"
				break
			}
			o.config.Tracer.RecordError(span, err)
			fail(PhaseModelCall, round, err)
			return
		}

		uses := final.ToolUses()
		if len(uses) == 0 {
			logger.Debug("model finished", "round", round, "stop_reason", final.StopReason)
			break
		}

		results := o.toolRound(ctx, sink, state, uses)
		state.messages = append(state.messages,
			Message{Role: models.RoleAssistant, Content: final.Content},
			Message{Role: models.RoleUser, Content: results},
		)
		if round == o.config.MaxToolRounds {
			outcome = "round_cap"
			logger.Warn("tool round cap reached", "round", round)
		}
	}

	if err := o.finalize(ctx, sink, state, userText, logger); err != nil {
		fail(PhaseFinalize, state.modelCalls, err)
	}
}

// modelRound streams one chat model call, forwarding text as it arrives.
func (o *Orchestrator) modelRound(ctx context.Context, sink EventSink, state *runState, round int) (*FinalMessage, error) {
	ctx, span := o.config.Tracer.TraceModelCall(ctx, PurposeChat, o.config.Model, round)
	defer span.End()

	start := time.Now()
	state.modelCalls++
	stream, err := o.client.Stream(ctx, &Request{
		Purpose:   PurposeChat,
		Model:     o.config.Model,
		MaxTokens: o.config.MaxTokens,
		System:    o.config.SystemPrompt,
		Messages:  state.messages,
		Tools:     o.executor.Definitions(),
	})
	if err != nil {
		o.config.Metrics.RecordModelCall(PurposeChat, "error", "", time.Since(start).Seconds(), 0, 0)
		return nil, err
	}

	for delta := range stream.Deltas() {
		state.text.WriteString(delta)
		sink.Emit(ctx, models.NewTextDeltaEvent(delta))
	}

	final, err := stream.Final()
	if err != nil {
		o.config.Metrics.RecordModelCall(PurposeChat, "error", "", time.Since(start).Seconds(), 0, 0)
		return nil, err
	}

	o.config.Metrics.RecordModelCall(PurposeChat, "success", final.StopReason, time.Since(start).Seconds(),
		final.Usage.InputTokens, final.Usage.OutputTokens)
	o.config.Tracer.SetAttributes(span, "llm.stop_reason", final.StopReason,
		"llm.input_tokens", final.Usage.InputTokens, "llm.output_tokens", final.Usage.OutputTokens)
	o.recordUsage(ctx, state.userID, &final.Usage)
	return final, nil
}

// toolRound executes the round's tool calls in order and returns the
// tool_result blocks for the next model call.
func (o *Orchestrator) toolRound(ctx context.Context, sink EventSink, state *runState, uses []ContentBlock) []ContentBlock {
	results := make([]ContentBlock, 0, len(uses))
	for _, use := range uses {
		state.toolCalls = append(state.toolCalls, models.ToolCall{ID: use.ID, Name: use.Name, Input: use.Input})
		sink.Emit(ctx, models.NewToolUseStartEvent(use.ID, use.Name))

		toolCtx := observability.AddToolCallID(ctx, use.ID)
		result := o.executor.Execute(toolCtx, use.Name, use.Input, state.userID)
		summary := summarizeResult(result)

		sink.Emit(ctx, models.NewToolUseResultEvent(use.ID, use.Name, summary))
		results = append(results, ContentBlock{
			Type:      BlockToolResult,
			ToolUseID: use.ID,
			Content:   result,
			IsError:   strings.HasPrefix(summary, "error: "),
		})
	}
	return results
}

// finalize persists the assistant turn and emits message_complete.
func (o *Orchestrator) finalize(ctx context.Context, sink EventSink, state *runState, userText string, logger *slog.Logger) error {
	persistCtx := ctx
	if ctx.Err() != nil {
		persistCtx = detach(ctx)
	}

	text := state.text.String()
	msg := &models.Message{
		ConversationID: state.conversation.ID,
		Role:           models.RoleAssistant,
		Content:        text,
		ToolCalls:      state.toolCalls,
		RichBlocks:     richblocks.Extract(text),
		TokenCount:     EstimateTokens(text),
	}
	if err := o.store.AppendMessage(persistCtx, msg); err != nil {
		return fmt.Errorf("persist assistant message: %w", err)
	}

	emitTerminal(ctx, sink, models.NewMessageCompleteEvent(msg.ID, text, msg.RichBlocks))
	logger.Info("run completed", "model_calls", state.modelCalls, "tool_calls", len(state.toolCalls), "chars", len(text))

	if state.created && !state.conversation.HasTitle() {
		o.startTitle(detach(ctx), state, userText, text)
	}
	return nil
}

// startTitle generates a conversation title in the background. Failures are
// logged and otherwise ignored.
func (o *Orchestrator) startTitle(ctx context.Context, state *runState, userText, assistantText string) {
	convID := state.conversation.ID
	userID := state.userID
	logger := o.logger.With("conversation_id", convID, "run_id", state.runID)

	o.background.Add(1)
	go func() {
		defer o.background.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Warn("title generation panicked", "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(ctx, o.config.TitleTimeout)
		defer cancel()

		if err := o.generateTitle(ctx, convID, userID, userText, assistantText); err != nil {
			logger.Warn("title generation failed", "error", err)
		}
	}()
}

func (o *Orchestrator) generateTitle(ctx context.Context, convID, userID, userText, assistantText string) error {
	start := time.Now()
	final, err := o.client.Send(ctx, &Request{
		Purpose:   PurposeTitle,
		Model:     o.config.TitleModel,
		MaxTokens: o.config.TitleMaxTokens,
		System:    titleSystemPrompt,
		Messages: []Message{{
			Role:    models.RoleUser,
			Content: []ContentBlock{TextBlock(titleInput(userText, assistantText))},
		}},
	})
	if err != nil {
		o.config.Metrics.RecordModelCall(PurposeTitle, "error", "", time.Since(start).Seconds(), 0, 0)
		return err
	}
	o.config.Metrics.RecordModelCall(PurposeTitle, "success", final.StopReason, time.Since(start).Seconds(),
		final.Usage.InputTokens, final.Usage.OutputTokens)
	o.recordUsage(ctx, userID, &final.Usage)

	title := cleanTitle(final.Text())
	if title == "" {
		return errors.New("model returned an empty title")
	}
	if err := o.store.UpdateTitle(ctx, convID, title); err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	return nil
}

// recordUsage increments the user's counters. Accounting never fails a run.
func (o *Orchestrator) recordUsage(ctx context.Context, userID string, u *usage.Usage) {
	if o.recorder == nil {
		return
	}
	if err := usage.RecordModelCall(detach(ctx), o.recorder, userID, u, o.config.Pricing); err != nil {
		observability.LoggerWithContext(ctx, o.logger).Warn("failed to record usage", "error", err)
		o.config.Metrics.RecordError("usage", "record")
	}
}

// emitTerminal delivers a run's last event. A cancelled run still reports
// its outcome to a consumer that is listening, for a bounded time.
func emitTerminal(ctx context.Context, sink EventSink, e models.Event) {
	if ctx.Err() == nil {
		sink.Emit(ctx, e)
		return
	}
	emitCtx, cancel := context.WithTimeout(detach(ctx), terminalEmitTimeout)
	defer cancel()
	sink.Emit(emitCtx, e)
}

// detach returns a context that keeps ctx's values but not its cancellation.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
