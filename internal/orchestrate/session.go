package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vocarta/vocarta/internal/grounding"
	"github.com/vocarta/vocarta/internal/ledger"
	"github.com/vocarta/vocarta/internal/observe"
	"github.com/vocarta/vocarta/internal/ordertools"
	"github.com/vocarta/vocarta/pkg/provider/llm"
)

// maxToolRounds bounds the completion/tool-execution loop of a single turn.
// A model that keeps emitting tool calls past this is looping.
const maxToolRounds = 8

// ErrTurnLimit is returned when the model has not produced a final reply
// within [maxToolRounds] completion rounds.
var ErrTurnLimit = errors.New("model did not stop calling tools")

// ToolInvocation records one executed tool call of a turn.
type ToolInvocation struct {
	// Name is the tool that was called.
	Name string

	// Arguments is the JSON argument string the model supplied.
	Arguments string

	// Result is the JSON union result returned to the model.
	Result string
}

// TurnResult is the outcome of one conversational turn.
type TurnResult struct {
	// Reply is the model's final text response for the customer.
	Reply string

	// Invocations lists the tool calls executed this turn, in order.
	Invocations []ToolInvocation

	// OrderSummary is the order state after the turn.
	OrderSummary string

	// Usage is the summed token usage across all completion rounds.
	Usage llm.Usage
}

// Session is one live order conversation. A turn mutex admits at most one
// outstanding completion: concurrent RunTurn calls queue rather than
// interleave their tool executions.
type Session struct {
	mu           sync.Mutex
	id           string
	ledger       *ledger.Ledger
	journal      ledger.Journal
	registry     *ledger.Registry
	injector     *grounding.Injector
	tools        []ordertools.Tool
	history      []llm.Message
	systemPrompt string
	log          *slog.Logger
	metrics      *observe.Metrics
	startedAt    time.Time
	finished     bool
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Ledger returns the session's order ledger.
func (s *Session) Ledger() *ledger.Ledger { return s.ledger }

// StartedAt returns when the session was opened.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// RunTurn carries one customer utterance through the turn loop: assemble
// grounding context, request a completion, execute any tool calls, feed
// their results back, and repeat until the model answers in plain text.
//
// A tool handler error (journal write failure, malformed arguments) aborts
// the turn; the conversation history keeps the utterance so the turn can be
// retried.
func (s *Session) RunTurn(ctx context.Context, utterance string) (*TurnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tc, err := s.injector.PrepareTurn(ctx, utterance, s.ledger)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.GroundingDuration.Record(ctx, tc.AssemblyDuration.Seconds())
	}

	s.history = append(s.history, llm.Message{Role: "user", Content: utterance})

	result := &TurnResult{}
	for round := 0; round < maxToolRounds; round++ {
		llmStart := time.Now()
		resp, err := s.injector.Complete(ctx, llm.CompletionRequest{
			Messages:     s.history,
			Tools:        s.definitions(),
			SystemPrompt: s.systemPrompt,
		}, tc)
		if s.metrics != nil {
			s.metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())
		}
		if err != nil {
			return nil, fmt.Errorf("orchestrate: completion: %w", err)
		}
		result.Usage.PromptTokens += resp.Usage.PromptTokens
		result.Usage.CompletionTokens += resp.Usage.CompletionTokens
		result.Usage.TotalTokens += resp.Usage.TotalTokens

		s.history = append(s.history, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			result.Reply = resp.Content
			result.OrderSummary = s.ledger.Summary()
			return result, nil
		}

		for _, call := range resp.ToolCalls {
			out, err := s.execute(ctx, call)
			if err != nil {
				return nil, err
			}
			result.Invocations = append(result.Invocations, ToolInvocation{
				Name:      call.Name,
				Arguments: call.Arguments,
				Result:    out,
			})
			s.history = append(s.history, llm.Message{
				Role:       "tool",
				Content:    out,
				Name:       call.Name,
				ToolCallID: call.ID,
			})
		}
	}

	return nil, fmt.Errorf("orchestrate: turn aborted after %d rounds: %w", maxToolRounds, ErrTurnLimit)
}

// Finish ends the session. With completed true the ledger is completed (if
// a complete_order tool call has not already done so), the final snapshot
// is written, and the session leaves the registry. Otherwise the ledger
// stays open and registered for audit or resumption; only this handle is
// discarded.
func (s *Session) Finish(ctx context.Context, completed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A second Finish on the same handle must not decrement the gauge again.
	if s.finished {
		return nil
	}
	s.finished = true

	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(ctx, -1)
	}

	if !completed {
		s.log.Info("order session detached", "status", s.ledger.Status())
		return nil
	}

	if s.ledger.Status() == ledger.StatusOpen {
		if _, err := s.ledger.Complete(ctx); err != nil {
			return fmt.Errorf("orchestrate: finish session %s: %w", s.id, err)
		}
	}

	s.registry.Remove(s.id)
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.log.Warn("journal close failed", "err", err)
		}
	}

	if s.metrics != nil {
		s.metrics.OrdersCompleted.Add(ctx, 1)
	}
	s.log.Info("order session finished", "summary", s.ledger.Summary())
	return nil
}

// execute runs one tool call against the session's tool set.
func (s *Session) execute(ctx context.Context, call llm.ToolCall) (string, error) {
	for _, t := range s.tools {
		if t.Definition.Name != call.Name {
			continue
		}
		start := time.Now()
		out, err := t.Handler(ctx, call.Arguments)
		if s.metrics != nil {
			s.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds())
			s.metrics.RecordToolCall(ctx, call.Name, toolStatus(out, err))
		}
		if err != nil {
			return "", fmt.Errorf("orchestrate: tool %s: %w", call.Name, err)
		}
		s.log.Debug("tool executed", "tool", call.Name)
		return out, nil
	}
	return "", fmt.Errorf("orchestrate: model called unknown tool %q", call.Name)
}

// toolStatus classifies a tool outcome for metrics.
func toolStatus(result string, err error) string {
	switch {
	case err != nil:
		return "error"
	case strings.Contains(result, `"success":false`):
		return "rejected"
	default:
		return "confirmed"
	}
}

// definitions returns the tool schemas offered to the model.
func (s *Session) definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, len(s.tools))
	for i, t := range s.tools {
		defs[i] = t.Definition
	}
	return defs
}
