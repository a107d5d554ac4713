package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/seekerhq/seeker/pkg/commandqueue"
	"github.com/seekerhq/seeker/pkg/credits"
	"github.com/seekerhq/seeker/pkg/llm"
	"github.com/seekerhq/seeker/pkg/session"
	"github.com/seekerhq/seeker/pkg/tools"
)

const (
	// DefaultMaxIterations caps the loop per run.
	DefaultMaxIterations = 50

	// maxSummaryFailures terminates the session after this many
	// consecutive compaction failures.
	maxSummaryFailures = 3
)

// Config assembles the runner's dependencies.
type Config struct {
	Sessions   *session.Manager
	Dispatcher tools.Dispatcher
	Ledger     *credits.Ledger
	LLM        *llm.Client
	Queue      *commandqueue.Queue

	// Models is the conversation model chain, tried left-to-right.
	Models []llm.VendorModel

	// SummaryModels drive compaction. Empty falls back to Models.
	SummaryModels []llm.VendorModel

	// Retries is the per-model attempt count for typed calls.
	Retries int

	// Format is the structured-output serialization requested from
	// the models. Empty means JSON.
	Format llm.OutputFormat

	MaxIterations int

	Logger zerolog.Logger
}

// Runner executes the agent loop for sessions, one at a time per
// session through the command queue.
type Runner struct {
	sessions      *session.Manager
	dispatcher    tools.Dispatcher
	ledger        *credits.Ledger
	llm           *llm.Client
	queue         *commandqueue.Queue
	models        []llm.VendorModel
	summaryModels []llm.VendorModel
	retries       int
	format        llm.OutputFormat
	maxIterations int
	log           zerolog.Logger
	now           func() time.Time
}

func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("agent: session manager is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("agent: tool dispatcher is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("agent: credit ledger is required")
	}
	if cfg.LLM == nil {
		return nil, fmt.Errorf("agent: llm client is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("agent: command queue is required")
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("agent: at least one model is required")
	}

	summaryModels := cfg.SummaryModels
	if len(summaryModels) == 0 {
		summaryModels = cfg.Models
	}
	retries := cfg.Retries
	if retries < 1 {
		retries = 2
	}
	maxIterations := cfg.MaxIterations
	if maxIterations < 1 {
		maxIterations = DefaultMaxIterations
	}

	return &Runner{
		sessions:      cfg.Sessions,
		dispatcher:    cfg.Dispatcher,
		ledger:        cfg.Ledger,
		llm:           cfg.LLM,
		queue:         cfg.Queue,
		models:        cfg.Models,
		summaryModels: summaryModels,
		retries:       retries,
		format:        cfg.Format,
		maxIterations: maxIterations,
		log:           cfg.Logger.With().Str("component", "agent").Logger(),
		now:           time.Now,
	}, nil
}

// Run executes the loop for the session on its serialized lane and
// returns the session in its final state.
func (r *Runner) Run(ctx context.Context, sessionID uuid.UUID) (*session.Session, error) {
	lane := commandqueue.SessionLane(sessionID.String())
	_, err := r.queue.Enqueue(ctx, lane, func(taskCtx context.Context) (any, error) {
		return nil, r.execute(taskCtx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return r.sessions.Get(ctx, sessionID)
}

func (r *Runner) execute(ctx context.Context, id uuid.UUID) error {
	log := r.log.With().Str("session_id", id.String()).Logger()

	s, err := r.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.Status == session.StatusPending {
		if err := r.sessions.UpdateStatus(ctx, id, session.StatusRunning); err != nil {
			return err
		}
	}

	summaryFailures := 0
	for iteration := 1; ; iteration++ {
		if iteration > r.maxIterations {
			log.Warn().Int("iterations", r.maxIterations).Msg("iteration cap exceeded")
			return r.sessions.Fail(ctx, id, "iteration_limit_exceeded")
		}

		s, err = r.sessions.Get(ctx, id)
		if err != nil {
			return err
		}

		// Termination policy, first match wins. A session that went
		// terminal between iterations stops the loop before the
		// clock is consulted; marking a terminal session timed out
		// would be an illegal transition.
		if s.Status == session.StatusInterrupted {
			log.Info().Msg("interrupt observed, stopping loop")
			return nil
		}
		if s.Status.Terminal() {
			return nil
		}
		if s.Config.TimeLimit < 0 {
			return r.sessions.Fail(ctx, id, "config_error: negative time limit")
		}
		if r.now().Sub(s.CreatedAt) > s.Config.TimeLimit {
			return r.sessions.UpdateStatus(ctx, id, session.StatusTimeout)
		}
		if s.Status == session.StatusAwaitingInput {
			return nil
		}

		if s.ContextTokens() > s.Config.TokenThreshold {
			if err := r.compact(ctx, s); err != nil {
				summaryFailures++
				log.Warn().Err(err).Int("consecutive_failures", summaryFailures).Msg("compaction failed")
				if summaryFailures >= maxSummaryFailures {
					return r.sessions.Fail(ctx, id, "summarization_failed")
				}
			} else {
				summaryFailures = 0
				if s, err = r.sessions.Get(ctx, id); err != nil {
					return err
				}
			}
		}

		resp, err := llm.Typed[AgentResponse](ctx, r.llm, r.buildPrompt(s), llm.CallOptions{
			Models:    r.models,
			Retries:   r.retries,
			Format:    r.format,
			LogPrefix: "agent_step",
		})
		if err != nil {
			log.Error().Err(err).Msg("llm call exhausted")
			return r.sessions.Fail(ctx, id, fmt.Sprintf("llm_error: %v", err))
		}

		if resp.UserAnswer != "" {
			if err := r.sessions.AppendAgentMessage(ctx, id, resp.UserAnswer); err != nil {
				log.Warn().Err(err).Msg("failed to record agent message")
			}
		}

		if resp.IsFinal {
			title := resp.Title
			if title == "" {
				title = "Research Results"
			}
			return r.sessions.Complete(ctx, id, session.FinalAnswerResponse{
				Title:            title,
				MarkdownResponse: resp.UserAnswer,
			})
		}

		if len(resp.Actions) == 0 {
			return r.sessions.UpdateStatus(ctx, id, session.StatusAwaitingInput)
		}

		for _, action := range resp.Actions {
			done, err := r.runAction(ctx, s, iteration, action)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// runAction dispatches one tool call. The bool result is true when the
// session reached a terminal state and the loop must stop.
func (r *Runner) runAction(ctx context.Context, s *session.Session, iteration int, action tools.ToolChoice) (bool, error) {
	id := s.ID
	ec := tools.ExecutionContext{
		UserID:         s.UserID,
		OrganizationID: s.OrganizationID,
		SessionID:      id,
		Iteration:      iteration,
		AppendContext: func(ctx context.Context, kind, content string) error {
			return r.sessions.AppendContext(ctx, id, session.EntryKind(kind), content)
		},
	}

	outcome, err := r.dispatcher.Dispatch(ctx, ec, action)
	if err != nil {
		if errors.Is(err, credits.ErrInsufficientCredits) {
			if appendErr := r.sessions.AppendContext(ctx, id, session.KindSystem, "insufficient_credits"); appendErr != nil {
				r.log.Warn().Err(appendErr).Msg("failed to record insufficient_credits entry")
			}
			return true, r.sessions.Fail(ctx, id, "insufficient_credits")
		}
		if outcome != nil {
			// A non-nil outcome means the tool already ran, so its
			// side effect stands and the failure is in the ledger,
			// not the tool. Refund when the debit committed, then
			// stop.
			if outcome.Transaction != nil {
				if _, refundErr := r.ledger.Refund(ctx, outcome.Transaction.ID); refundErr != nil {
					r.log.Error().Err(refundErr).Msg("compensating refund failed")
				}
			}
			return true, r.sessions.Fail(ctx, id, fmt.Sprintf("tool_debit_inconsistency: %v", err))
		}

		// Recoverable tool failure: record it, no debit, keep looping.
		entry := fmt.Sprintf("tool %s failed: %v", action.ToolName, err)
		if appendErr := r.sessions.AppendContext(ctx, id, session.KindToolResult, entry); appendErr != nil {
			return true, r.sessions.Fail(ctx, id, "context_persist_failed")
		}
		return false, nil
	}

	choiceJSON, err := json.Marshal(action)
	if err != nil {
		choiceJSON = []byte(action.ToolName)
	}
	fullJSON, err := json.Marshal(outcome.Full)
	if err != nil {
		fullJSON = outcome.Full.Response
	}

	if err := r.sessions.AppendContext(ctx, id, session.KindToolChoice, string(choiceJSON)); err != nil {
		return true, r.failWithRefund(ctx, id, outcome, err)
	}
	if err := r.sessions.AppendContext(ctx, id, session.KindToolResult, string(fullJSON)); err != nil {
		return true, r.failWithRefund(ctx, id, outcome, err)
	}

	// The user-facing summary goes to the history, where the session
	// API surfaces it; the machine response above stays in context.
	if outcome.User != nil && outcome.User.Summary != "" {
		if err := r.sessions.AppendAgentMessage(ctx, id, outcome.User.Summary); err != nil {
			r.log.Warn().Err(err).Msg("failed to record tool summary")
		}
	}
	return false, nil
}

// failWithRefund compensates a committed debit whose result could not
// be persisted, then fails the session.
func (r *Runner) failWithRefund(ctx context.Context, id uuid.UUID, outcome *tools.Outcome, cause error) error {
	if outcome.Transaction != nil {
		if _, err := r.ledger.Refund(ctx, outcome.Transaction.ID); err != nil {
			r.log.Error().Err(err).Msg("compensating refund failed")
		}
	}
	return r.sessions.Fail(ctx, id, fmt.Sprintf("context_persist_failed: %v", cause))
}

func (r *Runner) buildPrompt(s *session.Session) string {
	var b strings.Builder

	b.WriteString("You are an autonomous research agent. Each step, decide the next tool calls, ask the user a question, or finish with is_final=true and the complete markdown report in user_answer.\n\n")

	b.WriteString("# Available tools\n")
	b.WriteString(r.dispatcher.Catalog())
	b.WriteString("\n")

	if s.Config.InitialInstruction != "" {
		fmt.Fprintf(&b, "# Instruction\n%s\n\n", s.Config.InitialInstruction)
	}

	if len(s.Attachments) > 0 {
		b.WriteString("# Attachments\n")
		for _, a := range s.Attachments {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", a.Kind, a.Title, a.URL)
		}
		b.WriteString("\n")
	}

	if len(s.History) > 0 {
		b.WriteString("# Conversation\n")
		for _, msg := range s.History {
			fmt.Fprintf(&b, "%s: %s\n", msg.Sender, msg.Text)
		}
		b.WriteString("\n")
	}

	if len(s.Context) > 0 {
		b.WriteString("# Research context\n")
		for _, entry := range s.Context {
			fmt.Fprintf(&b, "[%s] %s\n", entry.Kind, entry.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("Decide the next step.")
	return b.String()
}

// compact replaces older context entries with one LLM-written summary,
// preserving the most recent exchanges verbatim.
func (r *Runner) compact(ctx context.Context, s *session.Session) error {
	older, kept := splitForCompaction(s.Context, s.Config.PreserveExchanges)
	if len(older) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("Summarize the research record below into a dense brief that preserves every fact, source, and decision needed to continue the work.\n\n")
	for _, entry := range older {
		fmt.Fprintf(&b, "[%s] %s\n", entry.Kind, entry.Content)
	}

	resp, err := llm.Typed[summaryResponse](ctx, r.llm, b.String(), llm.CallOptions{
		Models:    r.summaryModels,
		Retries:   r.retries,
		Format:    r.format,
		LogPrefix: "agent_summary",
	})
	if err != nil {
		return fmt.Errorf("agent: summarization failed: %w", err)
	}

	entries := make([]session.ContextEntry, 0, len(kept)+1)
	entries = append(entries, session.ContextEntry{
		Content:   resp.Summary,
		Tokens:    len(resp.Summary) / 4,
		Kind:      session.KindSummary,
		CreatedAt: r.now(),
	})
	entries = append(entries, kept...)

	r.log.Info().
		Str("session_id", s.ID.String()).
		Int("compacted", len(older)).
		Int("kept", len(kept)).
		Msg("context compacted")
	return r.sessions.ReplaceContext(ctx, s.ID, entries)
}

// splitForCompaction divides the context at the start of the last
// `preserve` user exchanges. Without enough user-input anchors, the
// most recent entries are preserved by count instead.
func splitForCompaction(entries []session.ContextEntry, preserve int) (older, kept []session.ContextEntry) {
	if preserve < 1 {
		preserve = 1
	}

	seen := 0
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Kind == session.KindUserInput {
			seen++
			if seen == preserve {
				return entries[:i], entries[i:]
			}
		}
	}

	// No anchor boundary: keep the trailing window.
	window := preserve * 2
	if len(entries) <= window {
		return nil, entries
	}
	return entries[:len(entries)-window], entries[len(entries)-window:]
}
