package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/xeipuuv/gojsonschema"

	"github.com/seekerhq/seeker/pkg/credits"
)

// Outcome is the result of a dispatched tool call. Transaction is nil
// for free tools and grant-bypassed debits.
type Outcome struct {
	Full        *FullToolResponse
	User        *UserToolResponse
	Credits     decimal.Decimal
	Transaction *credits.Transaction
}

// Dispatcher routes tool choices. Satisfied by Registry; agent tests
// substitute stubs.
type Dispatcher interface {
	Dispatch(ctx context.Context, ec ExecutionContext, choice ToolChoice) (*Outcome, error)
	Catalog() string
}

// Registry maps tool names to handlers and enforces the per-call
// protocol: validate, check availability, invoke, debit.
type Registry struct {
	tools  map[string]Tool
	ledger *credits.Ledger
	log    zerolog.Logger
}

func NewRegistry(ledger *credits.Ledger, logger zerolog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		ledger: ledger,
		log:    logger.With().Str("component", "tools").Logger(),
	}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	if _, ok := r.tools[t.Name()]; ok {
		return fmt.Errorf("tools: duplicate tool %q", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog renders the registered tools for inclusion in the agent's
// system prompt.
func (r *Registry) Catalog() string {
	var b strings.Builder
	for _, name := range r.Names() {
		t := r.tools[name]
		fmt.Fprintf(&b, "## %s\n%s\nParameters schema:\n%s\n\n", t.Name(), t.Description(), t.Schema())
	}
	return b.String()
}

// Dispatch runs one tool call end to end. When a debit committed but a
// later step failed, the returned Outcome carries the transaction so
// the caller can write a compensating refund.
func (r *Registry) Dispatch(ctx context.Context, ec ExecutionContext, choice ToolChoice) (*Outcome, error) {
	tool, ok := r.tools[choice.ToolName]
	if !ok {
		return nil, fmt.Errorf("tools: unknown tool %q", choice.ToolName)
	}

	if err := validateParams(tool, choice.Parameters); err != nil {
		return nil, err
	}

	cost := decimal.NewFromInt(tool.Credits(choice.Parameters))
	if cost.IsPositive() {
		if err := r.ledger.CheckAvailability(ctx, ec.UserID, cost, ec.OrganizationID); err != nil {
			return nil, fmt.Errorf("tools: %s: %w", tool.Name(), err)
		}
	}

	full, user, err := tool.Invoke(ctx, choice.Parameters, ec)
	if err != nil {
		r.log.Warn().Err(err).Str("tool", tool.Name()).Msg("tool invocation failed")
		return nil, fmt.Errorf("tools: %s: %w", tool.Name(), err)
	}

	outcome := &Outcome{Full: full, User: user, Credits: cost}
	if cost.IsPositive() {
		entityID := EntityID(ec.SessionID, ec.Iteration, tool.Name())
		res, err := r.ledger.Deduct(ctx, credits.DeductParams{
			UserID:         ec.UserID,
			OrganizationID: ec.OrganizationID,
			Credits:        cost,
			ActionSource:   credits.SourceAgentTool,
			ActionType:     "tool:" + tool.Name(),
			EntityID:       &entityID,
		})
		if err != nil {
			return outcome, fmt.Errorf("tools: %s: debit failed: %w", tool.Name(), err)
		}
		outcome.Transaction = res.Transaction
	}

	r.log.Debug().
		Str("tool", tool.Name()).
		Str("session_id", ec.SessionID.String()).
		Int("iteration", ec.Iteration).
		Str("credits", cost.String()).
		Msg("tool dispatched")
	return outcome, nil
}

func validateParams(tool Tool, raw []byte) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(tool.Schema()),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("tools: %s: invalid parameters %s: %w", tool.Name(), raw, err)
	}
	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, issue := range result.Errors() {
			issues = append(issues, fmt.Sprintf("%s: %s", issue.Field(), issue.Description()))
		}
		return fmt.Errorf("tools: %s: parameters %s failed validation: %s", tool.Name(), raw, strings.Join(issues, "; "))
	}
	return nil
}
