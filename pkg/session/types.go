// Package session holds the research session model: status machine,
// history, accumulated context, and the manager that guards every
// mutation behind the allowed transitions.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Status is a session lifecycle state.
type Status string

const (
	StatusPending       Status = "pending"
	StatusRunning       Status = "running"
	StatusAwaitingInput Status = "awaiting_input"
	StatusInterrupted   Status = "interrupted"
	StatusCompleted     Status = "completed"
	StatusError         Status = "error"
	StatusTimeout       Status = "timeout"
)

// Terminal reports whether no further status transition is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusInterrupted, StatusCompleted, StatusError, StatusTimeout:
		return true
	}
	return false
}

// CanTransition reports whether the status machine allows from → to.
// Interrupt is allowed from every non-terminal state.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusInterrupted {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusAwaitingInput || to == StatusCompleted || to == StatusError || to == StatusTimeout
	case StatusAwaitingInput:
		return to == StatusRunning
	}
	return false
}

// Sender identifies who wrote a history message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAgent  Sender = "agent"
	SenderSystem Sender = "system"
)

// Message is one entry in the conversation history.
type Message struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// EntryKind classifies a context entry.
type EntryKind string

const (
	KindToolChoice EntryKind = "tool_choice"
	KindToolResult EntryKind = "tool_result"
	KindSummary    EntryKind = "summary"
	KindUserInput  EntryKind = "user_input"
	KindNote       EntryKind = "note"
	KindSystem     EntryKind = "system"
)

// ContextEntry is one unit of accumulated research context. Tokens is
// the authoritative count used for the compaction threshold.
type ContextEntry struct {
	Content   string    `json:"content"`
	Tokens    int       `json:"tokens"`
	Kind      EntryKind `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// AttachmentKind is the media type of a submitted attachment.
type AttachmentKind string

const (
	AttachmentText  AttachmentKind = "text"
	AttachmentPDF   AttachmentKind = "pdf"
	AttachmentImage AttachmentKind = "image"
)

// Attachment is a titled blob the user submitted with the task.
type Attachment struct {
	Kind  AttachmentKind `json:"kind"`
	Title string         `json:"title"`
	URL   string         `json:"url"`
}

// Config is the per-session runtime configuration.
type Config struct {
	// TimeLimit bounds the whole run. Negative values fail the
	// config-validity termination check.
	TimeLimit time.Duration `json:"time_limit"`

	// TokenThreshold triggers context compaction when the summed
	// context tokens exceed it.
	TokenThreshold int `json:"token_threshold"`

	// PreserveExchanges is how many recent user↔agent round-trips
	// compaction must keep verbatim.
	PreserveExchanges int `json:"preserve_exchanges"`

	InitialInstruction string `json:"initial_instruction,omitempty"`
}

// FinalAnswerResponse is the structured result of a completed run.
type FinalAnswerResponse struct {
	Title            string `json:"title"`
	MarkdownResponse string `json:"markdown_response"`
}

// Session is one research run.
type Session struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	OrganizationID *uuid.UUID
	CreatedAt      time.Time
	Status         Status
	Config         Config
	History        []Message
	Context        []ContextEntry
	Attachments    []Attachment
	FinalAnswer    *FinalAnswerResponse
	LastError      string
}

// ContextTokens sums the authoritative token counts of all context
// entries.
func (s *Session) ContextTokens() int {
	total := 0
	for _, e := range s.Context {
		total += e.Tokens
	}
	return total
}
