package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/seekerhq/seeker/pkg/blob"
	"github.com/seekerhq/seeker/pkg/session"
)

// ResearchRequest is one end-to-end research job.
type ResearchRequest struct {
	UserID         uuid.UUID
	OrganizationID *uuid.UUID
	Instruction    string
	Attachments    []session.Attachment
	Config         session.Config
}

// ResearchResult is the outcome of a finished job.
type ResearchResult struct {
	SessionID   uuid.UUID
	Status      session.Status
	FinalAnswer *session.FinalAnswerResponse
	OutputLog   string
}

// ResearchService runs research jobs end to end and archives their
// transcripts to the blob store.
type ResearchService struct {
	runner   *Runner
	sessions *session.Manager
	blobs    blob.Store
	log      zerolog.Logger
}

func NewResearchService(runner *Runner, sessions *session.Manager, blobs blob.Store, logger zerolog.Logger) (*ResearchService, error) {
	if runner == nil {
		return nil, fmt.Errorf("agent: runner is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("agent: session manager is required")
	}
	if blobs == nil {
		return nil, fmt.Errorf("agent: blob store is required")
	}
	return &ResearchService{
		runner:   runner,
		sessions: sessions,
		blobs:    blobs,
		log:      logger.With().Str("component", "research_service").Logger(),
	}, nil
}

// transcript is the archived record of a run.
type transcript struct {
	SessionID   uuid.UUID                    `json:"session_id"`
	UserID      uuid.UUID                    `json:"user_id"`
	Status      session.Status               `json:"status"`
	Instruction string                       `json:"instruction"`
	CreatedAt   time.Time                    `json:"created_at"`
	FinishedAt  time.Time                    `json:"finished_at"`
	History     []session.Message            `json:"history"`
	Context     []session.ContextEntry       `json:"context"`
	FinalAnswer *session.FinalAnswerResponse `json:"final_answer,omitempty"`
	LastError   string                       `json:"last_error,omitempty"`
}

// RunAndLog creates a session for the request, runs the loop to
// termination, and uploads the transcript. The returned OutputLog is
// the transcript's blob URL.
func (s *ResearchService) RunAndLog(ctx context.Context, req ResearchRequest) (*ResearchResult, error) {
	if req.Instruction == "" {
		return nil, fmt.Errorf("agent: instruction is required")
	}

	cfg := req.Config
	cfg.InitialInstruction = req.Instruction
	sess, err := s.sessions.CreateSession(ctx, session.CreateParams{
		UserID:         req.UserID,
		OrganizationID: req.OrganizationID,
		Config:         cfg,
		Attachments:    req.Attachments,
	})
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Submit(ctx, sess.ID, req.Instruction); err != nil {
		return nil, err
	}

	final, err := s.runner.Run(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("agent: research run failed: %w", err)
	}

	result := &ResearchResult{
		SessionID:   final.ID,
		Status:      final.Status,
		FinalAnswer: final.FinalAnswer,
	}

	url, err := s.uploadTranscript(ctx, req.Instruction, final)
	if err != nil {
		// The run itself finished; a lost transcript should not fail it.
		s.log.Error().Err(err).Str("session_id", final.ID.String()).Msg("failed to archive transcript")
	} else {
		result.OutputLog = url
	}

	if final.Status != session.StatusCompleted {
		return result, fmt.Errorf("agent: research ended with status %s: %s", final.Status, final.LastError)
	}
	return result, nil
}

func (s *ResearchService) uploadTranscript(ctx context.Context, instruction string, sess *session.Session) (string, error) {
	record := transcript{
		SessionID:   sess.ID,
		UserID:      sess.UserID,
		Status:      sess.Status,
		Instruction: instruction,
		CreatedAt:   sess.CreatedAt,
		FinishedAt:  time.Now(),
		History:     sess.History,
		Context:     sess.Context,
		FinalAnswer: sess.FinalAnswer,
		LastError:   sess.LastError,
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("agent: failed to encode transcript: %w", err)
	}
	return s.blobs.Put(ctx, blob.ResearchLogObject(sess.ID), "application/json", data)
}
