package llm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// InteractionRecord captures one LLM attempt for auditing. One YAML
// file is written per attempt so failures can be replayed offline.
type InteractionRecord struct {
	RequestID        string `yaml:"request_id"`
	Timestamp        string `yaml:"timestamp"`
	ModelName        string `yaml:"model_name"`
	PromptTokens     int    `yaml:"prompt_tokens"`
	CompletionTokens int    `yaml:"completion_tokens"`
	TotalTokens      int    `yaml:"total_tokens"`
	RequestPayload   any    `yaml:"request_payload"`
	ResponsePayload  any    `yaml:"response_payload"`
	ErrorMessage     string `yaml:"error_message,omitempty"`
	DurationMs       int64  `yaml:"duration_ms"`
}

// Logbook writes interaction records as YAML files under a directory.
// A zero-value directory disables file output; records are still traced
// through the structured logger.
type Logbook struct {
	dir string
	log zerolog.Logger
}

// NewLogbook creates a logbook rooted at dir. Empty dir disables file
// output.
func NewLogbook(dir string, log zerolog.Logger) *Logbook {
	return &Logbook{dir: dir, log: log}
}

// Record persists one interaction record. Write failures are logged and
// swallowed: the call outcome is already decided and a logging failure
// must not change it.
func (lb *Logbook) Record(prefix string, rec InteractionRecord) {
	event := lb.log.Debug().
		Str("request_id", rec.RequestID).
		Str("model", rec.ModelName).
		Int("total_tokens", rec.TotalTokens).
		Int64("duration_ms", rec.DurationMs)
	if rec.ErrorMessage != "" {
		event = event.Str("error", rec.ErrorMessage)
	}
	event.Msg("llm interaction")

	if lb.dir == "" {
		return
	}

	if err := os.MkdirAll(lb.dir, 0o755); err != nil {
		lb.log.Warn().Err(err).Str("dir", lb.dir).Msg("failed to create llm log directory")
		return
	}

	content, err := yaml.Marshal(rec)
	if err != nil {
		lb.log.Warn().Err(err).Msg("failed to serialize llm interaction record")
		return
	}

	path := filepath.Join(lb.dir, logFileName(prefix, rec.Timestamp, rec.RequestID))
	if err := os.WriteFile(path, content, 0o644); err != nil {
		lb.log.Warn().Err(err).Str("path", path).Msg("failed to write llm interaction record")
	}
}

// logFileName builds `<prefix>_<sanitized-ts>_<request-id>.yaml`. The
// timestamp keeps lexical ordering equal to chronological ordering.
func logFileName(prefix, timestamp, requestID string) string {
	ts := strings.NewReplacer(":", "-", ".", "-", "+", "ZPLUS").Replace(timestamp)
	id := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_",
		"?", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
	).Replace(requestID)
	if id == "" {
		id = "unknown"
	}
	return fmt.Sprintf("%s_%s_%s.yaml", prefix, ts, id)
}

// ApproxTokens estimates token count for text with the common
// four-characters-per-token heuristic.
func ApproxTokens(s string) int {
	return len(s) / 4
}
