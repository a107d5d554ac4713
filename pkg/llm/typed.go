package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/BurntSushi/toml"
)

// Target is a type that can be produced by a typed LLM call. Schema
// returns the JSON schema the response must validate against.
type Target interface {
	Schema() []byte
}

// FewShotProvider is an optional extension of Target supplying example
// outputs that are serialized into the prompt in the requested format.
type FewShotProvider interface {
	FewShots() []any
}

// CallOptions configures one typed call.
type CallOptions struct {
	// Models are tried left-to-right; each gets Retries attempts
	// before the next model is tried.
	Models []VendorModel

	// Retries is the attempt count per model. Zero means one attempt.
	Retries int

	// Format selects the serialization the model is asked for.
	// Defaults to JSON.
	Format OutputFormat

	MaxTokens   int
	Temperature float64

	// LogPrefix names the interaction log files. Defaults to
	// "llm_typed".
	LogPrefix string
}

// Typed performs a schema-validated LLM call and deserializes the
// response into T. Every (model, attempt) pair is logged; parse and
// validation failures are retried, first on the same model with a
// 200ms-per-attempt backoff, then on the next model in the list.
func Typed[T Target](ctx context.Context, c *Client, prompt string, opts CallOptions) (T, error) {
	var zero T

	if len(opts.Models) == 0 {
		return zero, ErrNoModels
	}

	format := opts.Format
	if format == "" {
		format = FormatJSON
	}
	attempts := opts.Retries
	if attempts < 1 {
		attempts = 1
	}
	prefix := opts.LogPrefix
	if prefix == "" {
		prefix = "llm_typed"
	}

	schema := zero.Schema()
	system, err := composeSystemPrompt(zero, schema, format)
	if err != nil {
		return zero, err
	}
	schemaLoader := gojsonschema.NewBytesLoader(schema)

	var errs []error
	for _, vm := range opts.Models {
		provider, perr := c.Provider(vm.Vendor)
		if perr != nil {
			errs = append(errs, perr)
			continue
		}

		var lastErr error
		for attempt := 1; attempt <= attempts; attempt++ {
			if attempt > 1 {
				backoff := time.Duration(attempt-1) * 200 * time.Millisecond
				select {
				case <-ctx.Done():
					return zero, ctx.Err()
				case <-time.After(backoff):
				}
			}

			out, aerr := oneAttempt[T](ctx, c, provider, vm, system, prompt, format, schemaLoader, prefix, opts)
			if aerr == nil {
				return out, nil
			}
			lastErr = aerr
			c.log.Warn().
				Err(aerr).
				Str("model", vm.String()).
				Int("attempt", attempt).
				Msg("typed llm attempt failed")
		}
		errs = append(errs, fmt.Errorf("model %s: %w", vm, lastErr))
	}

	return zero, &ExhaustedError{Errs: errs}
}

func oneAttempt[T Target](
	ctx context.Context,
	c *Client,
	provider Provider,
	vm VendorModel,
	system, prompt string,
	format OutputFormat,
	schemaLoader gojsonschema.JSONLoader,
	prefix string,
	opts CallOptions,
) (T, error) {
	var zero T

	requestID, _ := gonanoid.New()
	start := time.Now()
	rec := InteractionRecord{
		RequestID: requestID,
		Timestamp: start.UTC().Format(time.RFC3339Nano),
		ModelName: vm.String(),
		RequestPayload: map[string]any{
			"system": system,
			"prompt": prompt,
			"format": string(format),
		},
	}
	finish := func(outcome error) {
		if outcome != nil {
			rec.ErrorMessage = outcome.Error()
		}
		rec.DurationMs = time.Since(start).Milliseconds()
		rec.TotalTokens = rec.PromptTokens + rec.CompletionTokens
		c.logbook.Record(prefix, rec)
	}

	resp, err := provider.Complete(ctx, Request{
		Model:       vm.Model,
		System:      system,
		Prompt:      prompt,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		finish(err)
		return zero, fmt.Errorf("vendor call failed: %w", err)
	}

	rec.PromptTokens = resp.Usage.InputTokens
	rec.CompletionTokens = resp.Usage.OutputTokens
	rec.ResponsePayload = resp.Text

	value, err := parseResponse(resp.Text, format)
	if err != nil {
		finish(err)
		return zero, err
	}
	rec.ResponsePayload = json.RawMessage(value)

	if err := validateAgainstSchema(schemaLoader, value); err != nil {
		finish(err)
		return zero, err
	}

	var out T
	if err := json.Unmarshal(value, &out); err != nil {
		err = fmt.Errorf("failed to deserialize validated response: %w", err)
		finish(err)
		return zero, err
	}

	finish(nil)
	return out, nil
}

func parseResponse(text string, format OutputFormat) (json.RawMessage, error) {
	switch format {
	case FormatJSON:
		if v, ok := LooseJSON(text); ok {
			return v, nil
		}
		return nil, fmt.Errorf("failed to parse JSON from response (first 100 chars: %q)", head(text, 100))
	case FormatYAML:
		if v, ok := LooseYAML(text); ok {
			return v, nil
		}
		return nil, fmt.Errorf("failed to parse YAML from response (first 100 chars: %q)", head(text, 100))
	case FormatTOML:
		if v, ok := LooseTOML(text); ok {
			return v, nil
		}
		return nil, fmt.Errorf("failed to parse TOML from response (first 100 chars: %q)", head(text, 100))
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

func validateAgainstSchema(schemaLoader gojsonschema.JSONLoader, value json.RawMessage) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(value))
	if err != nil {
		return fmt.Errorf("schema validation errored: %w", err)
	}
	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			issues = append(issues, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
		}
		return &ValidationError{Issues: issues}
	}
	return nil
}

// composeSystemPrompt builds the instruction block: schema, few-shot
// examples when the target provides them, and an explicit format
// directive.
func composeSystemPrompt(target Target, schema []byte, format OutputFormat) (string, error) {
	tag := strings.ToUpper(string(format))

	examples := ""
	if fp, ok := any(target).(FewShotProvider); ok {
		rendered := make([]string, 0)
		for _, shot := range fp.FewShots() {
			enc, err := encodeExample(shot, format)
			if err != nil {
				return "", fmt.Errorf("failed to encode few-shot example: %w", err)
			}
			rendered = append(rendered, enc)
		}
		examples = strings.Join(rendered, "\n\n")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "<%s_SCHEMA>\n%s\n</%s_SCHEMA>\n\n", tag, string(schema), tag)
	if examples != "" {
		fmt.Fprintf(&sb, "<EXAMPLES>\n%s\n</EXAMPLES>\n\n", examples)
	}
	fmt.Fprintf(&sb, "Please respond with a valid %s object only, without any additional comments, explanations, or markdown fences.", tag)
	return sb.String(), nil
}

func encodeExample(v any, format OutputFormat) (string, error) {
	switch format {
	case FormatYAML:
		b, err := yaml.Marshal(v)
		return string(b), err
	case FormatTOML:
		var sb strings.Builder
		err := toml.NewEncoder(&sb).Encode(v)
		return sb.String(), err
	default:
		b, err := json.Marshal(v)
		return string(b), err
	}
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
