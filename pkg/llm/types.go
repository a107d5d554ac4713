// Package llm provides a vendor-agnostic, schema-typed LLM call layer.
// A caller declares a target type carrying a JSON schema; the adapter
// composes the prompt, invokes one of several vendors, tolerantly parses
// the JSON/YAML/TOML response, validates it against the schema, and
// deserializes it, retrying across a fallback model list.
package llm

import (
	"errors"
	"fmt"
	"strings"
)

// Vendor identifies an LLM provider family.
type Vendor string

const (
	VendorAnthropic Vendor = "anthropic"
	VendorOpenAI    Vendor = "openai"
	VendorGemini    Vendor = "gemini"
	VendorReplicate Vendor = "replicate"
)

// VendorModel pairs a vendor with a concrete model identifier.
// Fallback lists are ordered; models are tried left-to-right.
type VendorModel struct {
	Vendor Vendor `json:"vendor"`
	Model  string `json:"model"`
}

// InferVendor maps a model identifier to its vendor by naming
// convention. Replicate models carry an owner prefix ("owner/name").
func InferVendor(model string) (Vendor, error) {
	switch {
	case strings.HasPrefix(model, "claude"):
		return VendorAnthropic, nil
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return VendorOpenAI, nil
	case strings.HasPrefix(model, "gemini"):
		return VendorGemini, nil
	case strings.Contains(model, "/"):
		return VendorReplicate, nil
	default:
		return "", fmt.Errorf("llm: cannot infer vendor for model %q", model)
	}
}

// InferVendorModels maps a list of model identifiers.
func InferVendorModels(models []string) ([]VendorModel, error) {
	out := make([]VendorModel, 0, len(models))
	for _, m := range models {
		vendor, err := InferVendor(m)
		if err != nil {
			return nil, err
		}
		out = append(out, VendorModel{Vendor: vendor, Model: m})
	}
	return out, nil
}

func (vm VendorModel) String() string {
	return fmt.Sprintf("%s/%s", vm.Vendor, vm.Model)
}

// OutputFormat selects the serialization the model is instructed to emit.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatYAML OutputFormat = "yaml"
	FormatTOML OutputFormat = "toml"
)

// Request is the vendor-neutral completion request.
type Request struct {
	Model          string
	System         string
	Prompt         string
	MaxTokens      int
	Temperature    float64
	// GroundedSearch asks the vendor to consult its search grounding
	// tool when supported (Gemini). Other vendors ignore it.
	GroundedSearch bool
}

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Response is the vendor-neutral completion result.
type Response struct {
	Text  string
	Usage Usage
}

// ErrNoModels is returned when a typed call is made with an empty model list.
var ErrNoModels = errors.New("llm: no models configured")

// ExhaustedError is returned when every (model, attempt) pair failed.
// Errs holds the last error per model, in fallback order.
type ExhaustedError struct {
	Errs []error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("llm: all models exhausted (%d tried): %v", len(e.Errs), errors.Join(e.Errs...))
}

func (e *ExhaustedError) Unwrap() []error { return e.Errs }

// ValidationError reports a schema validation failure with field paths.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("llm: response failed schema validation: %v", e.Issues)
}
