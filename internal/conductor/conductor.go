// Package conductor defines the domain types shared by every package in the
// scheduling, rate-accounting, and dispatch engine. This package has no
// project imports -- it is the dependency root.
package conductor

import (
	"context"
	"encoding/json"
)

// --- Wire types ---

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the normalized inbound request, translated from the public
// OpenAI-compatible body. Unknown OpenAI fields the conductor does not
// interpret (presence_penalty, seed, tools, ...) are preserved verbatim in
// Extra and passed through to the upstream provider untouched.
type ChatRequest struct {
	Model          string                     `json:"model"`
	Messages       []Message                  `json:"messages"`
	Temperature    float64                    `json:"temperature"`
	MaxTokens      int                        `json:"max_tokens"`
	TopP           float64                    `json:"top_p"`
	Stop           []string                   `json:"stop,omitempty"`
	ForcedProvider string                     `json:"provider,omitempty"`
	Extra          map[string]json.RawMessage `json:"-"`
}

// chatRequestKnownFields lists the wire keys ChatRequest decodes itself;
// everything else lands in Extra.
var chatRequestKnownFields = map[string]bool{
	"model":       true,
	"messages":    true,
	"temperature": true,
	"max_tokens":  true,
	"top_p":       true,
	"stop":        true,
	"provider":    true,
}

// maxExtraFields bounds the pass-through bag against an adversarial body with
// a large number of unknown top-level keys.
const maxExtraFields = 32

// UnmarshalJSON decodes the known fields normally and collects every
// remaining top-level key into Extra, verbatim, up to maxExtraFields.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	type alias ChatRequest
	aux := (*alias)(r)
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if chatRequestKnownFields[k] {
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]json.RawMessage)
		}
		if len(r.Extra) >= maxExtraFields {
			continue
		}
		r.Extra[k] = v
	}
	return nil
}

// Defaults applied to a ChatRequest that omits these fields.
const (
	DefaultModel       = "llama-70b"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1024
	DefaultTopP        = 1.0
)

// ApplyDefaults fills unset fields with the defaults from spec ChatRequest (internal).
func (r *ChatRequest) ApplyDefaults() {
	if r.Model == "" {
		r.Model = DefaultModel
	}
	if r.Temperature == 0 {
		r.Temperature = DefaultTemperature
	}
	if r.MaxTokens == 0 {
		r.MaxTokens = DefaultMaxTokens
	}
	if r.TopP == 0 {
		r.TopP = DefaultTopP
	}
}

// Validate checks field ranges per spec §3. Returns a field name and message
// on the first violation found.
func (r *ChatRequest) Validate() (field string, msg string, ok bool) {
	if len(r.Messages) == 0 {
		return "messages", "must contain at least one message", false
	}
	for _, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return "messages.role", "must be one of system, user, assistant", false
		}
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return "temperature", "must be in [0, 2]", false
	}
	if r.MaxTokens <= 0 {
		return "max_tokens", "must be positive", false
	}
	if r.TopP <= 0 || r.TopP > 1 {
		return "top_p", "must be in (0, 1]", false
	}
	return "", "", true
}

// Usage reports upstream token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is an OpenAI-shaped response augmented with the fields
// identifying which provider and key served the call.
type ChatResponse struct {
	ID              string          `json:"id"`
	Object          string          `json:"object"`
	Created         int64           `json:"created"`
	Model           string          `json:"model"`
	Choices         json.RawMessage `json:"choices"`
	Usage           *Usage          `json:"usage,omitempty"`
	Provider        string          `json:"provider"`
	ProviderKeyName string          `json:"provider_key_name"`
}

// --- Configuration-derived descriptors ---

// ProviderDescriptor is the immutable configuration of an upstream provider.
type ProviderDescriptor struct {
	ID       string
	BaseURL  string
	Enabled  bool
	ChatPath string // default "/chat/completions"
}

// KeyDescriptor is one API key belonging to one provider. Immutable after load.
type KeyDescriptor struct {
	Provider string
	Name     string
	APIKey   string
	RPM      int64
	TPM      int64
}

// ProviderDirectory is a read-only, immutable-after-load lookup of every
// configured provider's static descriptor. Used by the Dispatcher to read a
// provider's enabled flag, base URL and chat path.
type ProviderDirectory struct {
	descriptors map[string]ProviderDescriptor
}

// NewProviderDirectory builds a directory from the given descriptors.
func NewProviderDirectory(descs []ProviderDescriptor) *ProviderDirectory {
	m := make(map[string]ProviderDescriptor, len(descs))
	for _, d := range descs {
		m[d.ID] = d
	}
	return &ProviderDirectory{descriptors: m}
}

// Descriptor returns the static descriptor for providerID, or ok=false if unknown.
func (pd *ProviderDirectory) Descriptor(providerID string) (ProviderDescriptor, bool) {
	d, ok := pd.descriptors[providerID]
	return d, ok
}

// All returns every provider descriptor, order unspecified.
func (pd *ProviderDirectory) All() []ProviderDescriptor {
	out := make([]ProviderDescriptor, 0, len(pd.descriptors))
	for _, d := range pd.descriptors {
		out = append(out, d)
	}
	return out
}

// --- Context helpers ---

type contextKey int

const ctxKeyRequestID contextKey = 0

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFromContext extracts the request ID from context, or "" if absent.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}
