package conductor

import (
	"context"
	"encoding/json"
	"testing"
)

func TestChatRequest_UnmarshalJSON_CapturesExtra(t *testing.T) {
	t.Parallel()
	var r ChatRequest
	body := []byte(`{"model":"llama-70b","messages":[{"role":"user","content":"hi"}],"tools":[{"type":"function"}],"seed":42}`)
	if err := json.Unmarshal(body, &r); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if r.Model != "llama-70b" {
		t.Errorf("Model = %q", r.Model)
	}
	if len(r.Extra) != 2 {
		t.Fatalf("Extra = %+v, want 2 entries", r.Extra)
	}
	if _, ok := r.Extra["tools"]; !ok {
		t.Error("Extra missing tools")
	}
	if _, ok := r.Extra["seed"]; !ok {
		t.Error("Extra missing seed")
	}
	if _, ok := r.Extra["model"]; ok {
		t.Error("Extra should not capture known fields")
	}
}

func TestChatRequest_UnmarshalJSON_BoundsExtra(t *testing.T) {
	t.Parallel()
	var r ChatRequest
	fields := make(map[string]any, maxExtraFields+10)
	fields["model"] = "llama-70b"
	fields["messages"] = []Message{{Role: RoleUser, Content: "hi"}}
	for i := range maxExtraFields + 10 {
		fields[string(rune('a'+i%26))+string(rune('0'+i/26))] = i
	}
	body, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := json.Unmarshal(body, &r); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(r.Extra) != maxExtraFields {
		t.Errorf("Extra len = %d, want %d", len(r.Extra), maxExtraFields)
	}
}

func TestChatRequest_ApplyDefaults(t *testing.T) {
	t.Parallel()
	var r ChatRequest
	r.ApplyDefaults()
	if r.Model != DefaultModel {
		t.Errorf("Model = %q, want %q", r.Model, DefaultModel)
	}
	if r.Temperature != DefaultTemperature {
		t.Errorf("Temperature = %v, want %v", r.Temperature, DefaultTemperature)
	}
	if r.MaxTokens != DefaultMaxTokens {
		t.Errorf("MaxTokens = %v, want %v", r.MaxTokens, DefaultMaxTokens)
	}
	if r.TopP != DefaultTopP {
		t.Errorf("TopP = %v, want %v", r.TopP, DefaultTopP)
	}
}

func TestChatRequest_ApplyDefaults_PreservesSetFields(t *testing.T) {
	t.Parallel()
	r := ChatRequest{Model: "llama-8b", Temperature: 1.5, MaxTokens: 50, TopP: 0.5}
	r.ApplyDefaults()
	if r.Model != "llama-8b" || r.Temperature != 1.5 || r.MaxTokens != 50 || r.TopP != 0.5 {
		t.Errorf("ApplyDefaults overwrote explicit fields: %+v", r)
	}
}

func TestChatRequest_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  ChatRequest
		ok   bool
	}{
		{
			name: "valid",
			req: ChatRequest{
				Messages:    []Message{{Role: RoleUser, Content: "hi"}},
				Temperature: 0.7, MaxTokens: 10, TopP: 1,
			},
			ok: true,
		},
		{name: "no messages", req: ChatRequest{Temperature: 0.7, MaxTokens: 10, TopP: 1}, ok: false},
		{
			name: "bad role",
			req: ChatRequest{
				Messages:    []Message{{Role: "tool", Content: "hi"}},
				Temperature: 0.7, MaxTokens: 10, TopP: 1,
			},
			ok: false,
		},
		{
			name: "temperature out of range",
			req: ChatRequest{
				Messages:    []Message{{Role: RoleUser, Content: "hi"}},
				Temperature: 2.1, MaxTokens: 10, TopP: 1,
			},
			ok: false,
		},
		{
			name: "max_tokens not positive",
			req: ChatRequest{
				Messages:    []Message{{Role: RoleUser, Content: "hi"}},
				Temperature: 0.7, MaxTokens: 0, TopP: 1,
			},
			ok: false,
		},
		{
			name: "top_p out of range",
			req: ChatRequest{
				Messages:    []Message{{Role: RoleUser, Content: "hi"}},
				Temperature: 0.7, MaxTokens: 10, TopP: 1.5,
			},
			ok: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, ok := tt.req.Validate()
			if ok != tt.ok {
				t.Errorf("Validate() ok = %v, want %v", ok, tt.ok)
			}
		})
	}
}

func TestContextWithRequestID_RequestIDFromContext(t *testing.T) {
	t.Parallel()
	ctx := ContextWithRequestID(context.Background(), "req-1")
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("RequestIDFromContext = %q, want req-1", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("RequestIDFromContext on bare ctx = %q, want empty", got)
	}
}
