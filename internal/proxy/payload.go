package proxy

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Ollama request/response shapes. Each type carries its known fields
// plus an Extra bag holding every unrecognized field verbatim, so
// arbitrary Ollama options and response data survive the round trip
// through the proxy untouched.

// ChatMessage is one message in an Ollama chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	Model  string
	Prompt string
	Stream *bool

	// Extra holds unrecognized request fields, forwarded verbatim.
	Extra map[string]json.RawMessage
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Model    string
	Messages []ChatMessage
	Stream   *bool

	Extra map[string]json.RawMessage
}

// GenerateResponse is Ollama's non-streaming generate response.
type GenerateResponse struct {
	Response        string
	PromptEvalCount *uint64
	EvalCount       *uint64

	// Extra holds unrecognized response fields, returned verbatim.
	Extra map[string]json.RawMessage
}

// ChatResponse is Ollama's non-streaming chat response.
type ChatResponse struct {
	Message         *ChatMessage
	PromptEvalCount *uint64
	EvalCount       *uint64

	Extra map[string]json.RawMessage
}

// popField moves fields[key] into dst, removing it from the bag. A
// missing key leaves dst untouched and is not an error.
func popField(fields map[string]json.RawMessage, key string, dst any) error {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	delete(fields, key)
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("proxy: field %q: %w", key, err)
	}
	return nil
}

// setField marshals v into fields[key], overriding any passthrough
// field of the same name.
func setField(fields map[string]json.RawMessage, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("proxy: field %q: %w", key, err)
	}
	fields[key] = raw
	return nil
}

func mergeExtra(extra map[string]json.RawMessage, capHint int) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(extra)+capHint)
	maps.Copy(out, extra)
	return out
}

func (r *GenerateRequest) UnmarshalJSON(data []byte) error {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("proxy: decode generate request: %w", err)
	}
	*r = GenerateRequest{}
	if err := popField(fields, "model", &r.Model); err != nil {
		return err
	}
	if err := popField(fields, "prompt", &r.Prompt); err != nil {
		return err
	}
	if err := popField(fields, "stream", &r.Stream); err != nil {
		return err
	}
	if len(fields) > 0 {
		r.Extra = fields
	}
	return nil
}

func (r GenerateRequest) MarshalJSON() ([]byte, error) {
	fields := mergeExtra(r.Extra, 3)
	if err := setField(fields, "model", r.Model); err != nil {
		return nil, err
	}
	if err := setField(fields, "prompt", r.Prompt); err != nil {
		return nil, err
	}
	if r.Stream != nil {
		if err := setField(fields, "stream", *r.Stream); err != nil {
			return nil, err
		}
	}
	return json.Marshal(fields)
}

func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("proxy: decode chat request: %w", err)
	}
	*r = ChatRequest{}
	if err := popField(fields, "model", &r.Model); err != nil {
		return err
	}
	if err := popField(fields, "messages", &r.Messages); err != nil {
		return err
	}
	if err := popField(fields, "stream", &r.Stream); err != nil {
		return err
	}
	if len(fields) > 0 {
		r.Extra = fields
	}
	return nil
}

func (r ChatRequest) MarshalJSON() ([]byte, error) {
	fields := mergeExtra(r.Extra, 3)
	if err := setField(fields, "model", r.Model); err != nil {
		return nil, err
	}
	messages := r.Messages
	if messages == nil {
		messages = []ChatMessage{}
	}
	if err := setField(fields, "messages", messages); err != nil {
		return nil, err
	}
	if r.Stream != nil {
		if err := setField(fields, "stream", *r.Stream); err != nil {
			return nil, err
		}
	}
	return json.Marshal(fields)
}

func (r *GenerateResponse) UnmarshalJSON(data []byte) error {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("proxy: decode generate response: %w", err)
	}
	*r = GenerateResponse{}
	if err := popField(fields, "response", &r.Response); err != nil {
		return err
	}
	if err := popField(fields, "prompt_eval_count", &r.PromptEvalCount); err != nil {
		return err
	}
	if err := popField(fields, "eval_count", &r.EvalCount); err != nil {
		return err
	}
	if len(fields) > 0 {
		r.Extra = fields
	}
	return nil
}

func (r GenerateResponse) MarshalJSON() ([]byte, error) {
	fields := mergeExtra(r.Extra, 3)
	if err := setField(fields, "response", r.Response); err != nil {
		return nil, err
	}
	if r.PromptEvalCount != nil {
		if err := setField(fields, "prompt_eval_count", *r.PromptEvalCount); err != nil {
			return nil, err
		}
	}
	if r.EvalCount != nil {
		if err := setField(fields, "eval_count", *r.EvalCount); err != nil {
			return nil, err
		}
	}
	return json.Marshal(fields)
}

func (r *ChatResponse) UnmarshalJSON(data []byte) error {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("proxy: decode chat response: %w", err)
	}
	*r = ChatResponse{}
	if err := popField(fields, "message", &r.Message); err != nil {
		return err
	}
	if err := popField(fields, "prompt_eval_count", &r.PromptEvalCount); err != nil {
		return err
	}
	if err := popField(fields, "eval_count", &r.EvalCount); err != nil {
		return err
	}
	if len(fields) > 0 {
		r.Extra = fields
	}
	return nil
}

func (r ChatResponse) MarshalJSON() ([]byte, error) {
	fields := mergeExtra(r.Extra, 3)
	if r.Message != nil {
		if err := setField(fields, "message", r.Message); err != nil {
			return nil, err
		}
	}
	if r.PromptEvalCount != nil {
		if err := setField(fields, "prompt_eval_count", *r.PromptEvalCount); err != nil {
			return nil, err
		}
	}
	if r.EvalCount != nil {
		if err := setField(fields, "eval_count", *r.EvalCount); err != nil {
			return nil, err
		}
	}
	return json.Marshal(fields)
}
