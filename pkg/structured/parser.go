package structured

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mikeboe/kresearch/pkg/clients"
)

// RepairInstruction is the system instruction of the single repair call.
const RepairInstruction = "You are a JSON validator. Return only valid JSON matching this content, with no explanation, no markdown and no surrounding text."

// Validator is implemented by payload types with constraints beyond their JSON shape.
type Validator interface {
	Validate() error
}

// MalformedResponseError is returned when neither the original response nor
// the repaired one decode into the expected shape.
type MalformedResponseError struct {
	Raw         string
	Repaired    string
	DecodeErr   error
	RepairedErr error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed model response after repair: %v (first attempt: %v)", e.RepairedErr, e.DecodeErr)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.RepairedErr
}

// Decode extracts the JSON payload from raw and decodes it into T.
func Decode[T any](raw string) (T, error) {
	var out T
	payload, ok := Extract(raw)
	if !ok {
		return out, errors.New("no JSON object or array found in response")
	}
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return out, fmt.Errorf("json parse error: %w", err)
	}
	if v, ok := any(&out).(Validator); ok {
		if err := v.Validate(); err != nil {
			return out, fmt.Errorf("validation failed: %w", err)
		}
	}
	return out, nil
}

// Parse decodes raw into T. If that fails it asks gen, once, to rewrite raw as
// valid JSON and decodes the answer the same way. Errors from the repair call
// itself are returned unchanged so callers can tell transport failures apart.
func Parse[T any](ctx context.Context, gen clients.Generator, model, raw string) (T, error) {
	out, decodeErr := Decode[T](raw)
	if decodeErr == nil {
		return out, nil
	}

	repaired, err := gen.Generate(ctx, clients.Request{
		Model:             model,
		Prompt:            raw,
		SystemInstruction: RepairInstruction,
		StructuredOutput:  true,
	})
	if err != nil {
		var zero T
		return zero, err
	}

	out, repairedErr := Decode[T](repaired)
	if repairedErr != nil {
		var zero T
		return zero, &MalformedResponseError{
			Raw:         raw,
			Repaired:    repaired,
			DecodeErr:   decodeErr,
			RepairedErr: repairedErr,
		}
	}
	return out, nil
}
