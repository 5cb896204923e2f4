package episode

import (
	"reflect"
	"testing"
)

func TestCodec_StepsRoundTrip(t *testing.T) {
	steps := []Step{
		{
			StepIndex:     0,
			StepType:      StepLLMCall,
			Model:         "gpt-4",
			Provider:      "openai",
			InputSummary:  "Search for weather",
			OutputSummary: "72F and sunny",
			Tokens:        500,
			CostUSD:       0.015,
			DurationMS:    1200,
			Metadata:      map[string]any{"query": "weather today", "retries": float64(2)},
		},
		{
			StepIndex:   1,
			StepType:    StepToolCall,
			ToolName:    "web_search",
			AIRRecordID: "abc-123",
		},
	}

	encoded, err := encodeSteps(steps)
	if err != nil {
		t.Fatalf("encodeSteps() error: %v", err)
	}
	decoded, err := decodeSteps(encoded)
	if err != nil {
		t.Fatalf("decodeSteps() error: %v", err)
	}
	if !reflect.DeepEqual(decoded, steps) {
		t.Errorf("round trip mismatch:\n got: %+v\nwant: %+v", decoded, steps)
	}
}

func TestCodec_StepEmptyMetadataRoundTrip(t *testing.T) {
	steps := []Step{
		{StepIndex: 0, StepType: StepLLMCall, Metadata: map[string]any{}},
		{StepIndex: 1, StepType: StepDecision},
	}

	encoded, err := encodeSteps(steps)
	if err != nil {
		t.Fatalf("encodeSteps() error: %v", err)
	}
	decoded, err := decodeSteps(encoded)
	if err != nil {
		t.Fatalf("decodeSteps() error: %v", err)
	}
	if !reflect.DeepEqual(decoded, steps) {
		t.Errorf("round trip mismatch:\n got: %+v\nwant: %+v", decoded, steps)
	}
	if decoded[0].Metadata == nil {
		t.Error("empty metadata map decoded as nil")
	}
	if decoded[1].Metadata != nil {
		t.Error("absent metadata decoded as non-nil")
	}
}

func TestCodec_EmptyCollections(t *testing.T) {
	encoded, err := encodeSteps(nil)
	if err != nil {
		t.Fatalf("encodeSteps(nil) error: %v", err)
	}
	if encoded != "[]" {
		t.Errorf("encodeSteps(nil) = %q, want \"[]\"", encoded)
	}

	encoded, err = encodeTools(nil)
	if err != nil {
		t.Fatalf("encodeTools(nil) error: %v", err)
	}
	if encoded != "[]" {
		t.Errorf("encodeTools(nil) = %q, want \"[]\"", encoded)
	}

	encoded, err = encodeMetadata(nil)
	if err != nil {
		t.Fatalf("encodeMetadata(nil) error: %v", err)
	}
	if encoded != "{}" {
		t.Errorf("encodeMetadata(nil) = %q, want \"{}\"", encoded)
	}
}

func TestCodec_MetadataRoundTrip(t *testing.T) {
	meta := map[string]any{
		"string": "value",
		"number": float64(42),
		"bool":   true,
		"nested": map[string]any{"inner": "x"},
	}

	encoded, err := encodeMetadata(meta)
	if err != nil {
		t.Fatalf("encodeMetadata() error: %v", err)
	}
	decoded, err := decodeMetadata(encoded)
	if err != nil {
		t.Fatalf("decodeMetadata() error: %v", err)
	}
	if !reflect.DeepEqual(decoded, meta) {
		t.Errorf("round trip mismatch:\n got: %+v\nwant: %+v", decoded, meta)
	}
}

func TestCodec_DecodeCorruptBlob(t *testing.T) {
	if _, err := decodeSteps("{not json"); err == nil {
		t.Error("decodeSteps on corrupt input returned nil error")
	}
	if _, err := decodeTools("123"); err == nil {
		t.Error("decodeTools on non-array input returned nil error")
	}
	if _, err := decodeMetadata("[]"); err == nil {
		t.Error("decodeMetadata on non-object input returned nil error")
	}
}
