package jsonutil

import (
	"errors"
	"strings"
	"testing"
)

// TestUnmarshalNilOutput verifies that Unmarshal returns ErrInvalidOutput when passed nil.
func TestUnmarshalNilOutput(t *testing.T) {
	data := []byte(`{"key":"value"}`)
	err := Unmarshal(data, nil)

	if err != ErrInvalidOutput {
		t.Fatalf("Unmarshal with nil output should return ErrInvalidOutput, got: %v", err)
	}
}

// TestUnmarshalValueTooLarge verifies that Unmarshal returns ErrValueTooLarge when data exceeds MaxJSONSize.
func TestUnmarshalValueTooLarge(t *testing.T) {
	largeData := make([]byte, MaxJSONSize+1)
	largeData[0] = '{'
	largeData[len(largeData)-1] = '}'

	var result map[string]string
	err := Unmarshal(largeData, &result)

	if err != ErrValueTooLarge {
		t.Fatalf("Unmarshal with oversized data should return ErrValueTooLarge, got: %v", err)
	}
}

// TestMarshalErrorWrapping verifies that Marshal wraps underlying errors.
func TestMarshalErrorWrapping(t *testing.T) {
	ch := make(chan int)
	_, err := Marshal(ch)

	if err == nil {
		t.Fatal("Marshal with unmarshalable type should return error")
	}
	if !strings.Contains(err.Error(), "jsonutil.Marshal failed") {
		t.Fatalf("Marshal error should include context, got: %v", err)
	}
	if errors.Unwrap(err) == nil {
		t.Fatal("Marshal error should wrap underlying error")
	}
}

// TestUnmarshalErrorWrapping verifies that Unmarshal wraps underlying errors.
func TestUnmarshalErrorWrapping(t *testing.T) {
	var result map[string]string
	err := Unmarshal([]byte("{invalid json"), &result)

	if err == nil {
		t.Fatal("Unmarshal with invalid JSON should return error")
	}
	if !strings.Contains(err.Error(), "jsonutil.Unmarshal failed") {
		t.Fatalf("Unmarshal error should include context, got: %v", err)
	}
	if errors.Unwrap(err) == nil {
		t.Fatal("Unmarshal error should wrap underlying error")
	}
}

// TestMarshalIndentErrorWrapping verifies that MarshalIndent wraps underlying errors.
func TestMarshalIndentErrorWrapping(t *testing.T) {
	ch := make(chan int)
	_, err := MarshalIndent(ch, "", "  ")

	if err == nil {
		t.Fatal("MarshalIndent with unmarshalable type should return error")
	}
	if !strings.Contains(err.Error(), "jsonutil.MarshalIndent failed") {
		t.Fatalf("MarshalIndent error should include context, got: %v", err)
	}
	if errors.Unwrap(err) == nil {
		t.Fatal("MarshalIndent error should wrap underlying error")
	}
}

// TestUnmarshalAtMaxSize verifies that Unmarshal accepts data exactly at MaxJSONSize.
func TestUnmarshalAtMaxSize(t *testing.T) {
	largeData := make([]byte, MaxJSONSize)
	content := []byte(`{"a":"b"}`)
	for i := 0; i < len(largeData); i++ {
		largeData[i] = content[i%len(content)]
	}

	var result map[string]string
	err := Unmarshal(largeData, &result)

	if err == ErrValueTooLarge {
		t.Fatal("Unmarshal at exactly MaxJSONSize should not return ErrValueTooLarge")
	}
	if err != nil && !errors.Is(err, ErrValueTooLarge) {
		// the constructed JSON may still fail to parse, but not due to size
	}
}
