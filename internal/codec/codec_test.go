package codec

import (
	"testing"
)

func TestRoundTrip(t *testing.T) {
	payload := map[string]any{
		"name":  "tavern",
		"level": float64(3),
		"tags":  []any{"stone", "wood"},
		"stats": map[string]any{"hp": float64(120)},
	}

	compressed, err := Compress(payload)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(compressed) == 0 {
		t.Fatal("compressed payload should not be empty")
	}

	decoded, err := Decompress(compressed)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if decoded["name"] != "tavern" || decoded["level"] != float64(3) {
		t.Errorf("round trip lost scalar fields: %+v", decoded)
	}
	stats, ok := decoded["stats"].(map[string]any)
	if !ok || stats["hp"] != float64(120) {
		t.Errorf("round trip lost nested object: %+v", decoded["stats"])
	}
}

func TestNilPayload(t *testing.T) {
	compressed, err := Compress(nil)
	if err != nil {
		t.Fatalf("compress nil: %v", err)
	}
	if compressed != nil {
		t.Errorf("nil payload should encode as nil, got %d bytes", len(compressed))
	}

	decoded, err := Decompress(nil)
	if err != nil {
		t.Fatalf("decompress nil: %v", err)
	}
	if decoded != nil {
		t.Errorf("nil bytes should decode as nil payload, got %+v", decoded)
	}
}

func TestCorruptBytes(t *testing.T) {
	if _, err := Decompress([]byte("not a gzip stream")); err == nil {
		t.Fatal("expected error for corrupt input")
	} else if _, ok := err.(*Error); !ok {
		t.Errorf("expected *codec.Error, got %T", err)
	}
}
