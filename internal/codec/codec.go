// Package codec compresses entity snapshots for version storage. Payloads
// are JSON-encoded with sorted keys and gzip-compressed, so the round trip
// is lossless and the bytes are deterministic for a given payload.
package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
)

// Error reports a corrupt or truncated payload. Decoding never silently
// returns partial data.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("payload codec %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Compress encodes and gzips a payload. A nil payload (entity tombstone)
// yields nil bytes.
func Compress(payload map[string]any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Op: "encode", Err: err}
	}

	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
	if err != nil {
		return nil, &Error{Op: "compress", Err: err}
	}
	if _, err := writer.Write(encoded); err != nil {
		return nil, &Error{Op: "compress", Err: err}
	}
	if err := writer.Close(); err != nil {
		return nil, &Error{Op: "compress", Err: err}
	}

	return buf.Bytes(), nil
}

// Decompress reverses Compress. Corrupt bytes surface as *Error.
func Decompress(data []byte) (map[string]any, error) {
	if data == nil {
		return nil, nil
	}

	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Op: "decompress", Err: err}
	}
	defer reader.Close()

	decoded, err := io.ReadAll(reader)
	if err != nil {
		return nil, &Error{Op: "decompress", Err: err}
	}

	var payload map[string]any
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, &Error{Op: "decode", Err: err}
	}
	return payload, nil
}
