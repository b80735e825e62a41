package artifact

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// JSONL encodes one JSON object per line. Non-ASCII text is written as-is.
func JSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, item := range items {
		if err := enc.Encode(item); err != nil {
			return nil, errors.Wrapf(err, "encode line %d", i)
		}
	}
	return buf.Bytes(), nil
}

// JSON encodes v indented.
func JSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, errors.Wrap(err, "encode json")
	}
	return buf.Bytes(), nil
}

// PutJSONL encodes items and stores them under key.
func PutJSONL[T any](ctx context.Context, sink Sink, key string, items []T) (string, error) {
	body, err := JSONL(items)
	if err != nil {
		return "", errors.Wrapf(err, "artifact %s", key)
	}
	return sink.Put(ctx, key, body, ContentTypeJSONL)
}

// PutJSON encodes v and stores it under key.
func PutJSON(ctx context.Context, sink Sink, key string, v any) (string, error) {
	body, err := JSON(v)
	if err != nil {
		return "", errors.Wrapf(err, "artifact %s", key)
	}
	return sink.Put(ctx, key, body, ContentTypeJSON)
}
