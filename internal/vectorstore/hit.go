package vectorstore

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Metadata keys written for every chunk record.
const (
	FieldFileID       = "file_id"
	FieldFileName     = "file_name"
	FieldFileType     = "file_type"
	FieldChunkIndex   = "chunk_index"
	FieldModifiedTime = "modified_time"
	FieldWebViewLink  = "web_view_link"
	FieldText         = "text"
)

// ExtractHit normalises a raw hit as returned by a search backend. The id is
// read from "_id" or "id", the score from "_score" or "score" and metadata
// from "fields" or "metadata".
func ExtractHit(raw map[string]any) (Hit, error) {
	if raw == nil {
		return Hit{}, fmt.Errorf("%w: nil hit", ErrMalformedHit)
	}

	id := firstString(raw, "_id", "id")
	if id == "" {
		return Hit{}, fmt.Errorf("%w: missing id", ErrMalformedHit)
	}

	score, ok := firstNumber(raw, "_score", "score")
	if !ok {
		return Hit{}, fmt.Errorf("%w: missing score for %s", ErrMalformedHit, id)
	}

	hit := Hit{ID: id, Score: score}
	for _, key := range []string{"fields", "metadata"} {
		if m, ok := raw[key].(map[string]any); ok {
			hit.Metadata = m
			break
		}
	}
	if hit.Metadata == nil {
		hit.Metadata = map[string]any{}
	}
	return hit, nil
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstNumber(raw map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			if f, ok := toFloat(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// MetadataString returns metadata[key] as a string, or "" when absent.
func MetadataString(md map[string]any, key string) string {
	switch v := md[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// MetadataInt returns metadata[key] as an int. Stores hand numbers back as
// int64 or float64 depending on the backend.
func MetadataInt(md map[string]any, key string) (int, bool) {
	v, ok := md[key]
	if !ok || v == nil {
		return 0, false
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}
