package tiercache

import (
	"context"
	"encoding/json"

	"github.com/taskhive/tiercache/types"
)

/*
This file is the typed boundary of the cache.

The manager itself only ever handles already-serialized []byte payloads.
Serialization lives here, at the call site, parameterized by the caller's
type. A value that cannot be serialized abandons the write silently (the
cache is best-effort); a stored payload that no longer deserializes is
deleted proactively and reported as a miss.
*/

// Set serializes the value and stores it. A serialization failure is
// logged and the write is abandoned; the caller never sees an error.
func Set[T any](ctx context.Context, m *Manager, key string, value T, opts ...types.WriteOption) {
	payload, err := json.Marshal(value)
	if err != nil {
		m.log.Warn().Err(err).Str("key", key).Msg("unserializable value, write abandoned")
		return
	}
	m.Set(ctx, key, payload, opts...)
}

// Get retrieves and deserializes a value. A payload that fails to
// deserialize is treated as corrupt: deleted, and reported as absent.
func Get[T any](ctx context.Context, m *Manager, key string) (T, bool) {
	var v T

	payload, ok := m.Get(ctx, key)
	if !ok {
		return v, false
	}

	if err := json.Unmarshal(payload, &v); err != nil {
		m.log.Warn().Err(err).Str("key", key).Msg("undeserializable entry, deleting")
		m.Delete(ctx, key)
		var zero T
		return zero, false
	}
	return v, true
}

// GetOrSet is the typed cache-aside helper: Get, or run the factory once
// (deduplicated across concurrent callers) and cache its result.
// Factory and serialization errors propagate; nothing is cached on error.
func GetOrSet[T any](ctx context.Context, m *Manager, key string, factory func(context.Context) (T, error), opts ...types.WriteOption) (T, error) {
	payload, err := m.GetOrSet(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	}, opts...)

	var v T
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		m.Delete(ctx, key)
		var zero T
		return zero, err
	}
	return v, nil
}
