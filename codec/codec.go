package codec

import (
	"fmt"

	"github.com/rs/zerolog"
)

/*
This package defines the optional transform pipeline applied to payloads.

Transforms (compression, encryption) are applied in order at write time
and reversed at read time. Writes are never failed by a transform: a
transform that errors during Encode is skipped and the payload continues
through the rest of the chain untransformed by it. The entry envelope
records which transforms actually ran, so reads always know how to undo
them — including entries written before a transform was configured.
*/

// Transform is one reversible payload transformation.
type Transform interface {

	// Name identifies the transform inside stored envelopes. It must stay
	// stable across releases or old entries become undecodable.
	Name() string

	// Encode transforms the payload at write time.
	Encode(data []byte) ([]byte, error)

	// Decode reverses Encode at read time.
	Decode(data []byte) ([]byte, error)
}

// Chain applies transforms in order and undoes them in reverse.
type Chain struct {
	transforms []Transform
	byName     map[string]Transform
	log        zerolog.Logger
}

// NewChain builds a pipeline. A nil or empty chain is valid and acts as
// the identity.
func NewChain(log zerolog.Logger, transforms ...Transform) *Chain {
	byName := make(map[string]Transform, len(transforms))
	for _, t := range transforms {
		byName[t.Name()] = t
	}
	return &Chain{transforms: transforms, byName: byName, log: log}
}

// Encode runs the payload through every transform and returns the result
// together with the names of the transforms that succeeded, in order.
// A failing transform is skipped, never fatal.
func (c *Chain) Encode(data []byte) ([]byte, []string) {
	if c == nil || len(c.transforms) == 0 {
		return data, nil
	}

	var applied []string
	for _, t := range c.transforms {
		out, err := t.Encode(data)
		if err != nil {
			c.log.Warn().Err(err).Str("transform", t.Name()).Msg("encode failed, falling back to identity")
			continue
		}
		data = out
		applied = append(applied, t.Name())
	}
	return data, applied
}

// Decode undoes the recorded transforms in reverse order. Any failure
// here means the stored payload cannot be recovered.
func (c *Chain) Decode(data []byte, applied []string) ([]byte, error) {
	for i := len(applied) - 1; i >= 0; i-- {
		name := applied[i]

		var t Transform
		if c != nil {
			t = c.byName[name]
		}
		if t == nil {
			return nil, fmt.Errorf("codec: no transform registered for %q", name)
		}

		out, err := t.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("codec: %s decode: %w", name, err)
		}
		data = out
	}
	return data, nil
}
