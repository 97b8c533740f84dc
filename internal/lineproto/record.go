package lineproto

import (
	"errors"
)

// ErrInvalidRecord marks records that must never enter the buffer:
// empty field sets, bad timestamps, unsupported field types.
// Callers skip the record, log, and continue.
var ErrInvalidRecord = errors.New("invalid record")

// Record is one normalized observation to ship.
// Params: series identity, dimensional tags, typed field values, epoch-seconds timestamp.
// Returns: value consumed by Formatter.Format.
type Record struct {
	// Measurement is the destination series name. Required.
	Measurement string

	// Client identifies the originating client/host. Injected as the
	// highest-precedence "client" tag when non-empty.
	Client string

	// ClientTags are client-supplied tags, overriding global config tags.
	ClientTags map[string]string

	// Tags are record/check-supplied tags, overriding client tags.
	Tags map[string]string

	// Fields maps field name to a string, int64, or float64 value.
	// At least one non-empty field is required.
	Fields map[string]any

	// Timestamp is epoch seconds. Must be non-negative.
	Timestamp int64
}
