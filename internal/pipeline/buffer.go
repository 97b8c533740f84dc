package pipeline

import (
	"time"

	"fluxrelay/internal/influx"
)

// Unit is one delivery unit: formatted lines bound to one destination.
// Events pipelines append single-line units; metric records expand into
// one multi-line unit sharing one resolved parameter set.
// Params: formatted line protocol lines and destination parameters.
// Returns: buffer element value.
type Unit struct {
	Lines  []string
	Params influx.WriteParams
}

// Buffer is the ordered, append-only accumulation between flushes.
// Not safe for concurrent use on its own: the owning shipper guards it
// inside one mutex scope spanning ingest-decide-flush.
// Params: none.
// Returns: process-local buffer, never persisted.
type Buffer struct {
	units     []Unit
	lineCount int
	createdAt time.Time
}

// NewBuffer creates an empty buffer.
// Params: none.
// Returns: buffer instance.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds one delivery unit. Repeated identical lines are retained;
// the destination treats identical series+timestamp as overwrites.
// Params: unit delivery unit; now append time, recorded as creation time
// for the first unit since the buffer was last emptied.
// Returns: none.
func (b *Buffer) Append(unit Unit, now time.Time) {
	if len(b.units) == 0 {
		b.createdAt = now
	}
	b.units = append(b.units, unit)
	b.lineCount += len(unit.Lines)
}

// Size returns the buffered line count across all units.
// Params: none.
// Returns: total line count.
func (b *Buffer) Size() int {
	return b.lineCount
}

// Empty reports whether no units are buffered.
// Params: none.
// Returns: true when the buffer holds nothing.
func (b *Buffer) Empty() bool {
	return len(b.units) == 0
}

// Age returns time elapsed since the first buffered unit arrived.
// Params: now current time.
// Returns: buffer age, zero for an empty buffer.
func (b *Buffer) Age(now time.Time) time.Duration {
	if len(b.units) == 0 {
		return 0
	}
	return now.Sub(b.createdAt)
}

// Units returns the buffered units in arrival order without mutating state.
// Params: none.
// Returns: unit slice owned by the buffer; callers must not retain it past
// the owning critical section.
func (b *Buffer) Units() []Unit {
	return b.units
}

// Drain returns all buffered units and empties the buffer.
// Params: none.
// Returns: drained units in arrival order.
func (b *Buffer) Drain() []Unit {
	drained := b.units
	b.units = nil
	b.lineCount = 0
	b.createdAt = time.Time{}
	return drained
}

// Replace keeps only the given units, preserving the original creation time
// so age-based triggering still counts from the oldest retained data.
// Params: units surviving units after a partially failed flush.
// Returns: none.
func (b *Buffer) Replace(units []Unit) {
	if len(units) == 0 {
		b.Drain()
		return
	}
	lines := 0
	for _, unit := range units {
		lines += len(unit.Lines)
	}
	b.units = units
	b.lineCount = lines
}
