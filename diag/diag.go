// Package diag implements the diagnostic channel described in spec.md §4.6
// and §7: named corruption conditions, reported at a severity, that never
// themselves change allocator state or return an error value to the
// caller — the operation that detected them always stays a no-op.
package diag

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Reason names a condition the allocator can report. These mirror the
// diagnostic messages spec.md §4.6/§7 requires verbatim.
type Reason string

const (
	OutsideOfPool    Reason = "outside of pool"
	WrongChunk       Reason = "pointer to wrong chunk"
	WrongPage        Reason = "pointer to wrong page"
	ChunkAlreadyFree Reason = "chunk is already free"
	PageAlreadyFree  Reason = "page is already free"
	PageIsBusy       Reason = "page is busy"
	OutOfMemory      Reason = "out of memory"
)

// Severity classifies how serious an Event is. The mapping to zap's levels
// follows the original allocator's NGX_LOG_ALERT (Warn here — corruption
// detected in caller-supplied data, the pool itself stays sound) versus
// NGX_LOG_CRIT (Critical — the allocator's own invariants are violated, or
// it is genuinely out of memory).
type Severity int

const (
	Warning Severity = iota
	Critical
)

func (s Severity) zapLevel() zapcore.Level {
	if s == Critical {
		return zapcore.ErrorLevel
	}
	return zapcore.WarnLevel
}

// Event is a single diagnostic report.
type Event struct {
	Severity Severity
	Reason   Reason
	Message  string

	// Context, populated as available; zero values are omitted.
	Pool       string
	PageIndex  uint64
	SizeClass  int
	ObjectSize uint64
	Pages      uint64
}

// Sink receives diagnostic events. Implementations must be safe to call
// while the pool's mutex is held: Emit runs on the calling goroutine and
// must not itself try to acquire that mutex.
type Sink interface {
	Emit(Event)
}

// Discard is a Sink that drops every event. It is the default for pools
// that don't configure one, matching library code that shouldn't force a
// logging dependency on every caller.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Emit(Event) {}

// ZapSink adapts a *zap.Logger into a Sink.
type ZapSink struct {
	Logger *zap.Logger
}

// NewZapSink wraps logger as a Sink. A nil logger uses zap.NewNop().
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{Logger: logger}
}

func (z *ZapSink) Emit(e Event) {
	fields := make([]zap.Field, 0, 6)
	fields = append(fields, zap.String("reason", string(e.Reason)))
	if e.Pool != "" {
		fields = append(fields, zap.String("pool", e.Pool))
	}
	if e.PageIndex != 0 {
		fields = append(fields, zap.Uint64("page_index", e.PageIndex))
	}
	if e.SizeClass != 0 {
		fields = append(fields, zap.Int("size_class", e.SizeClass))
	}
	if e.ObjectSize != 0 {
		fields = append(fields, zap.Uint64("object_size", e.ObjectSize))
	}
	if e.Pages != 0 {
		fields = append(fields, zap.Uint64("pages", e.Pages))
	}

	ce := z.Logger.Check(e.Severity.zapLevel(), e.Message)
	if ce != nil {
		ce.Write(fields...)
	}
}

// Recording is a Sink that just appends every event it receives, useful for
// tests that assert on which diagnostics fired.
type Recording struct {
	Events []Event
}

func (r *Recording) Emit(e Event) {
	r.Events = append(r.Events, e)
}
