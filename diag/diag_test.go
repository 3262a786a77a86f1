package diag

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecordingSinkCapturesEvents(t *testing.T) {
	var rec Recording
	rec.Emit(Event{Severity: Critical, Reason: OutOfMemory, Message: "no memory"})
	require.Len(t, rec.Events, 1)
	require.Equal(t, OutOfMemory, rec.Events[0].Reason)
}

func TestDiscardSinkDropsEvents(t *testing.T) {
	require.NotPanics(t, func() {
		Discard.Emit(Event{Severity: Warning, Reason: ChunkAlreadyFree})
	})
}

func TestZapSinkRoutesSeverity(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(Event{Severity: Warning, Reason: ChunkAlreadyFree, Message: "chunk is already free"})
	sink.Emit(Event{Severity: Critical, Reason: OutOfMemory, Message: "no memory"})

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zap.WarnLevel, entries[0].Level)
	require.Equal(t, zap.ErrorLevel, entries[1].Level)
}
