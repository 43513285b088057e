package emit

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapEmitter_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	emitter := NewZapEmitter(zap.New(core))

	emitter.Emit(Event{InstanceID: "inst-1", Step: 1, NodeID: "review", Msg: "task_created", Meta: map[string]interface{}{"role": "legal"}})
	emitter.Emit(Event{InstanceID: "inst-1", Step: 2, NodeID: "gate", Msg: "missing_node", Meta: map[string]interface{}{"level": LevelWarn, "to": "ghost"}})
	emitter.Emit(Event{InstanceID: "inst-1", Step: 3, Msg: "persist_failed", Meta: map[string]interface{}{"level": LevelError}})

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	wantLevels := []zapcore.Level{zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, want := range wantLevels {
		if entries[i].Level != want {
			t.Errorf("entry %d: expected level %v, got %v", i, want, entries[i].Level)
		}
	}

	first := entries[0].ContextMap()
	if entries[0].Message != "task_created" {
		t.Errorf("expected message task_created, got %q", entries[0].Message)
	}
	if first["instance_id"] != "inst-1" || first["node_id"] != "review" || first["role"] != "legal" {
		t.Errorf("unexpected fields: %v", first)
	}
	if first["step"] != int64(1) {
		t.Errorf("expected step 1, got %v", first["step"])
	}

	second := entries[1].ContextMap()
	if _, ok := second["level"]; ok {
		t.Error("level meta must not be duplicated as a field")
	}
	if second["to"] != "ghost" {
		t.Errorf("expected to=ghost, got %v", second["to"])
	}

	if _, ok := entries[2].ContextMap()["node_id"]; ok {
		t.Error("empty node id must be omitted")
	}
}

func TestZapEmitter_RespectsLoggerLevel(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	emitter := NewZapEmitter(zap.New(core))

	emitter.Emit(Event{InstanceID: "inst-1", Msg: "task_created"})
	emitter.Emit(Event{InstanceID: "inst-1", Msg: "instance_stalled", Meta: map[string]interface{}{"level": LevelWarn}})

	if logs.Len() != 1 {
		t.Fatalf("expected only the warning to be logged, got %d entries", logs.Len())
	}
	if logs.All()[0].Message != "instance_stalled" {
		t.Errorf("unexpected entry %q", logs.All()[0].Message)
	}
}

func TestZapEmitter_NilLogger(t *testing.T) {
	NewZapEmitter(nil).Emit(Event{InstanceID: "inst-1", Msg: "instance_started"})
}
