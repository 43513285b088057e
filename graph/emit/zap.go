package emit

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapEmitter writes events to a zap logger.
//
// The log level follows Meta["level"]; the message is event.Msg and the
// remaining fields become structured fields:
//
//	WARN	missing_node	{"instance_id": "inst-1", "step": 3, "node_id": "gate", "to": "ghost"}
type ZapEmitter struct {
	logger *zap.Logger
}

// NewZapEmitter creates a ZapEmitter. A nil logger discards everything.
func NewZapEmitter(logger *zap.Logger) *ZapEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapEmitter{logger: logger}
}

// Emit logs event at the level given by its metadata.
func (z *ZapEmitter) Emit(event Event) {
	level := zapcore.InfoLevel
	switch event.Level() {
	case LevelWarn:
		level = zapcore.WarnLevel
	case LevelError:
		level = zapcore.ErrorLevel
	}

	ce := z.logger.Check(level, event.Msg)
	if ce == nil {
		return
	}

	fields := make([]zap.Field, 0, len(event.Meta)+3)
	fields = append(fields,
		zap.String("instance_id", event.InstanceID),
		zap.Int("step", event.Step),
	)
	if event.NodeID != "" {
		fields = append(fields, zap.String("node_id", event.NodeID))
	}
	for key, value := range event.Meta {
		if key == "level" {
			continue
		}
		fields = append(fields, zap.Any(key, value))
	}
	ce.Write(fields...)
}
