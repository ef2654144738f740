package tools

import "loaf/internal/compact"

// Recorder receives compaction events produced by tool execution. The session
// runtime implements it; a nil recorder drops events.
type Recorder interface {
	Record(typ compact.EventType, payload map[string]interface{})
}

func record(r Recorder, typ compact.EventType, payload map[string]interface{}) {
	if r != nil {
		r.Record(typ, payload)
	}
}
