package wire

import (
	"encoding/json"
	"fmt"
)

// WorkerFrame is whichever worker->gateway message a binary frame decoded to.
// Exactly one of Status or FinishTask is non-nil.
type WorkerFrame struct {
	Status     *StatusMessage
	FinishTask *FinishTaskMessage
}

// DecodeWorkerFrame parses a binary WS frame payload from a worker into one
// of the known worker->gateway message types.
func DecodeWorkerFrame(raw []byte) (WorkerFrame, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return WorkerFrame{}, fmt.Errorf("wire: decode envelope: %w", err)
	}
	switch env.Type {
	case TypeStatus:
		var m StatusMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return WorkerFrame{}, fmt.Errorf("wire: decode status: %w", err)
		}
		return WorkerFrame{Status: &m}, nil
	case TypeFinishTask:
		var m FinishTaskMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return WorkerFrame{}, fmt.Errorf("wire: decode finish_task: %w", err)
		}
		return WorkerFrame{FinishTask: &m}, nil
	default:
		return WorkerFrame{}, fmt.Errorf("wire: unknown worker message type %q", env.Type)
	}
}

// EncodeNewTask serializes a NewTaskMessage for sending on a binary frame.
func EncodeNewTask(m NewTaskMessage) ([]byte, error) {
	return json.Marshal(m)
}
