// Package wire defines the two JSON message formats the gateway speaks: the
// worker-facing protocol (JSON payloads carried over WebSocket binary
// frames) and the subscriber-facing protocol (JSON payloads over text
// frames / plain HTTP bodies).
//
// Prior WebSocket clients in this codebase's lineage (overseer, converter,
// thumbnailer) all dispatch JSON messages by a "type" discriminator field.
// We keep that exact encoding and simply carry it over binary frames instead
// of text frames for the worker side.
package wire

// Worker message type discriminators.
const (
	TypeNewTask    = "new_task"
	TypeStatus     = "status"
	TypeFinishTask = "finish_task"
)

// envelope is decoded first to read the type discriminator before unmarshaling
// into the concrete message, mirroring overseer.Client's dispatch(raw) pattern.
type envelope struct {
	Type string `json:"type"`
}

// NewTaskMessage is sent gateway -> worker to hand off one task.
type NewTaskMessage struct {
	Type           string `json:"type"`
	ID             string `json:"id"`
	SourceImage    []byte `json:"source_image"`
	TargetLanguage string `json:"target_language"`
	Detector       string `json:"detector"`
	Direction      string `json:"direction"`
	Translator     string `json:"translator"`
	Size           string `json:"size"`
}

// StatusMessage is sent worker -> gateway to report an in-progress phase.
type StatusMessage struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Status string `json:"status"`
}

// FinishTaskMessage is sent worker -> gateway on completion.
type FinishTaskMessage struct {
	Type            string `json:"type"`
	ID              string `json:"id"`
	TranslationMask []byte `json:"translation_mask"`
}

func NewTask(id string, sourceImage []byte, targetLanguage, detector, direction, translator, size string) NewTaskMessage {
	return NewTaskMessage{
		Type:           TypeNewTask,
		ID:             id,
		SourceImage:    sourceImage,
		TargetLanguage: targetLanguage,
		Detector:       detector,
		Direction:      direction,
		Translator:     translator,
		Size:           size,
	}
}
