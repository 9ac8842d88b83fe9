package realtime

import (
	"encoding/json"
	"fmt"
)

// EventKind is the closed set of inbound frame kinds the session reacts to.
type EventKind int

const (
	// KindUnknown covers every tag without a handler. Such frames are
	// recorded and otherwise ignored.
	KindUnknown EventKind = iota
	KindSpeechStarted
	KindSpeechStopped
	KindInputCommitted
	KindUserPartial
	KindUserFinal
	KindAssistantPartial
	KindAssistantFinal
	KindToolCallStarted
	KindToolArgsDelta
	KindToolArgsDone
	KindToolCallFinished
	// KindError is a remote error report. It is handled like KindUnknown
	// but logged at warn level.
	KindError
)

var kindNames = [...]string{
	KindUnknown:          "unknown",
	KindSpeechStarted:    "speech_started",
	KindSpeechStopped:    "speech_stopped",
	KindInputCommitted:   "input_committed",
	KindUserPartial:      "user_partial",
	KindUserFinal:        "user_final",
	KindAssistantPartial: "assistant_partial",
	KindAssistantFinal:   "assistant_final",
	KindToolCallStarted:  "tool_call_started",
	KindToolArgsDelta:    "tool_args_delta",
	KindToolArgsDone:     "tool_args_done",
	KindToolCallFinished: "tool_call_finished",
	KindError:            "error",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
	return kindNames[k]
}

// Frame is a decoded inbound control-channel message.
type Frame struct {
	Kind  EventKind
	event serverEvent
}

// Type returns the frame's wire tag. Empty for malformed frames.
func (f Frame) Type() string { return f.event.Type }

// DecodeFrame parses one control-channel message and classifies it. A frame
// that is not a JSON object yields an error and a KindUnknown frame; unknown
// tags are never an error.
func DecodeFrame(data []byte) (Frame, error) {
	var ev serverEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return Frame{Kind: KindUnknown}, fmt.Errorf("realtime: decode frame: %w", err)
	}
	return Frame{Kind: classify(&ev), event: ev}, nil
}

func classify(ev *serverEvent) EventKind {
	switch ev.Type {
	case TagSpeechStarted:
		return KindSpeechStarted
	case TagSpeechStopped:
		return KindSpeechStopped
	case TagInputCommitted:
		return KindInputCommitted
	case TagUserTranscript, TagUserTranscriptDelta:
		return KindUserPartial
	case TagUserTranscriptDone:
		return KindUserFinal
	case TagAssistantDelta:
		return KindAssistantPartial
	case TagAssistantDone:
		return KindAssistantFinal
	case TagOutputItemAdded:
		if ev.Item != nil && ev.Item.Type == itemTypeFunctionCall {
			return KindToolCallStarted
		}
	case TagOutputItemDone:
		if ev.Item != nil && ev.Item.Type == itemTypeFunctionCall {
			return KindToolCallFinished
		}
	case TagFunctionArgsDelta:
		return KindToolArgsDelta
	case TagFunctionArgsDone:
		return KindToolArgsDone
	case TagError:
		return KindError
	}
	return KindUnknown
}

// text returns the transcript carried by a transcription or transcript
// frame. Partial user frames carry it in either field depending on the tag.
func (f Frame) text() string {
	if f.event.Transcript != "" {
		return f.event.Transcript
	}
	return f.event.Delta
}

func (f Frame) errorMessage() string {
	if f.event.Error != nil && f.event.Error.Message != "" {
		return f.event.Error.Message
	}
	return "unknown error"
}
