package realtime

import (
	"encoding/json"
	"time"
)

// Inbound event tags consumed by the session loop. Anything else is recorded
// and ignored.
const (
	TagSpeechStarted       = "input_audio_buffer.speech_started"
	TagSpeechStopped       = "input_audio_buffer.speech_stopped"
	TagInputCommitted      = "input_audio_buffer.committed"
	TagUserTranscript      = "conversation.item.input_audio_transcription"
	TagUserTranscriptDelta = "conversation.item.input_audio_transcription.delta"
	TagUserTranscriptDone  = "conversation.item.input_audio_transcription.completed"
	TagAssistantDelta      = "response.audio_transcript.delta"
	TagAssistantDone       = "response.audio_transcript.done"
	TagOutputItemAdded     = "response.output_item.added"
	TagOutputItemDone      = "response.output_item.done"
	TagFunctionArgsDelta   = "response.function_call_arguments.delta"
	TagFunctionArgsDone    = "response.function_call_arguments.done"
	TagError               = "error"
)

// Outbound event tags.
const (
	TagSessionUpdate      = "session.update"
	TagConversationCreate = "conversation.item.create"
	TagResponseCreate     = "response.create"
)

const (
	itemTypeMessage      = "message"
	itemTypeFunctionCall = "function_call"
	itemTypeCallOutput   = "function_call_output"

	partInputText = "input_text"
	partText      = "text"
)

// ── Outbound frames ────────────────────────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	Tools                   []toolParam          `json:"tools"`
	ToolChoice              string               `json:"tool_choice,omitempty"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type toolParam struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type createItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
	CallID  string             `json:"call_id,omitempty"`
	Output  string             `json:"output,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type responseCreateMessage struct {
	Type string `json:"type"`
}

func messageItem(role, text string) createItemMessage {
	// The API only accepts "text" parts on assistant messages.
	part := partInputText
	if role == "assistant" {
		part = partText
	}
	return createItemMessage{
		Type: TagConversationCreate,
		Item: conversationItem{
			Type:    itemTypeMessage,
			Role:    role,
			Content: []conversationPart{{Type: part, Text: text}},
		},
	}
}

func callOutputItem(callID, output string) createItemMessage {
	return createItemMessage{
		Type: TagConversationCreate,
		Item: conversationItem{
			Type:   itemTypeCallOutput,
			CallID: callID,
			Output: output,
		},
	}
}

var responseCreate = responseCreateMessage{Type: TagResponseCreate}

func toToolParams(defs []ToolDefinition) []toolParam {
	out := make([]toolParam, len(defs))
	for i, d := range defs {
		out[i] = toolParam{
			Type:        "function",
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		}
	}
	return out
}

// ── Inbound frames ─────────────────────────────────────────────────────────────

// serverEvent is the union of the fields read from any inbound frame.
type serverEvent struct {
	Type string `json:"type"`

	// transcript and function-argument deltas
	Delta string `json:"delta,omitempty"`

	// user transcription (partial and completed)
	Transcript string `json:"transcript,omitempty"`

	// function call arguments
	ItemID    string `json:"item_id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// response.output_item.*
	Item *serverItem `json:"item,omitempty"`

	Error *serverErrorDetail `json:"error,omitempty"`
}

type serverItem struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// RawEvent is one inbound frame as received, kept for diagnostics.
type RawEvent struct {
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
	ReceivedAt time.Time       `json:"receivedAt"`
}
