package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Action names carried in the envelope. The same name is used for the client
// request, the direct confirmation/rejection, and the peer broadcast of one
// logical mutation.
const (
	ActionAddNote       = "addNote"
	ActionAddNotes      = "addNotes"
	ActionUpdateNote    = "updateNote"
	ActionDeleteNote    = "deleteNote"
	ActionAddTrack      = "addTrack"
	ActionUpdateTrack   = "updateTrack"
	ActionDeleteTrack   = "deleteTrack"
	ActionUpdateProject = "updateProject"
	ActionDeleteProject = "deleteProject"
	ActionLeaveProject  = "leaveProject"
	ActionFocusTrack    = "focusTrack"

	// Server-originated presence notifications.
	ActionUserOnline  = "userOnline"
	ActionUserOffline = "userOffline"
	ActionUserRemoved = "userRemoved"
)

var (
	ErrEmptyAction = errors.New("protocol: empty action")
	ErrBadEnvelope = errors.New("protocol: malformed envelope")
)

// Envelope is the bidirectional message frame: one per logical mutation or
// notification. Source identifies the originating participant on broadcasts;
// Success distinguishes confirmation from rejection; Msg carries a
// human-readable failure reason on rejections only.
type Envelope struct {
	Action  string          `json:"action"`
	Source  string          `json:"source,omitempty"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Msg     string          `json:"msg,omitempty"`
}

// Decode parses a raw frame and validates its shape before dispatch.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if env.Action == "" {
		return nil, ErrEmptyAction
	}
	return &env, nil
}

// Encode serializes an envelope to its wire form.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeData unmarshals the action-specific payload into v.
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: missing data for action %q", ErrBadEnvelope, e.Action)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: bad data for action %q: %v", ErrBadEnvelope, e.Action, err)
	}
	return nil
}

// Request builds a client-to-server mutation request.
func Request(action string, data any) (*Envelope, error) {
	return build(action, "", true, data, "")
}

// Confirmation builds a direct success response to the originator.
func Confirmation(action string, data any) (*Envelope, error) {
	return build(action, "", true, data, "")
}

// Rejection builds a direct failure response to the originator. data must
// carry enough identifying fields (trackID, correlation id) for the client to
// locate and discard exactly its tentative change.
func Rejection(action string, data any, reason string) (*Envelope, error) {
	return build(action, "", false, data, reason)
}

// Broadcast builds the peer-facing payload of a committed mutation; source is
// the originating participant's id.
func Broadcast(action, source string, data any) (*Envelope, error) {
	return build(action, source, true, data, "")
}

func build(action, source string, success bool, data any, msg string) (*Envelope, error) {
	env := &Envelope{Action: action, Source: source, Success: success, Msg: msg}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode %q data: %w", action, err)
		}
		env.Data = raw
	}
	return env, nil
}
