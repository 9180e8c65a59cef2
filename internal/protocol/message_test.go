package protocol

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("{not json")); err == nil {
		t.Fatal("expected error for malformed frame")
	}
	if _, err := Decode([]byte(`{"success":true}`)); err != ErrEmptyAction {
		t.Fatalf("expected ErrEmptyAction, got %v", err)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := Broadcast(ActionAddNote, "user-7", AddNoteResult{
		TrackID: 5,
		NoteRef: NoteRef{ClientNoteID: 42, NoteID: 12},
	})
	assert.Equal(t, err, nil)

	raw, err := env.Encode()
	assert.Equal(t, err, nil)

	back, err := Decode(raw)
	assert.Equal(t, err, nil)
	assert.Equal(t, back.Action, ActionAddNote)
	assert.Equal(t, back.Source, "user-7")
	assert.Equal(t, back.Success, true)
	assert.Equal(t, back.Msg, "")

	var data AddNoteResult
	assert.Equal(t, back.DecodeData(&data), nil)
	assert.Equal(t, data.TrackID, 5)
	assert.Equal(t, data.ClientNoteID, 42)
	assert.Equal(t, data.NoteID, 12)
}

func TestRejectionCarriesReasonAndIdentity(t *testing.T) {
	env, err := Rejection(ActionAddNote, NoteReject{TrackID: 5, ClientNoteID: 42}, "track not found")
	assert.Equal(t, err, nil)

	raw, _ := env.Encode()
	back, err := Decode(raw)
	assert.Equal(t, err, nil)
	assert.Equal(t, back.Success, false)
	assert.Equal(t, back.Msg, "track not found")

	var data NoteReject
	assert.Equal(t, back.DecodeData(&data), nil)
	assert.Equal(t, data.TrackID, 5)
	assert.Equal(t, data.ClientNoteID, 42)
}

func TestDecodeDataMissing(t *testing.T) {
	env := &Envelope{Action: ActionDeleteNote, Success: true}
	var data DeleteNotePayload
	if err := env.DecodeData(&data); err == nil {
		t.Fatal("expected error for missing data")
	}
}

func TestPayloadValidation(t *testing.T) {
	tempo := func(v float64) *float64 { return &v }
	name := func(v string) *string { return &v }

	tests := []struct {
		name    string
		payload interface{ Validate() error }
		wantErr bool
	}{
		{"valid note", &AddNotePayload{TrackID: 1, Note: NoteInput{ClientNoteID: 1, Pitch: 60, Start: 0, Duration: 1, Velocity: 100}}, false},
		{"pitch too high", &AddNotePayload{TrackID: 1, Note: NoteInput{Pitch: 128, Velocity: 1}}, true},
		{"negative start", &AddNotePayload{TrackID: 1, Note: NoteInput{Pitch: 60, Start: -0.1, Velocity: 1}}, true},
		{"negative duration", &AddNotePayload{TrackID: 1, Note: NoteInput{Pitch: 60, Duration: -1, Velocity: 1}}, true},
		{"zero trackID", &AddNotePayload{TrackID: 0, Note: NoteInput{Pitch: 60}}, true},
		{"empty batch", &AddNotesPayload{TrackID: 1}, true},
		{"batch with bad member", &AddNotesPayload{TrackID: 1, Notes: []NoteInput{{Pitch: 60}, {Pitch: -1}}}, true},
		{"valid batch", &AddNotesPayload{TrackID: 1, Notes: []NoteInput{{Pitch: 60}, {Pitch: 64}}}, false},
		{"track volume out of range", &UpdateTrackPayload{TrackID: 1, Name: "Lead", Volume: 1.2}, true},
		{"track pan out of range", &UpdateTrackPayload{TrackID: 1, Name: "Lead", Pan: -2}, true},
		{"valid track update", &UpdateTrackPayload{TrackID: 1, Name: "Lead", Volume: 0.8, Pan: 0.1}, false},
		{"tempo zero", &UpdateProjectPayload{Tempo: tempo(0)}, true},
		{"tempo above max", &UpdateProjectPayload{Tempo: tempo(301)}, true},
		{"tempo at max", &UpdateProjectPayload{Tempo: tempo(300)}, false},
		{"empty project update", &UpdateProjectPayload{}, true},
		{"rename only", &UpdateProjectPayload{Name: name("Night Drive")}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.payload.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestSourceOmittedOnDirectResponses(t *testing.T) {
	env, _ := Confirmation(ActionDeleteNote, DeleteNotePayload{TrackID: 2, NoteID: 9})
	raw, _ := env.Encode()

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatal(err)
	}
	if _, ok := fields["source"]; ok {
		t.Fatal("direct responses must not carry a source field")
	}
}
