package routing

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONRouter_EmptyID(t *testing.T) {
	assert.Equal(t, "unknown", NewJSONRouter("").NodeID())

	r := NewJSONRouter("a")
	r.SetNodeID("b")
	assert.Equal(t, "b", r.NodeID())
}

func TestJSONRouter_Wrap(t *testing.T) {
	r := NewJSONRouter("alice")

	text, err := r.Wrap("hi", "bob")
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &fields))
	assert.Equal(t, map[string]any{
		"type":    "DATA",
		"src":     "alice",
		"dst":     "bob",
		"payload": "hi",
		"seq":     float64(0),
	}, fields)
}

func TestJSONRouter_WrapUnwrap(t *testing.T) {
	sender := NewJSONRouter("alice")
	receiver := NewJSONRouter("bob")

	payloads := []string{"hi", `quotes " and \ slashes`, "مرحبا", `{"type":"DATA"}`}
	for _, p := range payloads {
		text, err := sender.Wrap(p, "bob")
		require.NoError(t, err)

		env, err := receiver.Unwrap(text)
		require.NoError(t, err)
		assert.Equal(t, Envelope{Type: TypeData, Source: "alice", Dest: "bob", Payload: p}, env)
	}
}

func TestJSONRouter_Unwrap_NotApplicable(t *testing.T) {
	r := NewJSONRouter("bob")

	tests := []struct {
		name string
		text string
	}{
		{"plain text", "just chatting"},
		{"hello", `{"type":"HELLO","src":"alice","version":"1.0"}`},
		{"unknown type", `{"type":"ACK","src":"alice"}`},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Unwrap(tt.text)
			assert.True(t, errors.Is(err, ErrNotApplicable), "got %v", err)
		})
	}
}

func TestJSONRouter_HandleIncoming(t *testing.T) {
	r := NewJSONRouter("bob")

	tests := []struct {
		name string
		text string
		want Decision
	}{
		{
			name: "data delivered",
			text: `{"type":"DATA","src":"alice","dst":"bob","payload":"hi","seq":0}`,
			want: Decision{Action: Deliver, Payload: "hi"},
		},
		{
			name: "data for another node is still delivered",
			text: `{"type":"DATA","src":"alice","dst":"carol","payload":"hi"}`,
			want: Decision{Action: Deliver, Payload: "hi"},
		},
		{
			name: "not json",
			text: "hello there",
			want: Decision{Action: Drop, Reason: ReasonInvalid},
		},
		{
			name: "missing type",
			text: `{"src":"alice"}`,
			want: Decision{Action: Drop, Reason: ReasonInvalid},
		},
		{
			name: "hello",
			text: `{"type":"HELLO","src":"alice","version":"1.0"}`,
			want: Decision{Action: Drop, Reason: ReasonHelloTop},
		},
		{
			name: "hello inside payload",
			text: `{"type":"DATA","src":"alice","payload":"{\"type\":\"HELLO\",\"src\":\"x\"}"}`,
			want: Decision{Action: Drop, Reason: ReasonHelloInPayload},
		},
		{
			name: "hello fragment inside payload",
			text: `{"type":"DATA","src":"alice","payload":"prefix {\"type\":\"HELLO\""}`,
			want: Decision{Action: Drop, Reason: ReasonHelloInPayload},
		},
		{
			name: "unknown type",
			text: `{"type":"ACK","src":"alice"}`,
			want: Decision{Action: Drop, Reason: ReasonUnknownType},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.HandleIncoming(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONRouter_Hello(t *testing.T) {
	r := NewJSONRouter("alice")

	text, err := r.Hello()
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &fields))
	assert.Equal(t, map[string]any{
		"type":    "HELLO",
		"src":     "alice",
		"version": "1.0",
	}, fields)

	d, err := NewJSONRouter("bob").HandleIncoming(text)
	require.NoError(t, err)
	assert.Equal(t, Drop, d.Action)
}

func TestJSONRouter_Unwrap_MissingPayload(t *testing.T) {
	r := NewJSONRouter("a")
	text := `{"type":"DATA","src":"b","dst":"a"}`

	env, err := r.Unwrap(text)
	require.NoError(t, err)
	assert.Equal(t, text, env.Payload)
	assert.Equal(t, "b", env.Source)
	assert.Equal(t, "a", env.Dest)

	// An explicitly empty payload stays empty.
	env, err = r.Unwrap(`{"type":"DATA","src":"b","dst":"a","payload":""}`)
	require.NoError(t, err)
	assert.Empty(t, env.Payload)
}

func TestJSONRouter_Unwrap_LenientSeq(t *testing.T) {
	r := NewJSONRouter("a")

	tests := []struct {
		name string
		seq  string
		want int
	}{
		{"number", `7`, 7},
		{"numeric string", `"1"`, 1},
		{"other string", `"first"`, 0},
		{"null", `null`, 0},
		{"object", `{"n":1}`, 0},
		{"float", `1.5`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := r.Unwrap(`{"type":"DATA","src":"b","dst":"a","payload":"hi","seq":` + tt.seq + `}`)
			require.NoError(t, err)
			assert.Equal(t, "hi", env.Payload)
			assert.Equal(t, tt.want, env.Seq)

			d, err := r.HandleIncoming(`{"type":"DATA","src":"b","payload":"hi","seq":` + tt.seq + `}`)
			require.NoError(t, err)
			assert.Equal(t, Decision{Action: Deliver, Payload: "hi"}, d)
		})
	}
}

func TestJSONRouter_Wrap_EmptyPayload(t *testing.T) {
	sender := NewJSONRouter("alice")

	text, err := sender.Wrap("", "bob")
	require.NoError(t, err)

	env, err := NewJSONRouter("bob").Unwrap(text)
	require.NoError(t, err)
	assert.Empty(t, env.Payload)
}
