package routing

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Envelope types.
const (
	TypeData  = "DATA"
	TypeHello = "HELLO"
)

// Drop reasons reported by JSONRouter.HandleIncoming.
const (
	ReasonInvalid        = "INVALID"
	ReasonHelloTop       = "HELLO_TOP"
	ReasonHelloInPayload = "HELLO_IN_PAYLOAD"
	ReasonUnknownType    = "UNKNOWN_TYPE"
)

const helloVersion = "1.0"

// wireEnvelope is the JSON form exchanged between nodes.
// Payload is nil when the key is absent. Seq is kept raw: peers disagree
// on its type and nothing on the receive side depends on it.
type wireEnvelope struct {
	Type    string          `json:"type"`
	Src     string          `json:"src"`
	Dst     string          `json:"dst,omitempty"`
	Payload *string         `json:"payload,omitempty"`
	Seq     json.RawMessage `json:"seq,omitempty"`
	Version string          `json:"version,omitempty"`
}

func (w wireEnvelope) payload() string {
	if w.Payload == nil {
		return ""
	}
	return *w.Payload
}

// JSONRouter builds single-hop JSON envelopes on behalf of one node.
type JSONRouter struct {
	mu     sync.RWMutex
	nodeID string
}

// NewJSONRouter returns a router for nodeID. An empty id becomes "unknown".
func NewJSONRouter(nodeID string) *JSONRouter {
	r := &JSONRouter{}
	r.SetNodeID(nodeID)
	return r
}

// SetNodeID changes the source id stamped on outgoing envelopes.
func (r *JSONRouter) SetNodeID(id string) {
	if id == "" {
		id = "unknown"
	}
	r.mu.Lock()
	r.nodeID = id
	r.mu.Unlock()
}

// NodeID returns the source id stamped on outgoing envelopes.
func (r *JSONRouter) NodeID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodeID
}

// Wrap builds a DATA envelope.
func (r *JSONRouter) Wrap(payload, dst string) (string, error) {
	b, err := json.Marshal(wireEnvelope{
		Type:    TypeData,
		Src:     r.NodeID(),
		Dst:     dst,
		Payload: &payload,
		Seq:     json.RawMessage("0"),
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal data envelope")
	}
	return string(b), nil
}

// Unwrap parses a DATA envelope. Anything else is ErrNotApplicable.
// An envelope without a payload key carries text itself as its payload.
func (r *JSONRouter) Unwrap(text string) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return Envelope{}, errors.Wrap(ErrNotApplicable, err.Error())
	}
	if w.Type != TypeData {
		return Envelope{}, errors.Wrapf(ErrNotApplicable, "type %q", w.Type)
	}
	env := toEnvelope(w)
	if w.Payload == nil {
		env.Payload = text
	}
	return env, nil
}

// HandleIncoming applies the single-hop rules: hellos never reach the chat,
// every data envelope is delivered locally.
func (r *JSONRouter) HandleIncoming(text string) (Decision, error) {
	var w wireEnvelope
	if err := json.Unmarshal([]byte(text), &w); err != nil || w.Type == "" {
		return Decision{Action: Drop, Reason: ReasonInvalid}, nil
	}

	switch w.Type {
	case TypeHello:
		return Decision{Action: Drop, Reason: ReasonHelloTop}, nil
	case TypeData:
		if looksLikeHello(w.payload()) {
			return Decision{Action: Drop, Reason: ReasonHelloInPayload}, nil
		}
		return Decision{Action: Deliver, Payload: w.payload()}, nil
	default:
		return Decision{Action: Drop, Reason: ReasonUnknownType}, nil
	}
}

// Hello builds a HELLO envelope.
func (r *JSONRouter) Hello() (string, error) {
	b, err := json.Marshal(wireEnvelope{
		Type:    TypeHello,
		Src:     r.NodeID(),
		Version: helloVersion,
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal hello envelope")
	}
	return string(b), nil
}

// looksLikeHello catches hellos that older nodes sent inside a data payload.
func looksLikeHello(payload string) bool {
	var w wireEnvelope
	if err := json.Unmarshal([]byte(payload), &w); err == nil {
		return w.Type == TypeHello
	}
	return strings.Contains(payload, `"type":"HELLO"`)
}

func toEnvelope(w wireEnvelope) Envelope {
	return Envelope{
		Type:    w.Type,
		Source:  w.Src,
		Dest:    w.Dst,
		Payload: w.payload(),
		Seq:     parseSeq(w.Seq),
	}
}

// parseSeq accepts a number or a numeric string; anything else is 0.
func parseSeq(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return 0
}
