// Package routing embeds chat payloads into routing envelopes.
//
// The connection core treats a Router as a black box: text is wrapped
// before it is framed and unwrapped after it is decoded, and any failure
// falls back to the plain text.
package routing

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotApplicable is returned by Unwrap when the text is not a data envelope.
var ErrNotApplicable = errors.New("not a routing envelope")

// Router wraps and unwraps routing envelopes.
type Router interface {
	// Wrap embeds payload in an envelope addressed to dst.
	Wrap(payload, dst string) (string, error)
	// Unwrap extracts the payload of a data envelope.
	Unwrap(text string) (Envelope, error)
	// HandleIncoming decides what a node does with an incoming envelope.
	HandleIncoming(text string) (Decision, error)
	// Hello builds the body of a neighbour hello.
	Hello() (string, error)
}

// Envelope is an unwrapped data message.
type Envelope struct {
	Type    string
	Source  string
	Dest    string
	Payload string
	Seq     int
}

// Action is the outcome of HandleIncoming.
type Action int

const (
	// Drop discards the envelope.
	Drop Action = iota
	// Deliver hands the payload to the local user.
	Deliver
)

// Decision is the routing decision for one incoming envelope.
type Decision struct {
	Action  Action
	Reason  string
	Payload string
}

func (d Decision) String() string {
	if d.Action == Deliver {
		return "DELIVER:" + d.Payload
	}
	return fmt.Sprintf("DROP:%s", d.Reason)
}

// Passthrough is a Router that never wraps anything.
type Passthrough struct{}

// Wrap returns payload unchanged.
func (Passthrough) Wrap(payload, _ string) (string, error) {
	return payload, nil
}

// Unwrap always reports ErrNotApplicable.
func (Passthrough) Unwrap(string) (Envelope, error) {
	return Envelope{}, ErrNotApplicable
}

// HandleIncoming delivers every text as is.
func (Passthrough) HandleIncoming(text string) (Decision, error) {
	return Decision{Action: Deliver, Payload: text}, nil
}

// Hello returns an empty body.
func (Passthrough) Hello() (string, error) {
	return "", nil
}
