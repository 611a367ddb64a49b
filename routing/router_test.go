package routing

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassthrough(t *testing.T) {
	var r Router = Passthrough{}

	wrapped, err := r.Wrap("hello", "bob")
	require.NoError(t, err)
	assert.Equal(t, "hello", wrapped)

	_, err = r.Unwrap(`{"type":"DATA","src":"a","payload":"x"}`)
	assert.True(t, errors.Is(err, ErrNotApplicable))

	d, err := r.HandleIncoming("anything")
	require.NoError(t, err)
	assert.Equal(t, Deliver, d.Action)
	assert.Equal(t, "anything", d.Payload)

	hello, err := r.Hello()
	require.NoError(t, err)
	assert.Empty(t, hello)
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "DELIVER:hi", Decision{Action: Deliver, Payload: "hi"}.String())
	assert.Equal(t, "DROP:HELLO_TOP", Decision{Action: Drop, Reason: ReasonHelloTop}.String())
}
