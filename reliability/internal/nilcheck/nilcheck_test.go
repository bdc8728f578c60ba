//go:build unit

package nilcheck

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type publisher interface {
	Publish()
}

type redisPublisher struct{}

func (*redisPublisher) Publish() {}

func TestInterface(t *testing.T) {
	t.Parallel()

	var nilPointer *redisPublisher
	var nilSlice []string
	var nilMap map[string]string
	var nilFunc func()
	var nilIface publisher

	var typedNil publisher = nilPointer

	require.True(t, Interface(nil))
	require.True(t, Interface(nilPointer))
	require.True(t, Interface(nilSlice))
	require.True(t, Interface(nilMap))
	require.True(t, Interface(nilFunc))
	require.True(t, Interface(nilIface))
	require.True(t, Interface(typedNil))

	require.False(t, Interface(&redisPublisher{}))
	require.False(t, Interface(42))
	require.False(t, Interface("simulation.events"))
}
