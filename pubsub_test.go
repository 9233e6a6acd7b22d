package gearapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBroker(t *testing.T) {
	broker := NewMemoryBroker()
	sub := broker.Subscriber()
	require.NoError(t, sub.Subscribe("gearbot-out"))

	require.NoError(t, broker.Publish("api-out", []byte("ignored")))
	require.NoError(t, broker.Publish("gearbot-out", []byte("hello")))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "gearbot-out", msg.Channel)
		assert.Equal(t, []byte("hello"), msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("message was not delivered")
	}
	assert.Empty(t, sub.Channel())

	require.NoError(t, sub.Close())
	require.NoError(t, broker.Publish("gearbot-out", []byte("after close")))
	assert.Empty(t, sub.Channel())

	require.NoError(t, broker.Close())
	assert.ErrorIs(t, broker.Publish("gearbot-out", nil), ErrBrokerClosed)
}
