package gearapi

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T, cfg BridgeConfig) (*Bridge, *MemoryBroker) {
	t.Helper()
	broker := NewMemoryBroker()
	b := NewBridge(cfg, broker, broker.Subscriber())
	require.NoError(t, b.Start())
	t.Cleanup(func() { _ = b.Shutdown() })
	return b, broker
}

// startFakePeer answers every call published on the outbound channel with
// what respond returns. A nil answer leaves the call unanswered.
func startFakePeer(t *testing.T, broker *MemoryBroker, respond func(call OutboundCall) []byte) <-chan OutboundCall {
	t.Helper()
	sub := broker.Subscriber()
	require.NoError(t, sub.Subscribe(DefaultOutboundChannel))

	calls := make(chan OutboundCall, 64)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case msg := <-sub.Channel():
				var call OutboundCall
				if err := json.Unmarshal(msg.Payload, &call); err != nil {
					continue
				}
				select {
				case calls <- call:
				default:
				}
				if payload := respond(call); payload != nil {
					_ = broker.Publish(DefaultInboundChannel, payload)
				}
			}
		}
	}()
	t.Cleanup(func() {
		close(done)
		_ = sub.Close()
	})
	return calls
}

func replyJSON(id uuid.UUID, data string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"data":%s}`, id.String(), data))
}

func silentPeer(OutboundCall) []byte {
	return nil
}
