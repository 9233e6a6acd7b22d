package gearapi

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

const (
	DefaultOutboundChannel = "api-out"
	DefaultInboundChannel  = "gearbot-out"
	DefaultCallTimeout     = 60 * time.Second
	DefaultTeamInfoTimeout = 5 * time.Second
)

// Bridge turns the broker's one way channels into awaitable calls against the
// peer. One subscriber loop runs for the lifetime of the bridge and hands
// every reply to the caller waiting on its id.
type Bridge struct {
	cfg        BridgeConfig
	codec      MessageCodec
	publisher  Publisher
	subscriber Subscriber
	pending    *pendingCalls

	started *atomic.Bool
	doneCh  chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func NewBridge(cfg BridgeConfig, publisher Publisher, subscriber Subscriber) *Bridge {
	if cfg.OutboundChannel == "" {
		cfg.OutboundChannel = DefaultOutboundChannel
	}
	if cfg.InboundChannel == "" {
		cfg.InboundChannel = DefaultInboundChannel
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.TeamInfoTimeout <= 0 {
		cfg.TeamInfoTimeout = DefaultTeamInfoTimeout
	}
	return &Bridge{
		cfg:        cfg,
		codec:      NewDefaultCodec(),
		publisher:  publisher,
		subscriber: subscriber,
		pending:    newPendingCalls(),
		started:    atomic.NewBool(false),
		doneCh:     make(chan struct{}),
	}
}

// Start subscribes to the inbound channel and launches the subscriber loop.
func (b *Bridge) Start() error {
	if !b.started.CAS(false, true) {
		return nil
	}
	if err := b.subscriber.Subscribe(b.cfg.InboundChannel); err != nil {
		b.started.Store(false)
		return &TransportError{Err: err}
	}

	b.wg.Add(1)
	go b.run()
	log.Infow("bridge started", "outbound", b.cfg.OutboundChannel, "inbound", b.cfg.InboundChannel, "codec", b.codec.Name())
	return nil
}

// Shutdown stops the subscriber loop and fails every call still waiting.
func (b *Bridge) Shutdown() error {
	b.once.Do(func() {
		close(b.doneCh)
		_ = b.subscriber.Close()
		b.wg.Wait()
		log.Info("bridge stopped")
	})
	return nil
}

// Pending is the number of calls currently waiting for a reply.
func (b *Bridge) Pending() int {
	return b.pending.len()
}

// Call publishes req and waits up to timeout for the peer's reply. A zero
// timeout uses the configured default.
func (b *Bridge) Call(ctx context.Context, req PeerRequest, timeout time.Duration) (*Reply, error) {
	if timeout <= 0 {
		timeout = b.cfg.CallTimeout
	}
	select {
	case <-b.doneCh:
		return nil, ErrBridgeClosed
	default:
	}

	id := uuid.New()
	data, err := b.codec.Encode(newOutboundCall(id, req))
	if err != nil {
		return nil, &SerializationError{Err: err}
	}

	// register before publishing so a fast peer can't answer into the void
	slot := b.pending.register(id)
	defer b.pending.remove(id)

	if err := b.publisher.Publish(b.cfg.OutboundChannel, data); err != nil {
		log.Errorw("could not publish call", "callId", id, "op", req.Op, "error", err)
		return nil, &TransportError{Err: err}
	}
	log.Debugw("call published", "callId", id, "op", req.Op)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-slot:
		return reply, nil
	case <-timer.C:
		log.Warnw("call timed out", "callId", id, "op", req.Op, "timeout", timeout)
		return nil, ErrCallTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.doneCh:
		return nil, ErrBridgeClosed
	}
}

func (b *Bridge) TeamInfo(ctx context.Context) (*TeamInfo, error) {
	req := TeamInfoRequest()
	reply, err := b.Call(ctx, req, b.cfg.TeamInfoTimeout)
	if err != nil {
		return nil, err
	}
	if reply.Data.Kind != req.Expects() || reply.Data.TeamInfo == nil {
		return nil, ErrWrongReplyType
	}
	return reply.Data.TeamInfo, nil
}

// UserInfo returns nil without error when the peer doesn't know the user.
func (b *Bridge) UserInfo(ctx context.Context, userID uint64) (*UserInfo, error) {
	req := UserInfoRequest(userID)
	reply, err := b.Call(ctx, req, b.cfg.CallTimeout)
	if err != nil {
		return nil, err
	}
	if reply.Data.Kind != req.Expects() {
		return nil, ErrWrongReplyType
	}
	return reply.Data.UserInfo, nil
}

func (b *Bridge) MutualGuilds(ctx context.Context, userID uint64) ([]MinimalGuildInfo, error) {
	req := MutualGuildsRequest(userID)
	reply, err := b.Call(ctx, req, b.cfg.CallTimeout)
	if err != nil {
		return nil, err
	}
	if reply.Data.Kind != req.Expects() {
		return nil, ErrWrongReplyType
	}
	return reply.Data.MutualGuilds, nil
}

func (b *Bridge) run() {
	defer b.wg.Done()

	ch := b.subscriber.Channel()
	for {
		select {
		case <-b.doneCh:
			return
		case msg, ok := <-ch:
			if !ok {
				log.Warn("bridge subscription ended")
				return
			}
			b.handlePubSubMessage(msg)
		}
	}
}

func (b *Bridge) handlePubSubMessage(msg *PubSubMessage) {
	if msg.Channel != b.cfg.InboundChannel {
		log.Warnw("received message from unsupported pub-sub channel", "channel", msg.Channel)
		return
	}

	var reply Reply
	if err := b.codec.Decode(msg.Payload, &reply); err != nil {
		log.Errorw("dropping malformed reply", "error", err, "payload", string(msg.Payload))
		return
	}
	if reply.Data.Kind == "" {
		log.Errorw("dropping reply without data", "payload", string(msg.Payload))
		return
	}
	if reply.ID == uuid.Nil {
		log.Debugw("dropping push without consumer", "kind", reply.Data.Kind)
		return
	}

	if !b.pending.resolve(&reply) {
		log.Debugw("dropping reply for unknown call", "callId", reply.ID, "kind", reply.Data.Kind)
	}
}
