package gearapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	inbound  chan []byte
	sentCh   chan []byte
	sendErr  error
	closeErr error

	mu          sync.Mutex
	closeFrames int
	closeCode   int
	closeReason string

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		sentCh:  make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Send(data []byte) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sentCh <- append([]byte(nil), data...)
	return nil
}

func (c *fakeConn) Receive() ([]byte, error) {
	select {
	case data, ok := <-c.inbound:
		if !ok {
			return nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return data, nil
	case <-c.closed:
		return nil, net.ErrClosed
	}
}

func (c *fakeConn) CloseWith(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeFrames++
	c.closeCode = code
	c.closeReason = reason
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.closeErr
}

func (c *fakeConn) closeFrame() (int, string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason, c.closeFrames
}

func (c *fakeConn) push(t *testing.T, frame string) {
	t.Helper()
	select {
	case c.inbound <- []byte(frame):
	case <-time.After(time.Second):
		t.Fatal("session is not reading")
	}
}

func (c *fakeConn) next(t *testing.T) map[string]interface{} {
	t.Helper()
	select {
	case data := <-c.sentCh:
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message sent")
	}
	return nil
}

type fakeDispatcher struct {
	identify  func(token string) (uint64, *UserInfo, error)
	guildList func(userID uint64) (*UserGuildList, error)
}

func (d *fakeDispatcher) Identify(_ context.Context, token string) (uint64, *UserInfo, error) {
	return d.identify(token)
}

func (d *fakeDispatcher) GuildList(_ context.Context, userID uint64) (*UserGuildList, error) {
	return d.guildList(userID)
}

func validDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		identify: func(token string) (uint64, *UserInfo, error) {
			if token != "good" {
				return 0, nil, newSessionError(SessionBadAuthorization, nil)
			}
			return 42, &UserInfo{Name: "gear", Discriminator: "0001"}, nil
		},
		guildList: func(userID uint64) (*UserGuildList, error) {
			return &UserGuildList{
				GearbotServers: []MinimalGuild{{ID: "1", Name: "managed"}},
			}, nil
		},
	}
}

func runSession(s *Session) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
}

func TestSession_GuildListBeforeIdentify(t *testing.T) {
	conn := newFakeConn()
	done := runSession(NewSession(context.Background(), conn, validDispatcher()))

	conn.push(t, `{"type":"GuildList"}`)
	waitDone(t, done)

	code, reason, frames := conn.closeFrame()
	assert.Equal(t, 1, frames)
	assert.Equal(t, websocket.ClosePolicyViolation, code)
	assert.Equal(t, "You failed to identify yourself first, access denied!", reason)
	assert.Empty(t, conn.sentCh)
}

func TestSession_IdentifyThenGuildList(t *testing.T) {
	conn := newFakeConn()
	var gotUser uint64
	d := validDispatcher()
	listFn := d.guildList
	d.guildList = func(userID uint64) (*UserGuildList, error) {
		gotUser = userID
		return listFn(userID)
	}
	done := runSession(NewSession(context.Background(), conn, d))

	conn.push(t, `{"type":"Identify","token":"good"}`)
	assert.Equal(t, map[string]interface{}{"type": "Welcome"}, conn.next(t))

	conn.push(t, `{"type":"GuildList"}`)
	msg := conn.next(t)
	assert.Equal(t, "GuildList", msg["type"])
	assert.Len(t, msg["gearbot_servers"], 1)
	assert.Empty(t, msg["available_servers"])

	close(conn.inbound)
	waitDone(t, done)

	assert.Equal(t, uint64(42), gotUser)
	code, reason, _ := conn.closeFrame()
	assert.Equal(t, websocket.CloseNormalClosure, code)
	assert.Equal(t, "Session finished", reason)
}

func TestSession_FatalErrors(t *testing.T) {
	tests := []struct {
		name   string
		frames []string
		code   int
		reason string
		sent   int
	}{
		{
			name:   "identify twice",
			frames: []string{`{"type":"Identify","token":"good"}`, `{"type":"Identify","token":"good"}`},
			code:   websocket.ClosePolicyViolation,
			reason: "You can not identify twice!",
			sent:   1,
		},
		{
			name:   "bad token",
			frames: []string{`{"type":"Identify","token":"bad"}`},
			code:   websocket.ClosePolicyViolation,
			reason: "You failed to identify yourself first, access denied!",
		},
		{
			name:   "not json",
			frames: []string{`hello`},
			code:   websocket.CloseInvalidFramePayloadData,
			reason: "Corrupt message received",
		},
		{
			name:   "unknown type",
			frames: []string{`{"type":"Welcome"}`},
			code:   websocket.CloseInvalidFramePayloadData,
			reason: "Corrupt message received",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn()
			done := runSession(NewSession(context.Background(), conn, validDispatcher()))
			for _, frame := range tt.frames {
				conn.push(t, frame)
			}
			waitDone(t, done)

			code, reason, frames := conn.closeFrame()
			assert.Equal(t, 1, frames)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.reason, reason)
			assert.Len(t, conn.sentCh, tt.sent)
		})
	}
}

func TestSession_RecoverableErrorKeepsSession(t *testing.T) {
	conn := newFakeConn()
	d := validDispatcher()
	calls := 0
	d.guildList = func(userID uint64) (*UserGuildList, error) {
		calls++
		if calls == 1 {
			return nil, newSessionError(SessionCommunication, ErrCallTimeout)
		}
		return &UserGuildList{}, nil
	}
	done := runSession(NewSession(context.Background(), conn, d))

	conn.push(t, `{"type":"Identify","token":"good"}`)
	conn.next(t)
	conn.push(t, `{"type":"GuildList"}`)
	conn.push(t, `{"type":"GuildList"}`)
	assert.Equal(t, "GuildList", conn.next(t)["type"])

	close(conn.inbound)
	waitDone(t, done)
	code, _, _ := conn.closeFrame()
	assert.Equal(t, websocket.CloseNormalClosure, code)
	assert.Equal(t, 2, calls)
}

func TestSession_RecoverableIdentifyFailureStaysUnauthenticated(t *testing.T) {
	conn := newFakeConn()
	d := validDispatcher()
	d.identify = func(string) (uint64, *UserInfo, error) {
		return 0, nil, newSessionError(SessionCommunication, ErrCallTimeout)
	}
	done := runSession(NewSession(context.Background(), conn, d))

	conn.push(t, `{"type":"Identify","token":"good"}`)
	conn.push(t, `{"type":"GuildList"}`)
	waitDone(t, done)

	code, reason, _ := conn.closeFrame()
	assert.Equal(t, websocket.ClosePolicyViolation, code)
	assert.Equal(t, closeReasonNotAuthorized, reason)
	assert.Empty(t, conn.sentCh)
}

func TestSession_PlainErrorIsTreatedAsTransport(t *testing.T) {
	conn := newFakeConn()
	d := validDispatcher()
	d.identify = func(string) (uint64, *UserInfo, error) {
		return 0, nil, errors.New("unexpected")
	}
	done := runSession(NewSession(context.Background(), conn, d))

	conn.push(t, `{"type":"Identify","token":"good"}`)
	waitDone(t, done)
	code, reason, _ := conn.closeFrame()
	assert.Equal(t, websocket.CloseInternalServerErr, code)
	assert.Equal(t, closeReasonTransport, reason)
}

func TestSession_PreAuthenticated(t *testing.T) {
	conn := newFakeConn()
	done := runSession(NewAuthenticatedSession(context.Background(), conn, validDispatcher(), 42))

	conn.push(t, `{"type":"GuildList"}`)
	assert.Equal(t, "GuildList", conn.next(t)["type"])

	conn.push(t, `{"type":"Identify","token":"good"}`)
	waitDone(t, done)
	_, reason, _ := conn.closeFrame()
	assert.Equal(t, closeReasonAlreadyIdentify, reason)
}

func TestSession_CloseFromOutside(t *testing.T) {
	conn := newFakeConn()
	s := NewSession(context.Background(), conn, validDispatcher())
	done := runSession(s)

	s.Close(websocket.CloseGoingAway, closeReasonShutdown)
	waitDone(t, done)

	code, reason, frames := conn.closeFrame()
	assert.Equal(t, 1, frames)
	assert.Equal(t, websocket.CloseGoingAway, code)
	assert.Equal(t, "Server shutting down", reason)
	assert.ErrorIs(t, s.Send(WelcomeMessage()), ErrSessionClosed)
}

func TestSession_CloseFromOutsideAfterIdentify(t *testing.T) {
	conn := newFakeConn()
	conn.closeErr = errors.New("use of closed network connection")
	s := NewSession(context.Background(), conn, validDispatcher())
	done := runSession(s)

	conn.push(t, `{"type":"Identify","token":"good"}`)
	assert.Equal(t, "Welcome", conn.next(t)["type"])

	closed := make(chan struct{})
	go func() {
		s.Close(websocket.CloseGoingAway, closeReasonShutdown)
		close(closed)
	}()
	waitDone(t, closed)
	waitDone(t, done)

	code, _, frames := conn.closeFrame()
	assert.Equal(t, 1, frames)
	assert.Equal(t, websocket.CloseGoingAway, code)
}

func TestSession_CloseBeforeRun(t *testing.T) {
	conn := newFakeConn()
	s := NewSession(context.Background(), conn, validDispatcher())
	s.Close(websocket.CloseGoingAway, closeReasonShutdown)

	done := runSession(s)
	waitDone(t, done)
	_, _, frames := conn.closeFrame()
	assert.Equal(t, 1, frames)
}

func TestSession_SendFailureEndsSession(t *testing.T) {
	conn := newFakeConn()
	conn.sendErr = errors.New("broken pipe")
	done := runSession(NewSession(context.Background(), conn, validDispatcher()))

	conn.push(t, `{"type":"Identify","token":"good"}`)
	waitDone(t, done)

	_, _, frames := conn.closeFrame()
	assert.Equal(t, 0, frames)
}

func TestIsClosure(t *testing.T) {
	assert.True(t, isClosure(&websocket.CloseError{Code: websocket.CloseGoingAway}))
	assert.True(t, isClosure(&websocket.CloseError{Code: websocket.CloseAbnormalClosure}))
	assert.False(t, isClosure(&websocket.CloseError{Code: websocket.CloseProtocolError}))
	assert.False(t, isClosure(net.ErrClosed))
}
