package gearapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var ErrSessionClosed = errors.New("session closed")

const sessionWriteQueue = 16

type authState struct {
	authenticated bool
	userID        uint64
}

type closeFrame struct {
	code   int
	reason string
}

type outboundFrame struct {
	data  []byte
	close *closeFrame
}

// Session is one browser connection. The read loop owns the auth state and
// runs the handlers; a single writer goroutine owns every write to the
// connection, everything else enqueues through Send.
type Session struct {
	ID         string
	conn       WSConnection
	dispatcher Dispatcher
	codec      MessageCodec
	// log is fixed at construction; loopLog is only touched by the read loop.
	log     *zap.SugaredLogger
	auth    authState
	loopLog *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	writeCh    chan outboundFrame
	writerDone chan struct{}
	closed     *atomic.Bool
}

func NewSession(ctx context.Context, conn WSConnection, dispatcher Dispatcher) *Session {
	return newSession(ctx, conn, dispatcher, authState{})
}

// NewAuthenticatedSession starts a session for a user whose cookie was already verified.
func NewAuthenticatedSession(ctx context.Context, conn WSConnection, dispatcher Dispatcher, userID uint64) *Session {
	return newSession(ctx, conn, dispatcher, authState{authenticated: true, userID: userID})
}

func newSession(ctx context.Context, conn WSConnection, dispatcher Dispatcher, auth authState) *Session {
	id := uuid.NewString()
	sessionLog := log.With("sessionId", id)
	if auth.authenticated {
		sessionLog = sessionLog.With("userId", auth.userID)
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		ID:         id,
		conn:       conn,
		dispatcher: dispatcher,
		codec:      NewDefaultCodec(),
		log:        sessionLog,
		auth:       auth,
		loopLog:    sessionLog,
		ctx:        sessionCtx,
		cancel:     cancel,
		writeCh:    make(chan outboundFrame, sessionWriteQueue),
		writerDone: make(chan struct{}),
		closed:     atomic.NewBool(false),
	}
	go s.processWrite(s.log)
	return s
}

// Run serves the connection until either side ends it, then sends the close frame.
func (s *Session) Run() {
	s.loopLog.Debug("session started")
	code, reason := websocket.CloseNormalClosure, closeReasonFinished
	if serr := s.processRead(); serr != nil {
		code, reason = serr.CloseCode(), serr.CloseMessage()
	}
	s.shutdown(code, reason)
	s.loopLog.Debugw("session closed", "code", code, "reason", reason)
}

// Close ends the session from outside the read loop.
func (s *Session) Close(code int, reason string) {
	s.shutdown(code, reason)
}

// Send queues a message for the writer goroutine. It is safe for concurrent use.
func (s *Session) Send(msg *ServerMessage) error {
	data, err := s.codec.Encode(msg)
	if err != nil {
		return &SerializationError{Err: err}
	}
	return s.enqueue(outboundFrame{data: data})
}

func (s *Session) enqueue(f outboundFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.writeCh <- f
	return nil
}

func (s *Session) shutdown(code int, reason string) {
	s.mu.Lock()
	if !s.closed.CAS(false, true) {
		s.mu.Unlock()
		return
	}
	s.writeCh <- outboundFrame{close: &closeFrame{code: code, reason: reason}}
	close(s.writeCh)
	s.mu.Unlock()

	s.cancel()
	<-s.writerDone
	if err := s.conn.Close(); err != nil {
		s.log.Debugw("error closing connection", "error", err)
	}
}

func (s *Session) processWrite(logger *zap.SugaredLogger) {
	defer close(s.writerDone)

	failed := false
	for f := range s.writeCh {
		if failed {
			continue
		}
		if f.close != nil {
			if err := s.conn.CloseWith(f.close.code, f.close.reason); err != nil {
				logger.Debugw("could not send close frame", "error", err)
			}
			continue
		}
		if err := s.conn.Send(f.data); err != nil {
			logger.Errorw("error while sending message to client", "error", err)
			failed = true
			// unblocks the read loop
			_ = s.conn.Close()
		}
	}
}

func (s *Session) processRead() *SessionError {
	for {
		data, err := s.conn.Receive()
		if err != nil {
			if s.closed.Load() || isClosure(err) {
				s.loopLog.Debugw("connection ended", "reason", err)
				return nil
			}
			s.loopLog.Warnw("reading from ws error", "error", err)
			return newSessionError(SessionTransport, err)
		}

		reply, err := s.handleMessage(data)
		if err != nil {
			var serr *SessionError
			if !errors.As(err, &serr) {
				serr = newSessionError(SessionTransport, err)
			}
			if serr.ClosesSocket() {
				s.loopLog.Warnw("websocket message error, closing session", "error", serr)
				return serr
			}
			s.loopLog.Errorw("websocket message error", "error", serr)
			continue
		}

		if err := s.Send(reply); err != nil {
			if errors.Is(err, ErrSessionClosed) {
				return nil
			}
			s.loopLog.Errorw("could not encode reply", "error", err)
		}
	}
}

func (s *Session) handleMessage(data []byte) (*ServerMessage, error) {
	msg, err := ParseClientMessage(data)
	if err != nil {
		return nil, newSessionError(SessionCorruptMessage, err)
	}
	s.loopLog.Debugw("received websocket message", "type", msg.Type)

	if !s.auth.authenticated {
		switch msg.Type {
		case ClientIdentify:
			userID, info, err := s.dispatcher.Identify(s.ctx, msg.Token)
			if err != nil {
				return nil, err
			}
			s.auth = authState{authenticated: true, userID: userID}
			s.loopLog = s.loopLog.With("userId", userID)
			s.loopLog.Debugw("authorization accepted", "name", info.Name, "discriminator", info.Discriminator)
			return WelcomeMessage(), nil
		case ClientGuildList:
			return nil, newSessionError(SessionNotAuthorized, nil)
		}
	} else {
		switch msg.Type {
		case ClientIdentify:
			return nil, newSessionError(SessionAlreadyAuthorized, nil)
		case ClientGuildList:
			list, err := s.dispatcher.GuildList(s.ctx, s.auth.userID)
			if err != nil {
				return nil, err
			}
			return GuildListMessage(list), nil
		}
	}
	return nil, newSessionError(SessionCorruptMessage, fmt.Errorf("unhandled message type %q", msg.Type))
}

// isClosure reports whether a read error is the other side going away.
func isClosure(err error) bool {
	return errors.Is(err, io.EOF) || websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure,
	)
}
