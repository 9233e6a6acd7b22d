package gearapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

var (
	ErrCallTimeout    = errors.New("peer did not respond in time")
	ErrWrongReplyType = errors.New("received wrong reply data type for the requested data")
	ErrBridgeClosed   = errors.New("bridge is shut down")
)

// TransportError is returned when the broker could not be reached.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("error pushing the message to the broker: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SerializationError is returned when an envelope could not be encoded or decoded.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("envelope was in an unexpected form: %v", e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

type SessionErrorKind int

const (
	SessionTransport SessionErrorKind = iota
	SessionCorruptMessage
	SessionNotAuthorized
	SessionBadAuthorization
	SessionAlreadyAuthorized
	SessionNoValidDiscordAuthToken
	SessionCommunication
	SessionCache
	SessionUpstream
)

var sessionErrorKinds = []SessionErrorKind{
	SessionTransport,
	SessionCorruptMessage,
	SessionNotAuthorized,
	SessionBadAuthorization,
	SessionAlreadyAuthorized,
	SessionNoValidDiscordAuthToken,
	SessionCommunication,
	SessionCache,
	SessionUpstream,
}

const (
	closeReasonCorrupt         = "Corrupt message received"
	closeReasonNotAuthorized   = "You failed to identify yourself first, access denied!"
	closeReasonAlreadyIdentify = "You can not identify twice!"
	closeReasonTransport       = "Unable to process message"
	closeReasonNoDiscordToken  = "No valid discord oauth token was found in storage for this user"
	closeReasonFinished        = "Session finished"
	closeReasonShutdown        = "Server shutting down"
)

// SessionError is the failure of a single socket message. Whether it ends the
// session is decided by its kind only.
type SessionError struct {
	Kind SessionErrorKind
	Err  error
}

func newSessionError(kind SessionErrorKind, err error) *SessionError {
	return &SessionError{Kind: kind, Err: err}
}

func (e *SessionError) Error() string {
	var msg string
	switch e.Kind {
	case SessionTransport:
		msg = "socket transport failure"
	case SessionCorruptMessage:
		msg = "corrupt message received"
	case SessionNotAuthorized:
		msg = "someone didn't identify themselves"
	case SessionBadAuthorization:
		msg = "someone gave us an invalid token to try and identify"
	case SessionAlreadyAuthorized:
		msg = "someone double identified"
	case SessionNoValidDiscordAuthToken:
		msg = "no valid discord oauth2 token found"
	case SessionCommunication:
		msg = "failed to communicate with the bot"
	case SessionCache:
		msg = "failed to fetch cached information"
	case SessionUpstream:
		msg = "failed to fetch information from the discord api"
	default:
		msg = fmt.Sprintf("session error kind %d", e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// ClosesSocket reports whether the session must be terminated.
func (e *SessionError) ClosesSocket() bool {
	switch e.Kind {
	case SessionTransport,
		SessionCorruptMessage,
		SessionNotAuthorized,
		SessionBadAuthorization,
		SessionAlreadyAuthorized,
		SessionNoValidDiscordAuthToken:
		return true
	case SessionCommunication,
		SessionCache,
		SessionUpstream:
		return false
	}
	panic(fmt.Sprintf("unclassified session error kind %d", e.Kind))
}

// CloseCode is the close frame status sent for a fatal error.
func (e *SessionError) CloseCode() int {
	switch e.Kind {
	case SessionCorruptMessage:
		return websocket.CloseInvalidFramePayloadData
	case SessionNotAuthorized,
		SessionBadAuthorization,
		SessionAlreadyAuthorized,
		SessionNoValidDiscordAuthToken:
		return websocket.ClosePolicyViolation
	case SessionTransport,
		SessionCommunication,
		SessionCache,
		SessionUpstream:
		return websocket.CloseInternalServerErr
	}
	panic(fmt.Sprintf("unclassified session error kind %d", e.Kind))
}

// CloseMessage is the client-safe close reason. Internal details never leave the server.
func (e *SessionError) CloseMessage() string {
	switch e.Kind {
	case SessionCorruptMessage:
		return closeReasonCorrupt
	case SessionNotAuthorized, SessionBadAuthorization:
		return closeReasonNotAuthorized
	case SessionAlreadyAuthorized:
		return closeReasonAlreadyIdentify
	case SessionNoValidDiscordAuthToken:
		return closeReasonNoDiscordToken
	case SessionTransport,
		SessionCommunication,
		SessionCache,
		SessionUpstream:
		return closeReasonTransport
	}
	panic(fmt.Sprintf("unclassified session error kind %d", e.Kind))
}

// RequestError is an HTTP edge failure carrying the status to reply with.
type RequestError struct {
	Status  int
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func serverError(err error) *RequestError {
	return &RequestError{Status: http.StatusInternalServerError, Message: "Internal server error!", Err: err}
}

func badRequest(reason string) *RequestError {
	return &RequestError{Status: http.StatusBadRequest, Message: "Bad request! " + reason}
}

var (
	errUpgradeOnly  = badRequest("This endpoint only accepts websocket upgrades")
	errMissingWsKey = badRequest("Missing websocket key")
	errNoAccessCode = badRequest("No access code provided")
	errNotFound     = &RequestError{Status: http.StatusNotFound, Message: "Unknown route"}
	errAccessDenied = &RequestError{Status: http.StatusForbidden, Message: "Access denied"}
	errUnauthorized = &RequestError{Status: http.StatusUnauthorized}
)
