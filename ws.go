package gearapi

import (
	"crypto/sha1"
	"encoding/base64"
	"net/http"
)

const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// WSConnection is one upgraded browser connection. Writes are not safe for
// concurrent use; a Session is the only writer.
type WSConnection interface {
	Send(data []byte) error
	Receive() ([]byte, error)
	// CloseWith writes a close frame carrying code and reason.
	CloseWith(code int, reason string) error
	Close() error
}

type WSConnFactory func(w http.ResponseWriter, r *http.Request) (WSConnection, error)

// checkUpgradeRequest rejects requests that can never become a socket session.
func checkUpgradeRequest(r *http.Request) *RequestError {
	if r.Header.Get("Upgrade") == "" {
		return errUpgradeOnly
	}
	if r.Header.Get("Sec-WebSocket-Key") == "" {
		return errMissingWsKey
	}
	return nil
}

// acceptKey computes the Sec-WebSocket-Accept value for a client key.
func acceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
