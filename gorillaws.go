package gearapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

type GorillaWSConnection struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func NewGorillaWSConnFactory(cfg GorillaWsConfig, allowedOrigins []string) WSConnFactory {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return checkOrigin(r, allowedOrigins)
		},
		EnableCompression: false,
		Error:             upgradeError,
	}

	return WSConnFactory(func(w http.ResponseWriter, r *http.Request) (WSConnection, error) {
		// headers set by the middleware only reach the 101 response through here
		conn, err := upgrader.Upgrade(w, r, w.Header())
		if err != nil {
			return nil, err
		}
		if cfg.MaxMessageSize > 0 {
			conn.SetReadLimit(cfg.MaxMessageSize)
		}
		// the http server's read deadline survives the hijack
		if err := conn.SetReadDeadline(time.Time{}); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return &GorillaWSConnection{conn: conn, writeTimeout: cfg.WriteTimeout}, nil
	})
}

func upgradeError(w http.ResponseWriter, r *http.Request, status int, reason error) {
	log.Warnw("Websocket upgrade rejected", "status", status, "reason", reason)
	if status == http.StatusForbidden {
		writeRequestError(w, errAccessDenied)
		return
	}
	writeErrorResponse(w, status, "Bad request! "+reason.Error())
}

// An empty allow list accepts every origin, the dashboard is served from elsewhere.
func checkOrigin(r *http.Request, allowedOrigins []string) bool {
	if len(allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (c *GorillaWSConnection) deadline() time.Time {
	if c.writeTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.writeTimeout)
}

func (c *GorillaWSConnection) Send(data []byte) error {
	if err := c.conn.SetWriteDeadline(c.deadline()); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Receive returns the next text or binary message. Control frames are handled by gorilla.
func (c *GorillaWSConnection) Receive() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *GorillaWSConnection) CloseWith(code int, reason string) error {
	return c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), c.deadline())
}

func (c *GorillaWSConnection) Close() error {
	return c.conn.Close()
}
