package gearapi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// serverDeps are the external connections a Server runs on.
type serverDeps struct {
	publisher  Publisher
	subscriber Subscriber
	cache      Cache
	wsFactory  WSConnFactory
	closer     io.Closer
}

type Server struct {
	server   *http.Server
	bridge   *Bridge
	sessions *SessionManager
	closer   io.Closer
	cancel   context.CancelFunc
}

func NewServer(config Config) (*Server, error) {
	client, err := NewRedisClient(config.Redis)
	if err != nil {
		return nil, err
	}
	pubsub := NewRedisPubSub(client)
	return newServer(config, serverDeps{
		publisher:  pubsub,
		subscriber: pubsub,
		cache:      NewRedisCache(client, NewDefaultCodec()),
		closer:     client,
	}), nil
}

func newServer(config Config, deps serverDeps) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	bridge := NewBridge(config.Bridge, deps.publisher, deps.subscriber)
	discord := NewDiscordClient(config.Discord, deps.cache)
	wsFactory := deps.wsFactory
	if wsFactory == nil {
		wsFactory = NewGorillaWSConnFactory(config.GorillaWS, config.AllowedOrigins)
	}
	sessions := NewSessionManager()

	h := &handler{
		ctx:        ctx,
		peer:       bridge,
		cache:      deps.cache,
		discord:    discord,
		dispatcher: NewHandlers(bridge, deps.cache, discord),
		wsFactory:  wsFactory,
		sessions:   sessions,
		domain:     config.Domain,
		secure:     config.Secure,
	}

	httpConfig := config.HTTPServer
	server := &http.Server{
		Handler:      accessMiddleware(newRouter(h)),
		Addr:         fmt.Sprintf("%s:%d", httpConfig.Address, httpConfig.Port),
		WriteTimeout: time.Duration(httpConfig.WriteTimeoutInSecond) * time.Second,
		ReadTimeout:  time.Duration(httpConfig.ReadTimeoutInSecond) * time.Second,
	}
	return &Server{
		server:   server,
		bridge:   bridge,
		sessions: sessions,
		closer:   deps.closer,
		cancel:   cancel,
	}
}

func newRouter(h *handler) *mux.Router {
	r := mux.NewRouter()
	register := func(r *mux.Router) {
		r.HandleFunc("/hello", h.hello).Methods(http.MethodGet)
		r.HandleFunc("/team_info", h.teamInfo).Methods(http.MethodGet)
		r.HandleFunc("/ws", h.socket).Methods(http.MethodGet)
		r.HandleFunc("/discord/login", h.discordLogin).Methods(http.MethodGet)
		r.HandleFunc("/discord/auth", h.discordAuth).Methods(http.MethodGet)
		r.HandleFunc("/discord/user", h.discordUser).Methods(http.MethodGet)
	}
	register(r.PathPrefix("/api").Subrouter())
	register(r)
	r.NotFoundHandler = http.HandlerFunc(h.notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(h.notFound)
	return r
}

// Start connects the bridge to the broker. Serve calls it.
func (s *Server) Start() error {
	return s.bridge.Start()
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Serve() error {
	if err := s.Start(); err != nil {
		return err
	}
	log.Infof("Server started listening at %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes every session and releases the broker.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	s.sessions.CloseAll(websocket.CloseGoingAway, closeReasonShutdown)
	s.cancel()
	_ = s.bridge.Shutdown()
	if s.closer != nil {
		if cerr := s.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	log.Info("Server stopped")
	return err
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func accessMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		log.Infof("%s %s => %d (%s)", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
