package gearapi

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	sessionCookieName   = "token"
	sessionTokenBytes   = 16
	guildPrefetchBudget = 30 * time.Second
)

type handler struct {
	ctx        context.Context
	peer       PeerClient
	cache      Cache
	discord    *DiscordClient
	dispatcher Dispatcher
	wsFactory  WSConnFactory
	sessions   *SessionManager
	domain     string
	secure     bool
}

// /hello
func (h *handler) hello(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("Hello, World"))
}

// /team_info
func (h *handler) teamInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.peer.TeamInfo(r.Context())
	if err != nil {
		log.Errorw("Could not fetch team info", "error", err)
		writeRequestError(w, serverError(err))
		return
	}
	members := info.Members
	if members == nil {
		members = []TeamMember{}
	}
	writeJSON(w, http.StatusOK, members)
}

// /ws
func (h *handler) socket(w http.ResponseWriter, r *http.Request) {
	if rerr := checkUpgradeRequest(r); rerr != nil {
		writeRequestError(w, rerr)
		return
	}
	userID, authenticated, rerr := h.cookieUser(r)
	if rerr != nil {
		log.Errorw("Could not check session cookie", "error", rerr)
		writeRequestError(w, rerr)
		return
	}

	conn, err := h.wsFactory(w, r)
	if err != nil {
		// the upgrader already answered the request
		log.Warnw("Could not create websocket connection", "error", err)
		return
	}
	log.Debugw("Websocket upgraded", "accept", acceptKey(r.Header.Get("Sec-WebSocket-Key")), "preAuthenticated", authenticated)

	var s *Session
	if authenticated {
		s = NewAuthenticatedSession(h.ctx, conn, h.dispatcher, userID)
	} else {
		s = NewSession(h.ctx, conn, h.dispatcher)
	}
	if err := h.sessions.Connect(s); err != nil {
		s.Close(websocket.CloseInternalServerErr, closeReasonTransport)
		return
	}
	defer func() { _ = h.sessions.Disconnect(s.ID) }()
	s.Run()
}

// /discord/login
func (h *handler) discordLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.discord.AuthorizeURL(), http.StatusTemporaryRedirect)
}

// /discord/auth?code=
func (h *handler) discordAuth(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeRequestError(w, errNoAccessCode)
		return
	}

	ctx := r.Context()
	token, err := h.discord.Exchange(ctx, code)
	if err != nil {
		log.Errorw("Could not exchange oauth code", "error", err)
		writeRequestError(w, serverError(err))
		return
	}
	userID, err := h.discord.UserID(ctx, token)
	if err != nil {
		log.Errorw("Could not resolve discord user", "error", err)
		writeRequestError(w, serverError(err))
		return
	}

	sessionToken, err := newSessionToken()
	if err != nil {
		writeRequestError(w, serverError(err))
		return
	}
	if err := h.cache.Set(sessionTokenKey(sessionToken), userID, sessionTokenTTL); err != nil {
		log.Errorw("Could not store session token", "userId", userID, "error", err)
		writeRequestError(w, serverError(err))
		return
	}
	if err := h.cache.Set(accessTokenKey(userID), token.AccessToken, accessTokenTTL); err != nil {
		log.Errorw("Could not store access token", "userId", userID, "error", err)
		writeRequestError(w, serverError(err))
		return
	}
	go h.prefetchGuilds(userID, token.AccessToken)

	log.Infow("User logged in", "userId", userID)
	http.SetCookie(w, h.sessionCookie(sessionToken))
	http.Redirect(w, r, h.userPageURL(), http.StatusTemporaryRedirect)
}

// /discord/user
func (h *handler) discordUser(w http.ResponseWriter, r *http.Request) {
	userID, authenticated, rerr := h.cookieUser(r)
	if rerr != nil {
		writeRequestError(w, rerr)
		return
	}
	if !authenticated {
		writeRequestError(w, errUnauthorized)
		return
	}

	info, err := h.peer.UserInfo(r.Context(), userID)
	if err != nil {
		log.Errorw("Could not fetch user info", "userId", userID, "error", err)
		writeRequestError(w, serverError(err))
		return
	}
	if info == nil {
		writeRequestError(w, errUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handler) notFound(w http.ResponseWriter, r *http.Request) {
	writeRequestError(w, errNotFound)
}

// cookieUser resolves the session cookie, if any, to a user id.
func (h *handler) cookieUser(r *http.Request) (uint64, bool, *RequestError) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return 0, false, nil
	}
	var userID uint64
	found, err := h.cache.Get(sessionTokenKey(cookie.Value), &userID)
	if err != nil {
		return 0, false, serverError(err)
	}
	return userID, found, nil
}

func (h *handler) prefetchGuilds(userID uint64, accessToken string) {
	ctx, cancel := context.WithTimeout(h.ctx, guildPrefetchBudget)
	defer cancel()
	if _, err := h.discord.UserGuilds(ctx, userID, accessToken); err != nil {
		log.Warnw("Could not prefetch guild list", "userId", userID, "error", err)
	}
}

func (h *handler) sessionCookie(token string) *http.Cookie {
	cookie := &http.Cookie{
		Name:   sessionCookieName,
		Value:  token,
		Path:   "/",
		MaxAge: int(sessionTokenTTL / time.Second),
	}
	if h.secure {
		cookie.Secure = true
		cookie.SameSite = http.SameSiteStrictMode
	}
	return cookie
}

func (h *handler) userPageURL() string {
	proto := "http"
	if h.secure {
		proto = "https"
	}
	return proto + "://" + h.domain + "/api/discord/user"
}

func newSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		writeRequestError(w, serverError(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(data)
}

func writeRequestError(w http.ResponseWriter, rerr *RequestError) {
	writeErrorResponse(w, rerr.Status, rerr.Message)
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, errorMessage string) {
	w.WriteHeader(statusCode)
	_, _ = w.Write([]byte(errorMessage))
}
