package gearapi

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ClientMessageType is the "type" discriminant of browser requests.
type ClientMessageType string

const (
	ClientIdentify  ClientMessageType = "Identify"
	ClientGuildList ClientMessageType = "GuildList"
)

// ServerMessageType is the "type" discriminant of replies to the browser.
type ServerMessageType string

const (
	ServerWelcome   ServerMessageType = "Welcome"
	ServerGuildList ServerMessageType = "GuildList"
)

var (
	errNotJSONObject  = errors.New("message is not a json object")
	errMissingType    = errors.New("message has no type")
	errMissingToken   = errors.New("identify message has no token")
	errUnknownMessage = errors.New("unknown message type")
)

// ClientMessage is a decoded browser request.
type ClientMessage struct {
	Type  ClientMessageType
	Token string
}

// ParseClientMessage decodes one socket frame. Anything outside the grammar,
// including unknown types, is rejected.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	if !gjson.ValidBytes(data) {
		return nil, errNotJSONObject
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, errNotJSONObject
	}

	typ := root.Get("type")
	if typ.Type != gjson.String {
		return nil, errMissingType
	}

	switch ClientMessageType(typ.Str) {
	case ClientIdentify:
		token := root.Get("token")
		if token.Type != gjson.String {
			return nil, errMissingToken
		}
		return &ClientMessage{Type: ClientIdentify, Token: token.Str}, nil
	case ClientGuildList:
		return &ClientMessage{Type: ClientGuildList}, nil
	}
	return nil, fmt.Errorf("%w: %q", errUnknownMessage, typ.Str)
}

// ServerMessage is a reply to the browser.
type ServerMessage struct {
	Type ServerMessageType
	// Set for GuildList only.
	Guilds *UserGuildList
}

func WelcomeMessage() *ServerMessage {
	return &ServerMessage{Type: ServerWelcome}
}

func GuildListMessage(list *UserGuildList) *ServerMessage {
	return &ServerMessage{Type: ServerGuildList, Guilds: list}
}

func (m *ServerMessage) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case ServerWelcome:
		return json.Marshal(struct {
			Type ServerMessageType `json:"type"`
		}{m.Type})
	case ServerGuildList:
		list := m.Guilds
		if list == nil {
			list = &UserGuildList{}
		}
		return json.Marshal(struct {
			Type ServerMessageType `json:"type"`
			*UserGuildList
		}{m.Type, list.normalized()})
	}
	return nil, fmt.Errorf("unknown server message type %q", m.Type)
}

type UserGuildList struct {
	GearbotServers   []MinimalGuild `json:"gearbot_servers"`
	AvailableServers []MinimalGuild `json:"available_servers"`
}

func (l *UserGuildList) normalized() *UserGuildList {
	out := *l
	if out.GearbotServers == nil {
		out.GearbotServers = []MinimalGuild{}
	}
	if out.AvailableServers == nil {
		out.AvailableServers = []MinimalGuild{}
	}
	return &out
}

// MinimalGuild is the guild shape sent to the browser.
type MinimalGuild struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Icon        *string `json:"icon,omitempty"`
	Owned       bool    `json:"owned"`
	Permissions uint64  `json:"permissions"`
}
