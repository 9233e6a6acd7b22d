package gearapi

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// RequestOp names the operation the peer is asked to perform.
type RequestOp string

const (
	OpTeamInfo     RequestOp = "TeamInfo"
	OpUserInfo     RequestOp = "UserInfo"
	OpMutualGuilds RequestOp = "MutualGuilds"
)

// ReplyKind is the discriminant of a peer reply payload.
type ReplyKind string

const (
	ReplyBlank           ReplyKind = "Blank"
	ReplyTeamInfo        ReplyKind = "TeamInfo"
	ReplyUserInfo        ReplyKind = "UserInfo"
	ReplyMutualGuildList ReplyKind = "MutualGuildList"
)

// PeerRequest is an operation plus its arguments, before a call id is attached.
type PeerRequest struct {
	Op     RequestOp
	UserID uint64
}

func TeamInfoRequest() PeerRequest {
	return PeerRequest{Op: OpTeamInfo}
}

func UserInfoRequest(userID uint64) PeerRequest {
	return PeerRequest{Op: OpUserInfo, UserID: userID}
}

func MutualGuildsRequest(userID uint64) PeerRequest {
	return PeerRequest{Op: OpMutualGuilds, UserID: userID}
}

// Expects returns the reply variant a well behaved peer answers this request with.
func (r PeerRequest) Expects() ReplyKind {
	switch r.Op {
	case OpTeamInfo:
		return ReplyTeamInfo
	case OpUserInfo:
		return ReplyUserInfo
	case OpMutualGuilds:
		return ReplyMutualGuildList
	}
	return ""
}

// OutboundCall is published on the outbound channel.
type OutboundCall struct {
	ID     uuid.UUID `json:"id"`
	Op     RequestOp `json:"op"`
	UserID uint64    `json:"user_id,omitempty"`
}

func newOutboundCall(id uuid.UUID, req PeerRequest) *OutboundCall {
	return &OutboundCall{ID: id, Op: req.Op, UserID: req.UserID}
}

// Reply is received on the inbound channel. A reply without an id is a push.
type Reply struct {
	ID   uuid.UUID `json:"id"`
	Data ReplyData `json:"data"`
}

// ReplyData is an externally tagged union: either the bare string "Blank" or an
// object with exactly one variant key.
type ReplyData struct {
	Kind         ReplyKind
	TeamInfo     *TeamInfo
	UserInfo     *UserInfo
	MutualGuilds []MinimalGuildInfo
}

func (d *ReplyData) UnmarshalJSON(b []byte) error {
	var unit string
	if err := json.Unmarshal(b, &unit); err == nil {
		if ReplyKind(unit) != ReplyBlank {
			return fmt.Errorf("unknown reply variant %q", unit)
		}
		*d = ReplyData{Kind: ReplyBlank}
		return nil
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(b, &tagged); err != nil {
		return err
	}
	if len(tagged) != 1 {
		return fmt.Errorf("reply data must carry exactly one variant, got %d", len(tagged))
	}

	for name, payload := range tagged {
		out := ReplyData{Kind: ReplyKind(name)}
		switch out.Kind {
		case ReplyBlank:
		case ReplyTeamInfo:
			out.TeamInfo = &TeamInfo{}
			if err := json.Unmarshal(payload, out.TeamInfo); err != nil {
				return err
			}
		case ReplyUserInfo:
			if err := json.Unmarshal(payload, &out.UserInfo); err != nil {
				return err
			}
		case ReplyMutualGuildList:
			if err := json.Unmarshal(payload, &out.MutualGuilds); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown reply variant %q", name)
		}
		*d = out
	}
	return nil
}

func (d ReplyData) MarshalJSON() ([]byte, error) {
	switch d.Kind {
	case ReplyBlank:
		return json.Marshal(string(ReplyBlank))
	case ReplyTeamInfo:
		return json.Marshal(map[string]interface{}{string(d.Kind): d.TeamInfo})
	case ReplyUserInfo:
		return json.Marshal(map[string]interface{}{string(d.Kind): d.UserInfo})
	case ReplyMutualGuildList:
		guilds := d.MutualGuilds
		if guilds == nil {
			guilds = []MinimalGuildInfo{}
		}
		return json.Marshal(map[string]interface{}{string(d.Kind): guilds})
	}
	return nil, fmt.Errorf("unknown reply variant %q", d.Kind)
}

type TeamInfo struct {
	Members []TeamMember `json:"members"`
}

type TeamMember struct {
	Username      string      `json:"username"`
	Discriminator string      `json:"discriminator"`
	ID            string      `json:"id"`
	Avatar        string      `json:"avatar"`
	Socials       TeamSocials `json:"socials"`
	Team          string      `json:"team"`
}

type TeamSocials struct {
	Twitter string `json:"twitter,omitempty"`
	Github  string `json:"github,omitempty"`
	Website string `json:"website,omitempty"`
}

type UserInfo struct {
	Name           string `json:"name"`
	Discriminator  string `json:"discriminator"`
	AvatarURL      string `json:"avatar_url"`
	BotAdminStatus bool   `json:"bot_admin_status"`
}

// MinimalGuildInfo is a guild the peer shares with a user.
type MinimalGuildInfo struct {
	ID          Snowflake `json:"id"`
	Name        string    `json:"name"`
	Icon        *string   `json:"icon"`
	Owned       bool      `json:"owned"`
	Permissions uint64    `json:"permissions"`
}

// Snowflake is a 64 bit id. It is written as a string since javascript clients
// can't hold it in a number, and read from either form.
type Snowflake uint64

func (s Snowflake) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

func (s Snowflake) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Snowflake) UnmarshalJSON(b []byte) error {
	v, err := parseFlexUint(b)
	if err != nil {
		return fmt.Errorf("snowflake: %w", err)
	}
	*s = Snowflake(v)
	return nil
}

func parseFlexUint(b []byte) (uint64, error) {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		var n uint64
		if err := json.Unmarshal(b, &n); err != nil {
			return 0, err
		}
		return n, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}
