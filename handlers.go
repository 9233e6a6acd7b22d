package gearapi

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// PeerClient is the subset of the Bridge the handlers call.
type PeerClient interface {
	TeamInfo(ctx context.Context) (*TeamInfo, error)
	UserInfo(ctx context.Context, userID uint64) (*UserInfo, error)
	MutualGuilds(ctx context.Context, userID uint64) ([]MinimalGuildInfo, error)
}

// GuildFetcher returns every guild the user is a member of, according to the provider.
type GuildFetcher interface {
	UserGuilds(ctx context.Context, userID uint64, accessToken string) ([]UserGuild, error)
}

// Dispatcher serves the socket requests of a session.
type Dispatcher interface {
	Identify(ctx context.Context, token string) (uint64, *UserInfo, error)
	GuildList(ctx context.Context, userID uint64) (*UserGuildList, error)
}

type Handlers struct {
	peer   PeerClient
	cache  Cache
	guilds GuildFetcher
}

func NewHandlers(peer PeerClient, cache Cache, guilds GuildFetcher) *Handlers {
	return &Handlers{peer: peer, cache: cache, guilds: guilds}
}

// Identify resolves a session token minted by the login flow. It never creates sessions.
func (h *Handlers) Identify(ctx context.Context, token string) (uint64, *UserInfo, error) {
	var userID uint64
	found, err := h.cache.Get(sessionTokenKey(token), &userID)
	if err != nil {
		return 0, nil, newSessionError(SessionCache, err)
	}
	if !found {
		return 0, nil, newSessionError(SessionBadAuthorization, nil)
	}

	info, err := h.peer.UserInfo(ctx, userID)
	if err != nil {
		return 0, nil, newSessionError(SessionCommunication, err)
	}
	if info == nil {
		return 0, nil, newSessionError(SessionBadAuthorization, nil)
	}
	return userID, info, nil
}

// GuildList splits the user's guilds into the ones the bot is in and the rest.
func (h *Handlers) GuildList(ctx context.Context, userID uint64) (*UserGuildList, error) {
	var token string
	found, err := h.cache.Get(accessTokenKey(userID), &token)
	if err != nil {
		return nil, newSessionError(SessionCache, err)
	}
	if !found {
		// TODO: refresh the oauth token instead of dropping the session once refresh tokens are stored
		return nil, newSessionError(SessionNoValidDiscordAuthToken, nil)
	}

	var (
		mutual []MinimalGuildInfo
		all    []UserGuild
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		mutual, err = h.peer.MutualGuilds(gctx, userID)
		if err != nil {
			return newSessionError(SessionCommunication, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		all, err = h.guilds.UserGuilds(gctx, userID, token)
		if err != nil {
			return newSessionError(SessionUpstream, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return partitionGuilds(mutual, all), nil
}

// partitionGuilds never places a guild id in both lists.
func partitionGuilds(mutual []MinimalGuildInfo, all []UserGuild) *UserGuildList {
	list := &UserGuildList{
		GearbotServers:   make([]MinimalGuild, 0, len(mutual)),
		AvailableServers: make([]MinimalGuild, 0, len(all)),
	}

	managed := make(map[Snowflake]bool, len(mutual))
	for _, guild := range mutual {
		if managed[guild.ID] {
			continue
		}
		managed[guild.ID] = true
		list.GearbotServers = append(list.GearbotServers, MinimalGuild{
			ID:          guild.ID.String(),
			Name:        guild.Name,
			Icon:        guild.Icon,
			Owned:       guild.Owned,
			Permissions: guild.Permissions,
		})
	}

	seen := make(map[Snowflake]bool, len(all))
	for _, guild := range all {
		if managed[guild.ID] || seen[guild.ID] {
			continue
		}
		seen[guild.ID] = true
		list.AvailableServers = append(list.AvailableServers, MinimalGuild{
			ID:          guild.ID.String(),
			Name:        guild.Name,
			Icon:        guild.Icon,
			Owned:       guild.Owner,
			Permissions: uint64(guild.Permissions),
		})
	}
	return list
}
