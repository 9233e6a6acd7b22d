package gearapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const defaultDiscordAPIBase = "https://discord.com/api/v8"

// UserGuild is a guild as listed by the provider for the current user.
type UserGuild struct {
	ID          Snowflake   `json:"id"`
	Name        string      `json:"name"`
	Icon        *string     `json:"icon"`
	Owner       bool        `json:"owner"`
	Permissions Permissions `json:"permissions"`
	Features    []string    `json:"features"`
}

// Permissions is a bitmask the provider sends as a string in newer api versions.
type Permissions uint64

func (p Permissions) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(p), 10))
}

func (p *Permissions) UnmarshalJSON(b []byte) error {
	v, err := parseFlexUint(b)
	if err != nil {
		return fmt.Errorf("permissions: %w", err)
	}
	*p = Permissions(v)
	return nil
}

type DiscordUser struct {
	ID            Snowflake `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator"`
	Avatar        *string   `json:"avatar"`
}

// ProviderError is a non 200 answer from the provider api.
type ProviderError struct {
	Op     string
	Status int
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("discord %s failed with status %d", e.Op, e.Status)
}

type DiscordClient struct {
	oauth   *oauth2.Config
	apiBase string
	http    *http.Client
	cache   Cache
}

func NewDiscordClient(cfg DiscordConfig, cache Cache) *DiscordClient {
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = defaultDiscordAPIBase
	}
	return &DiscordClient{
		oauth: &oauth2.Config{
			ClientID:     strconv.FormatUint(cfg.ApplicationID, 10),
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{"identify", "guilds"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth2/authorize",
				TokenURL:  base + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBase: base,
		http:    &http.Client{Timeout: 15 * time.Second},
		cache:   cache,
	}
}

// AuthorizeURL is where the browser is sent to start the login flow.
func (c *DiscordClient) AuthorizeURL() string {
	return c.oauth.AuthCodeURL("", oauth2.SetAuthURLParam("prompt", "none"))
}

func (c *DiscordClient) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return c.oauth.Exchange(c.withHTTPClient(ctx), code)
}

func (c *DiscordClient) CurrentUser(ctx context.Context, accessToken string) (*DiscordUser, error) {
	var user DiscordUser
	if err := c.get(ctx, accessToken, "/users/@me", "current user fetch", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UserID maps an access token to its owner, remembering the answer while the token lives.
func (c *DiscordClient) UserID(ctx context.Context, token *oauth2.Token) (uint64, error) {
	key := providerUserKey(token.AccessToken)
	var userID uint64
	found, err := c.cache.Get(key, &userID)
	if err != nil {
		return 0, err
	}
	if found {
		return userID, nil
	}

	user, err := c.CurrentUser(ctx, token.AccessToken)
	if err != nil {
		return 0, err
	}
	if err := c.cache.Set(key, uint64(user.ID), providerUserTTL(token)); err != nil {
		return 0, err
	}
	return uint64(user.ID), nil
}

// providerUserTTL never returns a non positive ttl, the cache would keep such an entry forever.
func providerUserTTL(token *oauth2.Token) time.Duration {
	if token.Expiry.IsZero() {
		return accessTokenTTL
	}
	if ttl := time.Until(token.Expiry); ttl > 0 {
		return ttl
	}
	return accessTokenTTL
}

// UserGuilds lists the user's guilds, served from the cache for a few minutes.
func (c *DiscordClient) UserGuilds(ctx context.Context, userID uint64, accessToken string) ([]UserGuild, error) {
	key := userGuildsKey(userID)
	var guilds []UserGuild
	found, err := c.cache.Get(key, &guilds)
	if err != nil {
		return nil, err
	}
	if found {
		return guilds, nil
	}

	if err := c.get(ctx, accessToken, "/users/@me/guilds", "user guilds fetch", &guilds); err != nil {
		return nil, err
	}
	if err := c.cache.Set(key, guilds, userGuildsTTL); err != nil {
		log.Warnw("could not cache user guilds", "userId", userID, "error", err)
	}
	return guilds, nil
}

func (c *DiscordClient) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

func (c *DiscordClient) get(ctx context.Context, accessToken, path, op string, v interface{}) error {
	ctx = c.withHTTPClient(ctx)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+path, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Errorw("discord request failed", "op", op, "status", resp.StatusCode)
		return &ProviderError{Op: op, Status: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}
