package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lerndmina/Heimdall-sub000/internal/permissions"
)

const (
	defaultAPIURL      = "https://discord.com/api/v10"
	defaultHTTPTimeout = 10 * time.Second

	// permissionAdministrator is the platform's administrator permission bit.
	permissionAdministrator = 1 << 3
)

// ErrUnauthorized is returned when the platform rejects a credential.
var ErrUnauthorized = errors.New("platform: unauthorized")

// Client is a minimal REST client for the member and identity endpoints.
type Client struct {
	baseURL  string
	botToken string
	client   *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API root (useful for testing).
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// NewClient creates a REST client authenticated with botToken.
func NewClient(botToken string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  defaultAPIURL,
		botToken: botToken,
		client:   &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiRole struct {
	ID          string `json:"id"`
	Position    int    `json:"position"`
	Permissions string `json:"permissions"`
}

type apiGuild struct {
	ID      string    `json:"id"`
	OwnerID string    `json:"owner_id"`
	Roles   []apiRole `json:"roles"`
}

type apiMember struct {
	User  apiUser  `json:"user"`
	Roles []string `json:"roles"`
}

type apiUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
}

// FetchMember loads the guild's role list and the member's role ids and
// combines them into a permissions.Member. The guild's everyone role is
// always included.
func (c *Client) FetchMember(ctx context.Context, guildID, userID string) (permissions.Member, error) {
	var guild apiGuild
	if err := c.get(ctx, "Bot "+c.botToken, "/guilds/"+guildID, &guild); err != nil {
		return permissions.Member{}, fmt.Errorf("platform: fetch guild %s: %w", guildID, err)
	}

	var member apiMember
	if err := c.get(ctx, "Bot "+c.botToken, "/guilds/"+guildID+"/members/"+userID, &member); err != nil {
		if errors.Is(err, errNotFound) {
			return permissions.Member{}, ErrNotMember
		}
		return permissions.Member{}, fmt.Errorf("platform: fetch member %s in %s: %w", userID, guildID, err)
	}

	return buildMember(guild, userID, member.Roles), nil
}

func buildMember(guild apiGuild, userID string, roleIDs []string) permissions.Member {
	held := make(map[string]struct{}, len(roleIDs)+1)
	for _, id := range roleIDs {
		held[id] = struct{}{}
	}
	held[guild.ID] = struct{}{}

	out := permissions.Member{
		GuildID: guild.ID,
		UserID:  userID,
		Owner:   guild.OwnerID == userID,
	}
	for _, role := range guild.Roles {
		if _, ok := held[role.ID]; !ok {
			continue
		}
		out.Roles = append(out.Roles, permissions.Role{ID: role.ID, Position: role.Position})
		bits, err := strconv.ParseUint(role.Permissions, 10, 64)
		if err == nil && bits&permissionAdministrator != 0 {
			out.Administrator = true
		}
	}
	return out
}

// ResolveIdentity calls the current-user endpoint with the bearer token.
func (c *Client) ResolveIdentity(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrUnauthorized
	}
	var user apiUser
	if err := c.get(ctx, "Bearer "+token, "/users/@me", &user); err != nil {
		return Identity{}, fmt.Errorf("platform: resolve identity: %w", err)
	}
	if user.ID == "" {
		return Identity{}, ErrUnauthorized
	}
	name := user.GlobalName
	if name == "" {
		name = user.Username
	}
	return Identity{UserID: user.ID, Username: name}, nil
}

var errNotFound = errors.New("not found")

func (c *Client) get(ctx context.Context, auth, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
