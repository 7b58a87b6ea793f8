package vocu

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Role endpoints.
const (
	apiVoices       = "/api/tts/voice"
	apiVoiceByID    = "/api/tts/voice/"
	apiVoiceByShare = "/api/voice/byShareId"
)

// Role is a voice profile available to the account.
type Role struct {
	ID string `json:"id"`
	// GenerationID is the id the service expects for generation and deletion.
	// Empty when the catalog id is usable directly.
	GenerationID string `json:"idForGenerate"`
	Name         string `json:"name"`
	Status       string `json:"status"`
}

// GenerateID returns the id to use for generation and deletion calls.
func (r Role) GenerateID() string {
	if r.GenerationID != "" {
		return r.GenerationID
	}

	return r.ID
}

func (r Role) String() string {
	return r.Name
}

// FormatRoles renders roles as a numbered list, one per line, starting at 1.
func FormatRoles(roles []Role) string {
	var builder strings.Builder

	for i, role := range roles {
		if i > 0 {
			builder.WriteByte('\n')
		}

		fmt.Fprintf(&builder, "%d. %s", i+1, role)
	}

	return builder.String()
}

// ListRoles fetches every role, market voices included, and replaces the
// cached list with the result.
func (c *Client) ListRoles(ctx context.Context) ([]Role, error) {
	query := url.Values{"showMarket": []string{"true"}}

	env, err := c.call(ctx, "list_roles", http.MethodGet, apiVoices, query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}

	var roles []Role

	err = decodeData(env, "role list", &roles)
	if err != nil {
		return nil, err
	}

	c.rolesMu.Lock()
	c.roles = roles
	c.rolesMu.Unlock()

	return c.Roles(), nil
}

// Roles returns a copy of the last fetched role list.
func (c *Client) Roles() []Role {
	c.rolesMu.RLock()
	defer c.rolesMu.RUnlock()

	roles := make([]Role, len(c.roles))
	copy(roles, c.roles)

	return roles
}

// ResolveRoleID returns the generation id of the first role named name,
// fetching the role list first if nothing is cached.
func (c *Client) ResolveRoleID(ctx context.Context, name string) (string, error) {
	roles := c.Roles()
	if len(roles) == 0 {
		var err error

		roles, err = c.ListRoles(ctx)
		if err != nil {
			return "", err
		}
	}

	for _, role := range roles {
		if role.Name == name {
			return role.GenerateID(), nil
		}
	}

	return "", fmt.Errorf(errFmtRoleNotFound, ErrRoleNotFound, name)
}

// DeleteRole deletes the role at index in the last fetched list and refreshes
// the list. Any index held across this call is stale afterwards.
func (c *Client) DeleteRole(ctx context.Context, index int) (string, error) {
	roles := c.Roles()
	if index < 0 || index >= len(roles) {
		return "", fmt.Errorf(errFmtIndexOutOfRange, ErrRoleIndexOutOfRange, index, len(roles))
	}

	role := roles[index]

	env, err := c.call(ctx, "delete_role", http.MethodDelete,
		apiVoiceByID+url.PathEscape(role.GenerateID()), nil, nil)
	if err != nil {
		return "", fmt.Errorf("failed to delete role %q: %w", role.Name, err)
	}

	_, err = c.ListRoles(ctx)
	if err != nil {
		return "", err
	}

	c.logger.Info("Deleted role %s (%s)", role.Name, role.GenerateID())

	return env.Message, nil
}

type addRoleRequest struct {
	ShareID string `json:"shareId"`
}

type addRoleData struct {
	VoiceID string `json:"voiceId"`
}

// AddRole registers a shared voice by its share token and refreshes the list.
func (c *Client) AddRole(ctx context.Context, shareID string) (string, error) {
	env, err := c.call(ctx, "add_role", http.MethodPost, apiVoiceByShare, nil,
		addRoleRequest{ShareID: shareID})
	if err != nil {
		return "", fmt.Errorf("failed to add role by share id %q: %w", shareID, err)
	}

	voiceID := env.VoiceID
	if voiceID == "" {
		var data addRoleData
		if decodeData(env, "added role", &data) == nil {
			voiceID = data.VoiceID
		}
	}

	_, err = c.ListRoles(ctx)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s, voiceId: %s", env.Message, voiceID), nil
}
