package vocu

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rolePayload(id, generationID, name string) map[string]any {
	role := map[string]any{"id": id, "name": name, "status": "normal", "extra": "ignored"}
	if generationID != "" {
		role["idForGenerate"] = generationID
	} else {
		role["idForGenerate"] = nil
	}

	return role
}

func TestListRoles_ReplacesCache(t *testing.T) {
	t.Parallel()

	fake := newFakeService(t)
	calls := 0
	fake.handle(http.MethodGet, apiVoices, func(r *http.Request) any {
		calls++
		if calls == 1 {
			return success([]any{rolePayload("a1", "", "Alice"), rolePayload("b1", "g-b1", "Bob")})
		}

		return success([]any{rolePayload("c1", "", "Carol")})
	})

	client := newTestClient(t, fake, nil)

	roles, err := client.ListRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, Role{ID: "a1", Name: "Alice", Status: "normal"}, roles[0])
	assert.Equal(t, "g-b1", roles[1].GenerationID)

	roles, err = client.ListRoles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Role{{ID: "c1", Name: "Carol", Status: "normal"}}, roles)
	assert.Equal(t, roles, client.Roles())

	requests := fake.calls(http.MethodGet, apiVoices)
	require.NotEmpty(t, requests)
	assert.Equal(t, "showMarket=true", requests[0].Query)
	assert.Equal(t, "Bearer "+testAPIKey, requests[0].Authorization)
}

func TestListRoles_RemoteError(t *testing.T) {
	t.Parallel()

	fake := newFakeService(t)
	fake.reply(http.MethodGet, apiVoices, failure(401, "invalid token"))

	client := newTestClient(t, fake, nil)

	_, err := client.ListRoles(context.Background())
	require.Error(t, err)

	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, 401, remoteErr.Status)
	assert.Equal(t, "invalid token", remoteErr.Message)
}

func TestResolveRoleID(t *testing.T) {
	t.Parallel()

	fake := newFakeService(t)
	fake.reply(http.MethodGet, apiVoices, success([]any{
		rolePayload("a1", "", "Alice"),
		rolePayload("b1", "g-b1", "Bob"),
		rolePayload("b2", "g-b2", "Bob"),
	}))

	client := newTestClient(t, fake, nil)
	ctx := context.Background()

	id, err := client.ResolveRoleID(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "a1", id)

	id, err = client.ResolveRoleID(ctx, "Bob")
	require.NoError(t, err)
	assert.Equal(t, "g-b1", id, "first match wins and the generation id is preferred")

	_, err = client.ResolveRoleID(ctx, "Mallory")
	require.ErrorIs(t, err, ErrRoleNotFound)

	assert.Len(t, fake.calls(http.MethodGet, apiVoices), 1, "a populated cache is not refreshed")
}

func TestResolveRoleID_TrailingSlashBaseURL(t *testing.T) {
	t.Parallel()

	fake := newFakeService(t)
	fake.reply(http.MethodGet, apiVoices, success([]any{rolePayload("a1", "", "Alice")}))

	client := newTestClient(t, fake, func(opts *Options) {
		opts.BaseURL = fake.server.URL + "/"
	})

	id, err := client.ResolveRoleID(context.Background(), "Alice")
	require.NoError(t, err)
	assert.Equal(t, "a1", id)
	assert.Len(t, fake.calls(http.MethodGet, apiVoices), 1)
}

func TestDeleteRole_UsesGenerationIDAndRefreshes(t *testing.T) {
	t.Parallel()

	fake := newFakeService(t)
	fake.reply(http.MethodGet, apiVoices, success([]any{
		rolePayload("a1", "", "Alice"),
		rolePayload("b1", "g-b1", "Bob"),
	}))
	fake.reply(http.MethodDelete, apiVoiceByID+"g-b1", map[string]any{"status": 200, "message": "deleted"})

	client := newTestClient(t, fake, nil)
	ctx := context.Background()

	_, err := client.ListRoles(ctx)
	require.NoError(t, err)

	message, err := client.DeleteRole(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "deleted", message)

	assert.Len(t, fake.calls(http.MethodDelete, apiVoiceByID+"g-b1"), 1)
	assert.Empty(t, fake.calls(http.MethodDelete, apiVoiceByID+"b1"))
	assert.Len(t, fake.calls(http.MethodGet, apiVoices), 2)
}

func TestDeleteRole_IndexOutOfRange(t *testing.T) {
	t.Parallel()

	fake := newFakeService(t)
	fake.reply(http.MethodGet, apiVoices, success([]any{
		rolePayload("a1", "", "Alice"),
		rolePayload("b1", "", "Bob"),
	}))

	client := newTestClient(t, fake, nil)
	ctx := context.Background()

	_, err := client.ListRoles(ctx)
	require.NoError(t, err)

	for _, index := range []int{5, 2, -1} {
		_, err = client.DeleteRole(ctx, index)
		require.ErrorIs(t, err, ErrRoleIndexOutOfRange)
	}

	assert.Empty(t, fake.calls(http.MethodDelete, apiVoiceByID+"a1"))
}

func TestDeleteRole_RemoteError(t *testing.T) {
	t.Parallel()

	fake := newFakeService(t)
	fake.reply(http.MethodGet, apiVoices, success([]any{rolePayload("a1", "", "Alice")}))
	fake.reply(http.MethodDelete, apiVoiceByID+"a1", failure(403, "forbidden"))

	client := newTestClient(t, fake, nil)
	ctx := context.Background()

	_, err := client.ListRoles(ctx)
	require.NoError(t, err)

	_, err = client.DeleteRole(ctx, 0)
	require.Error(t, err)
	assert.True(t, IsRemoteError(err))
}

func TestAddRole(t *testing.T) {
	t.Parallel()

	fake := newFakeService(t)
	fake.reply(http.MethodGet, apiVoices, success([]any{rolePayload("a1", "", "Alice")}))
	fake.reply(http.MethodPost, apiVoiceByShare, map[string]any{
		"status": 200, "message": "added", "voiceId": "v-42",
	})

	client := newTestClient(t, fake, nil)

	message, err := client.AddRole(context.Background(), "share-token")
	require.NoError(t, err)
	assert.Equal(t, "added, voiceId: v-42", message)

	posts := fake.calls(http.MethodPost, apiVoiceByShare)
	require.Len(t, posts, 1)
	assert.Equal(t, "share-token", posts[0].Body["shareId"])
	assert.Len(t, fake.calls(http.MethodGet, apiVoices), 1)
	assert.Len(t, client.Roles(), 1)
}

func TestFormatRoles(t *testing.T) {
	t.Parallel()

	roles := []Role{{ID: "a1", Name: "Alice"}, {ID: "b1", Name: "Bob"}}

	assert.Equal(t, "1. Alice\n2. Bob", FormatRoles(roles))
	assert.Empty(t, FormatRoles(nil))
}
