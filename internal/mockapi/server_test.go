package mockapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/jrsteele09/diet-sync/internal/mockapi"
	"github.com/stretchr/testify/require"
)

func setupTestFixture(t *testing.T) (*mockapi.Server, *httptest.Server) {
	t.Helper()
	api := mockapi.New()
	_, err := api.AddUser("a@x.com", "pw", "Ada", "client")
	require.NoError(t, err)
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return api, srv
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func login(t *testing.T, base string) mockapi.TokenPair {
	t.Helper()
	resp := post(t, base+"/api/auth/login", map[string]string{"email": "a@x.com", "password": "pw"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pair mockapi.TokenPair
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pair))
	return pair
}

func TestLogin(t *testing.T) {
	_, srv := setupTestFixture(t)

	t.Run("valid credentials", func(t *testing.T) {
		pair := login(t, srv.URL)
		require.NotEmpty(t, pair.AccessToken)
		require.NotEmpty(t, pair.RefreshToken)
	})

	t.Run("wrong password", func(t *testing.T) {
		resp := post(t, srv.URL+"/api/auth/login", map[string]string{"email": "a@x.com", "password": "nope"})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestRefresh(t *testing.T) {
	api, srv := setupTestFixture(t)
	pair := login(t, srv.URL)

	resp := post(t, srv.URL+"/api/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	t.Run("access token is not a refresh token", func(t *testing.T) {
		resp := post(t, srv.URL+"/api/auth/refresh", map[string]string{"refresh_token": pair.AccessToken})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("revoked", func(t *testing.T) {
		api.RevokeRefreshTokens()
		resp := post(t, srv.URL+"/api/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	require.EqualValues(t, 3, api.RefreshCalls())
}

func TestRequireAuth(t *testing.T) {
	api, srv := setupTestFixture(t)
	pair := login(t, srv.URL)

	get := func(token string) int {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/users/me", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	require.Equal(t, http.StatusOK, get(pair.AccessToken))
	require.Equal(t, http.StatusUnauthorized, get(pair.RefreshToken))

	api.ExpireAccessTokens()
	require.Equal(t, http.StatusUnauthorized, get(pair.AccessToken))
}

func TestSocketHandshake(t *testing.T) {
	api, srv := setupTestFixture(t)
	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/messages/ws/"

	t.Run("bad token refused before upgrade", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsBase+"garbage", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("frames echo to sender", func(t *testing.T) {
		pair := login(t, srv.URL)
		conn, _, err := websocket.DefaultDialer.Dial(wsBase+pair.AccessToken, nil)
		require.NoError(t, err)
		defer conn.Close()

		me := api.SocketTokens()
		require.Equal(t, pair.AccessToken, me[len(me)-1])

		var self struct {
			ID string `json:"id"`
		}
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/users/me", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&self))
		resp.Body.Close()

		require.NoError(t, conn.WriteJSON(map[string]string{"receiver_id": self.ID, "content": "hi"}))
		var got mockapi.Message
		require.NoError(t, conn.ReadJSON(&got))
		require.Equal(t, "hi", *got.Content)
	})
}
