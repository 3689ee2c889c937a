package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, "jwtAccessToken", "test-token", 2*time.Second, zap.NewNop())
	return client, srv
}

func TestMe_Success(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user/me", r.URL.Path)
		cookie, err := r.Cookie("jwtAccessToken")
		require.NoError(t, err)
		assert.Equal(t, "test-token", cookie.Value)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"managerId":"M1","userId":"U1","userName":"Kim","userRole":"ROLE_USER_MANAGER"}`))
	}))

	me, err := client.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "M1", me.ManagerID)
	assert.Equal(t, "U1", me.UserID)
	assert.Equal(t, "Kim", me.UserName)
	assert.Equal(t, "ROLE_USER_MANAGER", me.UserRole)
}

func TestMe_NullManagerID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"managerId":null,"userId":"U1"}`))
	}))

	me, err := client.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", me.ManagerID)
}

func TestPatientList_SessionExpired(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := client.PatientList(context.Background(), "M1")
		assert.ErrorIs(t, err, ErrSessionExpired)
	}
}

func TestPatientList_Success(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/patient/list", r.URL.Path)
		assert.Equal(t, "M1", r.URL.Query().Get("managerId"))
		w.Write([]byte(`[{"id":"P1","name":"Kim"},{"id":"P2","name":"Lee"}]`))
	}))

	patients, err := client.PatientList(context.Background(), "M1")
	require.NoError(t, err)
	require.Len(t, patients, 2)
	assert.Equal(t, "P1", patients[0].ID)
	assert.Equal(t, "Kim", patients[0].Name)
}

func TestLastPhrase_NullPhrase(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/motions/history/last", r.URL.Path)
		assert.Equal(t, "P1", r.URL.Query().Get("patientId"))
		w.Write([]byte(`{"phrase":null}`))
	}))

	phrase, err := client.LastPhrase(context.Background(), "P1")
	require.NoError(t, err)
	assert.Nil(t, phrase)
}

func TestLastPhrase_Success(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"phrase":"살려주세요 도와주세요"}`))
	}))

	phrase, err := client.LastPhrase(context.Background(), "P1")
	require.NoError(t, err)
	require.NotNil(t, phrase)
	assert.Equal(t, "살려주세요 도와주세요", *phrase)
}

func TestConfirmAlert(t *testing.T) {
	var gotPath, gotMethod string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))

	err := client.ConfirmAlert(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/motions/alerts/confirm/A1", gotPath)
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:13000/api", "ws://localhost:13000/api/ws/alerts"},
		{"https://cuecode.kr/api", "wss://cuecode.kr/api/ws/alerts"},
		{"https://cuecode.kr/api/", "wss://cuecode.kr/api/ws/alerts"},
	}
	for _, tt := range tests {
		client := NewClient(tt.base, "jwtAccessToken", "", 0, zap.NewNop())
		got, err := client.WebSocketURL()
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestWebSocketURL_UnsupportedScheme(t *testing.T) {
	client := NewClient("ftp://example.com", "jwtAccessToken", "", 0, zap.NewNop())
	_, err := client.WebSocketURL()
	assert.Error(t, err)
}

func TestAuthHeader(t *testing.T) {
	client := NewClient("http://localhost", "jwtAccessToken", "abc", 0, zap.NewNop())
	header := client.AuthHeader()
	assert.Equal(t, "jwtAccessToken=abc", header.Get("Cookie"))

	empty := NewClient("http://localhost", "jwtAccessToken", "", 0, zap.NewNop())
	assert.Empty(t, empty.AuthHeader().Get("Cookie"))
}
