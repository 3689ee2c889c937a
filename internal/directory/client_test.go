package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kkdo11/CueCode/internal/apiclient"
	"github.com/kkdo11/CueCode/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDirectory(t *testing.T, handler http.Handler) (*Client, *OwnedPatientSet) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	api := apiclient.NewClient(srv.URL, "jwtAccessToken", "token", 2*time.Second, zap.NewNop())
	set := NewOwnedPatientSet()
	return NewClient(api, set, zap.NewNop()), set
}

func TestFetchOwnedPatients_Success(t *testing.T) {
	client, set := newTestDirectory(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/me":
			w.Write([]byte(`{"managerId":"M1","userId":"U1","userName":"Manager","userRole":"ROLE_USER_MANAGER"}`))
		case "/patient/list":
			assert.Equal(t, "M1", r.URL.Query().Get("managerId"))
			w.Write([]byte(`[{"id":"P1","name":"Kim"},{"id":"P2","name":"Lee"}]`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	patients, err := client.FetchOwnedPatients(context.Background())
	require.NoError(t, err)
	require.Len(t, patients, 2)

	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Contains("P1"))
	name, ok := set.NameOf("P2")
	assert.True(t, ok)
	assert.Equal(t, "Lee", name)
}

func TestFetchOwnedPatients_NoManagerIdentity(t *testing.T) {
	client, set := newTestDirectory(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"managerId":null,"userId":"U1"}`))
	}))

	_, err := client.FetchOwnedPatients(context.Background())
	assert.ErrorIs(t, err, ErrNoManagerIdentity)
	assert.Equal(t, 0, set.Len())
}

func TestFetchOwnedPatients_IdentityLookupNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // 接口不可达

	api := apiclient.NewClient(srv.URL, "jwtAccessToken", "token", time.Second, zap.NewNop())
	client := NewClient(api, NewOwnedPatientSet(), zap.NewNop())

	_, err := client.FetchOwnedPatients(context.Background())
	assert.ErrorIs(t, err, ErrNoManagerIdentity)
}

func TestFetchOwnedPatients_ListSessionExpired(t *testing.T) {
	client, _ := newTestDirectory(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/me":
			w.Write([]byte(`{"managerId":"M1","userId":"U1"}`))
		case "/patient/list":
			w.WriteHeader(http.StatusForbidden)
		}
	}))

	_, err := client.FetchOwnedPatients(context.Background())
	assert.ErrorIs(t, err, apiclient.ErrSessionExpired)
}

func TestFetchOwnedPatients_ReplacesWholeSet(t *testing.T) {
	responses := [][]byte{
		[]byte(`[{"id":"P1","name":"Kim"},{"id":"P2","name":"Lee"}]`),
		[]byte(`[{"id":"P3","name":"Park"}]`),
	}
	call := 0
	client, set := newTestDirectory(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/me":
			w.Write([]byte(`{"managerId":"M1","userId":"U1"}`))
		case "/patient/list":
			w.Write(responses[call])
			call++
		}
	}))

	_, err := client.FetchOwnedPatients(context.Background())
	require.NoError(t, err)
	_, err = client.FetchOwnedPatients(context.Background())
	require.NoError(t, err)

	// 第二次拉取整体替换，旧成员不残留
	assert.Equal(t, 1, set.Len())
	assert.False(t, set.Contains("P1"))
	assert.True(t, set.Contains("P3"))
}

func TestOwnedPatientSet_SkipsEmptyIDs(t *testing.T) {
	set := NewOwnedPatientSet()
	set.Replace([]models.PatientRef{{ID: "", Name: "ghost"}, {ID: "P1", Name: "Kim"}})

	assert.Equal(t, 1, set.Len())
	assert.ElementsMatch(t, []string{"P1"}, set.IDs())
}
