package view_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcuenca6779/urbandrive/internal/api"
	"github.com/jcuenca6779/urbandrive/internal/gatewaytest"
	"github.com/jcuenca6779/urbandrive/internal/notify"
	"github.com/jcuenca6779/urbandrive/internal/reports"
	"github.com/jcuenca6779/urbandrive/internal/session"
	"github.com/jcuenca6779/urbandrive/internal/store"
	"github.com/jcuenca6779/urbandrive/internal/view"
)

type fixture struct {
	gw     *gatewaytest.Gateway
	store  *store.FileStore
	server *view.Server
	user   *gatewaytest.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{gw: gatewaytest.New(t)}
	f.user = f.gw.AddUser("Juan", "juan@example.com", "password123")

	var err error
	f.store, err = store.New(t.TempDir())
	require.NoError(t, err)

	client, err := api.NewClient(f.gw.URL(), 5*time.Second, f.store)
	require.NoError(t, err)

	hub := notify.NewHub()
	manager := session.NewManager(f.store, client, hub)
	client.OnAuthExpired(manager.HandleAuthExpired)
	controller := reports.NewController(client, manager, hub)
	f.server = view.NewServer(manager, controller, client, hub)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/login", api.Credentials{
		Email:    "juan@example.com",
		Password: "password123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

type stateResponse struct {
	View    string `json:"view"`
	Session struct {
		Authenticated bool          `json:"authenticated"`
		Identity      *api.Identity `json:"identity"`
	} `json:"session"`
	Reports      []api.Report `json:"reports"`
	Gamification *struct {
		Level    int     `json:"level"`
		Floor    int     `json:"level_floor"`
		Ceiling  int     `json:"level_ceiling"`
		Fraction float64 `json:"progress"`
	} `json:"gamification"`
	DraftOpen     bool                  `json:"draft_open"`
	Notifications []notify.Notification `json:"notifications"`
}

func (f *fixture) state(t *testing.T) stateResponse {
	t.Helper()
	rec := f.do(t, http.MethodGet, "/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st stateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	return st
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStateBeforeLogin(t *testing.T) {
	f := newFixture(t)
	st := f.state(t)
	assert.Equal(t, "login", st.View)
	assert.False(t, st.Session.Authenticated)
	assert.Empty(t, st.Reports)
	assert.Nil(t, st.Gamification)
}

func TestLoginNavigatesToMap(t *testing.T) {
	f := newFixture(t)
	f.gw.SetProfile(api.Profile{UserID: f.user.ID, XP: 150, Coins: 75, Level: 2, Badges: []string{"Explorador Urbano"}})
	f.gw.SeedReports(api.Report{ID: 1, Location: "A", IncidentType: api.TypeRoadHazard, Severity: api.SeverityMedium, Status: api.StatusPending, SubmitterID: 99})

	f.login(t)

	assert.Equal(t, view.ViewMap, f.server.CurrentView())

	// The initial snapshot load runs in the background after the transition
	require.Eventually(t, func() bool {
		st := f.state(t)
		return len(st.Reports) == 1 && st.Gamification != nil
	}, 2*time.Second, 20*time.Millisecond)

	st := f.state(t)
	assert.True(t, st.Session.Authenticated)
	require.NotNil(t, st.Session.Identity)
	assert.Equal(t, f.user.ID, st.Session.Identity.ID)

	t.Run("gamification is projected, not raw", func(t *testing.T) {
		require.NotNil(t, st.Gamification)
		assert.Equal(t, 2, st.Gamification.Level)
		assert.Equal(t, 100, st.Gamification.Floor)
		assert.Equal(t, 400, st.Gamification.Ceiling)
		assert.InDelta(t, 0.1667, st.Gamification.Fraction, 0.0001)
	})
}

func TestLoginRejected(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/login", api.Credentials{
		Email:    "juan@example.com",
		Password: "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, view.ViewLogin, f.server.CurrentView())
}

func TestSubmitViaSurface(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	t.Run("incomplete draft is rejected locally", func(t *testing.T) {
		baseline := f.gw.TotalCalls()
		rec := f.do(t, http.MethodPost, "/reports", reports.Draft{Location: "Main St 1"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var body struct {
			Missing []string `json:"missing"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.ElementsMatch(t, []string{"incident_type", "description"}, body.Missing)
		assert.Equal(t, baseline, f.gw.TotalCalls())
	})

	t.Run("complete draft is created", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/reports", reports.Draft{
			Location:     "Main St 1",
			IncidentType: api.TypeLightTraffic,
			Description:  "slow lane",
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var created api.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
		assert.Equal(t, api.SeverityMedium, created.Severity)
	})

	t.Run("submission shows up in the next state poll", func(t *testing.T) {
		st := f.state(t)
		require.NotEmpty(t, st.Reports)
		assert.Equal(t, "Main St 1", st.Reports[0].Location)
	})
}

func TestSubmitWithoutSession(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/reports", reports.Draft{
		Location:     "Main St 1",
		IncidentType: api.TypeLightTraffic,
		Description:  "slow lane",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestForcedLogoutOnExpiredCredential(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	require.Equal(t, view.ViewMap, f.server.CurrentView())

	// Let the initial background load finish before expiring the credential
	require.Eventually(t, func() bool {
		return f.state(t).Gamification != nil
	}, 2*time.Second, 20*time.Millisecond)

	// Server-side expiry: the stored token stops being accepted
	require.NoError(t, f.store.SaveToken("expired-token"))

	rec := f.do(t, http.MethodPost, "/reports/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, view.ViewLogin, f.server.CurrentView())
	st := f.state(t)
	assert.False(t, st.Session.Authenticated)
	assert.Empty(t, st.Reports)
	assert.Nil(t, st.Gamification)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	rec := f.do(t, http.MethodPost, "/logout", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, view.ViewLogin, f.server.CurrentView())

	_, ok := f.store.CurrentToken()
	assert.False(t, ok)
}

func TestValidateViaSurface(t *testing.T) {
	f := newFixture(t)
	f.gw.SeedReports(api.Report{ID: 7, Location: "X", IncidentType: api.TypeRoadHazard, Status: api.StatusPending, SubmitterID: 999})
	f.login(t)

	rec := f.do(t, http.MethodPost, "/reports/7/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result api.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Validations)

	t.Run("bad id is rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/reports/not-a-number/validate", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPreviewViaSurface(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	t.Run("returns the estimate", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/reports/preview", reports.Draft{
			Description:  "choque frontal",
			IncidentType: api.TypeSevereAccident,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var result api.Classification
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, api.SeverityHigh, result.Severity)
	})

	t.Run("no content when unavailable", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/reports/preview", reports.Draft{})
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestNearbyViaSurface(t *testing.T) {
	f := newFixture(t)
	f.gw.SeedReports(api.Report{ID: 5, Location: "Cruce", IncidentType: api.TypeSevereAccident, Severity: api.SeverityHigh, Status: api.StatusPending, SubmitterID: 999})
	f.login(t)

	rec := f.do(t, http.MethodGet, "/reports/nearby?lat=-12.0464&lng=-77.0428&radio=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var collection api.FeatureCollection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &collection))
	assert.Len(t, collection.Features, 1)

	t.Run("missing coordinates are rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/reports/nearby", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLeaderboardViaSurface(t *testing.T) {
	f := newFixture(t)
	other := f.gw.AddUser("Luis", "luis@example.com", "password123")
	f.gw.SetProfile(api.Profile{UserID: f.user.ID, XP: 150, Level: 2})
	f.gw.SetProfile(api.Profile{UserID: other.ID, XP: 300, Level: 2})
	f.login(t)

	rec := f.do(t, http.MethodGet, "/leaderboard?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Leaderboard []api.LeaderboardEntry `json:"leaderboard"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Leaderboard, 2)
	assert.Equal(t, other.ID, body.Leaderboard[0].UserID)
	assert.Equal(t, 1, body.Leaderboard[0].Rank)
}
