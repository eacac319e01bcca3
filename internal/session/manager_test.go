package session_test

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcuenca6779/urbandrive/internal/api"
	"github.com/jcuenca6779/urbandrive/internal/gatewaytest"
	"github.com/jcuenca6779/urbandrive/internal/notify"
	"github.com/jcuenca6779/urbandrive/internal/session"
	"github.com/jcuenca6779/urbandrive/internal/store"
)

type fixture struct {
	gw      *gatewaytest.Gateway
	store   *store.FileStore
	client  *api.Client
	hub     *notify.Hub
	manager *session.Manager
	dir     string

	mu          sync.Mutex
	transitions []session.State
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		gw:  gatewaytest.New(t),
		dir: t.TempDir(),
		hub: notify.NewHub(),
	}

	var err error
	f.store, err = store.New(f.dir)
	require.NoError(t, err)

	f.client, err = api.NewClient(f.gw.URL(), 5*time.Second, f.store)
	require.NoError(t, err)

	f.manager = session.NewManager(f.store, f.client, f.hub)
	f.client.OnAuthExpired(f.manager.HandleAuthExpired)
	f.manager.OnChange(func(st session.State) {
		f.mu.Lock()
		f.transitions = append(f.transitions, st)
		f.mu.Unlock()
	})
	return f
}

func (f *fixture) transitionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transitions)
}

func (f *fixture) hasNotification(level notify.Level) bool {
	for _, n := range f.hub.Drain() {
		if n.Level == level {
			return true
		}
	}
	return false
}

func TestRestore(t *testing.T) {
	t.Run("token and identity present restores the session", func(t *testing.T) {
		f := newFixture(t)
		user := f.gw.AddUser("Juan", "juan@example.com", "password123")
		require.NoError(t, f.store.SaveToken(f.gw.IssueToken(user.ID, user.Email)))
		require.NoError(t, f.store.SaveIdentity(&api.Identity{ID: user.ID, Name: "Juan", Email: user.Email}))

		f.manager.Restore()

		st := f.manager.Current()
		assert.True(t, st.Authenticated)
		require.NotNil(t, st.Identity)
		assert.Equal(t, user.ID, st.Identity.ID)
		assert.Equal(t, 1, f.transitionCount())
	})

	t.Run("empty store stays unauthenticated", func(t *testing.T) {
		f := newFixture(t)
		f.manager.Restore()
		assert.False(t, f.manager.Current().Authenticated)
		assert.Zero(t, f.transitionCount())
	})

	t.Run("token without identity is purged", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.SaveToken("orphaned-token"))

		f.manager.Restore()

		assert.False(t, f.manager.Current().Authenticated)
		_, ok := f.store.CurrentToken()
		assert.False(t, ok)
	})

	t.Run("unparsable identity purges both keys", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.SaveToken("some-token"))
		require.NoError(t, os.WriteFile(filepath.Join(f.dir, "identity.json"), []byte("{broken"), 0o600))

		f.manager.Restore()

		assert.False(t, f.manager.Current().Authenticated)
		_, ok := f.store.CurrentToken()
		assert.False(t, ok)
		id, err := f.store.CurrentIdentity()
		require.NoError(t, err)
		assert.Nil(t, id)
	})
}

func TestLogin(t *testing.T) {
	t.Run("success persists token and identity together", func(t *testing.T) {
		f := newFixture(t)
		user := f.gw.AddUser("Juan", "juan@example.com", "password123")

		require.NoError(t, f.manager.Login(context.Background(), "juan@example.com", "password123"))

		st := f.manager.Current()
		assert.True(t, st.Authenticated)
		assert.Equal(t, user.ID, st.Identity.ID)

		_, ok := f.store.CurrentToken()
		assert.True(t, ok)
		stored, err := f.store.CurrentIdentity()
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, user.ID, stored.ID)

		assert.Equal(t, 1, f.transitionCount())
		assert.True(t, f.hasNotification(notify.LevelSuccess))
	})

	t.Run("bad credentials leave no partial state", func(t *testing.T) {
		f := newFixture(t)
		f.gw.AddUser("Juan", "juan@example.com", "password123")

		err := f.manager.Login(context.Background(), "juan@example.com", "wrong")
		require.Error(t, err)
		assert.True(t, api.IsStatus(err, http.StatusUnauthorized))

		assert.False(t, f.manager.Current().Authenticated)
		_, ok := f.store.CurrentToken()
		assert.False(t, ok)
		assert.Zero(t, f.transitionCount())
		assert.True(t, f.hasNotification(notify.LevelError))
	})

	t.Run("unreachable backend surfaces the error", func(t *testing.T) {
		f := newFixture(t)
		dead, err := api.NewClient("http://127.0.0.1:1", time.Second, f.store)
		require.NoError(t, err)
		manager := session.NewManager(f.store, dead, f.hub)

		err = manager.Login(context.Background(), "juan@example.com", "password123")
		require.Error(t, err)
		assert.False(t, manager.Current().Authenticated)
	})
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	f.gw.AddUser("Juan", "juan@example.com", "password123")
	require.NoError(t, f.manager.Login(context.Background(), "juan@example.com", "password123"))

	f.manager.Logout()

	assert.False(t, f.manager.Current().Authenticated)
	_, ok := f.store.CurrentToken()
	assert.False(t, ok)
	id, err := f.store.CurrentIdentity()
	require.NoError(t, err)
	assert.Nil(t, id)
	assert.Equal(t, 2, f.transitionCount()) // in, then out
}

func TestForcedLogout(t *testing.T) {
	t.Run("idempotent under repeated and concurrent expiry", func(t *testing.T) {
		f := newFixture(t)
		f.gw.AddUser("Juan", "juan@example.com", "password123")
		require.NoError(t, f.manager.Login(context.Background(), "juan@example.com", "password123"))
		require.Equal(t, 1, f.transitionCount())

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				f.manager.HandleAuthExpired()
			}()
		}
		wg.Wait()

		assert.False(t, f.manager.Current().Authenticated)
		// exactly one transition out, no matter how many 401s raced
		assert.Equal(t, 2, f.transitionCount())
	})

	t.Run("a rejected credential on any call forces the logout", func(t *testing.T) {
		f := newFixture(t)
		f.gw.AddUser("Juan", "juan@example.com", "password123")
		require.NoError(t, f.manager.Login(context.Background(), "juan@example.com", "password123"))

		// Simulate server-side expiry: the stored token is no longer accepted
		require.NoError(t, f.store.SaveToken("expired-token"))

		_, err := f.client.ListReports(context.Background())
		require.Error(t, err)
		assert.True(t, api.IsStatus(err, http.StatusUnauthorized))

		assert.False(t, f.manager.Current().Authenticated)
		_, ok := f.store.CurrentToken()
		assert.False(t, ok)
	})

	t.Run("no-op while already unauthenticated", func(t *testing.T) {
		f := newFixture(t)
		f.manager.HandleAuthExpired()
		assert.False(t, f.manager.Current().Authenticated)
		assert.Zero(t, f.transitionCount())
	})
}

func TestRegister(t *testing.T) {
	t.Run("creates an account without starting a session", func(t *testing.T) {
		f := newFixture(t)

		identity, err := f.manager.Register(context.Background(), api.RegisterRequest{
			Name:     "Nueva Usuaria",
			Email:    "nueva@example.com",
			Password: "password123",
			Role:     "conductor",
		})
		require.NoError(t, err)
		assert.NotZero(t, identity.ID)
		assert.False(t, f.manager.Current().Authenticated)

		require.NoError(t, f.manager.Login(context.Background(), "nueva@example.com", "password123"))
		assert.True(t, f.manager.Current().Authenticated)
	})

	t.Run("duplicate email fails", func(t *testing.T) {
		f := newFixture(t)
		f.gw.AddUser("Juan", "juan@example.com", "password123")

		_, err := f.manager.Register(context.Background(), api.RegisterRequest{
			Name:     "Otro Juan",
			Email:    "juan@example.com",
			Password: "password123",
		})
		require.Error(t, err)
		assert.True(t, api.IsStatus(err, http.StatusBadRequest))
	})
}
