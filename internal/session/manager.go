package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/jcuenca6779/urbandrive/internal/api"
)

// State is the externally visible session. It is either fully populated
// (identity set, Authenticated true) or fully empty; partial states never
// escape the manager.
type State struct {
	Authenticated bool
	Identity      *api.Identity
}

// Store is the durable credential store behind the manager.
type Store interface {
	SaveToken(token string) error
	CurrentToken() (string, bool)
	SaveIdentity(id *api.Identity) error
	CurrentIdentity() (*api.Identity, error)
	Clear() error
}

// Backend is the slice of the gateway client the manager needs.
type Backend interface {
	Login(ctx context.Context, creds api.Credentials) (*api.LoginResponse, error)
	Register(ctx context.Context, req api.RegisterRequest) (*api.Identity, error)
}

// Notifier surfaces session events to the user.
type Notifier interface {
	Success(title, message string)
	Error(title, message string)
	Info(title, message string)
}

// Manager owns the authentication lifecycle: restore on startup, login,
// logout, and forced logout when the transport reports an expired credential.
type Manager struct {
	store    Store
	backend  Backend
	notifier Notifier

	mu        sync.Mutex
	state     State
	observers []func(State)
}

// NewManager creates an unauthenticated manager.
func NewManager(store Store, backend Backend, notifier Notifier) *Manager {
	return &Manager{
		store:    store,
		backend:  backend,
		notifier: notifier,
	}
}

// OnChange registers an observer called after every transition that changes
// the authenticated flag. Observers are invoked outside the manager lock.
func (m *Manager) OnChange(fn func(State)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// Current returns the session state.
func (m *Manager) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Identity returns the authenticated identity, if any.
func (m *Manager) Identity() (*api.Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Authenticated {
		return nil, false
	}
	return m.state.Identity, true
}

// Restore rebuilds the session from the durable store. Both the token and a
// parsable identity must be present; anything less purges the store and
// leaves the session unauthenticated.
func (m *Manager) Restore() {
	token, ok := m.store.CurrentToken()
	if !ok {
		// No credential; discard any orphaned identity record
		if err := m.store.Clear(); err != nil {
			log.Printf("session: purge stale state: %v", err)
		}
		return
	}

	identity, err := m.store.CurrentIdentity()
	if err != nil || identity == nil {
		if err != nil {
			log.Printf("session: stored identity unusable, discarding credential: %v", err)
		}
		if clearErr := m.store.Clear(); clearErr != nil {
			log.Printf("session: purge stale state: %v", clearErr)
		}
		return
	}

	_ = token // the HTTP client reads the store directly on every request

	m.setState(State{Authenticated: true, Identity: identity})
}

// Login authenticates against the backend and persists the resulting token
// and identity. On any failure no partial state is left behind.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	resp, err := m.backend.Login(ctx, api.Credentials{Email: email, Password: password})
	if err != nil {
		m.notifier.Error("Inicio de sesión fallido", loginFailureMessage(err))
		return err
	}

	if err := m.store.SaveToken(resp.AccessToken); err != nil {
		m.notifier.Error("Inicio de sesión fallido", "No se pudo guardar la sesión")
		return fmt.Errorf("persist token: %w", err)
	}
	if err := m.store.SaveIdentity(&resp.User); err != nil {
		// Roll back so token and identity stay present-or-absent together
		if clearErr := m.store.Clear(); clearErr != nil {
			log.Printf("session: rollback after identity save failure: %v", clearErr)
		}
		m.notifier.Error("Inicio de sesión fallido", "No se pudo guardar la sesión")
		return fmt.Errorf("persist identity: %w", err)
	}

	identity := resp.User
	m.setState(State{Authenticated: true, Identity: &identity})
	m.notifier.Success("Sesión iniciada", "Bienvenido, "+identity.Name)
	return nil
}

// Register creates a new account. The caller still logs in afterwards; the
// backend does not auto-issue a token on registration.
func (m *Manager) Register(ctx context.Context, req api.RegisterRequest) (*api.Identity, error) {
	identity, err := m.backend.Register(ctx, req)
	if err != nil {
		m.notifier.Error("Registro fallido", loginFailureMessage(err))
		return nil, err
	}
	m.notifier.Success("Cuenta creada", "Ya puedes iniciar sesión como "+identity.Email)
	return identity, nil
}

// Logout clears the durable store and the in-memory session.
func (m *Manager) Logout() {
	if err := m.store.Clear(); err != nil {
		log.Printf("session: clear store on logout: %v", err)
	}
	if m.setState(State{}) {
		m.notifier.Info("Sesión cerrada", "Has cerrado sesión")
	}
}

// HandleAuthExpired is the forced-logout path, wired to the HTTP client's
// auth-expired event. Idempotent: concurrent 401s flip the session exactly
// once.
func (m *Manager) HandleAuthExpired() {
	if err := m.store.Clear(); err != nil {
		log.Printf("session: clear store on expiry: %v", err)
	}
	if m.setState(State{}) {
		m.notifier.Error("Sesión expirada", "Vuelve a iniciar sesión")
	}
}

// setState swaps the session state and notifies observers when the
// authenticated flag changed. Returns true on a real transition.
func (m *Manager) setState(next State) bool {
	m.mu.Lock()
	changed := m.state.Authenticated != next.Authenticated
	if !changed {
		m.mu.Unlock()
		return false
	}
	m.state = next
	observers := make([]func(State), len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(next)
	}
	return true
}

func loginFailureMessage(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return "No se pudo contactar al servidor"
}
