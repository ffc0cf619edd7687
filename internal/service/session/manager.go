// Package session is the seam between the cart client and authentication.
// Manager owns the bearer token, persists it across restarts and tells
// listeners whenever the session starts or ends.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fitcart/internal/domain"
	"fitcart/internal/logger"
	tokenrepo "fitcart/internal/repository/token"
	"github.com/go-faster/errors"
)

// Provider is what the cart client needs from the session owner.
type Provider interface {
	CurrentToken() (string, bool)
	InvalidateSession()
}

// DefaultProfile names the persisted session when none is configured.
const DefaultProfile = "default"

const invalidateTimeout = 5 * time.Second

var ErrEmptyToken = errors.New("token required")

type Manager struct {
	repo    tokenrepo.Repository
	profile string
	logger  *slog.Logger

	mu        sync.RWMutex
	token     string
	nextID    int
	listeners map[int]func(token string)
}

var _ Provider = (*Manager)(nil)

func New(repo tokenrepo.Repository, profile string, l *slog.Logger) *Manager {
	if repo == nil {
		repo = tokenrepo.NewMemory()
	}
	if strings.TrimSpace(profile) == "" {
		profile = DefaultProfile
	}
	return &Manager{
		repo:      repo,
		profile:   profile,
		logger:    logger.OrDiscard(l),
		listeners: make(map[int]func(string)),
	}
}

// Load restores a persisted token, if any. Listeners are notified when one is found.
func (m *Manager) Load(ctx context.Context) error {
	stored, err := m.repo.Get(ctx, m.profile)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return errors.Wrap(err, "load session")
	}
	m.set(stored.Token)
	return nil
}

func (m *Manager) Login(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	if err := m.repo.Save(ctx, tokenrepo.Token{Profile: m.profile, Token: token}); err != nil {
		return errors.Wrap(err, "save session")
	}
	m.logger.Info("session started", "profile", m.profile)
	m.set(token)
	return nil
}

func (m *Manager) Logout(ctx context.Context) error {
	if err := m.repo.Delete(ctx, m.profile); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return errors.Wrap(err, "delete session")
	}
	m.logger.Info("session ended", "profile", m.profile)
	m.set("")
	return nil
}

func (m *Manager) CurrentToken() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, m.token != ""
}

// InvalidateSession forces a logout after the server rejected the token.
// It is a no-op when no session is active.
func (m *Manager) InvalidateSession() {
	if _, ok := m.CurrentToken(); !ok {
		return
	}
	m.logger.Warn("session invalidated by server", "profile", m.profile)
	ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
	defer cancel()
	if err := m.Logout(ctx); err != nil {
		m.logger.Error("drop persisted session", "err", err)
		m.set("")
	}
}

// OnChange registers fn to run after every token change; the empty string
// means the session ended. The returned func unregisters it.
func (m *Manager) OnChange(fn func(token string)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Manager) set(token string) {
	m.mu.Lock()
	changed := m.token != token
	m.token = token
	listeners := make([]func(string), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(token)
	}
}
