// Package authctx holds the signed-in identity of a running console or CLI.
//
// A Provider starts Initializing, reads the session store once and settles on
// Authenticated or Anonymous. Login, Logout and UpdateUser write the store first and
// then update the in-memory user, notifying subscribers of every transition.
package authctx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"dario.cat/mergo"
	"github.com/rs/zerolog"

	"github.com/spsgroup/spsadmin/internal/models"
	"github.com/spsgroup/spsadmin/internal/session"
)

var (
	// ErrNotAuthenticated is returned by UpdateUser when nobody is signed in
	ErrNotAuthenticated = errors.New("authctx: not authenticated")

	// ErrOtherUser is returned by UpdateUser for a patch of another account
	ErrOtherUser = errors.New("authctx: patch is for another user")
)

// State of a Provider
type State int

const (
	StateInitializing State = iota
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Store is the part of session.Store the provider needs
type Store interface {
	Load(ctx context.Context) (session.Session, error)
	Save(ctx context.Context, token string, user models.User) error
	SaveUser(ctx context.Context, user models.User) error
	Clear(ctx context.Context) error
}

// Provider exposes the current user and the operations that change it.
// It is safe for concurrent use.
type Provider struct {
	store  Store
	logger zerolog.Logger

	// txMu serializes transitions so a store write and the in-memory update it
	// belongs to are never interleaved with another transition
	txMu sync.Mutex

	mu    sync.RWMutex
	state State
	user  *models.User

	subMu  sync.Mutex
	subs   map[int]func(State)
	nextID int
}

// New returns a provider in StateInitializing. Call Init to read the store.
func New(store Store, logger zerolog.Logger) *Provider {
	return &Provider{
		store:  store,
		logger: logger,
		state:  StateInitializing,
		subs:   make(map[int]func(State)),
	}
}

// NewProvider creates a provider and initializes it from store
func NewProvider(ctx context.Context, store Store, logger zerolog.Logger) (*Provider, error) {
	p := New(store, logger)
	if err := p.Init(ctx); err != nil {
		return p, err
	}
	return p, nil
}

// Init performs the single initial read of the session store. Later calls are no-ops;
// use Reload to re-read the store. A failed read leaves the provider Anonymous.
func (p *Provider) Init(ctx context.Context) error {
	p.txMu.Lock()
	if p.State() != StateInitializing {
		p.txMu.Unlock()
		return nil
	}
	state, err := p.reloadLocked(ctx)
	p.txMu.Unlock()

	p.notify(state)
	return err
}

// Reload re-reads the session store, replacing the in-memory user
func (p *Provider) Reload(ctx context.Context) error {
	p.txMu.Lock()
	state, err := p.reloadLocked(ctx)
	p.txMu.Unlock()

	p.notify(state)
	return err
}

func (p *Provider) reloadLocked(ctx context.Context) (State, error) {
	sess, err := p.store.Load(ctx)
	if err != nil {
		return p.set(nil), fmt.Errorf("failed to load session: %w", err)
	}
	if !sess.Valid() {
		return p.set(nil), nil
	}
	return p.set(sess.User), nil
}

// State returns the current state
func (p *Provider) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Loading is true until the initial read of the store has completed
func (p *Provider) Loading() bool {
	return p.State() == StateInitializing
}

// IsAuthenticated is true iff a user is held in memory
func (p *Provider) IsAuthenticated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.user != nil
}

// User returns a copy of the current user
func (p *Provider) User() (models.User, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.user == nil {
		return models.User{}, false
	}
	return *p.user, true
}

// Login persists token and user, then marks the provider Authenticated
func (p *Provider) Login(ctx context.Context, user models.User, token string) error {
	p.txMu.Lock()
	if err := p.store.Save(ctx, token, user); err != nil {
		p.txMu.Unlock()
		return err
	}
	state := p.set(&user)
	p.txMu.Unlock()

	p.notify(state)
	p.logger.Info().Int64("user_id", user.ID).Msg("signed in")
	return nil
}

// Logout clears the session store and the in-memory user. The user is cleared even
// when the store fails.
func (p *Provider) Logout(ctx context.Context) error {
	p.txMu.Lock()
	err := p.store.Clear(ctx)
	state := p.set(nil)
	p.txMu.Unlock()

	p.notify(state)
	p.logger.Info().Msg("signed out")
	return err
}

// UpdateUser merges the non-zero fields of patch into the current user and rewrites
// the stored user. The token is not touched. A patch for another account than the
// signed-in one is refused.
func (p *Provider) UpdateUser(ctx context.Context, patch models.User) error {
	p.txMu.Lock()
	current, ok := p.User()
	if !ok {
		p.txMu.Unlock()
		return ErrNotAuthenticated
	}
	if patch.ID != 0 && patch.ID != current.ID {
		p.txMu.Unlock()
		return ErrOtherUser
	}

	if err := mergo.Merge(&current, patch, mergo.WithOverride); err != nil {
		p.txMu.Unlock()
		return fmt.Errorf("failed to merge user: %w", err)
	}
	if err := p.store.SaveUser(ctx, current); err != nil {
		p.txMu.Unlock()
		return err
	}
	state := p.set(&current)
	p.txMu.Unlock()

	p.notify(state)
	return nil
}

// Subscribe registers fn to be called after every state change. The returned
// function removes the subscription.
func (p *Provider) Subscribe(fn func(State)) (unsubscribe func()) {
	p.subMu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.subMu.Unlock()

	return func() {
		p.subMu.Lock()
		delete(p.subs, id)
		p.subMu.Unlock()
	}
}

// set replaces the in-memory user and returns the new state. Callers hold txMu and
// notify subscribers once they have released it.
func (p *Provider) set(user *models.User) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if user == nil {
		p.user = nil
		p.state = StateAnonymous
	} else {
		u := *user
		p.user = &u
		p.state = StateAuthenticated
	}
	return p.state
}

func (p *Provider) notify(state State) {
	p.subMu.Lock()
	subs := make([]func(State), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.subMu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}
