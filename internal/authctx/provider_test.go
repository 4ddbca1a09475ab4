package authctx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spsgroup/spsadmin/internal/models"
	"github.com/spsgroup/spsadmin/internal/session"
)

func newStore() *session.Store {
	return session.NewStore(session.NewMemoryBackend(), zerolog.Nop())
}

var john = models.User{ID: 2, Name: "John", Email: "john@example.com", Role: models.RoleUser}

func TestProvider_StartsInitializing(t *testing.T) {
	p := New(newStore(), zerolog.Nop())

	assert.Equal(t, StateInitializing, p.State())
	assert.True(t, p.Loading())
	assert.False(t, p.IsAuthenticated())
	_, ok := p.User()
	assert.False(t, ok)
}

func TestProvider_InitEmptyStore(t *testing.T) {
	p, err := NewProvider(context.Background(), newStore(), zerolog.Nop())
	require.NoError(t, err)

	assert.False(t, p.Loading())
	assert.Equal(t, StateAnonymous, p.State())
	assert.False(t, p.IsAuthenticated())
}

func TestProvider_InitFromStoredSession(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	require.NoError(t, store.Save(ctx, "mock-token", john))

	p, err := NewProvider(ctx, store, zerolog.Nop())
	require.NoError(t, err)

	assert.False(t, p.Loading())
	assert.True(t, p.IsAuthenticated())
	user, ok := p.User()
	require.True(t, ok)
	assert.Equal(t, john, user)
}

func TestProvider_InitRunsOnce(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	p, err := NewProvider(ctx, store, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, "later", john))
	require.NoError(t, p.Init(ctx))
	assert.False(t, p.IsAuthenticated(), "second Init must not re-read the store")

	require.NoError(t, p.Reload(ctx))
	assert.True(t, p.IsAuthenticated())
}

type failingStore struct {
	*session.Store
	loadErr error
}

func (f failingStore) Load(ctx context.Context) (session.Session, error) {
	return session.Session{}, f.loadErr
}

func TestProvider_InitFailureLeavesAnonymous(t *testing.T) {
	boom := errors.New("disk on fire")
	p, err := NewProvider(context.Background(), failingStore{Store: newStore(), loadErr: boom}, zerolog.Nop())

	require.ErrorIs(t, err, boom)
	assert.False(t, p.Loading())
	assert.Equal(t, StateAnonymous, p.State())
}

func TestProvider_Login(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	p, err := NewProvider(ctx, store, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, p.Login(ctx, john, "token123"))

	assert.True(t, p.IsAuthenticated())
	assert.Equal(t, StateAuthenticated, p.State())

	sess, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token123", sess.Token)
	assert.Equal(t, john, *sess.User)
}

func TestProvider_Logout(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	require.NoError(t, store.Save(ctx, "tok", john))
	p, err := NewProvider(ctx, store, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, p.Logout(ctx))

	assert.False(t, p.IsAuthenticated())
	assert.Equal(t, StateAnonymous, p.State())
	sess, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, sess.Valid())
}

func TestProvider_UpdateUserMergesAndKeepsToken(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	p, err := NewProvider(ctx, store, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, p.Login(ctx, john, "token123"))

	require.NoError(t, p.UpdateUser(ctx, models.User{Name: "John Smith", Avatar: "/uploads/john.png"}))

	user, _ := p.User()
	assert.Equal(t, "John Smith", user.Name)
	assert.Equal(t, "john@example.com", user.Email, "zero fields keep their value")
	assert.Equal(t, models.RoleUser, user.Role)
	assert.Equal(t, "/uploads/john.png", user.Avatar)

	// reload from store reflects the merge with the token unchanged
	reloaded, err := NewProvider(ctx, store, zerolog.Nop())
	require.NoError(t, err)
	stored, ok := reloaded.User()
	require.True(t, ok)
	assert.Equal(t, user, stored)

	sess, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token123", sess.Token)
}

func TestProvider_UpdateUserRequiresSession(t *testing.T) {
	p, err := NewProvider(context.Background(), newStore(), zerolog.Nop())
	require.NoError(t, err)

	err = p.UpdateUser(context.Background(), models.User{Name: "x"})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestProvider_UpdateUserRejectsOtherAccount(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	p, err := NewProvider(ctx, store, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, p.Login(ctx, john, "token123"))

	err = p.UpdateUser(ctx, models.User{ID: john.ID + 1, Name: "Someone Else"})
	assert.ErrorIs(t, err, ErrOtherUser)

	user, _ := p.User()
	assert.Equal(t, john, user)
}

// logoutOnSaveUser signs the provider out from another goroutine while a user
// update is writing the store
type logoutOnSaveUser struct {
	*session.Store
	p    *Provider
	done chan error
}

func (s *logoutOnSaveUser) SaveUser(ctx context.Context, user models.User) error {
	go func() { s.done <- s.p.Logout(ctx) }()

	// Give the logout a chance to run in the middle of the update
	select {
	case err := <-s.done:
		s.done <- err
	case <-time.After(50 * time.Millisecond):
	}
	return s.Store.SaveUser(ctx, user)
}

func TestProvider_LogoutDuringUpdateStaysSignedOut(t *testing.T) {
	ctx := context.Background()
	backend := session.NewMemoryBackend()
	store := &logoutOnSaveUser{
		Store: session.NewStore(backend, zerolog.Nop()),
		done:  make(chan error, 1),
	}
	p := New(store, zerolog.Nop())
	store.p = p
	require.NoError(t, p.Init(ctx))
	require.NoError(t, p.Login(ctx, john, "token123"))

	require.NoError(t, p.UpdateUser(ctx, models.User{Name: "John Smith"}))
	require.NoError(t, <-store.done)

	assert.False(t, p.IsAuthenticated())
	assert.Equal(t, StateAnonymous, p.State())

	_, err := backend.Get(ctx, session.KeyUser)
	assert.ErrorIs(t, err, session.ErrNotFound, "no user may be left without a token")
	_, err = backend.Get(ctx, session.KeyToken)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestProvider_ConcurrentTransitions(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	p, err := NewProvider(ctx, store, zerolog.Nop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); _ = p.Login(ctx, john, "token123") }()
		go func() { defer wg.Done(); _ = p.UpdateUser(ctx, models.User{Name: "John Smith"}) }()
		go func() { defer wg.Done(); _ = p.Logout(ctx) }()
	}
	wg.Wait()

	// Whatever order won, memory and store agree
	sess, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.Valid(), p.IsAuthenticated())
	if p.IsAuthenticated() {
		user, _ := p.User()
		assert.Equal(t, user, *sess.User)
	}
}

func TestProvider_ReloadAfterForcedLogout(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	require.NoError(t, store.Save(ctx, "tok", john))
	p, err := NewProvider(ctx, store, zerolog.Nop())
	require.NoError(t, err)

	// the API client clears the store behind the provider's back
	require.NoError(t, store.Clear(ctx))
	assert.True(t, p.IsAuthenticated())

	require.NoError(t, p.Reload(ctx))
	assert.False(t, p.IsAuthenticated())
}

func TestProvider_Subscribe(t *testing.T) {
	ctx := context.Background()
	p := New(newStore(), zerolog.Nop())

	var mu sync.Mutex
	var seen []State
	unsubscribe := p.Subscribe(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	require.NoError(t, p.Init(ctx))
	require.NoError(t, p.Login(ctx, john, "t"))
	require.NoError(t, p.Logout(ctx))
	unsubscribe()
	require.NoError(t, p.Login(ctx, john, "t"))

	assert.Equal(t, []State{StateAnonymous, StateAuthenticated, StateAnonymous}, seen)
}

func TestProvider_UserIsACopy(t *testing.T) {
	ctx := context.Background()
	p, err := NewProvider(ctx, newStore(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, p.Login(ctx, john, "t"))

	u, _ := p.User()
	u.Name = "changed"

	again, _ := p.User()
	assert.Equal(t, "John", again.Name)
}

func TestFromContext(t *testing.T) {
	_, err := FromContext(context.Background())
	assert.ErrorIs(t, err, ErrNoProvider)

	p := New(newStore(), zerolog.Nop())
	got, err := FromContext(WithProvider(context.Background(), p))
	require.NoError(t, err)
	assert.Same(t, p, got)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "initializing", StateInitializing.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "anonymous", StateAnonymous.String())
	assert.Equal(t, "State(9)", State(9).String())
}
