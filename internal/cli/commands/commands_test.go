package commands

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/spsgroup/spsadmin/internal/cli/client"
	"github.com/spsgroup/spsadmin/internal/config"
	"github.com/spsgroup/spsadmin/internal/devapi"
	"github.com/spsgroup/spsadmin/internal/forms"
	"github.com/spsgroup/spsadmin/internal/models"
	"github.com/spsgroup/spsadmin/internal/session"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

// testEnv is a dev backend plus a session store shared by consecutive commands
type testEnv struct {
	backend *httptest.Server
	store   *session.Store
	out     bytes.Buffer
	errOut  bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	srv, err := devapi.New(devapi.Options{JWTSecret: "test-secret", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("failed to start dev backend: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	backend := httptest.NewServer(srv.Handler())
	t.Cleanup(backend.Close)

	return &testEnv{
		backend: backend,
		store:   session.NewStore(session.NewMemoryBackend(), zerolog.Nop()),
	}
}

func (e *testEnv) opts(extra ...Option) []Option {
	cfg := &config.Config{ServerURL: e.backend.URL, Timeout: 5 * time.Second}
	return append([]Option{
		WithConfig(cfg),
		WithStore(e.store),
		WithLogger(zerolog.Nop()),
		WithOutput(&e.out, &e.errOut),
		WithPasswordPrompt(func() (string, error) {
			return "", errors.New("unexpected password prompt")
		}),
		WithConfirm(func(string) (bool, error) {
			return false, errors.New("unexpected confirmation prompt")
		}),
	}, extra...)
}

func (e *testEnv) login(t *testing.T, email, password string) {
	t.Helper()
	if err := runLogin(context.Background(), email, password, e.opts()...); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	e.out.Reset()
}

func (e *testEnv) currentUser(t *testing.T) models.User {
	t.Helper()
	sess, err := e.store.Load(context.Background())
	if err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	if !sess.Valid() {
		t.Fatal("expected a stored session")
	}
	return *sess.User
}

// adminClient is a backend client signed in as the seeded super admin, with its own session
func (e *testEnv) adminClient(t *testing.T) *client.Client {
	t.Helper()
	ctx := context.Background()

	adminStore := session.NewStore(session.NewMemoryBackend(), zerolog.Nop())
	admin := client.New(e.backend.URL, adminStore)
	resp, err := admin.Login(ctx, devapi.SeedEmail, devapi.SeedPassword)
	if err != nil {
		t.Fatalf("admin login failed: %v", err)
	}
	if err := adminStore.Save(ctx, resp.Token, resp.User); err != nil {
		t.Fatalf("failed to save admin session: %v", err)
	}
	return admin
}

// createAccount creates a user with password "secret" through the backend
func (e *testEnv) createAccount(t *testing.T, name, email string, role models.Role) models.User {
	t.Helper()

	in := models.UserInput{Name: name, Email: email, Role: role, Password: "secret"}
	user, err := e.adminClient(t).CreateUser(context.Background(), in)
	if err != nil {
		t.Fatalf("failed to create %s: %v", email, err)
	}
	return *user
}

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t)

	err := runLogin(context.Background(), "  ADMIN@spsgroup.com.br ", devapi.SeedPassword, env.opts()...)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	output := env.out.String()
	for _, want := range []string{"Logging in to " + env.backend.URL, "✓ Login successful!", devapi.SeedEmail, "Role: Super Admin"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %q, got: %s", want, output)
		}
	}

	user := env.currentUser(t)
	if user.Role != models.RoleSuperAdmin {
		t.Errorf("expected stored role super_admin, got %s", user.Role)
	}
}

func TestLogin_MissingEmail(t *testing.T) {
	t.Setenv("SPSADMIN_EMAIL", "")
	env := newTestEnv(t)

	err := runLogin(context.Background(), "", "secret", env.opts()...)
	if err == nil {
		t.Fatal("expected error when email is missing, got nil")
	}
	if !strings.Contains(err.Error(), "email is required") {
		t.Errorf("expected missing email error, got: %s", err.Error())
	}
}

func TestLogin_InvalidEmailNeverCallsBackend(t *testing.T) {
	env := newTestEnv(t)

	err := runLogin(context.Background(), "not-an-email", "secret", env.opts()...)
	if err == nil || err.Error() != forms.MsgEmailInvalid {
		t.Fatalf("expected %q, got: %v", forms.MsgEmailInvalid, err)
	}
	if strings.Contains(env.out.String(), "Logging in") {
		t.Errorf("expected no backend call, got output: %s", env.out.String())
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	env := newTestEnv(t)

	err := runLogin(context.Background(), devapi.SeedEmail, "wrong", env.opts()...)
	if err == nil {
		t.Fatal("expected error for wrong password, got nil")
	}
	if !strings.Contains(err.Error(), forms.MsgInvalidCredentials) {
		t.Errorf("expected %q, got: %s", forms.MsgInvalidCredentials, err.Error())
	}
	if env.errOut.Len() > 0 {
		t.Errorf("login rejection must not trigger the session expired notice, got: %s", env.errOut.String())
	}
	if sess, _ := env.store.Load(context.Background()); sess.Valid() {
		t.Error("expected no stored session after failed login")
	}
}

func TestLogin_PromptsForPassword(t *testing.T) {
	env := newTestEnv(t)

	prompted := false
	opts := env.opts(WithPasswordPrompt(func() (string, error) {
		prompted = true
		return devapi.SeedPassword, nil
	}))

	if err := runLogin(context.Background(), devapi.SeedEmail, "", opts...); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !prompted {
		t.Error("expected the password prompt to be used")
	}
}

func TestWhoami(t *testing.T) {
	env := newTestEnv(t)

	if err := runWhoami(context.Background(), env.opts()...); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got: %v", err)
	}

	env.login(t, devapi.SeedEmail, devapi.SeedPassword)
	if err := runWhoami(context.Background(), env.opts()...); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	want := "Administrador <admin@spsgroup.com.br> (Super Admin)\n"
	if env.out.String() != want {
		t.Errorf("expected %q, got %q", want, env.out.String())
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, devapi.SeedEmail, devapi.SeedPassword)

	if err := runLogout(context.Background(), env.opts()...); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !strings.Contains(env.out.String(), "Logged out.") {
		t.Errorf("expected logout message, got: %s", env.out.String())
	}
	if sess, _ := env.store.Load(context.Background()); sess.Valid() {
		t.Error("expected session to be cleared")
	}
}

func TestUsersList(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "Maria Souza", "maria@spsgroup.com.br", models.RoleUser)

	t.Run("super admin", func(t *testing.T) {
		env.login(t, devapi.SeedEmail, devapi.SeedPassword)
		if err := runUsersList(context.Background(), env.opts()...); err != nil {
			t.Fatalf("expected success, got error: %v", err)
		}

		output := env.out.String()
		for _, want := range []string{"NOME", "Administrador (você)", "Maria Souza", "Usuário", "ver, editar, excluir", "spsadmin users create"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("regular user", func(t *testing.T) {
		env.out.Reset()
		env.login(t, "maria@spsgroup.com.br", "secret")
		if err := runUsersList(context.Background(), env.opts()...); err != nil {
			t.Fatalf("expected success, got error: %v", err)
		}

		output := env.out.String()
		if !strings.Contains(output, "Maria Souza (você)") {
			t.Errorf("expected own row to be marked, got:\n%s", output)
		}
		if strings.Contains(output, "excluir") {
			t.Errorf("regular user must not be offered delete, got:\n%s", output)
		}
		if strings.Contains(output, "spsadmin users create") {
			t.Errorf("regular user must not get the create hint, got:\n%s", output)
		}
	})
}

func TestUsersList_NotLoggedIn(t *testing.T) {
	env := newTestEnv(t)

	err := runUsersList(context.Background(), env.opts()...)
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got: %v", err)
	}
	if env.out.Len() > 0 {
		t.Errorf("expected no output, got: %s", env.out.String())
	}
}

func TestUsersCreateAndShow(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, devapi.SeedEmail, devapi.SeedPassword)

	avatarPath := filepath.Join(t.TempDir(), "avatar.png")
	if err := os.WriteFile(avatarPath, pngHeader, 0o600); err != nil {
		t.Fatalf("failed to write avatar: %v", err)
	}

	flags := userFlags{
		name:     "  João Lima ",
		email:    "JOAO@spsgroup.com.br",
		role:     string(models.RoleAdmin),
		password: "secret",
		avatar:   avatarPath,
	}
	if err := runUsersCreate(context.Background(), flags, env.opts()...); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	output := env.out.String()
	if !strings.Contains(output, forms.MsgUserCreated) {
		t.Errorf("expected %q, got: %s", forms.MsgUserCreated, output)
	}
	if !strings.Contains(output, "João Lima <joao@spsgroup.com.br> (Admin)") {
		t.Errorf("expected sanitized user in output, got: %s", output)
	}

	fields := strings.Fields(strings.SplitN(output, "\n", 2)[1])
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		t.Fatalf("expected user id in output, got: %s", output)
	}

	env.out.Reset()
	if err := runUsersShow(context.Background(), id, env.opts()...); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	shown := env.out.String()
	for _, want := range []string{"João Lima", "joao@spsgroup.com.br", "Admin", "Avatar:"} {
		if !strings.Contains(shown, want) {
			t.Errorf("expected show output to contain %q, got:\n%s", want, shown)
		}
	}
}

func TestUsersCreate_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, devapi.SeedEmail, devapi.SeedPassword)

	tests := []struct {
		name  string
		flags userFlags
		want  string
	}{
		{
			name:  "blank name",
			flags: userFlags{name: "   ", email: "a@b.com", role: "user", password: "x"},
			want:  forms.MsgNameRequired,
		},
		{
			name:  "bad email",
			flags: userFlags{name: "A", email: "nope", role: "user", password: "x"},
			want:  forms.MsgEmailInvalid,
		},
		{
			name:  "duplicate email",
			flags: userFlags{name: "A", email: devapi.SeedEmail, role: "user", password: "x"},
			want:  "Email já cadastrado",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runUsersCreate(context.Background(), tt.flags, env.opts()...)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if err.Error() != tt.want {
				t.Errorf("expected %q, got %q", tt.want, err.Error())
			}
		})
	}
}

func TestUsersCreate_OversizedAvatar(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, devapi.SeedEmail, devapi.SeedPassword)

	data := make([]byte, forms.MaxAvatarSize+1)
	copy(data, pngHeader)
	avatarPath := filepath.Join(t.TempDir(), "big.png")
	if err := os.WriteFile(avatarPath, data, 0o600); err != nil {
		t.Fatalf("failed to write avatar: %v", err)
	}

	flags := userFlags{name: "Big", email: "big@spsgroup.com.br", role: "user", password: "x", avatar: avatarPath}
	err := runUsersCreate(context.Background(), flags, env.opts()...)
	if !errors.Is(err, forms.ErrAvatarTooLarge) {
		t.Fatalf("expected ErrAvatarTooLarge, got: %v", err)
	}
}

func TestUsersCreate_RegularUserRejected(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "Maria Souza", "maria@spsgroup.com.br", models.RoleUser)
	env.login(t, "maria@spsgroup.com.br", "secret")

	flags := userFlags{name: "X", email: "x@spsgroup.com.br", role: "user", password: "x"}
	err := runUsersCreate(context.Background(), flags, env.opts()...)
	if err == nil || !strings.Contains(err.Error(), "only admins") {
		t.Fatalf("expected admins-only error, got: %v", err)
	}
}

func TestUsersUpdate_Self(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, devapi.SeedEmail, devapi.SeedPassword)
	me := env.currentUser(t)

	flags := userFlags{name: "Admin Renomeado"}
	changed := map[string]bool{"name": true}
	if err := runUsersUpdate(context.Background(), me.ID, flags, changed, env.opts()...); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !strings.Contains(env.out.String(), forms.MsgUserUpdated) {
		t.Errorf("expected %q, got: %s", forms.MsgUserUpdated, env.out.String())
	}

	updated := env.currentUser(t)
	if updated.Name != "Admin Renomeado" {
		t.Errorf("expected stored name to be refreshed, got %q", updated.Name)
	}
	if updated.Email != me.Email || updated.Role != me.Role {
		t.Errorf("expected other fields unchanged, got %+v", updated)
	}

	// The token is untouched, so the session keeps working
	env.out.Reset()
	if err := runWhoami(context.Background(), env.opts()...); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !strings.HasPrefix(env.out.String(), "Admin Renomeado") {
		t.Errorf("unexpected whoami output: %s", env.out.String())
	}
}

func TestUsersUpdate_RoleNotAssignable(t *testing.T) {
	env := newTestEnv(t)
	target := env.createAccount(t, "Maria Souza", "maria@spsgroup.com.br", models.RoleUser)
	env.createAccount(t, "Carlos Admin", "carlos@spsgroup.com.br", models.RoleAdmin)
	env.login(t, "carlos@spsgroup.com.br", "secret")

	flags := userFlags{role: string(models.RoleSuperAdmin)}
	changed := map[string]bool{"type": true}
	err := runUsersUpdate(context.Background(), target.ID, flags, changed, env.opts()...)
	if err == nil || !strings.Contains(err.Error(), "cannot assign") {
		t.Fatalf("expected role error, got: %v", err)
	}
}

func TestUsersDelete(t *testing.T) {
	t.Run("declined", func(t *testing.T) {
		env := newTestEnv(t)
		target := env.createAccount(t, "Maria Souza", "maria@spsgroup.com.br", models.RoleUser)
		env.login(t, devapi.SeedEmail, devapi.SeedPassword)

		var asked string
		opts := env.opts(WithConfirm(func(label string) (bool, error) {
			asked = label
			return false, nil
		}))
		if err := runUsersDelete(context.Background(), target.ID, false, opts...); err != nil {
			t.Fatalf("expected success, got error: %v", err)
		}
		if asked != forms.DeleteConfirmation("Maria Souza", false) {
			t.Errorf("unexpected confirmation: %q", asked)
		}
		if !strings.Contains(env.out.String(), "Cancelled.") {
			t.Errorf("expected cancellation, got: %s", env.out.String())
		}

		env.out.Reset()
		if err := runUsersShow(context.Background(), target.ID, env.opts()...); err != nil {
			t.Errorf("expected user to still exist, got: %v", err)
		}
	})

	t.Run("confirmed with flag", func(t *testing.T) {
		env := newTestEnv(t)
		target := env.createAccount(t, "Maria Souza", "maria@spsgroup.com.br", models.RoleUser)
		env.login(t, devapi.SeedEmail, devapi.SeedPassword)

		if err := runUsersDelete(context.Background(), target.ID, true, env.opts()...); err != nil {
			t.Fatalf("expected success, got error: %v", err)
		}
		if !strings.Contains(env.out.String(), "User Maria Souza deleted.") {
			t.Errorf("unexpected output: %s", env.out.String())
		}

		err := runUsersShow(context.Background(), target.ID, env.opts()...)
		if err == nil || err.Error() != "Usuário não encontrado" {
			t.Errorf("expected not found, got: %v", err)
		}
	})

	t.Run("own account logs out", func(t *testing.T) {
		env := newTestEnv(t)
		me := env.createAccount(t, "Carlos Admin", "carlos@spsgroup.com.br", models.RoleAdmin)
		env.login(t, "carlos@spsgroup.com.br", "secret")

		var asked string
		opts := env.opts(WithConfirm(func(label string) (bool, error) {
			asked = label
			return true, nil
		}))
		if err := runUsersDelete(context.Background(), me.ID, false, opts...); err != nil {
			t.Fatalf("expected success, got error: %v", err)
		}
		if !strings.HasPrefix(asked, "ATENÇÃO") {
			t.Errorf("expected the own-account warning, got: %q", asked)
		}
		if !strings.Contains(env.out.String(), "You have been logged out.") {
			t.Errorf("unexpected output: %s", env.out.String())
		}
		if sess, _ := env.store.Load(context.Background()); sess.Valid() {
			t.Error("expected session to be cleared")
		}
	})

	t.Run("super admin protected", func(t *testing.T) {
		env := newTestEnv(t)
		env.createAccount(t, "Carlos Admin", "carlos@spsgroup.com.br", models.RoleAdmin)
		env.login(t, devapi.SeedEmail, devapi.SeedPassword)
		seed := env.currentUser(t)
		env.login(t, "carlos@spsgroup.com.br", "secret")

		err := runUsersDelete(context.Background(), seed.ID, true, env.opts()...)
		if err == nil || !strings.Contains(err.Error(), "cannot delete") {
			t.Fatalf("expected delete to be refused, got: %v", err)
		}
	})
}

func TestSessionExpired(t *testing.T) {
	env := newTestEnv(t)
	maria := env.createAccount(t, "Maria Souza", "maria@spsgroup.com.br", models.RoleUser)
	env.login(t, "maria@spsgroup.com.br", "secret")

	// Deleting the account behind the session invalidates its token
	if err := env.adminClient(t).DeleteUser(context.Background(), maria.ID); err != nil {
		t.Fatalf("failed to delete account: %v", err)
	}

	err := runUsersList(context.Background(), env.opts()...)
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got: %v", err)
	}
	if !strings.Contains(env.errOut.String(), SessionExpiredMessage) {
		t.Errorf("expected session expired notice, got: %q", env.errOut.String())
	}
	if sess, _ := env.store.Load(context.Background()); sess.Valid() {
		t.Error("expected session to be cleared by the forced logout")
	}
}

func TestTheme(t *testing.T) {
	env := newTestEnv(t)

	if err := runTheme(context.Background(), "", env.opts()...); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if env.out.String() != "Theme: dark\n" {
		t.Errorf("expected toggle to dark, got %q", env.out.String())
	}

	env.out.Reset()
	if err := runTheme(context.Background(), session.ThemeLight, env.opts()...); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if env.out.String() != "Theme: light\n" {
		t.Errorf("expected light, got %q", env.out.String())
	}
}

func TestTheme_RedisStorageIsReleased(t *testing.T) {
	mr := miniredis.RunT(t)
	var out, errOut bytes.Buffer
	cfg := &config.Config{
		ServerURL: "http://127.0.0.1:1",
		Timeout:   time.Second,
		Storage:   config.StorageConfig{Backend: session.BackendRedis, RedisAddress: mr.Addr(), Namespace: "cli"},
	}

	err := runTheme(context.Background(), session.ThemeDark,
		WithConfig(cfg), WithLogger(zerolog.Nop()), WithOutput(&out, &errOut))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if v, _ := mr.Get("spsadmin:cli:theme"); v != session.ThemeDark {
		t.Errorf("expected theme stored in redis, got %q", v)
	}

	deadline := time.Now().Add(2 * time.Second)
	for mr.CurrentConnectionCount() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected redis connections closed, %d still open", mr.CurrentConnectionCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// closeCountingBackend records Close calls on an in-memory backend
type closeCountingBackend struct {
	*session.MemoryBackend
	closed int
}

func (b *closeCountingBackend) Close() error {
	b.closed++
	return nil
}

func TestTheme_InjectedStoreStaysOpen(t *testing.T) {
	env := newTestEnv(t)
	backend := &closeCountingBackend{MemoryBackend: session.NewMemoryBackend()}
	env.store = session.NewStore(backend, zerolog.Nop())

	if err := runTheme(context.Background(), session.ThemeDark, env.opts()...); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if backend.closed != 0 {
		t.Errorf("expected a caller-supplied store to stay open, closed %d times", backend.closed)
	}
}

func TestCommandStructure(t *testing.T) {
	users := NewUsersCmd()
	want := map[string]bool{"ls": false, "show": false, "create": false, "update": false, "delete": false}
	for _, sub := range users.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected users subcommand %q", name)
		}
	}

	del, _, err := users.Find([]string{"delete"})
	if err != nil {
		t.Fatalf("failed to find delete: %v", err)
	}
	if del.Flags().ShorthandLookup("y") == nil {
		t.Error("expected -y shorthand on delete")
	}

	theme := NewThemeCmd()
	if err := theme.Args(theme, []string{"blue"}); err == nil {
		t.Error("expected theme to reject unknown values")
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{"1", 1, false},
		{"42", 42, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		got, err := parseID(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseID(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseID(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}
