package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"vidtube/internal/domain"
	"vidtube/internal/media"
	"vidtube/internal/repository"
)

type fakeUploader struct {
	mu       sync.Mutex
	uploads  []string
	deleted  []string
	err      error
	emptyURL bool
}

func (f *fakeUploader) Upload(_ context.Context, localPath string) (media.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return media.Asset{}, f.err
	}
	key := "users/" + filepath.Base(localPath)
	f.uploads = append(f.uploads, key)
	if f.emptyURL {
		return media.Asset{Key: key}, nil
	}
	return media.Asset{URL: "https://cdn.test/" + key, Key: key}, nil
}

func (f *fakeUploader) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

type failingCreateRepo struct {
	*repository.MemoryUserRepository
	err error
}

func (r *failingCreateRepo) Create(_ context.Context, _ domain.User) error {
	return r.err
}

type failingFindRepo struct {
	*repository.MemoryUserRepository
}

func (r *failingFindRepo) FindByID(_ context.Context, _ string) (domain.User, error) {
	return domain.User{}, errors.New("read replica lagging")
}

type denyLimiter struct{}

func (denyLimiter) Allow(_ context.Context, _ string) bool    { return false }
func (denyLimiter) RecordFailure(_ context.Context, _ string) {}
func (denyLimiter) Reset(_ context.Context, _ string)         {}

type testEnv struct {
	svc      *UserService
	repo     *repository.MemoryUserRepository
	uploader *fakeUploader
	tokens   *JWTService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := repository.NewMemoryUserRepository()
	uploader := &fakeUploader{}
	tokens := newTestJWTService()
	svc := NewUserService(zap.NewNop(), repo, NewBcryptHasher(bcrypt.MinCost), tokens, uploader, NewMemoryLoginRateLimiter(time.Minute, 100))
	return &testEnv{svc: svc, repo: repo, uploader: uploader, tokens: tokens}
}

func tempUpload(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte("image-bytes"), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return p
}

func assertRemoved(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("expected temp file %s removed, stat err=%v", p, err)
		}
	}
}

func assertKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}

func (e *testEnv) register(t *testing.T, username, email, password string) domain.PublicUser {
	t.Helper()
	u, err := e.svc.Register(context.Background(), RegisterInput{
		Username:   username,
		FullName:   "Test User",
		Email:      email,
		Password:   password,
		AvatarPath: tempUpload(t, username+"-avatar.png"),
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return u
}

func TestUserServiceRegister_Success(t *testing.T) {
	env := newTestEnv(t)
	avatar := tempUpload(t, "avatar.png")
	cover := tempUpload(t, "cover.png")

	u, err := env.svc.Register(context.Background(), RegisterInput{
		Username:       "  Alice ",
		FullName:       "Alice Liddell",
		Email:          "Alice@Example.com",
		Password:       "secret",
		AvatarPath:     avatar,
		CoverImagePath: cover,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Username != "alice" || u.Email != "alice@example.com" || u.FullName != "alice liddell" {
		t.Fatalf("expected normalized fields, got %+v", u)
	}
	if u.AvatarURL != "https://cdn.test/users/avatar.png" || u.CoverImageURL != "https://cdn.test/users/cover.png" {
		t.Fatalf("unexpected media urls: %+v", u)
	}
	if u.CreatedAt.IsZero() {
		t.Fatalf("expected timestamps from the store")
	}
	assertRemoved(t, avatar, cover)

	stored, err := env.repo.FindByID(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("find stored: %v", err)
	}
	if stored.PasswordHash == "" || stored.PasswordHash == "secret" {
		t.Fatalf("expected hashed password, got %q", stored.PasswordHash)
	}
}

func TestUserServiceRegister_ValidationBeforeSideEffects(t *testing.T) {
	env := newTestEnv(t)
	avatar := tempUpload(t, "avatar.png")

	_, err := env.svc.Register(context.Background(), RegisterInput{
		Username:   "alice",
		FullName:   "   ",
		Email:      "alice@example.com",
		Password:   "secret",
		AvatarPath: avatar,
	})
	assertKind(t, err, ErrValidation)
	if len(env.uploader.uploads) != 0 {
		t.Fatalf("expected no uploads on validation failure")
	}
	assertRemoved(t, avatar)

	_, err = env.svc.Register(context.Background(), RegisterInput{
		Username: "alice",
		FullName: "Alice",
		Email:    "alice@example.com",
		Password: "secret",
	})
	assertKind(t, err, ErrValidation)
}

func TestUserServiceRegister_DuplicateUsernameOrEmail(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com", "secret")

	_, err := env.svc.Register(context.Background(), RegisterInput{
		Username: "ALICE", FullName: "Other", Email: "other@example.com", Password: "secret",
		AvatarPath: tempUpload(t, "a.png"),
	})
	assertKind(t, err, ErrConflict)

	_, err = env.svc.Register(context.Background(), RegisterInput{
		Username: "other", FullName: "Other", Email: "alice@example.com", Password: "secret",
		AvatarPath: tempUpload(t, "b.png"),
	})
	assertKind(t, err, ErrConflict)
}

func TestUserServiceRegister_UploadFailure(t *testing.T) {
	env := newTestEnv(t)
	env.uploader.err = media.ErrUploadFailed
	avatar := tempUpload(t, "avatar.png")

	_, err := env.svc.Register(context.Background(), RegisterInput{
		Username: "alice", FullName: "Alice", Email: "alice@example.com", Password: "secret",
		AvatarPath: avatar,
	})
	assertKind(t, err, ErrUpload)
	assertRemoved(t, avatar)
	if _, err := env.repo.FindByUsernameOrEmail(context.Background(), "alice", ""); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected no user stored after failed upload")
	}
}

func TestUserServiceRegister_StoreFailureCompensatesUploads(t *testing.T) {
	uploader := &fakeUploader{}
	repo := &failingCreateRepo{MemoryUserRepository: repository.NewMemoryUserRepository(), err: errors.New("db down")}
	svc := NewUserService(zap.NewNop(), repo, NewBcryptHasher(bcrypt.MinCost), newTestJWTService(), uploader, nil)

	_, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice", FullName: "Alice", Email: "alice@example.com", Password: "secret",
		AvatarPath:     tempUpload(t, "avatar.png"),
		CoverImagePath: tempUpload(t, "cover.png"),
	})
	assertKind(t, err, ErrInternal)
	if len(uploader.deleted) != 2 {
		t.Fatalf("expected both uploaded assets deleted, got %v", uploader.deleted)
	}
}

func TestUserServiceLogin_Success(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "alice", "alice@example.com", "secret")

	res, err := env.svc.Login(context.Background(), LoginInput{Username: "Alice", Password: "secret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.User.ID != registered.ID || res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Fatalf("unexpected login result: %+v", res)
	}

	stored, _ := env.repo.FindByID(context.Background(), registered.ID)
	if stored.RefreshToken != res.Tokens.RefreshToken {
		t.Fatalf("expected stored refresh token to equal the issued one")
	}

	byEmail, err := env.svc.Login(context.Background(), LoginInput{Email: "ALICE@example.com", Password: "secret"})
	if err != nil {
		t.Fatalf("login by email: %v", err)
	}
	if byEmail.User.ID != registered.ID {
		t.Fatalf("unexpected user for email login")
	}
}

func TestUserServiceLogin_WrongPasswordKeepsRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "secret")
	first, err := env.svc.Login(context.Background(), LoginInput{Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	_, err = env.svc.Login(context.Background(), LoginInput{Username: "alice", Password: "wrong"})
	assertKind(t, err, ErrUnauthorized)

	stored, _ := env.repo.FindByID(context.Background(), u.ID)
	if stored.RefreshToken != first.Tokens.RefreshToken {
		t.Fatalf("failed login must not change the stored refresh token")
	}
}

func TestUserServiceLogin_Errors(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Login(context.Background(), LoginInput{Password: "secret"})
	assertKind(t, err, ErrValidation)

	_, err = env.svc.Login(context.Background(), LoginInput{Username: "alice"})
	assertKind(t, err, ErrValidation)

	_, err = env.svc.Login(context.Background(), LoginInput{Username: "ghost", Password: "secret"})
	assertKind(t, err, ErrNotFound)

	env.svc.limiter = denyLimiter{}
	_, err = env.svc.Login(context.Background(), LoginInput{Username: "ghost", Password: "secret"})
	assertKind(t, err, ErrRateLimited)
}

func TestUserServiceRefresh_RotationRejectsReplay(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com", "secret")
	login, err := env.svc.Login(context.Background(), LoginInput{Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	original := login.Tokens.RefreshToken

	rotated, err := env.svc.RefreshAccessToken(context.Background(), original)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.RefreshToken == original {
		t.Fatalf("expected a new refresh token")
	}

	_, err = env.svc.RefreshAccessToken(context.Background(), original)
	assertKind(t, err, ErrUnauthorized)

	again, err := env.svc.RefreshAccessToken(context.Background(), rotated.RefreshToken)
	if err != nil {
		t.Fatalf("rotated token should work once: %v", err)
	}
	_, err = env.svc.RefreshAccessToken(context.Background(), rotated.RefreshToken)
	assertKind(t, err, ErrUnauthorized)

	if _, err := env.tokens.Verify(again.AccessToken, AccessToken); err != nil {
		t.Fatalf("new access token should verify: %v", err)
	}
}

func TestUserServiceRefresh_TokenErrors(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "secret")

	_, err := env.svc.RefreshAccessToken(context.Background(), "  ")
	assertKind(t, err, ErrUnauthorized)

	_, err = env.svc.RefreshAccessToken(context.Background(), "not.a.jwt")
	assertKind(t, err, ErrTokenInvalid)

	issuedAt := time.Now().UTC()
	env.tokens.now = func() time.Time { return issuedAt }
	stale, err := env.tokens.IssueRefreshToken(domain.User{ID: u.ID})
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	env.tokens.now = func() time.Time { return issuedAt.Add(48 * time.Hour) }
	_, err = env.svc.RefreshAccessToken(context.Background(), stale)
	assertKind(t, err, ErrTokenExpired)

	env.tokens.now = func() time.Time { return time.Now().UTC() }
	ghost, err := env.tokens.IssueRefreshToken(domain.User{ID: "missing"})
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	_, err = env.svc.RefreshAccessToken(context.Background(), ghost)
	assertKind(t, err, ErrNotFound)
}

func TestUserServiceRefresh_ConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com", "secret")
	login, err := env.svc.Login(context.Background(), LoginInput{Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	const workers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.svc.RefreshAccessToken(context.Background(), login.Tokens.RefreshToken); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if success != 1 {
		t.Fatalf("expected exactly one successful refresh, got %d", success)
	}
}

func TestUserServiceLogout_ClearsRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "secret")
	login, err := env.svc.Login(context.Background(), LoginInput{Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := env.svc.Logout(context.Background(), Identity{UserID: u.ID}); err != nil {
		t.Fatalf("logout: %v", err)
	}
	stored, _ := env.repo.FindByID(context.Background(), u.ID)
	if stored.RefreshToken != "" {
		t.Fatalf("expected refresh token cleared")
	}

	_, err = env.svc.RefreshAccessToken(context.Background(), login.Tokens.RefreshToken)
	assertKind(t, err, ErrUnauthorized)

	assertKind(t, env.svc.Logout(context.Background(), Identity{}), ErrUnauthorized)
}

func TestUserServiceChangePassword(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "secret")
	id := Identity{UserID: u.ID}

	assertKind(t, env.svc.ChangePassword(context.Background(), id, ChangePasswordInput{OldPassword: "secret"}), ErrValidation)
	assertKind(t, env.svc.ChangePassword(context.Background(), id, ChangePasswordInput{OldPassword: "bad", NewPassword: "next"}), ErrUnauthorized)

	if err := env.svc.ChangePassword(context.Background(), id, ChangePasswordInput{OldPassword: "secret", NewPassword: "next"}); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := env.svc.Login(context.Background(), LoginInput{Username: "alice", Password: "secret"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old password should no longer work, got %v", err)
	}
	if _, err := env.svc.Login(context.Background(), LoginInput{Username: "alice", Password: "next"}); err != nil {
		t.Fatalf("new password should work: %v", err)
	}
}

func TestUserServiceUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "secret")
	env.register(t, "bob", "bob@example.com", "secret")
	id := Identity{UserID: u.ID}

	_, err := env.svc.UpdateProfile(context.Background(), id, UpdateProfileInput{FullName: "New"})
	assertKind(t, err, ErrValidation)

	updated, err := env.svc.UpdateProfile(context.Background(), id, UpdateProfileInput{FullName: " Alice L ", Email: "AL@example.com"})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.FullName != "alice l" || updated.Email != "al@example.com" {
		t.Fatalf("unexpected profile: %+v", updated)
	}

	_, err = env.svc.UpdateProfile(context.Background(), id, UpdateProfileInput{FullName: "x", Email: "bob@example.com"})
	assertKind(t, err, ErrConflict)
}

func TestUserServiceUpdateImages(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "secret")
	id := Identity{UserID: u.ID}

	_, err := env.svc.UpdateAvatar(context.Background(), id, "")
	assertKind(t, err, ErrValidation)

	avatar := tempUpload(t, "new-avatar.png")
	updated, err := env.svc.UpdateAvatar(context.Background(), id, avatar)
	if err != nil {
		t.Fatalf("update avatar: %v", err)
	}
	if updated.AvatarURL != "https://cdn.test/users/new-avatar.png" {
		t.Fatalf("unexpected avatar url: %s", updated.AvatarURL)
	}
	assertRemoved(t, avatar)

	cover := tempUpload(t, "new-cover.png")
	updated, err = env.svc.UpdateCoverImage(context.Background(), id, cover)
	if err != nil {
		t.Fatalf("update cover: %v", err)
	}
	if updated.CoverImageURL != "https://cdn.test/users/new-cover.png" {
		t.Fatalf("unexpected cover url: %s", updated.CoverImageURL)
	}

	env.uploader.emptyURL = true
	failed := tempUpload(t, "broken.png")
	_, err = env.svc.UpdateCoverImage(context.Background(), id, failed)
	assertKind(t, err, ErrUpload)
	assertRemoved(t, failed)
}

func TestUserServiceGetCurrentUser(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "secret")

	got, err := env.svc.GetCurrentUser(context.Background(), Identity{UserID: u.ID})
	if err != nil {
		t.Fatalf("get current user: %v", err)
	}
	if got.Username != "alice" {
		t.Fatalf("unexpected user: %+v", got)
	}

	_, err = env.svc.GetCurrentUser(context.Background(), Identity{UserID: "missing"})
	assertKind(t, err, ErrNotFound)
}

func TestErrorMessagesDoNotLeakCause(t *testing.T) {
	err := internalError("store operation failed", errors.New("dial tcp 10.0.0.1: refused"))
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error")
	}
	if e.Message != "store operation failed" {
		t.Fatalf("unexpected message: %s", e.Message)
	}
	assertKind(t, err, ErrInternal)
}

func TestUserServiceRegister_PasswordTooLong(t *testing.T) {
	env := newTestEnv(t)
	avatar := tempUpload(t, "avatar.png")

	_, err := env.svc.Register(context.Background(), RegisterInput{
		Username: "alice", FullName: "Alice", Email: "alice@example.com",
		Password:   strings.Repeat("p", 80),
		AvatarPath: avatar,
	})
	assertKind(t, err, ErrValidation)
	assertRemoved(t, avatar)
	if len(env.uploader.uploads) != 0 || len(env.uploader.deleted) != 0 {
		t.Fatalf("expected no media side effects, uploads=%v deleted=%v", env.uploader.uploads, env.uploader.deleted)
	}

	longest := strings.Repeat("p", MaxPasswordBytes)
	env.register(t, "alice", "alice@example.com", longest)
	if _, err := env.svc.Login(context.Background(), LoginInput{Username: "alice", Password: longest}); err != nil {
		t.Fatalf("login with %d-byte password: %v", MaxPasswordBytes, err)
	}
}

func TestUserServiceChangePassword_TooLong(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "secret")

	err := env.svc.ChangePassword(context.Background(), Identity{UserID: u.ID}, ChangePasswordInput{
		OldPassword: "secret",
		NewPassword: strings.Repeat("n", 100),
	})
	assertKind(t, err, ErrValidation)
	if _, err := env.svc.Login(context.Background(), LoginInput{Username: "alice", Password: "secret"}); err != nil {
		t.Fatalf("old password should still work: %v", err)
	}
}

func TestUserServiceRegister_ReloadFailureStillSucceeds(t *testing.T) {
	uploader := &fakeUploader{}
	repo := &failingFindRepo{MemoryUserRepository: repository.NewMemoryUserRepository()}
	svc := NewUserService(zap.NewNop(), repo, NewBcryptHasher(bcrypt.MinCost), newTestJWTService(), uploader, nil)

	u, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice", FullName: "Alice", Email: "alice@example.com", Password: "secret",
		AvatarPath: tempUpload(t, "avatar.png"),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.ID == "" || u.Username != "alice" || u.AvatarURL == "" || u.CreatedAt.IsZero() {
		t.Fatalf("unexpected user: %+v", u)
	}
	if len(uploader.deleted) != 0 {
		t.Fatalf("stored user must keep its assets, deleted=%v", uploader.deleted)
	}
}

func TestUserServiceLogin_LimiterCountsOnlyFailures(t *testing.T) {
	env := newTestEnv(t)
	env.svc.limiter = NewMemoryLoginRateLimiter(time.Minute, 2)
	env.register(t, "alice", "alice@example.com", "secret")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := env.svc.Login(ctx, LoginInput{Username: "alice", Password: "secret"}); err != nil {
			t.Fatalf("successful login %d: %v", i, err)
		}
	}

	_, err := env.svc.Login(ctx, LoginInput{Username: "alice", Password: "wrong"})
	assertKind(t, err, ErrUnauthorized)
	if _, err := env.svc.Login(ctx, LoginInput{Username: "alice", Password: "secret"}); err != nil {
		t.Fatalf("login after one failure: %v", err)
	}

	for i := 0; i < 2; i++ {
		_, err = env.svc.Login(ctx, LoginInput{Username: "alice", Password: "wrong"})
		assertKind(t, err, ErrUnauthorized)
	}
	_, err = env.svc.Login(ctx, LoginInput{Username: "alice", Password: "secret"})
	assertKind(t, err, ErrRateLimited)
}
