package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vidtube/internal/domain"
	"vidtube/internal/media"
	"vidtube/internal/repository"
)

// Identity es la identidad autenticada que produce el middleware de auth.
// Las operaciones protegidas la reciben explícitamente y nunca la modifican.
type Identity struct {
	UserID   string
	Username string
	Email    string
	FullName string
}

// UserService coordina los casos de uso de cuentas: registro, login,
// logout, rotación de refresh tokens y cambios de perfil.
type UserService struct {
	logger   *zap.Logger
	users    repository.UserRepository
	hasher   PasswordHasher
	tokens   *JWTService
	uploader media.Uploader
	limiter  LoginRateLimiter
}

func NewUserService(
	logger *zap.Logger,
	users repository.UserRepository,
	hasher PasswordHasher,
	tokens *JWTService,
	uploader media.Uploader,
	limiter LoginRateLimiter,
) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if uploader == nil {
		uploader = media.NewDisabledUploader("media uploader not configured")
	}
	return &UserService{
		logger:   logger,
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		uploader: uploader,
		limiter:  limiter,
	}
}

type RegisterInput struct {
	Username       string
	FullName       string
	Email          string
	Password       string
	AvatarPath     string
	CoverImagePath string
}

type LoginInput struct {
	Username string
	Email    string
	Password string
}

type LoginResult struct {
	User   domain.PublicUser
	Tokens TokenPair
}

type ChangePasswordInput struct {
	OldPassword string
	NewPassword string
}

type UpdateProfileInput struct {
	FullName string
	Email    string
}

func (s *UserService) Register(ctx context.Context, in RegisterInput) (domain.PublicUser, error) {
	defer s.discardLocal(in.AvatarPath, in.CoverImagePath)

	if isBlank(in.Username, in.FullName, in.Email, in.Password) {
		return domain.PublicUser{}, newError(ErrValidation, "All fields are required")
	}
	if strings.TrimSpace(in.AvatarPath) == "" {
		return domain.PublicUser{}, newError(ErrValidation, "User avatar image is required")
	}
	if len(in.Password) > MaxPasswordBytes {
		return domain.PublicUser{}, errPasswordTooLong()
	}

	username := normalize(in.Username)
	email := normalize(in.Email)

	_, err := s.users.FindByUsernameOrEmail(ctx, username, email)
	if err == nil {
		return domain.PublicUser{}, newError(ErrConflict, "User with same email or username already exists")
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return domain.PublicUser{}, internalError("could not check existing user", err)
	}

	avatar, err := s.upload(ctx, in.AvatarPath)
	if err != nil {
		return domain.PublicUser{}, wrapError(ErrUpload, "Failed to upload avatar image", err)
	}
	uploaded := []media.Asset{avatar}

	var cover media.Asset
	if strings.TrimSpace(in.CoverImagePath) != "" {
		cover, err = s.upload(ctx, in.CoverImagePath)
		if err != nil {
			s.compensate(ctx, uploaded...)
			return domain.PublicUser{}, wrapError(ErrUpload, "Failed to upload cover image", err)
		}
		uploaded = append(uploaded, cover)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		s.compensate(ctx, uploaded...)
		return domain.PublicUser{}, internalError("could not hash password", err)
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:            uuid.NewString(),
		Username:      username,
		Email:         email,
		FullName:      normalize(in.FullName),
		PasswordHash:  hash,
		AvatarURL:     avatar.URL,
		CoverImageURL: cover.URL,
		WatchHistory:  []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		s.compensate(ctx, uploaded...)
		if errors.Is(err, repository.ErrDuplicate) {
			return domain.PublicUser{}, newError(ErrConflict, "User with same email or username already exists")
		}
		return domain.PublicUser{}, internalError("Something went wrong while registering the user", err)
	}

	// El usuario ya existe; una relectura fallida no debe convertirse en error.
	created, err := s.users.FindByID(ctx, user.ID)
	if err != nil {
		s.logger.Warn("reload registered user", zap.String("user_id", user.ID), zap.Error(err))
		created = user
	}
	s.logger.Info("user registered", zap.String("user_id", created.ID), zap.String("username", created.Username))
	return created.Public(), nil
}

func (s *UserService) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	username := normalize(in.Username)
	email := normalize(in.Email)
	if username == "" && email == "" {
		return LoginResult{}, newError(ErrValidation, "Username or email is required")
	}
	if strings.TrimSpace(in.Password) == "" {
		return LoginResult{}, newError(ErrValidation, "Password is required")
	}

	limiterKey := username
	if limiterKey == "" {
		limiterKey = email
	}
	if s.limiter != nil && !s.limiter.Allow(ctx, limiterKey) {
		return LoginResult{}, newError(ErrRateLimited, "Too many login attempts, try again later")
	}

	user, err := s.users.FindByUsernameOrEmail(ctx, username, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.recordLoginFailure(ctx, limiterKey)
			return LoginResult{}, newError(ErrNotFound, "User doesn't exist. Please register your account.")
		}
		return LoginResult{}, internalError("could not load user", err)
	}
	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		s.recordLoginFailure(ctx, limiterKey)
		return LoginResult{}, newError(ErrUnauthorized, "Incorrect user login credentials.")
	}
	if s.limiter != nil {
		s.limiter.Reset(ctx, limiterKey)
	}

	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		return LoginResult{}, internalError("Error in generating token", err)
	}
	updated, err := s.users.UpdateByID(ctx, user.ID, domain.UserPatch{RefreshToken: &pair.RefreshToken})
	if err != nil {
		return LoginResult{}, internalError("Error in generating token", err)
	}

	s.logger.Info("user logged in", zap.String("user_id", user.ID))
	return LoginResult{User: updated.Public(), Tokens: pair}, nil
}

func (s *UserService) recordLoginFailure(ctx context.Context, key string) {
	if s.limiter != nil {
		s.limiter.RecordFailure(ctx, key)
	}
}

func (s *UserService) Logout(ctx context.Context, id Identity) error {
	if err := requireIdentity(id); err != nil {
		return err
	}
	if _, err := s.users.UpdateByID(ctx, id.UserID, domain.UserPatch{ClearRefreshToken: true}); err != nil {
		return s.lookupError(err)
	}
	s.logger.Info("user logged out", zap.String("user_id", id.UserID))
	return nil
}

// RefreshAccessToken canjea un refresh token por un par nuevo. El token
// presentado debe coincidir con el almacenado y se rota con un
// compare-and-swap, de modo que un token ya rotado nunca vuelve a servir.
func (s *UserService) RefreshAccessToken(ctx context.Context, presented string) (TokenPair, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return TokenPair{}, newError(ErrUnauthorized, "Unauthorized request")
	}

	claims, err := s.tokens.Verify(presented, RefreshToken)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return TokenPair{}, newError(ErrTokenExpired, "Refresh token expired")
		}
		return TokenPair{}, newError(ErrTokenInvalid, "Invalid refresh token")
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		return TokenPair{}, s.lookupError(err)
	}
	if subtle.ConstantTimeCompare([]byte(user.RefreshToken), []byte(presented)) != 1 {
		s.logger.Warn("refresh token reuse rejected", zap.String("user_id", user.ID))
		return TokenPair{}, newError(ErrUnauthorized, "Refresh token is expired or used")
	}

	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		return TokenPair{}, internalError("Error in generating token", err)
	}
	swapped, err := s.users.SwapRefreshToken(ctx, user.ID, presented, pair.RefreshToken)
	if err != nil {
		return TokenPair{}, s.lookupError(err)
	}
	if !swapped {
		s.logger.Warn("concurrent refresh lost the race", zap.String("user_id", user.ID))
		return TokenPair{}, newError(ErrUnauthorized, "Refresh token is expired or used")
	}
	return pair, nil
}

// ChangePassword confirma la escritura en el store antes de devolver éxito.
func (s *UserService) ChangePassword(ctx context.Context, id Identity, in ChangePasswordInput) error {
	if err := requireIdentity(id); err != nil {
		return err
	}
	if isBlank(in.OldPassword, in.NewPassword) {
		return newError(ErrValidation, "Old and new password are required")
	}
	if len(in.NewPassword) > MaxPasswordBytes {
		return errPasswordTooLong()
	}

	user, err := s.users.FindByID(ctx, id.UserID)
	if err != nil {
		return s.lookupError(err)
	}
	if !s.hasher.Verify(in.OldPassword, user.PasswordHash) {
		return newError(ErrUnauthorized, "Invalid old password")
	}

	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return internalError("could not hash password", err)
	}
	if _, err := s.users.UpdateByID(ctx, user.ID, domain.UserPatch{PasswordHash: &hash}); err != nil {
		return s.lookupError(err)
	}
	s.logger.Info("password changed", zap.String("user_id", user.ID))
	return nil
}

func (s *UserService) UpdateProfile(ctx context.Context, id Identity, in UpdateProfileInput) (domain.PublicUser, error) {
	if err := requireIdentity(id); err != nil {
		return domain.PublicUser{}, err
	}
	if isBlank(in.FullName, in.Email) {
		return domain.PublicUser{}, newError(ErrValidation, "All fields are required")
	}

	fullName := normalize(in.FullName)
	email := normalize(in.Email)
	updated, err := s.users.UpdateByID(ctx, id.UserID, domain.UserPatch{FullName: &fullName, Email: &email})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return domain.PublicUser{}, newError(ErrConflict, "Email is already in use")
		}
		return domain.PublicUser{}, s.lookupError(err)
	}
	return updated.Public(), nil
}

func (s *UserService) UpdateAvatar(ctx context.Context, id Identity, localPath string) (domain.PublicUser, error) {
	return s.replaceImage(ctx, id, localPath, "Avatar", func(p *domain.UserPatch, url string) {
		p.AvatarURL = &url
	})
}

func (s *UserService) UpdateCoverImage(ctx context.Context, id Identity, localPath string) (domain.PublicUser, error) {
	return s.replaceImage(ctx, id, localPath, "Cover image", func(p *domain.UserPatch, url string) {
		p.CoverImageURL = &url
	})
}

func (s *UserService) GetCurrentUser(ctx context.Context, id Identity) (domain.PublicUser, error) {
	if err := requireIdentity(id); err != nil {
		return domain.PublicUser{}, err
	}
	user, err := s.users.FindByID(ctx, id.UserID)
	if err != nil {
		return domain.PublicUser{}, s.lookupError(err)
	}
	return user.Public(), nil
}

func (s *UserService) replaceImage(
	ctx context.Context,
	id Identity,
	localPath string,
	label string,
	set func(p *domain.UserPatch, url string),
) (domain.PublicUser, error) {
	defer s.discardLocal(localPath)

	if err := requireIdentity(id); err != nil {
		return domain.PublicUser{}, err
	}
	if strings.TrimSpace(localPath) == "" {
		return domain.PublicUser{}, newError(ErrValidation, label+" file is missing")
	}

	asset, err := s.upload(ctx, localPath)
	if err != nil {
		return domain.PublicUser{}, wrapError(ErrUpload, "Error while uploading "+strings.ToLower(label), err)
	}

	var patch domain.UserPatch
	set(&patch, asset.URL)
	updated, err := s.users.UpdateByID(ctx, id.UserID, patch)
	if err != nil {
		s.compensate(ctx, asset)
		return domain.PublicUser{}, s.lookupError(err)
	}
	return updated.Public(), nil
}

// upload sube el archivo y exige una URL no vacía en la respuesta.
func (s *UserService) upload(ctx context.Context, localPath string) (media.Asset, error) {
	asset, err := s.uploader.Upload(ctx, localPath)
	if err != nil {
		return media.Asset{}, err
	}
	if strings.TrimSpace(asset.URL) == "" {
		s.compensate(ctx, asset)
		return media.Asset{}, media.ErrUploadFailed
	}
	return asset, nil
}

// compensate borra assets ya subidos cuando la operación no se completa.
// Los fallos se registran pero no se propagan.
func (s *UserService) compensate(ctx context.Context, assets ...media.Asset) {
	ctx = context.WithoutCancel(ctx)
	for _, a := range assets {
		if a.Key == "" {
			continue
		}
		if err := s.uploader.Delete(ctx, a.Key); err != nil {
			s.logger.Warn("orphaned media asset", zap.String("key", a.Key), zap.Error(err))
		}
	}
}

// discardLocal elimina los archivos temporales de subida.
func (s *UserService) discardLocal(paths ...string) {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("remove temp upload", zap.String("path", p), zap.Error(err))
		}
	}
}

func (s *UserService) lookupError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return newError(ErrNotFound, "User not found")
	}
	return internalError("store operation failed", err)
}

func errPasswordTooLong() error {
	return newError(ErrValidation, "Password must be at most 72 bytes")
}

func requireIdentity(id Identity) error {
	if strings.TrimSpace(id.UserID) == "" {
		return newError(ErrUnauthorized, "Unauthorized request")
	}
	return nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func isBlank(fields ...string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) == "" {
			return true
		}
	}
	return false
}
