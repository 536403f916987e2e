package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vidtube/internal/domain"
	"vidtube/internal/service"
)

// UserHandler mantiene dependencias para endpoints de usuarios.
type UserHandler struct {
	logger   *zap.Logger
	userServ *service.UserService
	jwtServ  *service.JWTService
	cookies  *CookieHelper
	uploads  *TempUploads
}

func NewUserHandler(
	logger *zap.Logger,
	userServ *service.UserService,
	jwtServ *service.JWTService,
	cookies *CookieHelper,
	uploads *TempUploads,
) *UserHandler {
	return &UserHandler{
		logger:   logger,
		userServ: userServ,
		jwtServ:  jwtServ,
		cookies:  cookies,
		uploads:  uploads,
	}
}

// Register maneja POST /api/v1/users/register (multipart).
func (h *UserHandler) Register(c *gin.Context) {
	var req struct {
		Username string `form:"username" json:"username"`
		FullName string `form:"fullName" json:"fullName"`
		Email    string `form:"email" json:"email"`
		Password string `form:"password" json:"password"`
	}
	if err := c.ShouldBind(&req); err != nil {
		h.logger.Warn("invalid register request", zap.Error(err))
		respondFailure(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	avatarPath, err := h.uploads.Save(c, "avatar")
	if err != nil {
		h.logger.Warn("save avatar failed", zap.Error(err))
		respondFailure(c, http.StatusBadRequest, "Could not read avatar file")
		return
	}
	coverPath, err := h.uploads.Save(c, "coverImage")
	if err != nil {
		h.logger.Warn("save cover image failed", zap.Error(err))
		h.uploads.discard(avatarPath)
		respondFailure(c, http.StatusBadRequest, "Could not read cover image file")
		return
	}

	user, err := h.userServ.Register(c.Request.Context(), service.RegisterInput{
		Username:       req.Username,
		FullName:       req.FullName,
		Email:          req.Email,
		Password:       req.Password,
		AvatarPath:     avatarPath,
		CoverImagePath: coverPath,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, user, "New user registered successfully")
}

// Login maneja POST /api/v1/users/login.
func (h *UserHandler) Login(c *gin.Context) {
	var req struct {
		Username string `form:"username" json:"username"`
		Email    string `form:"email" json:"email"`
		Password string `form:"password" json:"password"`
	}
	if err := c.ShouldBind(&req); err != nil {
		h.logger.Warn("invalid login request", zap.Error(err))
		respondFailure(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.userServ.Login(c.Request.Context(), service.LoginInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.cookies.SetAuthCookies(c, res.Tokens.AccessToken, res.Tokens.RefreshToken, h.jwtServ.AccessTTL(), h.jwtServ.RefreshTTL())
	respond(c, http.StatusOK, gin.H{
		"user":         res.User,
		"accessToken":  res.Tokens.AccessToken,
		"refreshToken": res.Tokens.RefreshToken,
	}, "User logged in successfully")
}

// Logout maneja POST /api/v1/users/logout.
func (h *UserHandler) Logout(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	// Las cookies se borran aunque el store falle.
	h.cookies.ClearAuthCookies(c)
	if err := h.userServ.Logout(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{}, "User logged out successfully")
}

// RefreshAccessToken maneja POST /api/v1/users/refresh-token. El token
// llega en cookie o en el cuerpo.
func (h *UserHandler) RefreshAccessToken(c *gin.Context) {
	token := h.cookies.RefreshToken(c)
	if token == "" {
		var req struct {
			RefreshToken string `form:"refreshToken" json:"refreshToken"`
		}
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBind(&req); err != nil {
				h.logger.Warn("invalid refresh request", zap.Error(err))
				respondFailure(c, http.StatusBadRequest, "Invalid request body")
				return
			}
		}
		token = req.RefreshToken
	}

	tokens, err := h.userServ.RefreshAccessToken(c.Request.Context(), token)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.cookies.SetAuthCookies(c, tokens.AccessToken, tokens.RefreshToken, h.jwtServ.AccessTTL(), h.jwtServ.RefreshTTL())
	respond(c, http.StatusOK, tokens, "Access token refreshed")
}

// ChangePassword maneja POST /api/v1/users/change-password.
func (h *UserHandler) ChangePassword(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	var req struct {
		OldPassword string `form:"oldPassword" json:"oldPassword"`
		NewPassword string `form:"newPassword" json:"newPassword"`
	}
	if err := c.ShouldBind(&req); err != nil {
		h.logger.Warn("invalid change password request", zap.Error(err))
		respondFailure(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.userServ.ChangePassword(c.Request.Context(), id, service.ChangePasswordInput{
		OldPassword: req.OldPassword,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{}, "Password changed successfully")
}

// GetCurrentUser maneja GET /api/v1/users/current-user.
func (h *UserHandler) GetCurrentUser(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	user, err := h.userServ.GetCurrentUser(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, user, "Current user fetched successfully")
}

// UpdateAccount maneja PATCH /api/v1/users/update-account.
func (h *UserHandler) UpdateAccount(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	var req struct {
		FullName string `form:"fullName" json:"fullName"`
		Email    string `form:"email" json:"email"`
	}
	if err := c.ShouldBind(&req); err != nil {
		h.logger.Warn("invalid update account request", zap.Error(err))
		respondFailure(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.userServ.UpdateProfile(c.Request.Context(), id, service.UpdateProfileInput{
		FullName: req.FullName,
		Email:    req.Email,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, user, "Account details updated successfully")
}

// UpdateAvatar maneja PATCH /api/v1/users/avatar (multipart).
func (h *UserHandler) UpdateAvatar(c *gin.Context) {
	h.updateImage(c, "avatar", h.userServ.UpdateAvatar, "Avatar image updated successfully")
}

// UpdateCoverImage maneja PATCH /api/v1/users/cover-image (multipart).
func (h *UserHandler) UpdateCoverImage(c *gin.Context) {
	h.updateImage(c, "coverImage", h.userServ.UpdateCoverImage, "Cover image updated successfully")
}

type imageUpdater func(ctx context.Context, id service.Identity, localPath string) (domain.PublicUser, error)

func (h *UserHandler) updateImage(c *gin.Context, field string, update imageUpdater, message string) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	localPath, err := h.uploads.Save(c, field)
	if err != nil {
		h.logger.Warn("save upload failed", zap.String("field", field), zap.Error(err))
		respondFailure(c, http.StatusBadRequest, "Could not read uploaded file")
		return
	}
	user, err := update(c.Request.Context(), id, localPath)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, user, message)
}

func (h *UserHandler) identity(c *gin.Context) (service.Identity, bool) {
	id, ok := CurrentIdentity(c)
	if !ok {
		respondFailure(c, http.StatusUnauthorized, "Unauthorized request")
		return service.Identity{}, false
	}
	return id, true
}
