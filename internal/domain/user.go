package domain

import "time"

// User es el registro persistido de una cuenta.
type User struct {
	ID            string    `json:"_id" bson:"_id"`
	Username      string    `json:"username" bson:"username"`
	Email         string    `json:"email" bson:"email"`
	FullName      string    `json:"fullName" bson:"full_name"`
	PasswordHash  string    `json:"-" bson:"password_hash"`
	AvatarURL     string    `json:"avatar" bson:"avatar_url"`
	CoverImageURL string    `json:"coverImage" bson:"cover_image_url"`
	RefreshToken  string    `json:"-" bson:"refresh_token,omitempty"`
	WatchHistory  []string  `json:"watchHistory" bson:"watch_history"`
	CreatedAt     time.Time `json:"createdAt" bson:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" bson:"updated_at"`
}

// PublicUser es la proyección que cruza la frontera HTTP: nunca lleva
// hash de contraseña ni refresh token.
type PublicUser struct {
	ID            string    `json:"_id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	FullName      string    `json:"fullName"`
	AvatarURL     string    `json:"avatar"`
	CoverImageURL string    `json:"coverImage"`
	WatchHistory  []string  `json:"watchHistory"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Public devuelve el usuario sin campos secretos.
func (u User) Public() PublicUser {
	history := u.WatchHistory
	if history == nil {
		history = []string{}
	}
	return PublicUser{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		FullName:      u.FullName,
		AvatarURL:     u.AvatarURL,
		CoverImageURL: u.CoverImageURL,
		WatchHistory:  history,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

// UserPatch describe una actualización parcial. Los punteros nil no se tocan.
type UserPatch struct {
	FullName          *string
	Email             *string
	PasswordHash      *string
	AvatarURL         *string
	CoverImageURL     *string
	RefreshToken      *string
	ClearRefreshToken bool
}

// IsEmpty indica si el patch no modifica nada.
func (p UserPatch) IsEmpty() bool {
	return p.FullName == nil &&
		p.Email == nil &&
		p.PasswordHash == nil &&
		p.AvatarURL == nil &&
		p.CoverImageURL == nil &&
		p.RefreshToken == nil &&
		!p.ClearRefreshToken
}

// Apply aplica el patch sobre una copia del usuario.
func (p UserPatch) Apply(u User) User {
	if p.FullName != nil {
		u.FullName = *p.FullName
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
	if p.AvatarURL != nil {
		u.AvatarURL = *p.AvatarURL
	}
	if p.CoverImageURL != nil {
		u.CoverImageURL = *p.CoverImageURL
	}
	if p.RefreshToken != nil {
		u.RefreshToken = *p.RefreshToken
	}
	if p.ClearRefreshToken {
		u.RefreshToken = ""
	}
	return u
}
