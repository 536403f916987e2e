package repository

import (
	"context"
	"errors"

	"vidtube/internal/domain"
)

var (
	// ErrNotFound se devuelve cuando no existe el usuario buscado.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicate se devuelve al violar la unicidad de username o email.
	ErrDuplicate = errors.New("username or email already exists")
)

// UserRepository define el contrato de persistencia para usuarios.
//
// Cada operación es una lectura o escritura atómica sobre un único
// documento; no hay transacciones que abarquen varias llamadas.
type UserRepository interface {
	// FindByUsernameOrEmail busca por cualquiera de las dos claves; un
	// argumento vacío se ignora.
	FindByUsernameOrEmail(ctx context.Context, username, email string) (domain.User, error)
	FindByID(ctx context.Context, id string) (domain.User, error)
	Create(ctx context.Context, user domain.User) error
	// UpdateByID aplica el patch y devuelve el usuario resultante.
	UpdateByID(ctx context.Context, id string, patch domain.UserPatch) (domain.User, error)
	// SwapRefreshToken reemplaza el refresh token solo si el valor
	// almacenado sigue siendo expected. Devuelve false si perdió la carrera.
	SwapRefreshToken(ctx context.Context, id, expected, next string) (bool, error)
	Ping(ctx context.Context) error
}
