package repository

import (
	"context"
	"sync"
	"time"

	"vidtube/internal/domain"
)

// MemoryUserRepository guarda usuarios en memoria. Útil para desarrollo
// local (STORE_DRIVER=memory) y para tests.
type MemoryUserRepository struct {
	mu    sync.Mutex
	users map[string]domain.User
	now   func() time.Time
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		users: make(map[string]domain.User),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryUserRepository) FindByUsernameOrEmail(_ context.Context, username, email string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if username == "" && email == "" {
		return domain.User{}, ErrNotFound
	}
	for _, u := range r.users {
		if (username != "" && u.Username == username) || (email != "" && u.Email == email) {
			return cloneUser(u), nil
		}
	}
	return domain.User{}, ErrNotFound
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *MemoryUserRepository) Create(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; ok {
		return ErrDuplicate
	}
	if r.conflictsLocked(user.ID, user.Username, user.Email) {
		return ErrDuplicate
	}
	now := r.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	r.users[user.ID] = cloneUser(user)
	return nil
}

func (r *MemoryUserRepository) UpdateByID(ctx context.Context, id string, patch domain.UserPatch) (domain.User, error) {
	if patch.IsEmpty() {
		return r.FindByID(ctx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	if patch.Email != nil && r.conflictsLocked(id, "", *patch.Email) {
		return domain.User{}, ErrDuplicate
	}
	u = patch.Apply(u)
	u.UpdatedAt = r.now()
	r.users[id] = u
	return cloneUser(u), nil
}

func (r *MemoryUserRepository) SwapRefreshToken(_ context.Context, id, expected, next string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return false, ErrNotFound
	}
	if expected == "" || u.RefreshToken != expected {
		return false, nil
	}
	u.RefreshToken = next
	u.UpdatedAt = r.now()
	r.users[id] = u
	return true, nil
}

func (r *MemoryUserRepository) Ping(_ context.Context) error {
	return nil
}

func (r *MemoryUserRepository) conflictsLocked(selfID, username, email string) bool {
	for id, u := range r.users {
		if id == selfID {
			continue
		}
		if (username != "" && u.Username == username) || (email != "" && u.Email == email) {
			return true
		}
	}
	return false
}

func cloneUser(u domain.User) domain.User {
	if u.WatchHistory != nil {
		u.WatchHistory = append([]string(nil), u.WatchHistory...)
	}
	return u
}
