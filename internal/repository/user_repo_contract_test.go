package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidtube/internal/domain"
)

func newTestUser(username, email string) domain.User {
	return domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		FullName:     "test user",
		PasswordHash: "hash",
		AvatarURL:    "https://cdn.example.com/a.png",
	}
}

// runUserRepositoryContract ejercita el comportamiento común a todos los
// backends de UserRepository.
func runUserRepositoryContract(t *testing.T, repo UserRepository) {
	ctx := context.Background()

	t.Run("create and find", func(t *testing.T) {
		u := newTestUser("alice", "alice@example.com")
		require.NoError(t, repo.Create(ctx, u))

		byID, err := repo.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", byID.Username)
		assert.False(t, byID.CreatedAt.IsZero())
		assert.False(t, byID.UpdatedAt.IsZero())

		byName, err := repo.FindByUsernameOrEmail(ctx, "alice", "")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byName.ID)

		byEmail, err := repo.FindByUsernameOrEmail(ctx, "", "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byEmail.ID)
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = repo.FindByUsernameOrEmail(ctx, "nobody", "nobody@example.com")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = repo.FindByUsernameOrEmail(ctx, "", "")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unique username and email", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newTestUser("bob", "bob@example.com")))

		err := repo.Create(ctx, newTestUser("bob", "other@example.com"))
		assert.ErrorIs(t, err, ErrDuplicate)

		err = repo.Create(ctx, newTestUser("other", "bob@example.com"))
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("update by id", func(t *testing.T) {
		u := newTestUser("carol", "carol@example.com")
		require.NoError(t, repo.Create(ctx, u))

		name := "carol updated"
		avatar := "https://cdn.example.com/new.png"
		token := "refresh-1"
		updated, err := repo.UpdateByID(ctx, u.ID, domain.UserPatch{
			FullName:     &name,
			AvatarURL:    &avatar,
			RefreshToken: &token,
		})
		require.NoError(t, err)
		assert.Equal(t, name, updated.FullName)
		assert.Equal(t, avatar, updated.AvatarURL)
		assert.Equal(t, token, updated.RefreshToken)
		assert.Equal(t, "carol@example.com", updated.Email)

		cleared, err := repo.UpdateByID(ctx, u.ID, domain.UserPatch{ClearRefreshToken: true})
		require.NoError(t, err)
		assert.Empty(t, cleared.RefreshToken)

		taken := "bob@example.com"
		_, err = repo.UpdateByID(ctx, u.ID, domain.UserPatch{Email: &taken})
		assert.ErrorIs(t, err, ErrDuplicate)

		_, err = repo.UpdateByID(ctx, uuid.NewString(), domain.UserPatch{FullName: &name})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty patch leaves record untouched", func(t *testing.T) {
		u := newTestUser("frank", "frank@example.com")
		require.NoError(t, repo.Create(ctx, u))
		before, err := repo.FindByID(ctx, u.ID)
		require.NoError(t, err)

		same, err := repo.UpdateByID(ctx, u.ID, domain.UserPatch{})
		require.NoError(t, err)
		assert.Equal(t, before.FullName, same.FullName)
		assert.True(t, before.UpdatedAt.Equal(same.UpdatedAt))

		_, err = repo.UpdateByID(ctx, uuid.NewString(), domain.UserPatch{})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("swap refresh token", func(t *testing.T) {
		u := newTestUser("dave", "dave@example.com")
		u.RefreshToken = "r1"
		require.NoError(t, repo.Create(ctx, u))

		ok, err := repo.SwapRefreshToken(ctx, u.ID, "stale", "r2")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = repo.SwapRefreshToken(ctx, u.ID, "r1", "r2")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.SwapRefreshToken(ctx, u.ID, "r1", "r3")
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := repo.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "r2", got.RefreshToken)

		_, err = repo.SwapRefreshToken(ctx, uuid.NewString(), "r1", "r2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent swap has one winner", func(t *testing.T) {
		u := newTestUser("erin", "erin@example.com")
		u.RefreshToken = "shared"
		require.NoError(t, repo.Create(ctx, u))

		const workers = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := repo.SwapRefreshToken(ctx, u.ID, "shared", uuid.NewString())
				if err == nil && ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}
