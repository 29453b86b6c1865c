package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/compasshq/compass/internal/shared"
)

type mockRepo struct {
	users  map[int64]User
	hashes map[int64]string
	nextID int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{users: make(map[int64]User), hashes: make(map[int64]string), nextID: 1}
}

func (m *mockRepo) ListUsers(ctx context.Context) ([]User, error) {
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

func (m *mockRepo) GetUser(ctx context.Context, id int64) (User, error) {
	u, ok := m.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return u, nil
}

func (m *mockRepo) CreateUser(ctx context.Context, email, displayName, passwordHash string, roleID int64) (User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return User{}, shared.ErrDuplicate
		}
	}
	id := m.nextID
	m.nextID++
	u := User{ID: id, Email: email, DisplayName: displayName, RoleID: &roleID, IsActive: true}
	m.users[id] = u
	m.hashes[id] = passwordHash
	return u, nil
}

func (m *mockRepo) UpdateUser(ctx context.Context, id int64, displayName string, isActive bool) (User, error) {
	u, ok := m.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	u.DisplayName = displayName
	u.IsActive = isActive
	m.users[id] = u
	return u, nil
}

func (m *mockRepo) DeleteUser(ctx context.Context, id int64) error {
	u, ok := m.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.IsActive = false
	m.users[id] = u
	return nil
}

func TestCreateUserHashesPassword(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	user, err := svc.CreateUser(context.Background(), "Ada@Example.COM ", "ada lovelace", "supersecret", 2)
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, "Ada Lovelace", user.DisplayName)
	require.NotNil(t, user.RoleID)
	assert.Equal(t, int64(2), *user.RoleID)

	hash := repo.hashes[user.ID]
	assert.NotEqual(t, "supersecret", hash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("supersecret")))
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "ada@example.com", "Ada", "supersecret", 2)
	require.NoError(t, err)

	_, err = svc.CreateUser(ctx, "ADA@example.com", "Ada Again", "supersecret", 2)
	assert.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestNormalizeNamePreservesMixedCase(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	user, err := svc.CreateUser(context.Background(), "conor@example.com", "Conor  McGregor", "supersecret", 2)
	require.NoError(t, err)
	assert.Equal(t, "Conor McGregor", user.DisplayName)
}

func TestDeactivateUser(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "ada@example.com", "Ada", "supersecret", 2)
	require.NoError(t, err)

	require.NoError(t, svc.DeactivateUser(ctx, user.ID))
	got, err := svc.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	assert.ErrorIs(t, svc.DeactivateUser(ctx, 999), shared.ErrNotFound)
}
