package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/terminguard/audit"
	"github.com/jmcleod/terminguard/internal/config"
	"github.com/jmcleod/terminguard/session"
	"github.com/jmcleod/terminguard/storage/memory"
	"github.com/jmcleod/terminguard/users"
)

func withFastHashing(t *testing.T) {
	t.Helper()
	prev := cfg
	cfg = &config.Config{BcryptRounds: bcrypt.MinCost}
	t.Cleanup(func() { cfg = prev })
}

func TestCreateUser_StoresAndAudits(t *testing.T) {
	withFastHashing(t)
	ctx := context.Background()
	repo := memory.NewRepository()

	var out bytes.Buffer
	require.NoError(t, createUser(ctx, &out, repo, "Admin", "admin-password", session.RoleAdmin))
	assert.Equal(t, "Created admin user admin\n", out.String())

	store := newUserStore(repo)
	u, err := store.Lookup(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, session.RoleAdmin, u.Role)
	assert.True(t, store.Verify(u, "admin-password"))

	entries, err := audit.NewTrail(repo).All(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.EventUserCreated, entries[0].Event)
	assert.Equal(t, "admin", entries[0].Username)
}

func TestCreateUser_RejectsUnknownRole(t *testing.T) {
	withFastHashing(t)
	err := createUser(context.Background(), &bytes.Buffer{}, memory.NewRepository(), "admin", "admin-password", "root")
	assert.ErrorContains(t, err, "invalid role")
}

func TestCreateUser_Duplicate(t *testing.T) {
	withFastHashing(t)
	ctx := context.Background()
	repo := memory.NewRepository()
	require.NoError(t, createUser(ctx, &bytes.Buffer{}, repo, "admin", "admin-password", session.RoleAdmin))

	err := createUser(ctx, &bytes.Buffer{}, repo, "admin", "other-password", session.RoleUser)
	assert.ErrorIs(t, err, users.ErrExists)
}

func TestListUsers(t *testing.T) {
	withFastHashing(t)
	ctx := context.Background()
	repo := memory.NewRepository()
	require.NoError(t, createUser(ctx, &bytes.Buffer{}, repo, "admin", "admin-password", session.RoleAdmin))
	require.NoError(t, createUser(ctx, &bytes.Buffer{}, repo, "mitarbeiter", "staff-password", session.RoleUser))

	var out bytes.Buffer
	require.NoError(t, listUsers(ctx, &out, repo))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "USERNAME"))
	assert.Contains(t, out.String(), "mitarbeiter")
	assert.Contains(t, out.String(), "admin ")
}

func TestReadPassword(t *testing.T) {
	p, err := readPassword(strings.NewReader("secret-password\nignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "secret-password", p)

	p, err = readPassword(strings.NewReader("no-newline"))
	require.NoError(t, err)
	assert.Equal(t, "no-newline", p)

	_, err = readPassword(strings.NewReader(""))
	assert.Error(t, err)
}
