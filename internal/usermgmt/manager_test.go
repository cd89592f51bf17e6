package usermgmt

import (
	"bytes"
	"context"
	"strings"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *bytes.Buffer) {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	var out bytes.Buffer
	return NewManager(openTestDB(t), &out, logger), &out
}

func TestManager_ListUsers(t *testing.T) {
	um, out := newTestManager(t)

	um.ListUsers()
	assert.Equal(t, "No users found.\n", out.String())

	require.NoError(t, um.AddUser("alice", "wonderland", "admin"))
	require.NoError(t, um.AddUser("bob", "builder", ""))
	require.NoError(t, um.DisableUser("bob"))

	out.Reset()
	um.ListUsers()
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "Username")
	assert.Regexp(t, `^alice\s+admin\s+Enabled\s+0\s+`, lines[2])
	assert.Regexp(t, `^bob\s+user\s+Disabled\s+0\s+`, lines[3])
}

func TestManager_EnsureUser(t *testing.T) {
	um, _ := newTestManager(t)

	require.NoError(t, um.EnsureUser("", "", ""))
	require.NoError(t, um.EnsureUser("alice", "", ""))
	assert.Empty(t, um.DB().ListUsers())

	require.NoError(t, um.EnsureUser("alice", "wonderland", "admin"))
	require.NoError(t, um.EnsureUser("alice", "different", "user"))

	ok, err := um.DB().CheckPassword("alice", []byte("wonderland"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "admin", um.DB().Role("alice"))

	assert.Error(t, um.EnsureUser("bob", "abc", ""))
}

func TestManager_Console(t *testing.T) {
	um, out := newTestManager(t)
	_, line := newAuthorizedKey(t)

	script := strings.Join([]string{
		"add alice admin",
		"wonderland",
		"wonderland",
		"add bob",
		"builder",
		"mismatch",
		"add-key alice " + strings.TrimSpace(line),
		"disable alice",
		"role alice user",
		"remove nobody",
		"frobnicate",
		"quit",
		"list",
	}, "\n") + "\n"

	require.NoError(t, um.Console(context.Background(), strings.NewReader(script)))

	got := out.String()
	assert.Contains(t, got, "ssh-shell user management")
	assert.Contains(t, got, "console@local> ")
	assert.Contains(t, got, "Enter password: ")
	assert.Contains(t, got, "User 'alice' added.")
	assert.Contains(t, got, "Error: passwords do not match")
	assert.Contains(t, got, "Key authorized for 'alice'.")
	assert.Contains(t, got, "User 'alice' disabled.")
	assert.Contains(t, got, "User 'alice' now has role 'user'.")
	assert.Contains(t, got, "Error: user does not exist: nobody")
	assert.Contains(t, got, `Command "frobnicate" not found`)
	assert.Contains(t, got, "Goodbye!")
	assert.NotContains(t, got, "Username")

	db := um.DB()
	assert.False(t, db.Exists("bob"))
	u, err := db.GetUser("alice")
	require.NoError(t, err)
	assert.False(t, u.Enabled)
	assert.Equal(t, "user", u.Role)
	assert.Len(t, u.AuthorizedKeys, 1)
}

func TestManager_ConsoleEndOfInput(t *testing.T) {
	um, out := newTestManager(t)

	require.NoError(t, um.Console(context.Background(), strings.NewReader("help\n")))
	assert.Contains(t, out.String(), "Available commands:")
	assert.Contains(t, out.String(), "add <user> [role]")
	assert.NotContains(t, out.String(), "Goodbye!")
}

func TestManager_ConsoleListUsesSession(t *testing.T) {
	um, out := newTestManager(t)
	require.NoError(t, um.AddUser("alice", "wonderland", "admin"))

	require.NoError(t, um.Console(context.Background(), strings.NewReader("list\nquit\n")))

	got := out.String()
	assert.Contains(t, got, "\rUsername ")
	assert.Contains(t, got, "\ralice ")
	assert.Contains(t, got, "Enabled")
}
