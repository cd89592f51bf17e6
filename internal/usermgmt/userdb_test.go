package usermgmt

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/ssh"
)

func openTestDB(t *testing.T) *UserDB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "users.json"), WithHashCost(bcrypt.MinCost))
	require.NoError(t, err)
	return db
}

func newAuthorizedKey(t *testing.T) (ssh.PublicKey, string) {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return key, string(ssh.MarshalAuthorizedKey(key))
}

func TestUserDB_AddUser(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.AddUser("alice", "wonderland", ""))

	tests := map[string]struct {
		username, password string
		err                error
	}{
		"duplicate":      {username: "alice", password: "wonderland", err: ErrUserExists},
		"empty_name":     {username: "", password: "wonderland", err: ErrInvalidUsername},
		"name_has_space": {username: "a b", password: "wonderland", err: ErrInvalidUsername},
		"short_password": {username: "bob", password: "abc", err: ErrWeakPassword},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, db.AddUser(tt.username, tt.password, ""), tt.err)
		})
	}

	u, err := db.GetUser("alice")
	require.NoError(t, err)
	assert.Equal(t, "user", u.Role)
	assert.True(t, u.Enabled)
	assert.Empty(t, u.PasswordHash)
	assert.False(t, db.Exists("bob"))
}

func TestUserDB_CheckPassword(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AddUser("alice", "wonderland", ""))

	ok, err := db.CheckPassword("alice", []byte("wonderland"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.CheckPassword("alice", []byte("looking-glass"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = db.CheckPassword("mallory", []byte("wonderland"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.SetEnabled("alice", false))
	ok, err = db.CheckPassword("alice", []byte("wonderland"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.SetEnabled("alice", true))
	require.NoError(t, db.SetPassword("alice", "new-secret"))
	ok, _ = db.CheckPassword("alice", []byte("wonderland"))
	assert.False(t, ok)
	ok, _ = db.CheckPassword("alice", []byte("new-secret"))
	assert.True(t, ok)

	assert.ErrorIs(t, db.SetPassword("alice", "x"), ErrWeakPassword)
	assert.ErrorIs(t, db.SetPassword("bob", "long-enough"), ErrUserNotFound)
}

func TestUserDB_Keys(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AddUser("alice", "wonderland", ""))

	key, line := newAuthorizedKey(t)
	other, _ := newAuthorizedKey(t)

	require.NoError(t, db.AddKey("alice", line))
	require.NoError(t, db.AddKey("alice", line))

	u, err := db.GetUser("alice")
	require.NoError(t, err)
	assert.Len(t, u.AuthorizedKeys, 1)

	ok, err := db.CheckPublicKey("alice", key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = db.CheckPublicKey("alice", other)
	assert.False(t, ok)
	ok, _ = db.CheckPublicKey("bob", key)
	assert.False(t, ok)

	assert.Error(t, db.AddKey("alice", "not a key"))
	assert.ErrorIs(t, db.AddKey("bob", line), ErrUserNotFound)
}

func TestUserDB_Roles(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AddUser("root", "toor-toor", "admin"))

	assert.Equal(t, "admin", db.Role("root"))
	assert.Equal(t, "", db.Role("nobody"))

	require.NoError(t, db.SetRole("root", "user"))
	assert.Equal(t, "user", db.Role("root"))
	assert.Error(t, db.SetRole("root", ""))
}

func TestUserDB_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	db, err := Open(path, WithHashCost(bcrypt.MinCost))
	require.NoError(t, err)

	_, line := newAuthorizedKey(t)
	require.NoError(t, db.AddUser("alice", "wonderland", "admin"))
	require.NoError(t, db.AddUser("bob", "builder", ""))
	require.NoError(t, db.AddKey("alice", line))
	require.NoError(t, db.RemoveUser("bob"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reopened, err := Open(path)
	require.NoError(t, err)

	users := reopened.ListUsers()
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "admin", users[0].Role)
	assert.Len(t, users[0].AuthorizedKeys, 1)

	ok, err := reopened.CheckPassword("alice", []byte("wonderland"))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, reopened.RemoveUser("bob"), ErrUserNotFound)
}

func TestUserDB_OpenInvalid(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0600))
	db, err := Open(empty)
	require.NoError(t, err)
	assert.Empty(t, db.ListUsers())

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0600))
	_, err = Open(corrupt)
	assert.Error(t, err)
}

func TestUserDB_ListSorted(t *testing.T) {
	db := openTestDB(t)
	for _, name := range []string{"carol", "alice", "bob"} {
		require.NoError(t, db.AddUser(name, "password", ""))
	}

	var names []string
	for _, u := range db.ListUsers() {
		names = append(names, u.Username)
		assert.Empty(t, u.PasswordHash)
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, names)
}

func TestUserDB_Backup(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AddUser("alice", "wonderland", ""))

	backup := filepath.Join(t.TempDir(), "backup.json")
	require.NoError(t, db.BackupDB(backup))

	restored, err := Open(backup)
	require.NoError(t, err)
	assert.True(t, restored.Exists("alice"))
}
