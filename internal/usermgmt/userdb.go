package usermgmt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/ayanrajpoot10/ssh-shell/internal/identity"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/ssh"
)

// MinPasswordLength is the shortest password accepted by AddUser and SetPassword.
const MinPasswordLength = 4

var (
	// ErrUserNotFound is returned when an operation names an unknown account.
	ErrUserNotFound = errors.New("user does not exist")
	// ErrUserExists is returned by AddUser for a taken username.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned for empty usernames or ones containing whitespace.
	ErrInvalidUsername = errors.New("username must be non-empty and contain no whitespace")
	// ErrWeakPassword is returned for passwords shorter than MinPasswordLength.
	ErrWeakPassword = fmt.Errorf("password must be at least %d characters long", MinPasswordLength)
)

// User is an account in the user database.
type User struct {
	Username       string    `json:"username"`
	PasswordHash   string    `json:"password_hash,omitempty"`
	Role           string    `json:"role"`
	AuthorizedKeys []string  `json:"authorized_keys,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Enabled        bool      `json:"enabled"`
}

// UserDB is a JSON file of accounts with bcrypt password hashes. It is safe for
// concurrent use; every mutation is written through to disk.
type UserDB struct {
	users    map[string]*User
	filePath string
	cost     int
	mutex    sync.RWMutex
}

// DBOption configures a UserDB.
type DBOption func(*UserDB)

// WithHashCost sets the bcrypt cost used for new password hashes.
func WithHashCost(cost int) DBOption {
	return func(db *UserDB) {
		db.cost = cost
	}
}

// Open loads the user database at path. A missing or empty file is an empty
// database; the file is created on the first change.
//
// Parameters:
//   - path: JSON file holding the accounts. Defaults to "users.json".
//   - opts: Options such as WithHashCost.
//
// Returns:
//   - *UserDB: The loaded database.
//   - error: If the file exists but cannot be read or parsed.
func Open(path string, opts ...DBOption) (*UserDB, error) {
	if path == "" {
		path = "users.json"
	}

	db := &UserDB{
		users:    make(map[string]*User),
		filePath: path,
		cost:     bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.loadFromFile(); err != nil {
		return nil, fmt.Errorf("load user database %s: %w", path, err)
	}
	return db, nil
}

// Path returns the file backing the database.
func (db *UserDB) Path() string { return db.filePath }

func (db *UserDB) hashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), db.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func validUsername(username string) bool {
	return username != "" && strings.IndexFunc(username, unicode.IsSpace) < 0
}

// AddUser creates an enabled account. An empty role means "user".
func (db *UserDB) AddUser(username, password, role string) error {
	if !validUsername(username) {
		return ErrInvalidUsername
	}
	if role == "" {
		role = identity.RoleUser
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	if _, exists := db.users[username]; exists {
		return fmt.Errorf("%w: %s", ErrUserExists, username)
	}

	hash, err := db.hashPassword(password)
	if err != nil {
		return err
	}

	db.users[username] = &User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now(),
		Enabled:      true,
	}

	if err := db.saveToFile(); err != nil {
		delete(db.users, username)
		return err
	}
	return nil
}

// RemoveUser deletes an account.
func (db *UserDB) RemoveUser(username string) error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	user, exists := db.users[username]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}

	delete(db.users, username)
	if err := db.saveToFile(); err != nil {
		db.users[username] = user
		return err
	}
	return nil
}

// update applies fn to a copy of the account and commits it once saved.
func (db *UserDB) update(username string, fn func(u *User) error) error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	user, exists := db.users[username]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}

	updated := *user
	updated.AuthorizedKeys = append([]string(nil), user.AuthorizedKeys...)
	if err := fn(&updated); err != nil {
		return err
	}

	db.users[username] = &updated
	if err := db.saveToFile(); err != nil {
		db.users[username] = user
		return err
	}
	return nil
}

// SetPassword replaces the password of an account.
func (db *UserDB) SetPassword(username, password string) error {
	return db.update(username, func(u *User) error {
		hash, err := db.hashPassword(password)
		if err != nil {
			return err
		}
		u.PasswordHash = hash
		return nil
	})
}

// SetEnabled enables or disables an account. Disabled accounts cannot log in.
func (db *UserDB) SetEnabled(username string, enabled bool) error {
	return db.update(username, func(u *User) error {
		u.Enabled = enabled
		return nil
	})
}

// SetRole changes the role of an account.
func (db *UserDB) SetRole(username, role string) error {
	if role == "" {
		return errors.New("role cannot be empty")
	}
	return db.update(username, func(u *User) error {
		u.Role = role
		return nil
	})
}

// AddKey authorizes a public key, given as an authorized_keys line, for an account.
func (db *UserDB) AddKey(username, authorizedKey string) error {
	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(authorizedKey))
	if err != nil {
		return fmt.Errorf("parse authorized key: %w", err)
	}
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))

	return db.update(username, func(u *User) error {
		for _, k := range u.AuthorizedKeys {
			if k == line {
				return nil
			}
		}
		u.AuthorizedKeys = append(u.AuthorizedKeys, line)
		return nil
	})
}

// CheckPassword reports whether password belongs to an enabled account.
func (db *UserDB) CheckPassword(username string, password []byte) (bool, error) {
	db.mutex.RLock()
	user, exists := db.users[username]
	var hash string
	if exists && user.Enabled {
		hash = user.PasswordHash
	}
	db.mutex.RUnlock()

	if hash == "" {
		return false, nil
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), password)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	}
	return false, fmt.Errorf("compare password hash for %s: %w", username, err)
}

// CheckPublicKey reports whether key is authorized for an enabled account.
func (db *UserDB) CheckPublicKey(username string, key ssh.PublicKey) (bool, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	user, exists := db.users[username]
	if !exists || !user.Enabled {
		return false, nil
	}

	want := key.Marshal()
	for _, line := range user.AuthorizedKeys {
		authorized, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			continue
		}
		if bytes.Equal(authorized.Marshal(), want) {
			return true, nil
		}
	}
	return false, nil
}

// Role returns the role of an account, or "" when it does not exist.
func (db *UserDB) Role(username string) string {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	if user, exists := db.users[username]; exists {
		return user.Role
	}
	return ""
}

// Exists reports whether an account exists.
func (db *UserDB) Exists(username string) bool {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	_, exists := db.users[username]
	return exists
}

// ListUsers returns all accounts sorted by name, without password hashes.
func (db *UserDB) ListUsers() []User {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	users := make([]User, 0, len(db.users))
	for _, u := range db.users {
		users = append(users, redact(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

// GetUser returns an account without its password hash.
func (db *UserDB) GetUser(username string) (User, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	user, exists := db.users[username]
	if !exists {
		return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	return redact(user), nil
}

func redact(u *User) User {
	c := *u
	c.PasswordHash = ""
	c.AuthorizedKeys = append([]string(nil), u.AuthorizedKeys...)
	return c
}

// saveToFile writes the database through a temporary file and a rename.
func (db *UserDB) saveToFile() error {
	data, err := json.MarshalIndent(db.users, "", "  ")
	if err != nil {
		return fmt.Errorf("encode user database: %w", err)
	}

	tempFile := db.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("save user database: %w", err)
	}
	if err := os.Rename(tempFile, db.filePath); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("save user database: %w", err)
	}
	return nil
}

func (db *UserDB) loadFromFile() error {
	data, err := os.ReadFile(db.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, &db.users)
}

// BackupDB copies the database file to backupPath.
func (db *UserDB) BackupDB(backupPath string) error {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	sourceFile, err := os.Open(db.filePath)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.OpenFile(backupPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(destFile, sourceFile); err != nil {
		destFile.Close()
		return err
	}
	return destFile.Close()
}
