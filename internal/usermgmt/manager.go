package usermgmt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ayanrajpoot10/ssh-shell/internal/identity"
	"github.com/ayanrajpoot10/ssh-shell/internal/shell"
	"github.com/sirupsen/logrus"
)

// Manager performs administrative operations on a UserDB and reports them on out.
type Manager struct {
	db  *UserDB
	out io.Writer
	log logrus.FieldLogger
}

// NewManager returns a Manager for db writing its listings to out.
func NewManager(db *UserDB, out io.Writer, log logrus.FieldLogger) *Manager {
	return &Manager{
		db:  db,
		out: out,
		log: log.WithField("component", "usermgmt"),
	}
}

// DB returns the underlying user database.
func (um *Manager) DB() *UserDB {
	return um.db
}

// AddUser creates an account.
func (um *Manager) AddUser(username, password, role string) error {
	if err := um.db.AddUser(username, password, role); err != nil {
		return err
	}
	um.log.WithField("user", username).Info("user added")
	return nil
}

// RemoveUser deletes an account.
func (um *Manager) RemoveUser(username string) error {
	if err := um.db.RemoveUser(username); err != nil {
		return err
	}
	um.log.WithField("user", username).Info("user removed")
	return nil
}

// SetPassword replaces the password of an account.
func (um *Manager) SetPassword(username, password string) error {
	if err := um.db.SetPassword(username, password); err != nil {
		return err
	}
	um.log.WithField("user", username).Info("password changed")
	return nil
}

// EnableUser enables an account.
func (um *Manager) EnableUser(username string) error {
	return um.db.SetEnabled(username, true)
}

// DisableUser disables an account.
func (um *Manager) DisableUser(username string) error {
	return um.db.SetEnabled(username, false)
}

// SetRole changes the role of an account.
func (um *Manager) SetRole(username, role string) error {
	return um.db.SetRole(username, role)
}

// AddKey authorizes a public key for an account.
func (um *Manager) AddKey(username, authorizedKey string) error {
	if err := um.db.AddKey(username, authorizedKey); err != nil {
		return err
	}
	um.log.WithField("user", username).Info("public key authorized")
	return nil
}

// BackupUsers copies the user database to backupPath.
func (um *Manager) BackupUsers(backupPath string) error {
	return um.db.BackupDB(backupPath)
}

// ListUsers writes a table of all accounts.
func (um *Manager) ListUsers() {
	for _, line := range um.userTable() {
		fmt.Fprintln(um.out, line)
	}
}

// userTable renders the accounts as table rows, header first.
func (um *Manager) userTable() []string {
	users := um.db.ListUsers()
	if len(users) == 0 {
		return []string{"No users found."}
	}

	lines := []string{
		fmt.Sprintf("%-20s %-10s %-10s %-5s %-20s", "Username", "Role", "Status", "Keys", "Created"),
		strings.Repeat("-", 70),
	}
	for _, user := range users {
		status := "Enabled"
		if !user.Enabled {
			status = "Disabled"
		}
		lines = append(lines, fmt.Sprintf("%-20s %-10s %-10s %-5d %-20s",
			user.Username,
			user.Role,
			status,
			len(user.AuthorizedKeys),
			user.CreatedAt.Format("2006-01-02 15:04:05"),
		))
	}
	return lines
}

// EnsureUser creates the account unless it already exists. It does nothing when
// username or password is empty, so an unset default user is not an error.
func (um *Manager) EnsureUser(username, password, role string) error {
	if username == "" || password == "" {
		return nil
	}

	log := um.log.WithField("user", username)
	if um.db.Exists(username) {
		log.Debug("default user already exists, skipping creation")
		return nil
	}

	log.Info("creating default user")
	if err := um.db.AddUser(username, password, role); err != nil {
		return fmt.Errorf("create default user %s: %w", username, err)
	}
	return nil
}

// Console runs the interactive user management shell on in until quit or end of
// input. It runs on the same interpreter as remote sessions.
func (um *Manager) Console(ctx context.Context, in io.Reader) error {
	registry := um.consoleRegistry()
	registry.Freeze()

	lio := shell.NewStreamIO(struct {
		io.Reader
		io.Writer
	}{in, um.out})
	defer lio.Close()

	it := shell.New(registry, identity.Local("console", identity.RoleAdmin), lio, um.log,
		shell.WithIntro("ssh-shell user management\nType 'help' for available commands or 'quit' to exit."))
	return it.Run(ctx)
}

func (um *Manager) consoleRegistry() *shell.Registry {
	r := shell.NewRegistry()

	r.HandleFunc("add", um.consoleAdd)
	r.Describe("add", "add <user> [role]   - add a user, prompting for the password")

	r.HandleFunc("remove", withUser("remove", func(s *shell.Session, user string, _ []string) {
		report(s, um.RemoveUser(user), "User '%s' removed.", user)
	}))
	r.Describe("remove", "remove <user>       - remove a user")

	r.HandleFunc("list", func(s *shell.Session, _ string) bool {
		for _, line := range um.userTable() {
			s.Println(line)
		}
		return false
	})
	r.Describe("list", "list                - list all users")

	r.HandleFunc("passwd", withUser("passwd", func(s *shell.Session, user string, _ []string) {
		password, err := promptPassword(s)
		if err == nil {
			err = um.SetPassword(user, password)
		}
		report(s, err, "Password of '%s' changed.", user)
	}))
	r.Describe("passwd", "passwd <user>       - change a password")

	r.HandleFunc("enable", withUser("enable", func(s *shell.Session, user string, _ []string) {
		report(s, um.EnableUser(user), "User '%s' enabled.", user)
	}))
	r.Describe("enable", "enable <user>       - enable a user")

	r.HandleFunc("disable", withUser("disable", func(s *shell.Session, user string, _ []string) {
		report(s, um.DisableUser(user), "User '%s' disabled.", user)
	}))
	r.Describe("disable", "disable <user>      - disable a user")

	r.HandleFunc("role", withUser("role", func(s *shell.Session, user string, rest []string) {
		if len(rest) != 1 {
			s.Println("Usage: role <user> <role>")
			return
		}
		report(s, um.SetRole(user, rest[0]), "User '%s' now has role '%s'.", user, rest[0])
	}))
	r.Describe("role", "role <user> <role>  - change the role of a user")

	r.HandleFunc("add-key", func(s *shell.Session, arg string) bool {
		user, key, ok := strings.Cut(arg, " ")
		if !ok || strings.TrimSpace(key) == "" {
			s.Println("Usage: add-key <user> <authorized key>")
			return false
		}
		report(s, um.AddKey(user, key), "Key authorized for '%s'.", user)
		return false
	})
	r.Describe("add-key", "add-key <user> <key> - authorize a public key")

	r.HandleFunc("backup", func(s *shell.Session, arg string) bool {
		path := strings.TrimSpace(arg)
		if path == "" {
			s.Println("Usage: backup <file>")
			return false
		}
		report(s, um.BackupUsers(path), "User database backed up to '%s'.", path)
		return false
	})
	r.Describe("backup", "backup <file>       - back up the user database")

	r.HandleFunc("help", shell.Help)
	r.Describe("help", "help                - show this help")

	quit := func(s *shell.Session, _ string) bool {
		s.Println("Goodbye!")
		return true
	}
	r.HandleFunc("quit", quit)
	r.Describe("quit", "quit                - leave the console")
	r.HandleFunc("exit", quit)

	return r
}

func (um *Manager) consoleAdd(s *shell.Session, arg string) bool {
	fields := strings.Fields(arg)
	if len(fields) == 0 || len(fields) > 2 {
		s.Println("Usage: add <user> [role]")
		return false
	}
	role := ""
	if len(fields) == 2 {
		role = fields[1]
	}

	password, err := promptPassword(s)
	if err == nil {
		err = um.AddUser(fields[0], password, role)
	}
	report(s, err, "User '%s' added.", fields[0])
	return false
}

var errPasswordMismatch = errors.New("passwords do not match")

func promptPassword(s *shell.Session) (string, error) {
	password, err := s.ReadLine("Enter password: ")
	if err != nil {
		return "", err
	}
	confirm, err := s.ReadLine("Confirm password: ")
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", errPasswordMismatch
	}
	return password, nil
}

// withUser adapts a console command taking a username and optional extra words.
func withUser(verb string, fn func(s *shell.Session, user string, rest []string)) func(*shell.Session, string) bool {
	return func(s *shell.Session, arg string) bool {
		fields := strings.Fields(arg)
		if len(fields) == 0 {
			s.Printf("Usage: %s <user>", verb)
			return false
		}
		fn(s, fields[0], fields[1:])
		return false
	}
}

func report(s *shell.Session, err error, format string, args ...any) {
	if err != nil {
		s.Printf("Error: %v", err)
		return
	}
	s.Printf(format, args...)
}
