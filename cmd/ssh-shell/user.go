package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ayanrajpoot10/ssh-shell/internal/config"
	"github.com/ayanrajpoot10/ssh-shell/internal/shell"
	"github.com/ayanrajpoot10/ssh-shell/internal/usermgmt"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// RoleFlag is the --role flag of "user add".
var RoleFlag string

func newUserCommand() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "User account management",
	}

	addCmd := &cobra.Command{
		Use:   "add <username> [password]",
		Short: "Add a user; the password is prompted for when omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withManager(func(cmd *cobra.Command, um *usermgmt.Manager, args []string) error {
			password, err := passwordArg(cmd, args[1:])
			if err != nil {
				return err
			}
			if err := um.AddUser(args[0], password, RoleFlag); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User '%s' added successfully!\n", args[0])
			return nil
		}),
	}
	addCmd.Flags().StringVarP(&RoleFlag, "role", "r", "", "Role of the new user (default \"user\")")

	removeCmd := simpleUserCommand("remove <username>", "Remove a user", "removed",
		(*usermgmt.Manager).RemoveUser)
	enableCmd := simpleUserCommand("enable <username>", "Enable a user", "enabled",
		(*usermgmt.Manager).EnableUser)
	disableCmd := simpleUserCommand("disable <username>", "Disable a user", "disabled",
		(*usermgmt.Manager).DisableUser)

	passwdCmd := &cobra.Command{
		Use:   "passwd <username> [password]",
		Short: "Change the password of a user",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withManager(func(cmd *cobra.Command, um *usermgmt.Manager, args []string) error {
			password, err := passwordArg(cmd, args[1:])
			if err != nil {
				return err
			}
			if err := um.SetPassword(args[0], password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password of '%s' changed successfully!\n", args[0])
			return nil
		}),
	}

	roleCmd := &cobra.Command{
		Use:   "role <username> <role>",
		Short: "Change the role of a user",
		Args:  cobra.ExactArgs(2),
		RunE: withManager(func(cmd *cobra.Command, um *usermgmt.Manager, args []string) error {
			if err := um.SetRole(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User '%s' now has role '%s'.\n", args[0], args[1])
			return nil
		}),
	}

	addKeyCmd := &cobra.Command{
		Use:   "add-key <username> <authorized key>...",
		Short: "Authorize a public key, in authorized_keys format, for a user",
		Args:  cobra.MinimumNArgs(2),
		RunE: withManager(func(cmd *cobra.Command, um *usermgmt.Manager, args []string) error {
			if err := um.AddKey(args[0], strings.Join(args[1:], " ")); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Key authorized for '%s'.\n", args[0])
			return nil
		}),
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all users",
		Args:  cobra.NoArgs,
		RunE: withManager(func(_ *cobra.Command, um *usermgmt.Manager, _ []string) error {
			um.ListUsers()
			return nil
		}),
	}

	backupCmd := &cobra.Command{
		Use:   "backup <file>",
		Short: "Copy the user database to a file",
		Args:  cobra.ExactArgs(1),
		RunE: withManager(func(cmd *cobra.Command, um *usermgmt.Manager, args []string) error {
			if err := um.BackupUsers(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User database backed up to '%s'.\n", args[0])
			return nil
		}),
	}

	consoleCmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive user management shell",
		Args:  cobra.NoArgs,
		RunE: withManager(func(cmd *cobra.Command, um *usermgmt.Manager, _ []string) error {
			return um.Console(cmd.Context(), cmd.InOrStdin())
		}),
	}

	userCmd.AddCommand(addCmd, removeCmd, enableCmd, disableCmd, passwdCmd, roleCmd,
		addKeyCmd, listCmd, backupCmd, consoleCmd)
	return userCmd
}

// withManager loads the config and opens the user database before running fn.
// Commands log only warnings so their own output stays readable.
func withManager(fn func(cmd *cobra.Command, um *usermgmt.Manager, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(ConfigFlag)
		if err != nil {
			return err
		}
		db, err := usermgmt.Open(cfg.Auth.UsersFile)
		if err != nil {
			return err
		}

		log := logrus.New()
		log.SetOutput(cmd.ErrOrStderr())
		log.SetLevel(logrus.WarnLevel)
		return fn(cmd, usermgmt.NewManager(db, cmd.OutOrStdout(), log), args)
	}
}

func simpleUserCommand(use, short, done string, op func(*usermgmt.Manager, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withManager(func(cmd *cobra.Command, um *usermgmt.Manager, args []string) error {
			if err := op(um, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User '%s' %s successfully!\n", args[0], done)
			return nil
		}),
	}
}

// passwordArg returns the password given on the command line, or asks for it
// twice. Input from a terminal is not echoed.
func passwordArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}

	readLine := promptReader(cmd)
	password, err := readLine("Password: ")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	confirm, err := readLine("Confirm password: ")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if password != confirm {
		return "", errors.New("passwords do not match")
	}
	return password, nil
}

func promptReader(cmd *cobra.Command) func(prompt string) (string, error) {
	in, stderr := cmd.InOrStdin(), cmd.ErrOrStderr()

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return func(prompt string) (string, error) {
			fmt.Fprint(stderr, prompt)
			b, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(stderr)
			return string(b), err
		}
	}

	lio := shell.NewStreamIO(struct {
		io.Reader
		io.Writer
	}{in, stderr})
	return lio.ReadLine
}
