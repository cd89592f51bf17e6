// Command ssh-shell serves a line-oriented command shell over SSH and manages the
// accounts allowed to log in to it.
//
// Usage:
//
//	ssh-shell                       # Start the server
//	ssh-shell serve                 # Same
//	ssh-shell user console          # Interactive user management shell
//	ssh-shell user add <user>       # Add a user, prompting for the password
//	ssh-shell user list             # List all users
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// ConfigFlag is the --config flag shared by every command.
var ConfigFlag string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ssh-shell",
		Short:         "Line-oriented command shell served over SSH",
		RunE:          ServeCommand,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&ConfigFlag, "config", "c", "", "Path to the config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the SSH server",
		Args:  cobra.NoArgs,
		RunE:  ServeCommand,
	})
	rootCmd.AddCommand(newUserCommand())
	return rootCmd
}
