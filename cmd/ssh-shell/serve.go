package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/ayanrajpoot10/ssh-shell/internal/auth"
	"github.com/ayanrajpoot10/ssh-shell/internal/auth/pam"
	"github.com/ayanrajpoot10/ssh-shell/internal/config"
	"github.com/ayanrajpoot10/ssh-shell/internal/hostkey"
	"github.com/ayanrajpoot10/ssh-shell/internal/logging"
	"github.com/ayanrajpoot10/ssh-shell/internal/server"
	"github.com/ayanrajpoot10/ssh-shell/internal/shell"
	"github.com/ayanrajpoot10/ssh-shell/internal/usermgmt"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

// ServeCommand runs the server until SIGINT or SIGTERM.
func ServeCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(ConfigFlag)
	if err != nil {
		return err
	}

	log, closer, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	if cfg.File != "" {
		log.WithField("file", cfg.File).Info("loaded config")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, log)
}

func serve(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	srv, err := buildServer(cfg, log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, cfg.Server.ListenAddress)
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			log.Info("received shutdown signal")
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, server.ErrServerClosed) {
		return err
	}
	log.Info("server stopped")
	return nil
}

// buildServer wires the host key, user database, authenticator and command
// registry described by cfg into a Server.
func buildServer(cfg *config.Config, log *logrus.Logger) (*server.Server, error) {
	signer, err := hostkey.LoadOrGenerate(cfg.HostKey.Path, cfg.HostKey.Type, cfg.HostKey.RSABits, log)
	if err != nil {
		return nil, err
	}

	db, err := usermgmt.Open(cfg.Auth.UsersFile)
	if err != nil {
		return nil, err
	}
	um := usermgmt.NewManager(db, os.Stdout, log)
	if err := um.EnsureUser(cfg.Auth.DefaultUser, cfg.Auth.DefaultPassword, cfg.Auth.DefaultRole); err != nil {
		log.WithError(err).Warn("failed to create default user")
	}

	opts := []auth.Option{
		auth.WithPasswordChecker(db),
		auth.WithKeyChecker(db),
		auth.WithRoleResolver(db),
		auth.WithThrottle(auth.NewThrottle(cfg.Auth.MaxFailures, cfg.Auth.FailureWindow)),
		auth.WithMultiFactor(cfg.Auth.RequireMultiFactor),
	}
	if cfg.Auth.PAMEnabled {
		opts = append(opts, auth.WithPasswordChecker(pam.New(cfg.Auth.PAMService, log)))
	}
	authn := auth.New(log, opts...)

	registry := shell.NewRegistry()
	shell.RegisterBuiltins(registry)

	srv := server.New(server.Config{
		Version:         cfg.Server.Version,
		Banner:          cfg.Server.Banner,
		Motd:            cfg.Server.Motd,
		IdleTimeout:     cfg.Server.IdleTimeout,
		MaxSessions:     cfg.Server.MaxSessions,
		ProxyProtocol:   cfg.Server.ProxyProtocol,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		HostKeys:        []ssh.Signer{signer},
	}, registry, authn, log)

	if len(db.ListUsers()) == 0 && !cfg.Auth.PAMEnabled {
		log.Warnf("no users in %s, nobody can log in; add one with 'ssh-shell user add'", db.Path())
	}
	return srv, nil
}
