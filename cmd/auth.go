package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/plup/internal/server"
	"github.com/desertthunder/plup/internal/shared"
	"github.com/urfave/cli/v3"
)

func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authorize plup with your Spotify account",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the browser callback",
			},
		},
		Action: r.Auth,
	}
}

func forgetCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "forget",
		Usage:  "Delete the signed in user's cached data and stored token",
		Action: r.Forget,
	}
}

// Auth runs the authorization code flow through a local callback server, registers the
// signed in user and stores the token in the config file.
func (r *Runner) Auth(ctx context.Context, cmd *cli.Command) error {
	engine, err := r.tasksEngine()
	if err != nil {
		return err
	}

	srv := &server.CallbackServer{
		Addr:    r.config.Server.Addr(),
		Timeout: cmd.Duration("timeout"),
		Logger:  shared.WithLogger(r.logger, "component", "oauth"),
		Open:    r.open,
	}

	r.writePlain("Waiting for Spotify authorization...\n")
	token, err := srv.Authorize(ctx, r.spotify)
	if err != nil {
		return err
	}

	user, err := engine.RegisterUser(ctx)
	if err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}

	creds := &r.config.Credentials.Spotify
	if err := creds.Update(token); err != nil {
		return err
	}
	creds.UserID = user.ID
	if err := r.saveConfig(); err != nil {
		return err
	}

	r.writePlain("✓ Authenticated as %s (%s)\n", user.Profile.DisplayName, user.ID)
	return nil
}

// Forget removes the user's records and clears the stored token.
func (r *Runner) Forget(ctx context.Context, cmd *cli.Command) error {
	engine, userID, err := r.session()
	if err != nil {
		return err
	}

	if err := engine.ForgetUser(ctx, userID); err != nil {
		return err
	}

	creds := &r.config.Credentials.Spotify
	creds.AccessToken = ""
	creds.RefreshToken = ""
	creds.TokenExpiry = time.Time{}
	creds.UserID = ""
	r.authenticated = false
	if err := r.saveConfig(); err != nil {
		return err
	}

	r.writePlain("✓ Forgot user %s\n", userID)
	return nil
}
