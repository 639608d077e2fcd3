package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/plup/internal/formatter"
	"github.com/desertthunder/plup/internal/server"
	"github.com/desertthunder/plup/internal/services"
	"github.com/desertthunder/plup/internal/shared"
	"github.com/desertthunder/plup/internal/tasks"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

// SpotifyClient is everything the CLI needs from Spotify: the engine's remote plus the OAuth flow.
//
// [services.SpotifyService] implements it.
type SpotifyClient interface {
	tasks.Remote
	server.Exchanger
	SetToken(token *oauth2.Token)
	Token() (*oauth2.Token, error)
}

var _ SpotifyClient = (*services.SpotifyService)(nil)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The config, logger, Spotify client, database and engine are created lazily so that commands
// such as "setup config" work before credentials exist.
type Runner struct {
	config     *shared.Config
	configPath string
	spotify    SpotifyClient
	db         *sql.DB
	engine     *tasks.Engine
	logger     *log.Logger
	output     io.Writer
	open       func(string) error

	authenticated bool
	closers       []io.Closer
	progress      chan tasks.ProgressUpdate
	progressDone  sync.WaitGroup
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config  *shared.Config
	Spotify SpotifyClient
	DB      *sql.DB
	Logger  *log.Logger
	Output  io.Writer
	Open    func(string) error // Open presents the consent URL during "auth"
}

// NewRunner creates a new Runner with the provided configuration.
//
// A nil Config is loaded from the --config path when a command runs; a nil Logger is built from it.
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:  opts.Config,
		spotify: opts.Spotify,
		db:      opts.DB,
		logger:  opts.Logger,
		output:  opts.Output,
		open:    opts.Open,
	}
}

func (r *Runner) app() *cli.Command {
	return &cli.Command{
		Name:    "plup",
		Usage:   "Keep Spotify artist playlists up to date with new releases",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log at debug level",
			},
		},
		Before:   r.before,
		After:    r.after,
		Commands: r.register(),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, playlistsCommand, tracksCommand, latestCommand, commitCommand, refreshCommand, forgetCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// before loads the configuration and logger shared by every command.
func (r *Runner) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	r.configPath = cmd.String("config")

	if r.config == nil {
		config, err := loadConfig(r.configPath)
		if err != nil {
			return ctx, err
		}
		r.config = config
	}
	if err := r.config.Validate(); err != nil {
		return ctx, err
	}

	if r.logger == nil {
		logger, closer := shared.NewConfiguredLogger(r.config.Logging)
		r.logger = logger
		r.closers = append(r.closers, closer)
	}
	if cmd.Bool("verbose") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}
	return ctx, nil
}

// after persists a refreshed token and releases everything opened by the command.
func (r *Runner) after(ctx context.Context, cmd *cli.Command) error {
	var errs []error
	if r.authenticated {
		errs = append(errs, r.persistToken())
	}

	if r.progress != nil {
		close(r.progress)
		r.progressDone.Wait()
		r.progress = nil
	}

	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i].Close())
	}
	r.closers = nil
	return errors.Join(errs...)
}

// loadConfig reads path, falling back to the defaults when the file does not exist.
func loadConfig(path string) (*shared.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return shared.DefaultConfig(), nil
	}
	return shared.LoadConfig(path)
}

func (r *Runner) saveConfig() error {
	if r.configPath == "" {
		return nil
	}
	if err := shared.SaveConfig(r.configPath, r.config); err != nil {
		return err
	}
	r.logger.Debug("saved config", "path", r.configPath)
	return nil
}

// client returns the Spotify client, building it from the configured credentials on first use.
func (r *Runner) client() (SpotifyClient, error) {
	if r.spotify != nil {
		return r.spotify, nil
	}

	svc, err := services.NewSpotifyService(
		r.config.Credentials.Spotify.Map(),
		services.WithTimeout(r.config.Sync.RequestTimeout.Duration),
		services.WithRateLimit(r.config.Sync.RequestsPerSecond),
		services.WithLogger(shared.WithLogger(r.logger, "service", "spotify")),
	)
	if err != nil {
		return nil, fmt.Errorf("spotify is not configured in %s: %w", r.configPath, err)
	}
	r.spotify = svc
	return svc, nil
}

// database opens the configured database and applies pending migrations on first use.
func (r *Runner) database() (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}

	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, err
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	r.db = db
	r.closers = append(r.closers, db)
	return db, nil
}

// tasksEngine wires the client and database into a [tasks.Engine] on first use.
func (r *Runner) tasksEngine() (*tasks.Engine, error) {
	if r.engine != nil {
		return r.engine, nil
	}

	client, err := r.client()
	if err != nil {
		return nil, err
	}
	db, err := r.database()
	if err != nil {
		return nil, err
	}

	r.engine = tasks.NewEngine(db, client, tasks.Options{
		PlaylistExpiry: r.config.Sync.PlaylistExpiry.Duration,
		TrackExpiry:    r.config.Sync.TrackExpiry.Duration,
		AlbumWorkers:   r.config.Sync.AlbumWorkers,
		Logger:         shared.WithLogger(r.logger, "component", "engine"),
	})
	r.engine.SetProgress(r.watchProgress())
	return r.engine, nil
}

// session returns the engine authenticated with the stored token and the ID of the signed in user.
func (r *Runner) session() (*tasks.Engine, string, error) {
	creds := r.config.Credentials.Spotify
	token := creds.Token()
	if token == nil || creds.UserID == "" {
		return nil, "", fmt.Errorf("%w: run 'plup auth' first", shared.ErrNotAuthenticated)
	}

	engine, err := r.tasksEngine()
	if err != nil {
		return nil, "", err
	}

	r.spotify.SetToken(token)
	r.authenticated = true
	return engine, creds.UserID, nil
}

// persistToken saves the token when the client refreshed it during the command.
func (r *Runner) persistToken() error {
	token, err := r.spotify.Token()
	if err != nil {
		r.logger.Warn("could not read the current token", "error", err)
		return nil
	}

	creds := &r.config.Credentials.Spotify
	if token.AccessToken == creds.AccessToken && token.Expiry.Equal(creds.TokenExpiry) {
		return nil
	}
	if err := creds.Update(token); err != nil {
		return err
	}
	r.logger.Info("access token refreshed")
	return r.saveConfig()
}

// watchProgress logs engine progress until the command finishes.
func (r *Runner) watchProgress() chan<- tasks.ProgressUpdate {
	r.progress = make(chan tasks.ProgressUpdate, 32)
	r.progressDone.Add(1)

	go func() {
		defer r.progressDone.Done()
		for update := range r.progress {
			r.logger.Debug(update.Message, "phase", update.Phase, "step", update.Step, "total", update.Total)
		}
	}()
	return r.progress
}

func (r *Runner) writeJSON(data any) error {
	if err := formatter.WriteJSON(r.output, data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
