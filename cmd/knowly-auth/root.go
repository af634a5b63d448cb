package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	auth "github.com/goliatone/go-knowly-auth"
	"github.com/goliatone/go-knowly-auth/config"
	"github.com/goliatone/go-knowly-auth/provider/gotrue"
	"github.com/goliatone/go-knowly-auth/provider/local"
	"github.com/goliatone/go-knowly-auth/repository"
)

// readPassword is swapped in tests
var readPassword = promptPassword

type app struct {
	configPath string
	envFiles   []string
	verbose    bool

	cfg    *config.Config
	logger *cliLogger
	out    io.Writer

	db *bun.DB
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "knowly-auth",
		Short:         "Knowly auth session tooling",
		Long:          "knowly-auth runs the development auth server and drives the Knowly auth session lifecycle from the command line.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default is ./knowly.yaml or ~/.knowly/knowly.yaml)")
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "dotenv files to load (default is ./.env when present)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newSignUpCmd(a),
		newSignInCmd(a),
		newWhoAmICmd(a),
		newSignOutCmd(a),
		newConfigCmd(a),
	)

	return root
}

func (a *app) init(cmd *cobra.Command) error {
	a.out = cmd.OutOrStdout()
	a.logger = newCLILogger(a.verbose)

	cfg, err := config.Load(a.configPath, a.envFiles...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a.cfg = cfg
	return nil
}

func (a *app) close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *app) openDB(ctx context.Context) (*bun.DB, error) {
	if a.db != nil {
		return a.db, nil
	}

	db, err := repository.Open(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	a.db = db
	return db, nil
}

func (a *app) repos(ctx context.Context) (repository.Manager, error) {
	db, err := a.openDB(ctx)
	if err != nil {
		return nil, err
	}
	return repository.NewManager(db), nil
}

func (a *app) accounts(ctx context.Context) (*local.Accounts, error) {
	repos, err := a.repos(ctx)
	if err != nil {
		return nil, err
	}

	srv := a.cfg.Server
	key := []byte(srv.SigningKey)
	if len(key) == 0 {
		a.logger.Warn("server.signing_key is not set, using an ephemeral key")
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		key = []byte(hex.EncodeToString(key))
	}

	tokens := local.NewTokenService(key, srv.TokenTTL, srv.Issuer, nil, a.logger.named("tokens"))
	return local.NewAccounts(repos, tokens,
		local.WithRequireConfirmation(srv.RequireConfirmation),
		local.WithHashIDs(srv.HashIDs),
		local.WithMinPasswordLength(srv.MinPasswordLength),
		local.WithRefreshTokenTTL(srv.RefreshTokenTTL),
		local.WithAccountsLogger(a.logger.named("accounts")),
	), nil
}

func (a *app) sessionStorage() gotrue.SessionStorage {
	if a.cfg.Backend.SessionFile == "" {
		return gotrue.NewMemoryStorage()
	}
	return gotrue.NewFileStorage(a.cfg.Backend.SessionFile)
}

func (a *app) backend(ctx context.Context) (auth.AuthBackend, error) {
	storage := a.sessionStorage()

	switch a.cfg.Backend.Kind {
	case config.BackendLocal:
		accounts, err := a.accounts(ctx)
		if err != nil {
			return nil, err
		}
		stored, err := storage.Load(ctx)
		if err != nil {
			a.logger.Warn("could not restore session: %v", err)
		}
		client := local.NewClient(accounts,
			local.WithInitialSession(stored),
			local.WithClientLogger(a.logger.named("backend")),
		)
		persistSessions(client, storage, a.logger)
		return client, nil

	default:
		return gotrue.New(gotrue.Config{
			URL:           a.cfg.Backend.URL,
			APIKey:        a.cfg.Backend.APIKey,
			RefreshMargin: a.cfg.Backend.RefreshMargin,
			Storage:       storage,
			Logger:        a.logger.named("backend"),
		}), nil
	}
}

// provider wires the orchestrator and waits for the bootstrap to settle.
func (a *app) provider(ctx context.Context) (*auth.Provider, error) {
	backend, err := a.backend(ctx)
	if err != nil {
		return nil, err
	}

	repos, err := a.repos(ctx)
	if err != nil {
		return nil, err
	}

	p := auth.New(backend, repos.Profiles(),
		auth.WithConfig(a.cfg.Auth),
		auth.WithLogger(a.logger.named("auth")),
		auth.WithNavigator(auth.NavigatorFunc(func(path string) {
			a.logger.Debug("navigate to %s", path)
		})),
	)

	if err := p.Start(ctx); err != nil {
		return nil, err
	}

	if err := p.WaitInitialized(ctx); err != nil {
		_ = p.Close()
		return nil, err
	}

	return p, nil
}

// persistSessions mirrors the local client session into storage so the next
// invocation restores it.
func persistSessions(backend auth.AuthBackend, storage gotrue.SessionStorage, logger auth.Logger) {
	backend.OnAuthStateChange(func(event auth.AuthEvent) {
		ctx := context.Background()
		var err error
		switch {
		case event.Type == auth.EventSignedOut || event.Session == nil:
			err = storage.Clear(ctx)
		default:
			err = storage.Save(ctx, event.Session)
		}
		if err != nil {
			logger.Error("persist session: %v", err)
		}
	})
}

func promptPassword(out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	raw, err := readTerminalPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
