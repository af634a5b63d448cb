package main

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"

	auth "github.com/goliatone/go-knowly-auth"
	"github.com/goliatone/go-knowly-auth/repository"
	"github.com/goliatone/go-knowly-auth/server"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development auth server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if migrate {
				db, err := a.openDB(ctx)
				if err != nil {
					return err
				}
				if err := repository.Migrate(ctx, db); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}

			accounts, err := a.accounts(ctx)
			if err != nil {
				return err
			}

			srv := server.New(accounts,
				server.WithAPIKey(a.cfg.Server.APIKey),
				server.WithServiceKey(a.cfg.Server.ServiceKey),
				server.WithVersion(version),
				server.WithLogger(a.logger.named("server")),
			)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Listen(a.cfg.Server.Addr)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", true, "create missing tables before serving")
	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the profiles, accounts and refresh_tokens tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			if err := repository.Migrate(cmd.Context(), db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(a.out, "Database migrated (%s)\n", a.cfg.Database.Driver)
			return nil
		},
	}
}

func newSignUpCmd(a *app) *cobra.Command {
	var email, name, role string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and its profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			password, err := readPassword(cmd.ErrOrStderr(), "Password: ")
			if err != nil {
				return err
			}

			p, err := a.provider(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			if err := p.SignUp(ctx, email, password, name, auth.UserRole(role)); err != nil {
				return err
			}

			if !p.IsAuthenticated() {
				fmt.Fprintf(a.out, "Account created for %s, confirm the e-mail address before signing in\n", email)
				return nil
			}

			fmt.Fprintln(a.out, print.MaybePrettyJSON(p.User()))
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account e-mail")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleStudent), "student, instructor or admin")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newSignInCmd(a *app) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with e-mail and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			password, err := readPassword(cmd.ErrOrStderr(), "Password: ")
			if err != nil {
				return err
			}

			p, err := a.provider(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			if err := p.SignIn(ctx, email, password); err != nil {
				return err
			}

			fmt.Fprintln(a.out, print.MaybePrettyJSON(p.User()))
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account e-mail")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newWhoAmICmd(a *app) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.provider(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()

			if !p.IsAuthenticated() {
				fmt.Fprintln(a.out, "Not signed in")
				return nil
			}

			if full {
				fmt.Fprintln(a.out, print.MaybePrettyJSON(p.State()))
				return nil
			}

			user := p.User()
			fmt.Fprintf(a.out, "%s <%s> (%s)\n", user.Name, user.Email, user.Role)
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "json", false, "print the full auth state as JSON")
	return cmd
}

func newSignOutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out and drop the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.provider(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()

			p.SignOut(cmd.Context())
			fmt.Fprintln(a.out, "Signed out")
			return nil
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration without secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(a.out, print.MaybePrettyJSON(a.cfg))
			return nil
		},
	}
}
