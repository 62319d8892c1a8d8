package server

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dmitrijs2005/polls/internal/common"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// ErrUsage is returned for an unknown command or missing operands.
var ErrUsage = errors.New(`usage: admin [flags] <command>

commands:
  migrate                  apply the embedded database schema
  purge-expired            delete expired refresh tokens
  force-logout <user-id>   revoke every refresh token of a user
  delete-user <user-id>    anonymize a user and end their sessions
  set-password <user-id>   set a user's password (read from the terminal)`)

func (app *App) runCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}

	cmd, operands := args[0], args[1:]
	userID := func() (string, error) {
		if len(operands) != 1 || operands[0] == "" {
			return "", ErrUsage
		}
		return operands[0], nil
	}

	switch cmd {
	case "migrate":
		if err := app.repomanager.RunMigrations(ctx, app.db); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		fmt.Fprintln(app.out, "schema is up to date")

	case "purge-expired":
		n, err := app.admin.PurgeExpiredTokens(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(app.out, "purged %d expired refresh tokens\n", n)

	case "force-logout":
		id, err := userID()
		if err != nil {
			return err
		}
		removed, err := app.admin.ForceLogout(ctx, id)
		if err != nil {
			return err
		}
		if removed {
			fmt.Fprintf(app.out, "sessions of %s revoked\n", id)
		} else {
			fmt.Fprintf(app.out, "%s had no sessions\n", id)
		}

	case "delete-user":
		id, err := userID()
		if err != nil {
			return err
		}
		if err := app.admin.DeleteUser(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(app.out, "user %s deleted\n", id)

	case "set-password":
		id, err := userID()
		if err != nil {
			return err
		}
		password, err := app.promptPassword()
		if err != nil {
			return err
		}
		if err := app.admin.SetPassword(ctx, id, password); err != nil {
			return err
		}
		fmt.Fprintf(app.out, "password of %s changed, sessions revoked\n", id)

	default:
		return ErrUsage
	}
	return nil
}

func (app *App) promptPassword() (string, error) {
	read := func(prompt string) ([]byte, error) {
		fmt.Fprint(app.out, prompt)
		pw, err := readPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(app.out)
		return pw, err
	}

	first, err := read("New password: ")
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(first)

	second, err := read("Repeat password: ")
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(second)

	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
