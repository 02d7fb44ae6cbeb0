package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sakif/session-auth/internal/server"
	"github.com/sakif/session-auth/internal/service"
)

// readPassword is a test seam for term.ReadPassword.
// Tests replace it with a stub to avoid touching the terminal.
var readPassword = term.ReadPassword

// NewUseraddCmd creates the useradd subcommand.
func NewUseraddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "useradd <username>",
		Short: "Register a user from the command line",
		Long: `Register a user with the same rules as the registration page. The
password is prompted for twice without echo, or read from the first line of
stdin when stdin is not a terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: runUseradd,
	}
}

func runUseradd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	password, confirmation, err := promptPassword(cmd)
	if err != nil {
		return oops.Code("PASSWORD_READ_FAILED").Wrap(err)
	}

	users, closeStore, err := server.OpenUserStore(cmd.Context(), cfg.Storage, logger)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	defer closeStore()

	hasher, err := server.NewHasher(cfg.Password)
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}

	svc := service.NewAuthService(users, hasher, nil, logger)
	id, err := svc.Register(cmd.Context(), service.RegisterInput{
		Username:             args[0],
		Password:             password,
		PasswordConfirmation: confirmation,
	})
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").With("username", args[0]).Wrap(err)
	}

	cmd.Printf("Created user %q with id %d\n", args[0], id)
	return nil
}

// promptPassword returns the password and its confirmation. On a terminal
// both are read without echo; otherwise one line of input serves as both.
func promptPassword(cmd *cobra.Command) (string, string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return readTerminalPasswords(int(f.Fd()), cmd.ErrOrStderr())
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", "", err
	}
	line = strings.TrimRight(line, "\r\n")
	return line, line, nil
}

// readTerminalPasswords prompts on out and reads the password twice from fd
// without echo.
func readTerminalPasswords(fd int, out io.Writer) (string, string, error) {
	fmt.Fprint(out, "Password: ")
	pw, err := readPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", "", err
	}

	fmt.Fprint(out, "Confirm password: ")
	confirm, err := readPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", "", err
	}
	return string(pw), string(confirm), nil
}
