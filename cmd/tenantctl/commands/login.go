package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/tenantctl/internal/app"
	"github.com/florianilch/tenantctl/internal/secretstore"
)

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:        "login",
		Usage:       "store the client secret in the configured secret storage",
		Description: "Reads the client secret from the terminal, or from stdin when it is not a terminal.",
		Action:      loginAction,
	}
}

func loginAction(ctx context.Context, cmd *cli.Command) error {
	// The secret is not configured yet, so full validation would fail for
	// every storage type that needs it
	cfg, err := readConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := newLoginStore(cfg)
	if err != nil {
		return err
	}

	secret, err := readSecret(cmd)
	if err != nil {
		return err
	}

	if err := store.Write(ctx, secret); err != nil {
		if errors.Is(err, secretstore.ErrReadOnly) {
			return fmt.Errorf("%s secret storage is read-only, set %s instead", cfg.Auth.SecretStorage, cfg.Auth.SecretEnvKey)
		}
		return fmt.Errorf("failed to store client secret: %w", err)
	}

	_, err = fmt.Fprintf(stderr(cmd), "Client secret stored (%s)\n", cfg.Auth.SecretStorage)
	return err
}

func newLoginStore(cfg *app.Config) (secretstore.Store, error) {
	if cfg.Auth.SecretStorage == app.SecretStorageInline {
		return nil, errors.New("login needs auth.secret_storage set to file, env or keyring")
	}
	store, err := cfg.Auth.NewSecretStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create secret store: %w", err)
	}
	return store, nil
}

// readSecret prompts without echo on a terminal and reads one line otherwise.
func readSecret(cmd *cli.Command) (string, error) {
	var in io.Reader = os.Stdin
	if r := cmd.Root().Reader; r != nil {
		in = r
	}

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(stderr(cmd), "Client secret: ")
		data, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(stderr(cmd))
		if err != nil {
			return "", fmt.Errorf("failed to read client secret: %w", err)
		}
		return validSecret(string(data))
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read client secret: %w", err)
	}
	return validSecret(line)
}

func validSecret(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("empty client secret")
	}
	return s, nil
}
