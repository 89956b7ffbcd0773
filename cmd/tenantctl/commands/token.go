package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/tenantctl/internal/app"
)

func tokenCommand(appOpts []app.Option) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "print a management API access token",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "decode",
				Usage: "print the token header and claims instead of the token",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return tokenAction(ctx, cmd, appOpts)
		},
	}
}

func tokenAction(ctx context.Context, cmd *cli.Command, appOpts []app.Option) error {
	s, err := newSession(ctx, cmd, appOpts)
	if err != nil {
		return err
	}
	defer s.Close(ctx, cmd)

	token, err := s.app.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain access token: %w", err)
	}

	if !cmd.Bool("decode") {
		_, err := fmt.Fprintln(stdout(cmd), token)
		return err
	}

	decoded, err := decodeToken(token)
	if err != nil {
		return err
	}
	return writeJSON(cmd, decoded)
}

// decodedToken is the readable form of a JWT access token.
type decodedToken struct {
	Header map[string]any `json:"header"`
	Claims jwt.MapClaims  `json:"claims"`
}

// decodeToken parses a JWT without verifying its signature.
// The token was just issued to us; this is for display only.
func decodeToken(token string) (*decodedToken, error) {
	claims := jwt.MapClaims{}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return nil, fmt.Errorf("access token is not a JWT: %w", err)
	}
	return &decodedToken{Header: parsed.Header, Claims: claims}, nil
}

func writeJSON(cmd *cli.Command, v any) error {
	enc := json.NewEncoder(stdout(cmd))
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
