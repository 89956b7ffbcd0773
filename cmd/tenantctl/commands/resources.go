package commands

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/tenantctl/internal/app"
	"github.com/florianilch/tenantctl/internal/management"
)

// collections maps CLI resource names to CRUD managers.
func collections(m *management.Client) map[string]*management.Resource {
	return map[string]*management.Resource{
		"clients":          m.Clients.Resource,
		"connections":      m.Connections,
		"users":            m.Users.Resource,
		"roles":            m.Roles.Resource,
		"rules":            m.Rules,
		"resource-servers": m.ResourceServers,
		"log-streams":      m.LogStreams,
	}
}

// readOnly lists resources that can be read but not deleted.
var readOnly = []string{"logs", "jobs", "prompts", "tenant-settings"}

func resourceNames(m *management.Client) string {
	names := slices.Sorted(maps.Keys(collections(m)))
	names = append(names, readOnly...)
	return strings.Join(names, ", ")
}

func getCommand(appOpts []app.Option) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "fetch one resource by id, or list a collection",
		ArgsUsage: "<resource> [id]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "query parameter as key=value, repeatable",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return getAction(ctx, cmd, appOpts)
		},
	}
}

func getAction(ctx context.Context, cmd *cli.Command, appOpts []app.Option) error {
	if cmd.Args().Len() < 1 || cmd.Args().Len() > 2 {
		return errors.New("usage: get <resource> [id]")
	}
	name, id := cmd.Args().Get(0), cmd.Args().Get(1)

	query, err := parseQuery(cmd.StringSlice("query"))
	if err != nil {
		return err
	}

	s, err := newSession(ctx, cmd, appOpts)
	if err != nil {
		return err
	}
	defer s.Close(ctx, cmd)

	m, err := s.app.Management()
	if err != nil {
		return fmt.Errorf("failed to create management client: %w", err)
	}

	result, err := get(ctx, m, name, id, query)
	if err != nil {
		return err
	}
	return writeJSON(cmd, result)
}

func get(ctx context.Context, m *management.Client, name, id string, query management.Query) (any, error) {
	if r, ok := collections(m)[name]; ok {
		if id == "" {
			return r.GetAll(ctx, query)
		}
		return r.Get(ctx, id)
	}

	switch name {
	case "logs":
		if id == "" {
			return m.Logs.GetAll(ctx, query)
		}
		return m.Logs.Get(ctx, id)
	case "jobs":
		if id == "" {
			return nil, errors.New("jobs can only be fetched by id")
		}
		return m.Jobs.Get(ctx, id)
	case "prompts":
		return m.Prompts.GetSettings(ctx)
	case "tenant-settings":
		return m.Tenant.GetSettings(ctx)
	default:
		return nil, fmt.Errorf("unknown resource %q (one of %s)", name, resourceNames(m))
	}
}

func deleteCommand(appOpts []app.Option) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "delete one resource by id",
		ArgsUsage: "<resource> <id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return deleteAction(ctx, cmd, appOpts)
		},
	}
}

func deleteAction(ctx context.Context, cmd *cli.Command, appOpts []app.Option) error {
	if cmd.Args().Len() != 2 {
		return errors.New("usage: delete <resource> <id>")
	}
	name, id := cmd.Args().Get(0), cmd.Args().Get(1)

	s, err := newSession(ctx, cmd, appOpts)
	if err != nil {
		return err
	}
	defer s.Close(ctx, cmd)

	m, err := s.app.Management()
	if err != nil {
		return fmt.Errorf("failed to create management client: %w", err)
	}

	r, ok := collections(m)[name]
	if !ok {
		return fmt.Errorf("cannot delete %q", name)
	}
	if err := r.Delete(ctx, id); err != nil {
		return err
	}

	_, err = fmt.Fprintf(stderr(cmd), "Deleted %s %s\n", name, id)
	return err
}

// parseQuery turns key=value pairs into a query. Repeated keys become lists.
func parseQuery(pairs []string) (management.Query, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	values := make(map[string][]string)
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid query parameter %q, expected key=value", pair)
		}
		values[key] = append(values[key], value)
	}

	query := make(management.Query, len(values))
	for key, v := range values {
		if len(v) == 1 {
			query[key] = v[0]
		} else {
			query[key] = v
		}
	}
	return query, nil
}
