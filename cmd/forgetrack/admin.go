package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/Strob0t/ForgeTrack/internal/adapter/postgres"
	"github.com/Strob0t/ForgeTrack/internal/config"
	"github.com/Strob0t/ForgeTrack/internal/domain/connection"
	"github.com/Strob0t/ForgeTrack/internal/domain/project"
	"github.com/Strob0t/ForgeTrack/internal/domain/user"
	"github.com/Strob0t/ForgeTrack/internal/middleware"
	"github.com/Strob0t/ForgeTrack/internal/secrets"
	"github.com/Strob0t/ForgeTrack/internal/service"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "create-project":
		return runAdminCreateProject(args[1:])
	case "create-user":
		return runAdminCreateUser(args[1:])
	case "register-connection":
		return runAdminRegisterConnection(args[1:])
	case "rotate-secret":
		return runAdminRotateSecret(args[1:])
	case "list-connections":
		return runAdminListConnections(args[1:])
	case "hash-api-key":
		return runAdminHashAPIKey(args[1:])
	case "migrate-down":
		return runAdminMigrateDown(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: forgetrack admin <command> [options]

Commands:
  create-project        Create a project with an issue key prefix
  create-user           Create a user (the oldest admin reports automated issues)
  register-connection   Connect a repository or monitoring service to a project
  rotate-secret         Replace the webhook secret of a connection
  list-connections      List the connections of a project
  hash-api-key          Print the SHA-256 digest to put in auth.api_keys
  migrate-down          Roll back database migrations
  help                  Show this help message

Examples:
  forgetrack admin create-project --key FT --name ForgeTrack --repo-url https://github.com/acme/web
  forgetrack admin create-user --email ops@example.com --name Ops --admin
  forgetrack admin register-connection --project <id> --service github
  forgetrack admin register-connection --project <id> --service sentry --ref web-frontend
  forgetrack admin rotate-secret --connection <id>
`)
}

func loadAdminDeps() (*service.ProjectService, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	vault, err := secrets.NewVault(secrets.EnvLoader(secrets.MasterKeyName, secrets.PreviousMasterKeyName))
	if err != nil {
		return nil, nil, fmt.Errorf("vault: %w", err)
	}
	codec, err := secrets.NewAESCodec(vault)
	if err != nil {
		return nil, nil, fmt.Errorf("secret codec: %w", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	svc := service.NewProjectService(postgres.NewStore(pool), codec)
	return svc, pool.Close, nil
}

func runAdminCreateProject(args []string) error {
	fs := flag.NewFlagSet("create-project", flag.ContinueOnError)
	key := fs.String("key", "", "issue key prefix, e.g. FT (required)")
	name := fs.String("name", "", "project name (required)")
	repoURL := fs.String("repo-url", "", "repository URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	p, err := svc.CreateProject(context.Background(), project.CreateRequest{Key: *key, Name: *name, RepoURL: *repoURL})
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Project created: %s (id=%s, key=%s)\n", p.Name, p.ID, p.Key)
	return nil
}

func runAdminCreateUser(args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	email := fs.String("email", "", "user email address (required)")
	name := fs.String("name", "", "user display name (required)")
	admin := fs.Bool("admin", false, "grant admin role")
	if err := fs.Parse(args); err != nil {
		return err
	}

	role := user.RoleMember
	if *admin {
		role = user.RoleAdmin
	}

	svc, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	u, err := svc.CreateUser(context.Background(), user.CreateRequest{Email: *email, Name: *name, Role: role})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	fmt.Fprintf(os.Stderr, "User created: %s (id=%s, role=%s)\n", u.Email, u.ID, u.Role)
	return nil
}

func runAdminRegisterConnection(args []string) error {
	fs := flag.NewFlagSet("register-connection", flag.ContinueOnError)
	projectID := fs.String("project", "", "project ID (required)")
	svcName := fs.String("service", "", "github, gitlab, bitbucket, sentry, datadog or newrelic (required)")
	ref := fs.String("ref", "", "owner/repo or monitoring project slug (defaults to the project's repo URL)")
	serverURL := fs.String("server-url", "", "base URL of a self-hosted instance")
	withToken := fs.Bool("token", false, "prompt for an API token used by manual syncs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	secret, err := newWebhookSecret()
	if err != nil {
		return err
	}
	var token string
	if *withToken {
		if token, err = promptSecret("API token: "); err != nil {
			return fmt.Errorf("read token: %w", err)
		}
	}

	svc, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	c, err := svc.RegisterConnection(context.Background(), connection.CreateRequest{
		ProjectID:   *projectID,
		Service:     connection.Service(*svcName),
		ExternalRef: *ref,
		ServerURL:   *serverURL,
		Secret:      secret,
		Token:       token,
	})
	if err != nil {
		return fmt.Errorf("register connection: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Connection registered: %s (service=%s, ref=%s)\n", c.ID, c.Service, c.ExternalRef)
	fmt.Fprintf(os.Stderr, "Webhook URL:    /api/v1/webhooks/%s/%s\n", c.Service, c.ID)
	fmt.Fprintf(os.Stderr, "Webhook secret: %s\n", secret)
	fmt.Fprintln(os.Stderr, "The secret is shown once. Configure it on the provider now.")
	return nil
}

func runAdminRotateSecret(args []string) error {
	fs := flag.NewFlagSet("rotate-secret", flag.ContinueOnError)
	connID := fs.String("connection", "", "connection ID (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *connID == "" {
		return fmt.Errorf("--connection is required")
	}

	secret, err := newWebhookSecret()
	if err != nil {
		return err
	}

	svc, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := svc.RotateSecret(context.Background(), *connID, secret); err != nil {
		return fmt.Errorf("rotate secret: %w", err)
	}
	fmt.Fprintf(os.Stderr, "New webhook secret for %s: %s\n", *connID, secret)
	return nil
}

func runAdminListConnections(args []string) error {
	fs := flag.NewFlagSet("list-connections", flag.ContinueOnError)
	projectID := fs.String("project", "", "project ID (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	conns, err := svc.ListConnections(context.Background(), *projectID)
	if err != nil {
		return fmt.Errorf("list connections: %w", err)
	}
	if len(conns) == 0 {
		fmt.Println("No connections found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSERVICE\tREF\tWEBHOOK_ACTIVE\tLAST_WEBHOOK\tLAST_ERROR")
	for i := range conns {
		last := "-"
		if conns[i].LastWebhookAt != nil {
			last = conns[i].LastWebhookAt.Format("2006-01-02 15:04:05")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
			conns[i].ID, conns[i].Service, conns[i].ExternalRef, conns[i].WebhookActive, last, conns[i].LastWebhookError)
	}
	return w.Flush()
}

func runAdminHashAPIKey(args []string) error {
	fs := flag.NewFlagSet("hash-api-key", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := promptSecret("API key: ")
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	if key == "" {
		return fmt.Errorf("empty key")
	}
	fmt.Println(middleware.HashAPIKey(key))
	return nil
}

func runAdminMigrateDown(args []string) error {
	fs := flag.NewFlagSet("migrate-down", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "number of migrations to roll back")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()
	if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *steps); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("migration version: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Rolled back %d migration(s), now at version %d\n", *steps, v)
	return nil
}

// newWebhookSecret returns 32 random bytes, hex encoded.
func newWebhookSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// promptSecret reads a value from the terminal without echoing.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)                         // newline after hidden input
	if err != nil {
		return "", err
	}
	return string(b), nil
}
