package app

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tablebook/internal/config"
	"tablebook/internal/db"
	"tablebook/internal/engine"
	"tablebook/internal/migrate"
	"tablebook/internal/notify"
	"tablebook/internal/payment"
)

// Runtime bundles everything a command needs to serve or operate on a
// workspace.
type Runtime struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
}

// Resolve loads the workspace config, opens the database, applies
// migrations, and wires the engine with the configured payment and
// notification integrations.
func Resolve(workspace string) (*Runtime, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var provider payment.Provider
	if cfg.Payments.StripeSecretKey != "" {
		provider = payment.NewStripe(cfg.Payments.StripeSecretKey)
	}
	var notifier notify.Notifier = notify.Noop{}
	if cfg.Notifications.SlackWebhookURL != "" {
		notifier = notify.Slack{
			WebhookURL: cfg.Notifications.SlackWebhookURL,
			Currency:   cfg.Payments.Currency,
		}
	}
	return &Runtime{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    engine.New(conn, cfg, provider, notifier),
	}, nil
}

// Close releases the runtime's database handle.
func (rt *Runtime) Close() error {
	if rt.DB != nil {
		return rt.DB.Close()
	}
	return nil
}

func tokenPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".tablebook", "token")
}

// SaveToken persists the CLI session token in the workspace.
func SaveToken(workspace, token string) error {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return err
	}
	return os.WriteFile(tokenPath(workspace), []byte(token+"\n"), 0o600)
}

// LoadToken returns the stored session token, empty when absent.
func LoadToken(workspace string) (string, error) {
	data, err := os.ReadFile(tokenPath(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// ClearToken removes the stored session token.
func ClearToken(workspace string) error {
	err := os.Remove(tokenPath(workspace))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
