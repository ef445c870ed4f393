package app

import (
	"context"
	"fmt"
	"os"

	"github.com/jbriggs-source/PestGenie-sub001/internal/config"
	"github.com/jbriggs-source/PestGenie-sub001/internal/db"
	"github.com/jbriggs-source/PestGenie-sub001/internal/engine"
	"github.com/jbriggs-source/PestGenie-sub001/internal/migrate"
)

// DefaultCompanyID is used when a workspace has no config and no override.
const DefaultCompanyID = "pestgenie"

// ResolveConfig loads the workspace config, writing the default pestgenie.yml
// when none exists so the workspace states its settings explicitly. A company
// override wins over the file.
func ResolveConfig(workspace, companyOverride string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		companyID := companyOverride
		if companyID == "" {
			companyID = DefaultCompanyID
		}
		if err := SeedConfigFile(workspace, companyID); err != nil {
			return nil, fmt.Errorf("seed config: %w", err)
		}
		cfg = config.Default(companyID)
	}
	if companyOverride != "" {
		cfg.Company.ID = companyOverride
	}
	return cfg, nil
}

// SeedConfigFile writes the default config to the workspace unless one is
// already present.
func SeedConfigFile(workspace, companyID string) error {
	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(path, []byte(config.GenerateDefault(companyID)), 0o644)
}

// OpenEngine prepares the workspace for a CLI command: it ensures the
// workspace directory, resolves config, opens and migrates the database, and
// syncs the configured reason codes so skip and move validation matches what
// dispatch configured. The returned closer releases the database handle.
func OpenEngine(ctx context.Context, workspace, companyOverride string) (engine.Engine, func() error, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return engine.Engine{}, nil, err
	}
	cfg, err := ResolveConfig(workspace, companyOverride)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace, Path: cfg.Database.Path})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	e := engine.New(conn, cfg)
	if err := e.SeedReasonCodes(ctx, cfg.ReasonCodes); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("seed reason codes: %w", err)
	}
	return e, conn.Close, nil
}
