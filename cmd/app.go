package cmd

import (
	"context"
	"fmt"

	"github.com/kebairia/backman/internal/config"
	"github.com/kebairia/backman/internal/logger"
	"github.com/kebairia/backman/internal/notify"
	"github.com/kebairia/backman/internal/operations"
	"github.com/kebairia/backman/internal/storage"
	"github.com/kebairia/backman/internal/vault"
)

// setup loads ConfigFile, opens the log and wires every optional
// collaborator the configuration enables. The caller must Sync the logger.
func setup(ctx context.Context) (*operations.OperationManager, logger.Logger, error) {
	cfg, err := config.Load(ConfigFile)
	if err != nil {
		return nil, nil, err
	}

	log, err := logger.Init(logger.Options{
		File:    cfg.LogFile,
		Level:   cfg.LogLevel,
		Console: Verbose,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", config.ErrConfig, err)
	}

	opts := []operations.Option{operations.WithLogger(log)}

	if cfg.VaultEnabled() {
		client, err := vault.NewClient(ctx,
			vault.WithAddress(cfg.Vault.Address),
			vault.WithAppRole(cfg.Vault.RoleID, cfg.Vault.RoleName),
		)
		if err != nil {
			log.Error("vault client init failed", "address", cfg.Vault.Address, "error", err)
			return nil, log, err
		}
		opts = append(opts, operations.WithSecrets(client))
	}

	if cfg.Cloud.Enabled {
		up, err := storage.NewS3Uploader(cfg.Cloud)
		if err != nil {
			log.Error("cloud uploader init failed", "bucket", cfg.Cloud.Bucket, "error", err)
			return nil, log, err
		}
		opts = append(opts, operations.WithUploader(up))
	}

	if cfg.Email.Enabled {
		opts = append(opts, operations.WithNotifier(
			notify.New(cfg.Email, notify.NewSMTPMailer(cfg.Email)),
		))
	}

	om, err := operations.NewOperationManager(cfg, opts...)
	if err != nil {
		return nil, log, err
	}
	return om, log, nil
}
