package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/delistd/delistctl/pkg/catalog"
	"github.com/delistd/delistctl/pkg/crypto"
	"github.com/delistd/delistctl/pkg/keystore"
	"github.com/delistd/delistctl/pkg/repository"
	"github.com/delistd/delistctl/pkg/telemetry"
	"github.com/delistd/delistctl/pkg/vault"
)

const databaseFileName = "removal.db"

var (
	cfgPath string
	cfg     *Config

	v    *vault.Vault
	sink *telemetry.FileSink
	repo *repository.Repository
)

var rootCmd = &cobra.Command{
	Use:   "delistctl",
	Short: "delistctl manages an encrypted data broker removal store",
	Long: `A local, encrypted store tracking which data brokers list your
personal information and how far each removal request has progressed.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(cfgPath)
		if err != nil {
			return err
		}
		// The store doesn't exist yet when initializing.
		if cmd.Use == "init" {
			return nil
		}
		return openStore()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if v != nil {
			return v.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file path (default: <data-dir>/config.yaml)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(brokersCmd)
	rootCmd.AddCommand(nextRunCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(wipeCmd)
}

// openStore wires the keystore, crypto gateway, telemetry sink, vault and
// repository from the configured data directory.
func openStore() error {
	ks := keystore.NewFileKeyStore(cfg.DataDir, crypto.DefaultParams)
	wrapped, err := ks.WrappedKey()
	if err != nil {
		return fmt.Errorf("failed to read key store: %w", err)
	}
	if wrapped == nil {
		return fmt.Errorf("store not initialized at %s (run 'delistctl init')", cfg.DataDir)
	}
	salt, err := ks.Salt()
	if err != nil {
		return fmt.Errorf("failed to read key store: %w", err)
	}

	gw := vault.NewGateway(ks, crypto.NewProvider(salt, crypto.DefaultParams))

	var sinkKey []byte
	if err := gw.WithWorkingKey(func(key []byte) error {
		sinkKey, err = telemetry.DeriveSinkKey(key)
		return err
	}); err != nil {
		return fmt.Errorf("failed to unlock store: %w", err)
	}
	sink, err = telemetry.NewFileSink(filepath.Join(cfg.DataDir, "telemetry"), sinkKey)
	if err != nil {
		return err
	}

	store, err := vault.Open(filepath.Join(cfg.DataDir, databaseFileName), sink)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	v = vault.New(store, gw)
	repo = repository.New(v, catalog.NewDir(os.DirFS(cfg.CatalogDir)), sink)
	return nil
}

// initCmd creates the data directory, generates key material and creates the
// database schema.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the key store and database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		if err := os.MkdirAll(cfg.CatalogDir, 0700); err != nil {
			return fmt.Errorf("failed to create catalog directory: %w", err)
		}
		if err := writeDefaultConfig(cfg); err != nil {
			return err
		}

		ks := keystore.NewFileKeyStore(cfg.DataDir, crypto.DefaultParams)
		switch err := ks.Initialize(); {
		case errors.Is(err, keystore.ErrAlreadyInitialized):
			fmt.Println("Key material already present, keeping it")
		case err != nil:
			return fmt.Errorf("failed to initialize key store: %w", err)
		}

		// Create the schema up front so the first save doesn't pay for it.
		if err := openStore(); err != nil {
			return err
		}
		if err := v.Close(); err != nil {
			return err
		}
		v = nil

		fmt.Printf("Store initialized at %s\n", cfg.DataDir)
		fmt.Printf("Place broker definitions under %s and run 'delistctl brokers import'\n", cfg.CatalogDir)
		return nil
	},
}

// parseDuration parses a duration string like "30d", "12w", "24h".
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]

	var value int
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", valueStr)
	}

	switch unit {
	case 'h':
		return time.Duration(value) * time.Hour, nil
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	default:
		return time.ParseDuration(s)
	}
}
