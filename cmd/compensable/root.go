package main

import (
	"fmt"
	"os"

	"github.com/fortressi/compensable"
	"github.com/fortressi/compensable/redisstore"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "compensable",
		Short:         "Inspect compensation snapshots",
		Long:          `compensable lists, inspects and removes the snapshots that workflow instances checkpoint to a store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	cmd.PersistentFlags().String("backend", "", "Snapshot store backend (file, redis); overrides the config")
	cmd.PersistentFlags().String("dir", "", "Snapshot directory for the file backend; overrides the config")
	cmd.PersistentFlags().String("redis-addr", "", "Redis address for the redis backend; overrides the config")

	cmd.AddCommand(newSnapshotCmd())
	return cmd
}

// Execute builds the command tree and runs it against os.Args.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(cmd *cobra.Command) (compensable.Config, error) {
	cfg := compensable.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := compensable.LoadConfig(path)
		if err != nil {
			return compensable.Config{}, err
		}
		cfg = loaded
	}
	if v, _ := cmd.Flags().GetString("backend"); v != "" {
		cfg.Store.Backend = v
	}
	if v, _ := cmd.Flags().GetString("dir"); v != "" {
		cfg.Store.Dir = v
	}
	if v, _ := cmd.Flags().GetString("redis-addr"); v != "" {
		cfg.Store.Redis.Addr = v
	}
	if err := cfg.Validate(); err != nil {
		return compensable.Config{}, err
	}
	return cfg, nil
}

// openStore builds the snapshot store selected by cfg.
func openStore(cfg compensable.Config) (compensable.Store, error) {
	switch cfg.Store.Backend {
	case compensable.BackendFile:
		return compensable.NewFileStore(cfg.Store.Dir)
	case compensable.BackendRedis:
		r := cfg.Store.Redis
		return redisstore.New(r.Addr, r.Password, r.DB,
			redisstore.WithPrefix(r.Prefix),
			redisstore.WithTTL(r.TTL),
		), nil
	case compensable.BackendMemory:
		return nil, fmt.Errorf("the memory backend does not outlive a process and cannot be inspected")
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func getStore(cmd *cobra.Command) (compensable.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return store, nil
}
