package config

import "fmt"

// Validate checks for obvious operator mistakes before anything opens a
// socket or a database.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.DBDir == "" {
		return fmt.Errorf("db-dir must not be empty")
	}
	if cfg.DaemonRPCAddr == "" {
		return fmt.Errorf("daemon-rpc-addr must not be empty")
	}
	if cfg.IndexBatchSize <= 0 {
		return fmt.Errorf("index-batch-size must be positive, got %d", cfg.IndexBatchSize)
	}
	if cfg.BulkIndexThreads < 0 {
		return fmt.Errorf("bulk-index-threads must not be negative")
	}
	if cfg.TxCacheSize < 0 || cfg.BlockTxidsCacheSize < 0 {
		return fmt.Errorf("cache sizes must not be negative")
	}
	if cfg.Cookie == "" && cfg.CookiePath == "" {
		return fmt.Errorf("one of cookie or cookie-path must be set for daemon RPC auth")
	}
	return nil
}
