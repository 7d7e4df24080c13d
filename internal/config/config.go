// Package config implements the indexer's layered configuration
// precedence: built-in defaults, system config file, user config file,
// working-directory config file, environment variables, then CLI flags,
// with --conf/--conf-dir overriding everything set before them.
package config

import (
	"os"
	"path/filepath"
)

// Config holds every runtime setting of a tapyrus-indexd process.
type Config struct {
	NetworkID string `toml:"network_id"`

	DBDir      string `toml:"db_dir"`
	DaemonDir  string `toml:"daemon_dir"`

	DaemonRPCAddr string `toml:"daemon_rpc_addr"`
	CookiePath    string `toml:"cookie_path"`
	Cookie        string `toml:"cookie"`

	ElectrumRPCAddr string `toml:"electrum_rpc_addr"`
	HTTPAddr        string `toml:"http_addr"`
	MonitoringAddr  string `toml:"monitoring_addr"`

	IndexBatchSize      int  `toml:"index_batch_size"`
	BulkIndexThreads    int  `toml:"bulk_index_threads"`
	TxCacheSize         int  `toml:"tx_cache_size"`
	BlockTxidsCacheSize int  `toml:"blocktxids_cache_size"`
	TxidLimit           int  `toml:"txid_limit"`
	JSONRPCImport       bool `toml:"jsonrpc_import"`
	IndexUnspendables   bool `toml:"index_unspendables"`
	AddressSearch       bool `toml:"address_search"`
	ServerBanner        string `toml:"server_banner"`

	Verbosity int  `toml:"verbosity"`
	Timestamp bool `toml:"timestamp"`

	LogLevel string `toml:"log_level"`
	LogJSON  bool   `toml:"log_json"`
	LogFile  string `toml:"log_file"`

	// ConfFile / ConfDir are not persisted — they select which files get
	// read, so storing them in a file would be circular. CLI/env only.
	ConfFile string `toml:"-"`
	ConfDir  string `toml:"-"`
}

// DefaultDataDir returns the platform-appropriate default for --db-dir.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tapyrus-index"
	}
	return filepath.Join(home, ".tapyrus-index")
}

// Default returns the built-in defaults, the lowest layer of precedence.
func Default() *Config {
	return &Config{
		NetworkID:           "prod",
		DBDir:               DefaultDataDir(),
		DaemonDir:           filepath.Join(os.Getenv("HOME"), ".tapyrus"),
		DaemonRPCAddr:       "127.0.0.1:2377",
		ElectrumRPCAddr:     "127.0.0.1:50001",
		HTTPAddr:            "127.0.0.1:3000",
		MonitoringAddr:      "",
		IndexBatchSize:      100,
		BulkIndexThreads:    0, // 0 means "use GOMAXPROCS"
		TxCacheSize:         10000,
		BlockTxidsCacheSize: 100,
		TxidLimit:           10000,
		JSONRPCImport:       false,
		IndexUnspendables:   false,
		AddressSearch:       false,
		ServerBanner:        "tapyrus-index",
		Verbosity:           0,
		Timestamp:           true,
		LogLevel:            "info",
		LogJSON:             false,
	}
}

// SystemConfigPath is the lowest-precedence file layer.
func SystemConfigPath() string { return "/etc/tapyrus-index/config.toml" }

// UserConfigPath is the per-user file layer.
func UserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tapyrus-index", "config.toml"), nil
}

// LocalConfigPath is the working-directory file layer, highest of the
// three file layers (but still below environment and CLI flags).
func LocalConfigPath() string { return "./tapyrus-index.toml" }
