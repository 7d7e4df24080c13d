package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// envPrefix namespaces every environment override this daemon reads.
const envPrefix = "TAPIDX_"

// applyEnv overlays TAPIDX_* environment variables. Only variables that are
// actually set are applied, same "don't clobber with zero values" rule as
// the flag layer.
func applyEnv(cfg *Config) error {
	get := func(name string) (string, bool) {
		return os.LookupEnv(envPrefix + name)
	}
	if v, ok := get("NETWORK_ID"); ok {
		cfg.NetworkID = v
	}
	if v, ok := get("DB_DIR"); ok {
		cfg.DBDir = v
	}
	if v, ok := get("DAEMON_DIR"); ok {
		cfg.DaemonDir = v
	}
	if v, ok := get("DAEMON_RPC_ADDR"); ok {
		cfg.DaemonRPCAddr = v
	}
	if v, ok := get("COOKIE_PATH"); ok {
		cfg.CookiePath = v
	}
	if v, ok := get("COOKIE"); ok {
		cfg.Cookie = v
	}
	if v, ok := get("ELECTRUM_RPC_ADDR"); ok {
		cfg.ElectrumRPCAddr = v
	}
	if v, ok := get("HTTP_ADDR"); ok {
		cfg.HTTPAddr = v
	}
	if v, ok := get("MONITORING_ADDR"); ok {
		cfg.MonitoringAddr = v
	}
	if v, ok := get("INDEX_BATCH_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sINDEX_BATCH_SIZE: %w", envPrefix, err)
		}
		cfg.IndexBatchSize = n
	}
	if v, ok := get("BULK_INDEX_THREADS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sBULK_INDEX_THREADS: %w", envPrefix, err)
		}
		cfg.BulkIndexThreads = n
	}
	if v, ok := get("TX_CACHE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sTX_CACHE_SIZE: %w", envPrefix, err)
		}
		cfg.TxCacheSize = n
	}
	if v, ok := get("BLOCKTXIDS_CACHE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sBLOCKTXIDS_CACHE_SIZE: %w", envPrefix, err)
		}
		cfg.BlockTxidsCacheSize = n
	}
	if v, ok := get("TXID_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sTXID_LIMIT: %w", envPrefix, err)
		}
		cfg.TxidLimit = n
	}
	if v, ok := get("JSONRPC_IMPORT"); ok {
		cfg.JSONRPCImport = truthy(v)
	}
	if v, ok := get("INDEX_UNSPENDABLES"); ok {
		cfg.IndexUnspendables = truthy(v)
	}
	if v, ok := get("ADDRESS_SEARCH"); ok {
		cfg.AddressSearch = truthy(v)
	}
	if v, ok := get("SERVER_BANNER"); ok {
		cfg.ServerBanner = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	return nil
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Load runs the full four-layer precedence chain: built-in defaults,
// system config file, user config file, local config file, environment,
// then CLI flags. --conf/--conf-dir, if given on the CLI, are read after
// all of that and override every earlier layer; flags explicitly set on
// the command line are then applied once more, so they still win.
func Load(args []string) (*Config, error) {
	flags, err := ParseFlags(args)
	if err != nil {
		return nil, err
	}

	cfg := Default()

	if err := applyTOMLFile(cfg, SystemConfigPath(), false); err != nil {
		return nil, fmt.Errorf("system config: %w", err)
	}
	if userPath, err := UserConfigPath(); err == nil {
		if err := applyTOMLFile(cfg, userPath, false); err != nil {
			return nil, fmt.Errorf("user config: %w", err)
		}
	}
	if err := applyTOMLFile(cfg, LocalConfigPath(), false); err != nil {
		return nil, fmt.Errorf("local config: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	flags.Apply(cfg)

	if flags.confDir != "" {
		if err := applyTOMLDir(cfg, flags.confDir); err != nil {
			return nil, fmt.Errorf("conf-dir: %w", err)
		}
	}
	if flags.confFile != "" {
		if err := applyTOMLFile(cfg, flags.confFile, true); err != nil {
			return nil, fmt.Errorf("conf: %w", err)
		}
	}
	// --conf/--conf-dir win over every other layer, but flags that were
	// explicitly set on this same invocation still apply last — an operator
	// passing both --conf and --http-addr expects the flag to stick.
	flags.Apply(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
