package config

import (
	"flag"
	"fmt"
	"os"
)

// Flags mirrors every CLI-settable field of Config. Explicit-set tracking
// goes through isFlagSet because a bool flag left unset is otherwise
// indistinguishable from one explicitly set to false.
type Flags struct {
	fs *flag.FlagSet

	networkID string
	dbDir     string
	daemonDir string

	daemonRPCAddr string
	cookiePath    string
	cookie        string

	electrumRPCAddr string
	httpAddr        string
	monitoringAddr  string

	indexBatchSize      int
	bulkIndexThreads    int
	txCacheSize         int
	blockTxidsCacheSize int
	txidLimit           int
	jsonrpcImport       bool
	indexUnspendables   bool
	addressSearch       bool
	serverBanner        string

	verbosity int
	timestamp bool

	confFile string
	confDir  string
}

// ParseFlags builds the indexer's flag set and parses args (normally
// os.Args[1:]).
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{fs: flag.NewFlagSet("tapyrus-indexd", flag.ContinueOnError)}
	fs := f.fs
	fs.Usage = func() { printUsage(fs) }

	fs.StringVar(&f.networkID, "network-id", "", "Tapyrus network id (prod, dev, or a numeric id)")
	fs.StringVar(&f.dbDir, "db-dir", "", "directory for the indexer's own database")
	fs.StringVar(&f.daemonDir, "daemon-dir", "", "Tapyrus daemon data directory (for cookie auth and raw block files)")
	fs.StringVar(&f.daemonRPCAddr, "daemon-rpc-addr", "", "Tapyrus daemon JSON-RPC address")
	fs.StringVar(&f.cookiePath, "cookie-path", "", "path to the daemon's .cookie auth file")
	fs.StringVar(&f.cookie, "cookie", "", "explicit user:password RPC credential, overrides --cookie-path")
	fs.StringVar(&f.electrumRPCAddr, "electrum-rpc-addr", "", "Electrum-protocol TCP listen address")
	fs.StringVar(&f.httpAddr, "http-addr", "", "HTTP REST API listen address")
	fs.StringVar(&f.monitoringAddr, "monitoring-addr", "", "Prometheus metrics listen address (empty disables)")
	fs.IntVar(&f.indexBatchSize, "index-batch-size", 0, "validated but not applied: bulk indexing commits a batch every 2000 blocks and transactions")
	fs.IntVar(&f.bulkIndexThreads, "bulk-index-threads", 0, "worker count for the bulk indexing pass (0 = GOMAXPROCS)")
	fs.IntVar(&f.txCacheSize, "tx-cache-size", 0, "number of transactions kept in the hot LRU cache")
	fs.IntVar(&f.blockTxidsCacheSize, "blocktxids-cache-size", 0, "number of blocks' txid lists kept in the hot LRU cache")
	fs.IntVar(&f.txidLimit, "txid-limit", 0, "max confirmed history entries kept per scripthash; later entries are left out, not rejected (0 = no limit)")
	fs.BoolVar(&f.jsonrpcImport, "jsonrpc-import", false, "fetch blocks via RPC instead of reading daemon block files directly")
	fs.BoolVar(&f.indexUnspendables, "index-unspendables", false, "index provably-unspendable (OP_RETURN-style) outputs too")
	fs.BoolVar(&f.addressSearch, "address-search", false, "enable the address-prefix search endpoint")
	fs.StringVar(&f.serverBanner, "server-banner", "", "banner text returned by server.banner")
	fs.BoolVar(&f.timestamp, "timestamp", true, "include timestamps in log output")
	fs.StringVar(&f.confFile, "conf", "", "path to a single config file, overrides every other layer")
	fs.StringVar(&f.confDir, "conf-dir", "", "path to a directory of config file fragments, overrides every other layer")

	var verboseCount countFlag
	fs.Var(&verboseCount, "v", "increase log verbosity; repeatable (-v -v)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f.verbosity = int(verboseCount)
	return f, nil
}

// countFlag is a value-less flag that counts how often it was given.
type countFlag int

func (c *countFlag) String() string   { return fmt.Sprint(int(*c)) }
func (c *countFlag) Set(string) error { *c++; return nil }
func (c *countFlag) IsBoolFlag() bool { return true }

func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == name {
			found = true
		}
	})
	return found
}

// Apply layers flag values set on the command line on top of cfg; flags
// left at their zero value and never explicitly set are left alone so
// earlier layers (file, env) are not clobbered by flag defaults.
func (f *Flags) Apply(cfg *Config) {
	fs := f.fs
	if isFlagSet(fs, "network-id") {
		cfg.NetworkID = f.networkID
	}
	if isFlagSet(fs, "db-dir") {
		cfg.DBDir = f.dbDir
	}
	if isFlagSet(fs, "daemon-dir") {
		cfg.DaemonDir = f.daemonDir
	}
	if isFlagSet(fs, "daemon-rpc-addr") {
		cfg.DaemonRPCAddr = f.daemonRPCAddr
	}
	if isFlagSet(fs, "cookie-path") {
		cfg.CookiePath = f.cookiePath
	}
	if isFlagSet(fs, "cookie") {
		cfg.Cookie = f.cookie
	}
	if isFlagSet(fs, "electrum-rpc-addr") {
		cfg.ElectrumRPCAddr = f.electrumRPCAddr
	}
	if isFlagSet(fs, "http-addr") {
		cfg.HTTPAddr = f.httpAddr
	}
	if isFlagSet(fs, "monitoring-addr") {
		cfg.MonitoringAddr = f.monitoringAddr
	}
	if isFlagSet(fs, "index-batch-size") {
		cfg.IndexBatchSize = f.indexBatchSize
	}
	if isFlagSet(fs, "bulk-index-threads") {
		cfg.BulkIndexThreads = f.bulkIndexThreads
	}
	if isFlagSet(fs, "tx-cache-size") {
		cfg.TxCacheSize = f.txCacheSize
	}
	if isFlagSet(fs, "blocktxids-cache-size") {
		cfg.BlockTxidsCacheSize = f.blockTxidsCacheSize
	}
	if isFlagSet(fs, "txid-limit") {
		cfg.TxidLimit = f.txidLimit
	}
	if isFlagSet(fs, "jsonrpc-import") {
		cfg.JSONRPCImport = f.jsonrpcImport
	}
	if isFlagSet(fs, "index-unspendables") {
		cfg.IndexUnspendables = f.indexUnspendables
	}
	if isFlagSet(fs, "address-search") {
		cfg.AddressSearch = f.addressSearch
	}
	if isFlagSet(fs, "server-banner") {
		cfg.ServerBanner = f.serverBanner
	}
	if isFlagSet(fs, "timestamp") {
		cfg.Timestamp = f.timestamp
	}
	if f.verbosity > 0 {
		cfg.Verbosity = f.verbosity
		cfg.LogLevel = levelForVerbosity(f.verbosity)
	}
}

func levelForVerbosity(v int) string {
	switch {
	case v >= 2:
		return "debug"
	case v == 1:
		return "info"
	default:
		return "warn"
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintln(os.Stderr, "tapyrus-indexd — Tapyrus block/mempool indexer")
	fmt.Fprintln(os.Stderr)
	fs.PrintDefaults()
}
