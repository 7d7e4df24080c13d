// Package logging wires up zerolog for the whole process: one base logger,
// configurable level and output mode, and a set of per-component child
// loggers so every subsystem tags its own lines.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is the process-wide base logger. Init replaces it; until Init
// runs it defaults to a plain console writer so package init order never
// matters.
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

// Per-component child loggers, set up by Init.
var (
	Indexer    zerolog.Logger
	Bulk       zerolog.Logger
	Mempool    zerolog.Logger
	Cache      zerolog.Logger
	Query      zerolog.Logger
	Electrum   zerolog.Logger
	HTTP       zerolog.Logger
	NodeClient zerolog.Logger
	Store      zerolog.Logger
)

// Init configures the base logger and every component logger.
//
// level is one of "debug", "info", "warn", "error" (case-insensitive).
// jsonOutput selects structured JSON lines instead of the colored console
// writer; file, if non-empty, additionally tees output to that path so an
// operator can run colored console output and a JSON file simultaneously.
// timestamps controls whether log lines carry a timestamp field — an
// external supervisor that already timestamps stdout can turn this off.
func Init(level string, jsonOutput bool, file string, timestamps bool) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var writers []io.Writer
	if jsonOutput {
		writers = append(writers, os.Stderr)
	} else {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).With()
	if timestamps {
		ctx = ctx.Timestamp()
	}
	Logger = ctx.Logger()

	initComponentLoggers()
	return nil
}

func initComponentLoggers() {
	Indexer = WithComponent("indexer")
	Bulk = WithComponent("bulk")
	Mempool = WithComponent("mempool")
	Cache = WithComponent("cache")
	Query = WithComponent("query")
	Electrum = WithComponent("electrum")
	HTTP = WithComponent("http")
	NodeClient = WithComponent("nodeclient")
	Store = WithComponent("store")
}

// WithComponent returns a child logger tagging every line with component=name.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

func init() {
	initComponentLoggers()
}
