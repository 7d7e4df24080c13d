// Package electrum implements the Electrum-style line protocol: newline
// delimited JSON-RPC 2.0 over TCP, one goroutine per connection, with
// server-pushed subscription notifications for headers and scripthashes.
package electrum

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/tapyrus-index/internal/mempool"
	"github.com/Klingon-tech/tapyrus-index/internal/metrics"
	"github.com/Klingon-tech/tapyrus-index/internal/nodeclient"
	"github.com/Klingon-tech/tapyrus-index/internal/query"
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
)

// maxLineSize bounds a single request line.
const maxLineSize = 1 << 20

// notifyInterval is how often each connection re-checks its subscriptions
// for changes to push.
const notifyInterval = 5 * time.Second

// ProtocolVersion is the Electrum protocol version this server speaks.
const ProtocolVersion = "1.4"

// ServerVersion identifies this implementation in server.version replies.
const ServerVersion = "tapyrus-index 0.1.0"

// Server accepts Electrum protocol connections and serves them until Stop.
type Server struct {
	addr   string
	query  *query.Query
	pool   *mempool.Pool
	node   *nodeclient.Client
	banner string
	logger zerolog.Logger

	ln     net.Listener
	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// New creates an Electrum server; Start binds and begins accepting.
func New(addr string, q *query.Query, pool *mempool.Pool, node *nodeclient.Client, banner string, logger zerolog.Logger) *Server {
	return &Server{
		addr:   addr,
		query:  q,
		pool:   pool,
		node:   node,
		banner: banner,
		logger: logger,
		conns:  make(map[*conn]struct{}),
	}
}

// Start binds the listener and serves connections in background goroutines.
// It returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("electrum server listening")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			c, err := ln.Accept()
			if err != nil {
				s.mu.Lock()
				closed := s.closed
				s.mu.Unlock()
				if closed {
					return
				}
				s.logger.Warn().Err(err).Msg("accept failed")
				continue
			}
			s.serveConn(c)
		}
	}()
	return nil
}

// Addr returns the bound listen address, useful when addr was ":0".
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes the listener and every open connection, then waits for the
// per-connection goroutines to drain. In-flight requests run to completion;
// their results go to a closed socket and are discarded.
func (s *Server) Stop() {
	s.mu.Lock()
	s.closed = true
	if s.ln != nil {
		s.ln.Close()
	}
	for c := range s.conns {
		c.netConn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

type conn struct {
	srv     *Server
	netConn net.Conn
	logger  zerolog.Logger

	writeMu sync.Mutex // request replies and pushed notifications interleave

	subMu         sync.Mutex
	scriptSubs    map[chainhash.Hash256]string // scripthash -> last pushed status
	headerSub     bool
	lastTipHash   chainhash.Hash256
	subsActivated bool
}

func (s *Server) serveConn(nc net.Conn) {
	c := &conn{
		srv:        s,
		netConn:    nc,
		logger:     s.logger.With().Str("peer", nc.RemoteAddr().String()).Logger(),
		scriptSubs: make(map[chainhash.Hash256]string),
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		nc.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	metrics.ElectrumConnections.Inc()

	ctx, cancel := context.WithCancel(context.Background())
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.notifyLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		defer cancel()
		c.readLoop(ctx)
		nc.Close()
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		metrics.ElectrumConnections.Dec()
	}()
}

// readLoop reads newline-delimited requests until the peer disconnects.
func (c *conn) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(c.netConn)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			c.writeResponse(response{JSONRPC: "2.0", Error: &rpcError{Code: codeParse, Message: "parse error"}})
			continue
		}
		c.handle(ctx, &req)
	}
	if err := scanner.Err(); err != nil {
		c.logger.Debug().Err(err).Msg("connection read ended")
	}
}

// notifyLoop pushes headers.subscribe and scripthash.subscribe
// notifications when the subscribed state changes.
func (c *conn) notifyLoop(ctx context.Context) {
	ticker := time.NewTicker(notifyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		c.subMu.Lock()
		active := c.subsActivated
		c.subMu.Unlock()
		if !active {
			continue
		}
		c.pushHeaderUpdate(ctx)
		c.pushScriptUpdates(ctx)
	}
}

func (c *conn) pushHeaderUpdate(ctx context.Context) {
	c.subMu.Lock()
	subscribed := c.headerSub
	last := c.lastTipHash
	c.subMu.Unlock()
	if !subscribed {
		return
	}
	tip, err := c.srv.query.Tip()
	if err != nil || tip.Hash == last {
		return
	}
	hdr, err := c.srv.tipHeader(ctx)
	if err != nil {
		return
	}
	c.subMu.Lock()
	c.lastTipHash = tip.Hash
	c.subMu.Unlock()
	c.writeNotification("blockchain.headers.subscribe", []interface{}{hdr})
}

func (c *conn) pushScriptUpdates(ctx context.Context) {
	c.subMu.Lock()
	watched := make([]chainhash.Hash256, 0, len(c.scriptSubs))
	for sh := range c.scriptSubs {
		watched = append(watched, sh)
	}
	c.subMu.Unlock()

	for _, sh := range watched {
		status, err := c.srv.scriptHashStatus(ctx, sh)
		if err != nil {
			continue
		}
		c.subMu.Lock()
		prev, still := c.scriptSubs[sh]
		changed := still && prev != statusString(status)
		if changed {
			c.scriptSubs[sh] = statusString(status)
		}
		c.subMu.Unlock()
		if changed {
			c.writeNotification("blockchain.scripthash.subscribe", []interface{}{sh.String(), status})
		}
	}
}

func statusString(status interface{}) string {
	if s, ok := status.(string); ok {
		return s
	}
	return ""
}

func (c *conn) writeResponse(resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error().Err(err).Msg("marshal response")
		return
	}
	c.writeLine(data)
}

func (c *conn) writeNotification(method string, params interface{}) {
	data, err := json.Marshal(notification{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return
	}
	c.writeLine(data)
}

func (c *conn) writeLine(data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.netConn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	if _, err := c.netConn.Write(append(data, '\n')); err != nil {
		c.logger.Debug().Err(err).Msg("write failed, peer likely gone")
	}
}
