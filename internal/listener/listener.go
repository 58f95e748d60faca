package listener

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"sync"

	"github.com/ajlab/ojd/internal/common/config"
	"github.com/ajlab/ojd/internal/common/logger"
	"github.com/ajlab/ojd/internal/ids"
	"github.com/ajlab/ojd/internal/ojerr"
	"github.com/ajlab/ojd/internal/runtime"
	"github.com/ajlab/ojd/internal/state"
	"go.uber.org/zap"
)

// Listener serves the daemon's query/command API over a Unix socket
// (and, when configured, a loopback TCP listener guarded by a bearer
// token).
type Listener struct {
	Cfg   config.ListenConfig
	State *state.MaterializedState
	RT    *runtime.Runtime
	Log   *logger.Logger

	unixLn net.Listener
	tcpLn  net.Listener
	mu     sync.Mutex
}

// New prepares a Listener; Serve binds its Unix socket (always present)
// and, when cfg.TCPAddr is set, an optional second TCP transport.
func New(cfg config.ListenConfig, st *state.MaterializedState, rt *runtime.Runtime, log *logger.Logger) *Listener {
	return &Listener{Cfg: cfg, State: st, RT: rt, Log: log.Named("listener")}
}

// Serve binds sockPath and, if configured, cfg.TCPAddr, then accepts
// connections until ctx is cancelled.
func (l *Listener) Serve(ctx context.Context, sockPath string) error {
	if err := os.RemoveAll(sockPath); err != nil && !os.IsNotExist(err) {
		return ojerr.AdapterFailure("listener", err)
	}
	unixLn, err := net.Listen("unix", sockPath)
	if err != nil {
		return ojerr.AdapterFailure("listener", err)
	}
	l.unixLn = unixLn
	if err := os.Chmod(sockPath, 0o600); err != nil {
		l.Log.Warn("chmod socket failed", zap.Error(err))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); l.acceptLoop(ctx, unixLn, false) }()

	if l.Cfg.TCPAddr != "" {
		tcpLn, err := net.Listen("tcp", l.Cfg.TCPAddr)
		if err != nil {
			return ojerr.AdapterFailure("listener", err)
		}
		l.tcpLn = tcpLn
		wg.Add(1)
		go func() { defer wg.Done(); l.acceptLoop(ctx, tcpLn, true) }()
	}

	<-ctx.Done()
	l.Close()
	wg.Wait()
	return nil
}

// Close stops accepting new connections. Existing connections drain on
// their own as their goroutines observe ctx.Done.
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unixLn != nil {
		_ = l.unixLn.Close()
	}
	if l.tcpLn != nil {
		_ = l.tcpLn.Close()
	}
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener, requireToken bool) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.Log.Warn("accept failed", zap.Error(err))
			continue
		}
		go l.serveConn(ctx, conn, requireToken)
	}
}

func (l *Listener) serveConn(ctx context.Context, conn net.Conn, requireToken bool) {
	defer conn.Close()

	authed := !requireToken
	reader := bufio.NewScanner(conn)
	reader.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	enc := json.NewEncoder(conn)

	for reader.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := reader.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(errResponse("", "", ojerr.Validation("malformed request: %v", err)))
			continue
		}

		if requireToken && !authed {
			if req.Type != "Hello" {
				_ = enc.Encode(errResponse(req.ID, req.Type, ojerr.Validation("Hello with bearer token required first")))
				continue
			}
			var hello struct {
				HelloRequest
				Token string `json:"token"`
			}
			_ = json.Unmarshal(req.Payload, &hello)
			if hello.Token != l.Cfg.BearerToken {
				_ = enc.Encode(errResponse(req.ID, req.Type, ojerr.Validation("invalid bearer token")))
				return
			}
			authed = true
		}

		resp := l.dispatch(ctx, req)
		if err := enc.Encode(resp); err != nil {
			l.Log.Debug("write response failed", zap.Error(err))
			return
		}
	}
}

// resolver builds a prefix resolver over every currently known ID of
// kind; unambiguous prefixes of four or more chars resolve.
func (l *Listener) resolver(kind string) ids.Resolver {
	var all []string
	l.State.View(func(s *state.MaterializedState) {
		switch kind {
		case "job":
			for id := range s.Jobs {
				all = append(all, id)
			}
		case "agent":
			for id := range s.Agents {
				all = append(all, id)
			}
		case "workspace":
			for id := range s.Workspaces {
				all = append(all, id)
			}
		case "decision":
			for id := range s.Decisions {
				all = append(all, id)
			}
		}
	})
	return ids.Resolver{All: all}
}
