// Package rpc serves the tool surface over newline-framed JSON-RPC, on a
// unix socket or stdio.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/psgate/psgate/internal/gateway"
)

// RPCRequest is a JSON-RPC style request frame.
type RPCRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     int64           `json:"id"`
}

// RPCResponse is a JSON-RPC style response frame.
type RPCResponse struct {
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
	ID     int64  `json:"id"`
}

// Error is a JSON-RPC error with the gateway error kind attached.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// Standard and gateway-specific error codes.
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidReq     = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
	ErrCodeUnauthorized   = -32001
	ErrCodeRateLimited    = -32002
)

// Server dispatches framed requests to the gateway.
type Server struct {
	gw         *gateway.Gateway
	socketPath string
	listener   net.Listener
	logger     *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server bound to a unix socket. Pass an empty path for
// stdio-only use via ServeConn.
func NewServer(gw *gateway.Gateway, socketPath string, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{gw: gw, socketPath: socketPath, logger: logger, ctx: ctx, cancel: cancel}

	if socketPath != "" {
		if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
			cancel()
			return nil, fmt.Errorf("removing stale socket: %w", err)
		}
		ln, err := net.Listen("unix", socketPath)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("creating unix socket: %w", err)
		}
		if err := os.Chmod(socketPath, 0o600); err != nil {
			ln.Close()
			os.Remove(socketPath)
			cancel()
			return nil, fmt.Errorf("setting socket permissions: %w", err)
		}
		s.listener = ln
	}
	return s, nil
}

// Start accepts connections until ctx is cancelled. Requires a socket.
func (s *Server) Start(ctx context.Context) error {
	if s.listener == nil {
		return fmt.Errorf("server has no listener; use ServeConn for stdio")
	}
	s.logger.Info("rpc server started", "socket", s.socketPath)

	go func() {
		<-ctx.Done()
		s.cancel()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-s.ctx.Done():
				return nil
			default:
				s.logger.Error("accept failed", "error", err)
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.serve(conn, conn, connCallerID(conn))
		}()
	}
}

// Stop shuts the server down and removes the socket.
func (s *Server) Stop() error {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("timed out waiting for connections to close")
	}
	if s.socketPath != "" {
		if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing socket: %w", err)
		}
	}
	return nil
}

// ServeConn runs the frame loop over an arbitrary reader/writer pair. Used
// for stdio transports and tests.
func (s *Server) ServeConn(r io.Reader, w io.Writer, callerID string) {
	s.serve(r, w, callerID)
}

func (s *Server) serve(r io.Reader, w io.Writer, callerID string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var writeMu sync.Mutex
	write := func(resp *RPCResponse) error {
		data, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		data = append(data, '\n')
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err = w.Write(data)
		return err
	}

	for scanner.Scan() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := s.handleRequest(line, callerID, write)
		if resp != nil {
			if err := write(resp); err != nil {
				s.logger.Debug("write response failed", "error", err)
				return
			}
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug("connection read error", "error", err)
	}
}

// canonicalMethod maps snake_case aliases to the canonical camelCase names.
var canonicalMethod = map[string]string{
	"execute_command":          "executeCommand",
	"check_syntax":             "checkSyntax",
	"working_directory_policy": "workingDirectoryPolicy",
	"server_stats":             "serverStats",
	"threat_analysis":          "threatAnalysis",
	"capture_sample":           "captureSample",
}

func (s *Server) handleRequest(data []byte, callerID string, write func(*RPCResponse) error) *RPCResponse {
	var req RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return &RPCResponse{Error: &Error{Code: ErrCodeParse, Message: "parse error: " + err.Error()}}
	}

	method := req.Method
	if canonical, ok := canonicalMethod[method]; ok {
		method = canonical
	}

	switch method {
	case "ping":
		return &RPCResponse{Result: map[string]bool{"pong": true}, ID: req.ID}

	case "executeCommand":
		var args gateway.ExecuteArgs
		if err := unmarshalParams(req.Params, &args); err != nil {
			return invalidParams(req.ID, err)
		}
		if args.CallerID == "" {
			args.CallerID = callerID
		}
		resp, err := s.gw.ExecuteCommand(s.ctx, args)
		return s.finish(req.ID, resp, err)

	case "checkSyntax":
		var args gateway.CheckSyntaxArgs
		if err := unmarshalParams(req.Params, &args); err != nil {
			return invalidParams(req.ID, err)
		}
		resp, err := s.gw.CheckSyntax(s.ctx, args)
		return s.finish(req.ID, resp, err)

	case "workingDirectoryPolicy":
		var args gateway.PolicyArgs
		if err := unmarshalParams(req.Params, &args); err != nil {
			return invalidParams(req.ID, err)
		}
		resp, err := s.gw.WorkingDirectoryPolicy(args)
		return s.finish(req.ID, resp, err)

	case "serverStats":
		var args gateway.StatsArgs
		if err := unmarshalParams(req.Params, &args); err != nil {
			return invalidParams(req.ID, err)
		}
		resp, err := s.gw.ServerStats(args)
		return s.finish(req.ID, resp, err)

	case "threatAnalysis":
		var args gateway.ThreatArgs
		if err := unmarshalParams(req.Params, &args); err != nil {
			return invalidParams(req.ID, err)
		}
		resp, err := s.gw.ThreatAnalysis(args)
		return s.finish(req.ID, resp, err)

	case "learn":
		var args gateway.LearnArgs
		if err := unmarshalParams(req.Params, &args); err != nil {
			return invalidParams(req.ID, err)
		}
		resp, err := s.gw.Learn(args)
		return s.finish(req.ID, resp, err)

	case "captureSample":
		var args gateway.CommonArgs
		if err := unmarshalParams(req.Params, &args); err != nil {
			return invalidParams(req.ID, err)
		}
		resp, err := s.gw.CaptureSample(args)
		return s.finish(req.ID, resp, err)

	case "history":
		var args gateway.HistoryArgs
		if err := unmarshalParams(req.Params, &args); err != nil {
			return invalidParams(req.ID, err)
		}
		resp, err := s.gw.History(args)
		return s.finish(req.ID, resp, err)

	case "subscribe":
		return s.handleSubscribe(req, write)

	default:
		return &RPCResponse{
			Error: &Error{Code: ErrCodeMethodNotFound, Message: "method not found: " + req.Method},
			ID:    req.ID,
		}
	}
}

// handleSubscribe streams events over the same connection after the initial
// acknowledgement.
func (s *Server) handleSubscribe(req RPCRequest, write func(*RPCResponse) error) *RPCResponse {
	sub := s.gw.Events().Subscribe()
	if err := write(&RPCResponse{Result: map[string]bool{"subscribed": true}, ID: req.ID}); err != nil {
		sub.Close()
		return nil
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sub.Close()
		for {
			select {
			case <-s.ctx.Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				if err := write(&RPCResponse{Result: map[string]any{"event": ev}}); err != nil {
					return
				}
			}
		}
	}()
	return nil // acknowledgement already written
}

func (s *Server) finish(id int64, result any, err error) *RPCResponse {
	if err != nil {
		return &RPCResponse{Error: toRPCError(err), ID: id}
	}
	return &RPCResponse{Result: result, ID: id}
}

func toRPCError(err error) *Error {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		code := ErrCodeInternal
		switch gwErr.Kind {
		case gateway.KindUnauthorized:
			code = ErrCodeUnauthorized
		case gateway.KindRateLimited:
			code = ErrCodeRateLimited
		case gateway.KindInvalidArgument:
			code = ErrCodeInvalidParams
		}
		return &Error{Code: code, Message: gwErr.Message, Kind: string(gwErr.Kind)}
	}
	return &Error{Code: ErrCodeInternal, Message: err.Error(), Kind: string(gateway.KindInternal)}
}

func unmarshalParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	return json.Unmarshal(params, v)
}

func invalidParams(id int64, err error) *RPCResponse {
	return &RPCResponse{
		Error: &Error{Code: ErrCodeInvalidParams, Message: "invalid params: " + err.Error()},
		ID:    id,
	}
}

// connCallerID derives a stable caller identity for rate limiting from the
// connection. Unix sockets have no per-peer address, so the remote string
// plus local fallback is used.
func connCallerID(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil && addr.String() != "" && addr.String() != "@" {
		return addr.String()
	}
	return "local"
}
