package env

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcpworld/harness/internal/observability"
)

const (
	novncWriteWait = 10 * time.Second
	novncPongWait  = 45 * time.Second
	novncPingTick  = 15 * time.Second
)

// NoVNCBridge proxies browser websocket connections to the VNC server.
// The VNC endpoint comes from configuration, so the web client never
// needs a target address baked into its static files.
type NoVNCBridge struct {
	listenPort int
	vncAddr    string
	logger     *observability.Logger
	upgrader   websocket.Upgrader

	mu     sync.Mutex
	server *http.Server
}

// NewNoVNCBridge creates a bridge listening on listenPort and proxying
// to the VNC server at vncHost:vncPort.
func NewNoVNCBridge(listenPort int, vncHost string, vncPort int, logger *observability.Logger) *NoVNCBridge {
	if vncHost == "" {
		vncHost = "127.0.0.1"
	}
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	return &NoVNCBridge{
		listenPort: listenPort,
		vncAddr:    net.JoinHostPort(vncHost, fmt.Sprintf("%d", vncPort)),
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			Subprotocols:    []string{"binary"},
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

// Name implements Service.
func (b *NoVNCBridge) Name() string { return "novnc" }

// Run implements Service: serve until ctx is cancelled.
func (b *NoVNCBridge) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/websockify", b.handleWebsockify)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", b.listenPort),
		Handler: mux,
	}
	b.mu.Lock()
	b.server = server
	b.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handleWebsockify upgrades the connection and shuttles bytes between
// the websocket and the VNC TCP socket.
func (b *NoVNCBridge) handleWebsockify(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	vnc, err := net.DialTimeout("tcp", b.vncAddr, 10*time.Second)
	if err != nil {
		b.logger.Error(r.Context(), "vnc dial failed", "addr", b.vncAddr, "error", err)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "vnc unreachable"),
			time.Now().Add(novncWriteWait))
		return
	}
	defer vnc.Close()

	b.logger.Info(r.Context(), "vnc session opened",
		"client", r.RemoteAddr, "vnc", b.vncAddr)

	done := make(chan struct{}, 2)

	// websocket -> vnc
	go func() {
		defer func() { done <- struct{}{} }()
		ws.SetReadDeadline(time.Now().Add(novncPongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(novncPongWait))
		})
		for {
			msgType, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			if _, err := vnc.Write(data); err != nil {
				return
			}
		}
	}()

	// vnc -> websocket
	go func() {
		defer func() { done <- struct{}{} }()
		buf := make([]byte, 32*1024)
		for {
			n, err := vnc.Read(buf)
			if n > 0 {
				ws.SetWriteDeadline(time.Now().Add(novncWriteWait))
				if werr := ws.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					b.logger.Debug(r.Context(), "vnc read ended", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(novncPingTick)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			b.logger.Info(r.Context(), "vnc session closed", "client", r.RemoteAddr)
			return
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(novncWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
