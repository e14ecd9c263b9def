// Package env orchestrates the containerized desktop environment: the
// Docker container running the VNC desktop, the noVNC websocket bridge,
// and supervised helper services.
package env

import (
	"context"
	"fmt"
	"net"
	"time"
)

// PortFree reports whether a TCP port can be bound on the local host.
func PortFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// WaitForPort blocks until something accepts TCP connections on
// addr:port or the context expires.
func WaitForPort(ctx context.Context, addr string, port int, interval time.Duration) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	target := net.JoinHostPort(addr, fmt.Sprintf("%d", port))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		conn, err := net.DialTimeout("tcp", target, interval)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", target, ctx.Err())
		case <-ticker.C:
		}
	}
}
