package env

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

type countingService struct {
	name string
	runs atomic.Int32
	err  error
}

func (s *countingService) Name() string { return s.name }

func (s *countingService) Run(ctx context.Context) error {
	s.runs.Add(1)
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestSupervisorStopsCleanly(t *testing.T) {
	sup := NewSupervisor(nil, nil)
	svc := &countingService{name: "stable"}
	if err := sup.Add(svc); err != nil {
		t.Fatal(err)
	}

	if err := sup.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := sup.Add(&countingService{name: "late"}); err == nil {
		t.Error("Add after Start should fail")
	}

	time.Sleep(50 * time.Millisecond)
	sup.Stop()

	if got := svc.runs.Load(); got != 1 {
		t.Errorf("service ran %d times, want 1", got)
	}
}

func TestSupervisorRestartsCrashedService(t *testing.T) {
	sup := NewSupervisor(nil, nil)
	svc := &countingService{name: "flaky", err: errors.New("boom")}
	if err := sup.Add(svc); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sup.Start(ctx); err != nil {
		t.Fatal(err)
	}

	// First restart waits one second; give it time for at least one.
	deadline := time.After(3 * time.Second)
	for svc.runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("service restarted %d times, want >= 2", svc.runs.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}

	sup.Stop()
}

func TestPortFree(t *testing.T) {
	// Grab a port, then check both states.
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	if PortFree(port) {
		t.Errorf("port %d reported free while bound", port)
	}
	ln.Close()
	if !PortFree(port) {
		t.Errorf("port %d reported busy after release", port)
	}
}

func TestWaitForPortTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := WaitForPort(ctx, "127.0.0.1", 1, 50*time.Millisecond)
	if err == nil {
		t.Error("expected timeout waiting for closed port")
	}
}
