package p2pchat

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func loopbackAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
}

func TestListen(t *testing.T) {
	server, err := Listen(loopbackAddr())
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer server.Close()

	if server.listener == nil {
		t.Error("listener is nil")
	}

	if server.Addr() == nil {
		t.Error("Addr returned nil")
	}
}

func TestListen_AddrInUse(t *testing.T) {
	// First create a listener to occupy a port
	server1, err := Listen(loopbackAddr())
	if err != nil {
		t.Fatalf("first Listen failed: %v", err)
	}
	defer server1.Close()

	// Try to create another server on the same port
	_, err = Listen(server1.Addr().(*net.TCPAddr))
	if err == nil {
		t.Error("expected error when binding to occupied port")
	}
}

func TestListen_WithLogger(t *testing.T) {
	logger := &mockLogger{}
	server, err := Listen(loopbackAddr(), ServerLoggerOption(logger))
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer server.Close()

	if server.logger != logger {
		t.Error("logger not set correctly")
	}

	if !logger.infoCalled {
		t.Error("server start should be logged")
	}
}

func TestServer_Accept(t *testing.T) {
	server, err := Listen(loopbackAddr(), ServerLoggerOption(DiscardLogger()))
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer server.Close()

	go func() {
		conn, err := net.Dial("tcp", server.Addr().String())
		if err != nil {
			t.Errorf("failed to connect: %v", err)
			return
		}
		time.Sleep(100 * time.Millisecond)
		conn.Close()
	}()

	conn, err := server.Accept(context.Background())
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	defer conn.Close()

	if conn.RemoteAddr() == nil {
		t.Error("accepted connection has no remote address")
	}
}

func TestServer_Accept_ContextCanceled(t *testing.T) {
	server, err := Listen(loopbackAddr(), ServerLoggerOption(DiscardLogger()))
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := server.Accept(ctx)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Accept to return")
	}
}

func TestServer_Accept_AfterClose(t *testing.T) {
	server, err := Listen(loopbackAddr(), ServerLoggerOption(DiscardLogger()))
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := server.Accept(context.Background())
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	server.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrServerClosed) {
			t.Errorf("expected ErrServerClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Accept to return")
	}

	if _, err := server.Accept(context.Background()); !errors.Is(err, ErrServerClosed) {
		t.Errorf("expected ErrServerClosed after Close, got %v", err)
	}
}

func TestServer_Close_Idempotent(t *testing.T) {
	server, err := Listen(loopbackAddr(), ServerLoggerOption(DiscardLogger()))
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	if err := server.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}

	if err := server.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}
