package ipc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestClientServerRequestResponse(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "svc.sock")

	srv := NewServer(sockPath, nil)
	srv.Handle("echo", func(_ context.Context, params map[string]any) (map[string]any, *RPCError) {
		return map[string]any{"echoed": params["value"]}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = srv.ListenAndServe(ctx)
	}()
	waitForSocket(t, sockPath)

	client := NewClient("svc", sockPath, DefaultReconnectConfig(), nil)
	defer client.Close()

	if !client.ConnectToServer(context.Background(), 2000) {
		t.Fatal("expected client to connect")
	}

	result, ok := client.SendRequest("echo", map[string]any{"value": "hello"}, 2000)
	if !ok {
		t.Fatal("expected a response")
	}
	if result["echoed"] != "hello" {
		t.Fatalf("unexpected echo result: %+v", result)
	}
}

func TestClientRequestUnknownMethodReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "svc.sock")

	srv := NewServer(sockPath, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.ListenAndServe(ctx) }()
	waitForSocket(t, sockPath)

	client := NewClient("svc", sockPath, DefaultReconnectConfig(), nil)
	defer client.Close()
	if !client.ConnectToServer(context.Background(), 2000) {
		t.Fatal("expected client to connect")
	}

	_, ok := client.SendRequest("nonexistent", nil, 2000)
	if ok {
		t.Fatal("expected request for unknown method to fail at the client boundary")
	}
}

func TestServiceBasePingShutdown(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "svc.sock")

	shutdownCalled := make(chan struct{}, 1)
	sb := NewServiceBase("indexer", sockPath, nil, func() { shutdownCalled <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sb.Run(ctx) }()
	waitForSocket(t, sockPath)

	client := NewClient("indexer", sockPath, DefaultReconnectConfig(), nil)
	defer client.Close()
	if !client.ConnectToServer(context.Background(), 2000) {
		t.Fatal("expected client to connect")
	}

	result, ok := client.SendRequest("ping", nil, 2000)
	if !ok || result["pong"] != true || result["service"] != "indexer" {
		t.Fatalf("unexpected ping result: %+v ok=%v", result, ok)
	}

	result, ok = client.SendRequest("shutdown", nil, 2000)
	if !ok || result["shutting_down"] != true {
		t.Fatalf("unexpected shutdown result: %+v ok=%v", result, ok)
	}

	select {
	case <-shutdownCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("expected shutdown callback to fire")
	}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("socket %s was never created", path)
}
