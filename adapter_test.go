package wdx

import (
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// unixConnPair returns two connected *net.UnixConn endpoints via a listener
// on a temp-dir socket, closed automatically at test cleanup.
func unixConnPair(t *testing.T) (client, server *net.UnixConn) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "adapter-test.sock")

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: sockPath, Net: "unix"})
	if err != nil {
		t.Fatalf("ListenUnix: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	acceptCh := make(chan *net.UnixConn, 1)
	go func() {
		c, err := ln.AcceptUnix()
		if err == nil {
			acceptCh <- c
		}
	}()

	c, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: sockPath, Net: "unix"})
	if err != nil {
		t.Fatalf("DialUnix: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	select {
	case s := <-acceptCh:
		t.Cleanup(func() { s.Close() })
		return c, s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for accept")
		return nil, nil
	}
}

func TestAdapterSendAndReceiveRoundTrip(t *testing.T) {
	clientConn, serverConn := unixConnPair(t)

	client := NewAdapter(0)
	client.Bind(clientConn)

	server := NewAdapter(0)
	server.Bind(serverConn)

	received := make(chan []byte, 1)
	server.Receive(func(message []byte, errMsg string) {
		if errMsg != "" {
			t.Errorf("unexpected receive error: %s", errMsg)
			return
		}
		received <- message
	})

	payload := []byte("hello wdx")
	if err := client.Send(payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(payload) {
			t.Errorf("received %q; want %q", got, payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestAdapterSendRejectsOversizedPayload(t *testing.T) {
	clientConn, _ := unixConnPair(t)
	a := NewAdapter(8)
	a.Bind(clientConn)

	if err := a.Send(make([]byte, 9)); err == nil {
		t.Error("expected error sending a payload over the configured max")
	}
}

func TestAdapterSendOnUnconnectedErrors(t *testing.T) {
	a := NewAdapter(0)
	if err := a.Send([]byte("x")); err == nil {
		t.Error("expected error sending before Bind")
	}
}

func TestAdapterCloseDeliversDisconnectToReadLoop(t *testing.T) {
	clientConn, serverConn := unixConnPair(t)

	client := NewAdapter(0)
	client.Bind(clientConn)
	server := NewAdapter(0)
	server.Bind(serverConn)

	errCh := make(chan string, 1)
	server.Receive(func(message []byte, errMsg string) {
		if errMsg != "" {
			errCh <- errMsg
		}
	})

	closed := make(chan struct{})
	if err := client.Close(func() { close(closed) }); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for onClosed callback")
	}

	select {
	case errMsg := <-errCh:
		if errMsg == "" {
			t.Error("expected a non-empty transport error on disconnect")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server to observe disconnect")
	}
}

func TestAdapterCloseIsIdempotent(t *testing.T) {
	clientConn, _ := unixConnPair(t)
	a := NewAdapter(0)
	a.Bind(clientConn)

	calls := 0
	onClosed := func() { calls++ }
	if err := a.Close(onClosed); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := a.Close(onClosed); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if calls != 2 {
		t.Errorf("onClosed called %d times; want 2 (both should fire)", calls)
	}
}

func TestAdapterReinitAllowsReuse(t *testing.T) {
	clientConn, _ := unixConnPair(t)
	a := NewAdapter(0)
	a.Bind(clientConn)
	a.Close(nil)
	a.Reinit()

	if err := a.Send([]byte("x")); err == nil {
		t.Error("expected error sending on a reinitialized, unbound adapter")
	}
}

func TestProtectedAdapterSerializesSend(t *testing.T) {
	clientConn, serverConn := unixConnPair(t)
	client := NewAdapter(0)
	client.Bind(clientConn)
	server := NewAdapter(0)
	server.Bind(serverConn)

	var mu sync.Mutex
	protected := NewProtectedAdapter(client, &mu)

	received := make(chan []byte, 2)
	server.Receive(func(message []byte, errMsg string) {
		if errMsg == "" {
			received <- message
		}
	})

	if err := protected.Send([]byte("one")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := protected.Send([]byte("two")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
}
