package uds

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// shortSockPath stays under the 104-byte macOS socket path limit.
func shortSockPath(t *testing.T, name string) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "tm-uds-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, name)
}

func startServer(t *testing.T) (*Server, *Client) {
	t.Helper()
	sock := shortSockPath(t, "t.sock")
	server := NewServer(sock, nil)
	client := NewClient(sock)
	client.SetTimeout(5 * time.Second)
	t.Cleanup(func() { server.Stop(context.Background()) })
	return server, client
}

func TestFraming_RoundTrip(t *testing.T) {
	sock := shortSockPath(t, "f.sock")
	listener, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	large := strings.Repeat("x", 1024*1024)
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var req Request
		if err := ReadFrame(conn, &req); err != nil {
			t.Errorf("server ReadFrame: %v", err)
			return
		}
		var params struct{ Blob string }
		if err := req.DecodeParams(&params); err != nil || len(params.Blob) != len(large) {
			t.Errorf("unexpected params: len=%d err=%v", len(params.Blob), err)
		}
		if err := WriteFrame(conn, SuccessResponse(map[string]int{"len": len(params.Blob)})); err != nil {
			t.Errorf("server WriteFrame: %v", err)
		}
	}()

	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req, err := NewRequest("echo", map[string]string{"Blob": large})
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteFrame(conn, req); err != nil {
		t.Fatalf("client WriteFrame: %v", err)
	}

	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		t.Fatalf("client ReadFrame: %v", err)
	}
	var out struct{ Len int }
	if err := resp.Decode(&out); err != nil || out.Len != len(large) {
		t.Errorf("unexpected response: %+v err=%v", out, err)
	}
	<-done
}

func TestReadFrame_TooLarge(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		// 0x7fffffff bytes announced
		client.Write([]byte{0x7f, 0xff, 0xff, 0xff})
	}()

	var v map[string]any
	err := ReadFrame(server, &v)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected frame too large error, got %v", err)
	}
}

func TestServer_Call(t *testing.T) {
	server, client := startServer(t)
	server.Handle("ping", func(ctx context.Context, req *Request) *Response {
		return SuccessResponse(map[string]string{"status": "ok"})
	})
	if err := server.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	var out struct{ Status string }
	if err := client.Call("ping", nil, &out); err != nil {
		t.Fatalf("call: %v", err)
	}
	if out.Status != "ok" {
		t.Errorf("expected status ok, got %q", out.Status)
	}
}

func TestServer_UnknownCommand(t *testing.T) {
	server, client := startServer(t)
	if err := server.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	err := client.Call("launch", nil, nil)
	var detail *ErrorDetail
	if !errors.As(err, &detail) || detail.Code != ErrCodeUnknownCommand {
		t.Fatalf("expected %s, got %v", ErrCodeUnknownCommand, err)
	}
}

func TestServer_ProtocolMismatch(t *testing.T) {
	server, client := startServer(t)
	if err := server.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	resp, err := client.Send(&Request{ProtocolVersion: 99, Command: "ping"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Success || resp.Error.Code != ErrCodeProtocolMismatch {
		t.Errorf("expected protocol mismatch, got %+v", resp)
	}
}

func TestServer_HandlerPanicReturnsInternalError(t *testing.T) {
	server, client := startServer(t)
	server.Handle("boom", func(context.Context, *Request) *Response { panic("kaboom") })
	if err := server.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	err := client.Call("boom", nil, nil)
	var detail *ErrorDetail
	if !errors.As(err, &detail) || detail.Code != ErrCodeInternal {
		t.Fatalf("expected %s, got %v", ErrCodeInternal, err)
	}

	// server still serves after a panic
	server.Handle("ping", func(context.Context, *Request) *Response { return SuccessResponse(nil) })
	if err := client.Call("ping", nil, nil); err != nil {
		t.Fatalf("ping after panic: %v", err)
	}
}

func TestServer_ConcurrentClients(t *testing.T) {
	server, client := startServer(t)
	server.Handle("echo", func(_ context.Context, req *Request) *Response {
		var p struct{ N int }
		if err := req.DecodeParams(&p); err != nil {
			return ErrorResponse(ErrCodeValidation, err.Error())
		}
		return SuccessResponse(p)
	})
	if err := server.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out struct{ N int }
			if err := client.Call("echo", map[string]int{"N": i}, &out); err != nil {
				t.Errorf("call %d: %v", i, err)
				return
			}
			if out.N != i {
				t.Errorf("call %d: got %d", i, out.N)
			}
		}()
	}
	wg.Wait()
}

func TestServer_StopRemovesSocket(t *testing.T) {
	sock := shortSockPath(t, "s.sock")
	server := NewServer(sock, nil)
	if err := server.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	info, err := os.Stat(sock)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected socket mode 0600, got %o", perm)
	}

	if err := server.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := os.Stat(sock); !os.IsNotExist(err) {
		t.Errorf("socket not removed after Stop: %v", err)
	}
}

func TestClient_NoDaemon(t *testing.T) {
	client := NewClient(shortSockPath(t, "none.sock"))
	client.SetTimeout(time.Second)

	err := client.Call("ping", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "teammate daemon") {
		t.Fatalf("expected hint to start the daemon, got %v", err)
	}
}

func TestResponse_DecodeFailureWithoutDetail(t *testing.T) {
	if err := (&Response{Success: false}).Decode(nil); err == nil {
		t.Error("expected error for unsuccessful response")
	}
}

func TestServer_StopBoundedByContext(t *testing.T) {
	server, client := startServer(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	server.Handle("slow", func(context.Context, *Request) *Response {
		close(entered)
		<-release
		return SuccessResponse(nil)
	})
	if err := server.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	callErr := make(chan error, 1)
	go func() { callErr <- client.Call("slow", nil, nil) }()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := server.Stop(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Stop took %v", elapsed)
	}

	select {
	case err := <-callErr:
		if err == nil {
			t.Error("client should see its connection closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client still blocked after Stop")
	}
}

func TestServer_RejectsRequestsWhileStopping(t *testing.T) {
	server := NewServer(shortSockPath(t, "r.sock"), nil)
	server.Handle("ping", func(context.Context, *Request) *Response { return SuccessResponse(nil) })
	server.cancel()

	resp := server.processRequest(context.Background(), &Request{ProtocolVersion: ProtocolVersion, Command: "ping"})
	if resp.Success || resp.Error == nil || resp.Error.Code != ErrCodeShuttingDown {
		t.Errorf("expected %s, got %+v", ErrCodeShuttingDown, resp)
	}
}
