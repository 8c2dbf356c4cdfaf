package sharedservices

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func listenPort(t *testing.T) (int, net.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi: %v", err)
	}
	return port, ln
}

func TestWaitReadyTransitionsToOK(t *testing.T) {
	var ok atomic.Bool
	ok.Store(true)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		if ok.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	port, ln := listenPort(t)
	srv := httptest.NewUnstartedServer(mux)
	srv.Listener = ln
	srv.Start()
	defer srv.Close()

	s := New(Config{Port: port, MaxConsecutiveMiss: 3})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if s.State() != StateOK {
		t.Fatalf("expected StateOK, got %v", s.State())
	}
}

func TestWaitReadyTimesOutWhenNeverHealthy(t *testing.T) {
	port, ln := listenPort(t)
	_ = ln.Close() // nothing listens: every probe fails

	s := New(Config{Port: port})
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := s.WaitReady(ctx); err == nil {
		t.Fatalf("expected WaitReady to time out")
	}
}

func TestRunHeartbeatFailsAfterConsecutiveMisses(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(false)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	port, ln := listenPort(t)
	srv := httptest.NewUnstartedServer(mux)
	srv.Listener = ln
	srv.Start()
	defer srv.Close()

	s := New(Config{Port: port, HeartbeatInterval: 20 * time.Millisecond, MaxConsecutiveMiss: 2})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	s.RunHeartbeat(ctx)
	if s.State() != StateFailed {
		t.Fatalf("expected StateFailed after consecutive misses, got %v", s.State())
	}

	healthy.Store(true)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel2()
	s.RunHeartbeat(ctx2)
	if s.State() != StateOK {
		t.Fatalf("expected recovery to StateOK, got %v", s.State())
	}
}
