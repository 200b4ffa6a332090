package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	osSignal "os/signal"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type fakeStopper struct {
	shutdownErr error
	shutdowns   int
	closes      int
}

func (f *fakeStopper) Shutdown(context.Context) error {
	f.shutdowns++
	return f.shutdownErr
}

func (f *fakeStopper) Close() error {
	f.closes++
	return nil
}

func sendSIGTERM(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		signalNotify = osSignal.Notify
	})

	signalNotify = func(ch chan<- os.Signal, sig ...os.Signal) {
		go func() {
			ch <- syscall.SIGTERM
		}()
	}
}

func TestShutdownSignals(t *testing.T) {
	sendSIGTERM(t)

	server := &http.Server{}
	called := make(chan struct{}, 1)
	server.RegisterOnShutdown(func() {
		called <- struct{}{}
	})

	shutdown(server, time.Millisecond, zaptest.NewLogger(t))

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatalf("expected server shutdown callback to execute")
	}
}

func TestShutdownForcesCloseWhenGracefulFails(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantCloses int
	}{
		{name: "graceful", wantCloses: 0},
		{name: "deadline exceeded", err: context.DeadlineExceeded, wantCloses: 1},
		{name: "other failure", err: errors.New("listener stuck"), wantCloses: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sendSIGTERM(t)

			s := &fakeStopper{shutdownErr: tc.err}
			shutdown(s, time.Millisecond, zaptest.NewLogger(t))

			if s.shutdowns != 1 {
				t.Fatalf("expected one Shutdown call, got %d", s.shutdowns)
			}
			if s.closes != tc.wantCloses {
				t.Fatalf("expected %d Close calls, got %d", tc.wantCloses, s.closes)
			}
		})
	}
}
