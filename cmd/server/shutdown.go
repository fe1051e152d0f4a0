package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/sitedrop/internal/log"
	"github.com/keithlinneman/sitedrop/internal/xerrors"
)

// drainPeriod covers the longest upload plus the load balancer noticing
// readiness went red
const drainPeriod = 60 * time.Second

// drain waits out d after readiness fails, or until a second signal
func drain(L log.Logger, d time.Duration) {
	force := make(chan os.Signal, 1)
	signal.Notify(force, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(force)

	L.Info(context.Background(), "draining", "period", d.String())
	select {
	case <-time.After(d):
		L.Info(context.Background(), "drain period complete")
	case <-force:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
}

type namedStop struct {
	name string
	stop func(context.Context) error
}

// stopAll runs every stop in order, logging failures without stopping early
func stopAll(ctx context.Context, L log.Logger, stops ...namedStop) {
	for _, s := range stops {
		if err := s.stop(ctx); err != nil {
			L.Error(context.Background(), err, "shutdown step failed", "step", s.name)
		}
	}
}

// notifySystemd sends READY=1 when started by systemd with Type=notify.
// Without NOTIFY_SOCKET there is nobody to tell.
func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return nil
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return xerrors.Wrap(err, "dial notify socket")
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return xerrors.Wrap(err, "write notify socket")
	}
	return nil
}
