package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"kart-drive-core/drive_loop/arbitration"
	"kart-drive-core/utils"
)

type remoteCommand struct {
	action           arbitration.Action
	unlessAutonomous bool
}

// Words the pit laptop sends. Anything else must be an action name.
var remoteWords = map[string]remoteCommand{
	"ai":        {action: arbitration.ActionModeToggle, unlessAutonomous: true},
	"stop":      {action: arbitration.ActionTriggerEmergencyStop},
	"faster":    {action: arbitration.ActionIncreaseThrottle},
	"slower":    {action: arbitration.ActionDecreaseThrottle},
	"return":    {action: arbitration.ActionTriggerReturnMode},
	"exit_safe": {action: arbitration.ActionTriggerExitSafeMode},
	"takeover":  {action: arbitration.ActionTriggerTakeover},
}

func parseRemoteWord(word string) (remoteCommand, error) {
	w := strings.ToLower(strings.TrimSpace(word))
	if cmd, ok := remoteWords[w]; ok {
		return cmd, nil
	}
	a, err := arbitration.ParseAction(w)
	if err != nil {
		return remoteCommand{}, fmt.Errorf("remote: %w", err)
	}
	return remoteCommand{action: a}, nil
}

// RemoteListener receives one command word per UDP datagram.
type RemoteListener struct {
	conn  net.PacketConn
	store *InputStore
	log   *utils.Logger
}

func ListenRemote(addr string, store *InputStore, log *utils.Logger) (*RemoteListener, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen remote %s: %w", addr, err)
	}
	return &RemoteListener{conn: conn, store: store, log: log}, nil
}

func (l *RemoteListener) Addr() net.Addr { return l.conn.LocalAddr() }

// Serve reads commands until ctx is cancelled.
func (l *RemoteListener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = l.conn.Close() })
	defer stop()

	buf := make([]byte, 256)
	for {
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("remote read: %w", err)
		}

		word := string(buf[:n])
		cmd, err := parseRemoteWord(word)
		if err != nil {
			l.log.Warn("remote %s: dropping %q: %v", from, strings.TrimSpace(word), err)
			continue
		}
		l.log.Info("remote %s: %s", from, cmd.action)
		l.store.AddRemote(cmd)
	}
}

func (l *RemoteListener) Close() error {
	return l.conn.Close()
}
