package telemetry

import (
	"fmt"
	"net"
)

// Publisher sends one CSV datagram per tick: "steering,throttle,mode".
// A zero-value or nil Publisher is a no-op.
type Publisher struct {
	conn *net.UDPConn
}

// NewPublisher dials addr. An empty addr disables publishing.
func NewPublisher(addr string) (*Publisher, error) {
	if addr == "" {
		return &Publisher{}, nil
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve telemetry addr %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("dial telemetry addr %s: %w", addr, err)
	}
	return &Publisher{conn: conn}, nil
}

func (p *Publisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// Send is best effort; write errors are ignored.
func (p *Publisher) Send(steering, throttle float64, mode string) {
	if p == nil || p.conn == nil {
		return
	}
	_, _ = p.conn.Write([]byte(FormatCSV(steering, throttle, mode)))
}

func FormatCSV(steering, throttle float64, mode string) string {
	return fmt.Sprintf("%.4f,%.4f,%s", steering, throttle, mode)
}
