// Package probe implements the connectivity checks used by the test
// command: TCP connect-and-close and a single ICMP echo, both with
// bounded timeouts.
package probe

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"golang.org/x/time/rate"
)

// Default probe bounds, mirroring the timeouts the test command uses.
const (
	DefaultTCPTimeout  = 3 * time.Second
	DefaultICMPTimeout = 3 * time.Second
)

// TCP attempts a connect-and-close to host:port within timeout.
func TCP(host string, port int, timeout time.Duration) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("tcp probe %s: %w", addr, err)
	}
	conn.Close()
	return nil
}

// ICMP sends a single unprivileged echo request and waits up to
// timeout for the reply.
func ICMP(host string, timeout time.Duration) error {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return fmt.Errorf("icmp probe %s: %w", host, err)
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(false)

	if err := pinger.Run(); err != nil {
		return fmt.Errorf("icmp probe %s: %w", host, err)
	}
	if pinger.Statistics().PacketsRecv == 0 {
		return fmt.Errorf("icmp probe %s: no reply within %s", host, timeout)
	}
	return nil
}

// Prober paces a batch of probes so a large peer or backend list does
// not burst traffic into the network all at once.
type Prober struct {
	limiter     *rate.Limiter
	TCPTimeout  time.Duration
	ICMPTimeout time.Duration
}

// NewProber creates a prober allowing probesPerSecond sustained with
// the given burst.
func NewProber(probesPerSecond float64, burst int) *Prober {
	return &Prober{
		limiter:     rate.NewLimiter(rate.Limit(probesPerSecond), burst),
		TCPTimeout:  DefaultTCPTimeout,
		ICMPTimeout: DefaultICMPTimeout,
	}
}

// TCP waits for the rate limiter, then probes host:port.
func (p *Prober) TCP(ctx context.Context, host string, port int) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return TCP(host, port, p.TCPTimeout)
}

// ICMP waits for the rate limiter, then pings host.
func (p *Prober) ICMP(ctx context.Context, host string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return ICMP(host, p.ICMPTimeout)
}
