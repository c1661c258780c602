package exporter

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter applies a per-client-IP token bucket to the exporter
// endpoints. Stale entries are pruned so long-running exporters do not
// accumulate one limiter per scraper that ever connected.
type clientLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientEntry
	rate    rate.Limit
	burst   int
}

type clientEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func newClientLimiter(r float64, burst int) *clientLimiter {
	cl := &clientLimiter{
		clients: make(map[string]*clientEntry),
		rate:    rate.Limit(r),
		burst:   burst,
	}
	go cl.cleanup()
	return cl
}

func (cl *clientLimiter) allow(ip string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	entry, ok := cl.clients[ip]
	if !ok {
		entry = &clientEntry{limiter: rate.NewLimiter(cl.rate, cl.burst)}
		cl.clients[ip] = entry
	}
	entry.lastAccess = time.Now()
	return entry.limiter.Allow()
}

func (cl *clientLimiter) cleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cl.mu.Lock()
		for ip, entry := range cl.clients {
			if time.Since(entry.lastAccess) > 30*time.Minute {
				delete(cl.clients, ip)
			}
		}
		cl.mu.Unlock()
	}
}

func (cl *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !cl.allow(ip) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
