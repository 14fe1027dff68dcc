package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

// statusRecorder captures the status code for the access log
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// Hijack lets websocket upgrades through the recorder
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	if s.status == 0 {
		s.status = http.StatusSwitchingProtocols
	}
	return hj.Hijack()
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// accessLog logs one line per request
func (r *Router) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, req)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		fields := []zap.Field{
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("duration", time.Since(start)),
			zap.String("ip", r.clientIP(req)),
		}
		switch {
		case status >= 500:
			zap.L().Error("request", fields...)
		case req.URL.Path == "/health":
			zap.L().Debug("request", fields...)
		default:
			zap.L().Info("request", fields...)
		}
	})
}

// cors sets permissive CORS headers and answers preflight requests
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Chat-Token")

		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// killSwitchExempt lists path prefixes that keep working while the kill switch is on
var killSwitchExempt = []string{
	"/api/auth/",
	"/api/security/kill-switch",
	"/api/functions/kill-switch",
	"/api/webhooks/",
}

// killSwitchGuard rejects writes while the kill switch is active. Admins,
// sign-in, the switch itself and payment webhooks are let through.
func (r *Router) killSwitchGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.killSwitchApplies(req) {
			next.ServeHTTP(w, req)
			return
		}

		ks, err := r.store.GetKillSwitch(req.Context())
		if err != nil {
			zap.L().Error("reading kill switch", zap.Error(err))
			next.ServeHTTP(w, req)
			return
		}
		if !ks.Active {
			next.ServeHTTP(w, req)
			return
		}
		if ac, err := r.authenticate(req); err == nil && ac.user.IsAdmin {
			next.ServeHTTP(w, req)
			return
		}

		r.audit(req, nil, domain.AuditKillSwitchBlocked, domain.SeverityWarning, "path", req.URL.Path,
			map[string]any{"method": req.Method})
		writeError(w, http.StatusServiceUnavailable, "the portal is temporarily locked: "+ks.Reason)
	})
}

func (r *Router) killSwitchApplies(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	if !strings.HasPrefix(req.URL.Path, "/api/") {
		return false
	}
	for _, prefix := range killSwitchExempt {
		if strings.HasPrefix(req.URL.Path, prefix) {
			return false
		}
	}
	return true
}

// ipLimiter keeps one token bucket per client IP
type ipLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// idleVisitor is how long an IP's bucket is kept after its last request
const idleVisitor = 30 * time.Minute

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{limit: limit, burst: burst, visitors: make(map[string]*visitor)}
}

// Allow reports whether ip may make another request now
func (l *ipLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if len(l.visitors) > 1024 {
		for key, v := range l.visitors {
			if now.Sub(v.lastSeen) > idleVisitor {
				delete(l.visitors, key)
			}
		}
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.Allow()
}

// retryAfter is the whole seconds until one token refills
func (l *ipLimiter) retryAfter() int {
	if l.limit <= 0 {
		return 60
	}
	secs := int(time.Duration(float64(time.Second) / float64(l.limit)).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

// rateLimited wraps a handler with a per-IP limiter
func (r *Router) rateLimited(l *ipLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !l.Allow(r.clientIP(req)) {
			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter()))
			writeError(w, http.StatusTooManyRequests, "too many requests, slow down")
			return
		}
		next(w, req)
	}
}

// clientIP is the address of the direct peer. X-Forwarded-For and X-Real-IP
// are only honoured when that peer is a trusted proxy; the forwarded chain
// is walked from the right and the first untrusted hop wins.
func (r *Router) clientIP(req *http.Request) string {
	peer := req.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if !r.trustedProxy(peer) {
		return peer
	}

	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !r.trustedProxy(hop) {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(req.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func (r *Router) trustedProxy(ip string) bool {
	if len(r.trustedProxies) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range r.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
