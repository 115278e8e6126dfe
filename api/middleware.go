package api

import (
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/n0rdy/qakka/common"
	"github.com/n0rdy/qakka/configs"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	maxTrackedClients = 5000
	clientIdleTtl     = 10 * time.Minute
)

var (
	unauthorizedRespBody    []byte
	tooManyRequestsRespBody []byte
)

func init() {
	var err error
	unauthorizedRespBody, err = json.Marshal(common.ErrorResponse{Code: common.ErrCodeUnauthorized})
	if err != nil {
		panic(err)
	}
	tooManyRequestsRespBody, err = json.Marshal(common.ErrorResponse{Code: common.ErrCodeTooManyRequests})
	if err != nil {
		panic(err)
	}
}

func apiKeyTokenAuth(authSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			authHeader := req.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(authHeader), []byte(authSecret)) != 1 {
				log.Error().Str("path", req.URL.Path).Msg("Invalid API key")
				sendUnauthorizedErrorResponse(w)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func sendUnauthorizedErrorResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write(unauthorizedRespBody)
}

// requestLogger logs every request once it's served.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, req)

		log.Debug().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(req.Context())).
			Msg("request served")
	})
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientRateLimit applies a token bucket per client IP. Put it behind middleware.RealIP
// if the server runs behind a proxy.
func clientRateLimit(cfg configs.RateLimitConfig) func(http.Handler) http.Handler {
	var (
		mu      sync.Mutex
		clients = make(map[string]*clientLimiter)
	)

	limiterFor := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		if c, ok := clients[ip]; ok {
			c.lastSeen = now
			return c.limiter
		}

		if len(clients) >= maxTrackedClients {
			for k, c := range clients {
				if now.Sub(c.lastSeen) > clientIdleTtl {
					delete(clients, k)
				}
			}
		}

		l := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
		clients[ip] = &clientLimiter{limiter: l, lastSeen: now}
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ip, _, err := net.SplitHostPort(req.RemoteAddr)
			if err != nil {
				ip = req.RemoteAddr
			}
			if !limiterFor(ip).Allow() {
				log.Warn().Str("client", ip).Str("path", req.URL.Path).Msg("rate limit exceeded")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write(tooManyRequestsRespBody)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}
