package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fieldline/dispatch/internal/ratelimit"
)

type RateLimiter interface {
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
}

// withRateLimit throttles assignment writes per caller and action. Reads,
// health, and metrics stay open: the limiter exists to slow down offer and
// accept storms, and a dashboard poll must never trip it.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || !strings.HasPrefix(r.URL.Path, "/v1/jobs") {
			next.ServeHTTP(w, r)
			return
		}

		decision, err := s.rateLimiter.Allow(r.Context(), s.limitSubject(r))
		if err != nil {
			// Fail open: the limiter being down should never take the API
			// with it.
			s.logger.Printf("rate limiter check failed route=%s err=%v", routeLabel(r.URL.Path), err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision)))
		s.metrics.rateLimitRejected.WithLabelValues(routeLabel(r.URL.Path)).Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "rate limit exceeded",
		})
	})
}

// limitSubject buckets by caller identity and route, so one pro hammering
// accept does not starve another pro's declines.
func (s *Server) limitSubject(r *http.Request) string {
	caller := strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
	if caller == "" {
		caller = "anonymous"
	}
	return caller + ":" + routeLabel(r.URL.Path)
}

func retryAfterSeconds(d ratelimit.Decision) int {
	secs := int(d.RetryAfter.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}
