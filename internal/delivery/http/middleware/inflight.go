package middleware

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

// InFlight counts requests that are still being handled, including
// hijacked WebSocket connections, which http.Server.Shutdown does not wait
// for.
type InFlight struct {
	mu       sync.Mutex
	active   int
	draining bool
	idle     chan struct{}
}

// NewInFlight creates an empty tracker.
func NewInFlight() *InFlight {
	return &InFlight{}
}

// Track returns a middleware that registers each request for its whole
// duration. Once Wait has been called new requests get a 503.
func (f *InFlight) Track() gin.HandlerFunc {
	return func(c *gin.Context) {
		f.mu.Lock()
		if f.draining {
			f.mu.Unlock()
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "Server is shutting down",
			})
			return
		}
		f.active++
		f.mu.Unlock()

		defer f.done()
		c.Next()
	}
}

func (f *InFlight) done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active--
	if f.active == 0 && f.idle != nil {
		close(f.idle)
		f.idle = nil
	}
}

// Active returns the number of tracked requests.
func (f *InFlight) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Wait stops admitting requests and blocks until every tracked request has
// returned or ctx is done.
func (f *InFlight) Wait(ctx context.Context) error {
	f.mu.Lock()
	f.draining = true
	if f.active == 0 {
		f.mu.Unlock()
		return nil
	}
	if f.idle == nil {
		f.idle = make(chan struct{})
	}
	idle := f.idle
	f.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
