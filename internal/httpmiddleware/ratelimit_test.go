package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"volunteerattendance/internal/auth"
)

func TestBucketRefills(t *testing.T) {
	l := NewSimpleTokenBucket(2, 60)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if !l.allow("a") || !l.allow("a") {
		t.Fatalf("capacity must allow two requests")
	}
	if l.allow("a") {
		t.Fatalf("third request must be limited")
	}
	if !l.allow("b") {
		t.Fatalf("keys must not share buckets")
	}
	now = now.Add(time.Second)
	if !l.allow("a") {
		t.Fatalf("one token must refill after a second at 60/min")
	}
}

func TestMiddlewareKeysBySubject(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewSimpleTokenBucket(1, 1)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if sub := c.GetHeader("X-Sub"); sub != "" {
			c.Set("claims", auth.Claims{Subject: sub})
		}
		c.Next()
	})
	r.Use(l.GinMiddleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(sub string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if sub != "" {
			req.Header.Set("X-Sub", sub)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if do("v1") != http.StatusOK || do("v2") != http.StatusOK {
		t.Fatalf("distinct subjects behind one IP must each pass")
	}
	if do("v1") != http.StatusTooManyRequests {
		t.Fatalf("repeat subject must be limited")
	}
	if do("") != http.StatusOK || do("") != http.StatusTooManyRequests {
		t.Fatalf("anonymous callers are limited by IP")
	}
}
