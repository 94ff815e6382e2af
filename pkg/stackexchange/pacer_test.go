package stackexchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestPacer_ThrottleAndRecover(t *testing.T) {
	p := newPacer(8)

	p.OnThrottle()
	assert.Equal(t, rate.Limit(4), p.Limit())
	p.OnThrottle()
	p.OnThrottle()
	assert.Equal(t, rate.Limit(2), p.Limit(), "never below a quarter of the initial rate")

	for range 20 {
		p.OnSuccess()
	}
	assert.Equal(t, rate.Limit(8), p.Limit(), "never above the initial rate")
}

func TestPacer_Unlimited(t *testing.T) {
	p := newPacer(0)
	p.OnThrottle()
	p.OnSuccess()
	assert.Equal(t, rate.Inf, p.Limit())
	require.NoError(t, p.Wait(context.Background()))
}

func TestPacer_BackoffHoldsRequests(t *testing.T) {
	p := newPacer(0)
	p.Backoff(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)

	p.Backoff(0) // no-op
	p.Backoff(-5)
}

func TestClient_HonorsBackoffField(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"items":[],"quota_remaining":10,"backoff":30}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL), WithRateLimit(0))
	_, err := client.Search(context.Background(), "q")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Search(ctx, "q")
	require.Error(t, err, "second request must wait out the backoff")
}

func TestClient_ThrottleSlowsPacer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error_id":502,"error_name":"throttle_violation","error_message":"slow down"}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(100)).(*httpClient)
	_, err := c.Search(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, rate.Limit(50), c.pacer.Limit())
}
