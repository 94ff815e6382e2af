// Package token supplies the bearer credential for completion requests.
package token

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Source yields the current credential. An empty string means none is
// available.
type Source interface {
	Token() string
}

// Static is a fixed credential, typically from config or the environment.
type Static string

// Token returns the trimmed value.
func (s Static) Token() string {
	return strings.TrimSpace(string(s))
}

// Remote fetches the credential once from a token endpoint returning
// {"token": "..."}. Until Refresh succeeds it falls back to Fallback.
type Remote struct {
	URL      string
	Fallback Source
	HTTP     *http.Client

	mu    sync.RWMutex
	value string
}

// NewRemote creates a Remote for url with an optional fallback source.
func NewRemote(url string, fallback Source) *Remote {
	return &Remote{
		URL:      url,
		Fallback: fallback,
		HTTP:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Token returns the fetched credential, or the fallback's.
func (r *Remote) Token() string {
	r.mu.RLock()
	v := r.value
	r.mu.RUnlock()
	if v != "" {
		return v
	}
	if r.Fallback != nil {
		return r.Fallback.Token()
	}
	return ""
}

// Refresh fetches the credential from URL.
func (r *Remote) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return eris.Wrap(err, "token: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.HTTP.Do(req)
	if err != nil {
		return eris.Wrap(err, "token: fetch")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return eris.Wrap(err, "token: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("token: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return eris.Wrap(err, "token: unmarshal response")
	}
	if strings.TrimSpace(payload.Token) == "" {
		return eris.New("token: endpoint returned no token")
	}

	r.mu.Lock()
	r.value = strings.TrimSpace(payload.Token)
	r.mu.Unlock()

	zap.L().Debug("token: refreshed", zap.String("url", r.URL))
	return nil
}
