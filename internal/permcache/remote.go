package permcache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/rbac"
)

// HTTPFetcher resolves permissions through the service's /me/permissions
// endpoint, for caches held outside the service process.
type HTTPFetcher struct {
	baseURL    string
	cookie     *http.Cookie
	httpClient *http.Client
}

// NewHTTPFetcher constructs a fetcher authenticated by the session cookie.
func NewHTTPFetcher(baseURL string, cookie *http.Cookie) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		cookie:  cookie,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Resolve fetches the authoritative resolution of the session user.
func (f *HTTPFetcher) Resolve(ctx context.Context, userID int64) (rbac.Resolution, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/me/permissions", nil)
	if err != nil {
		return rbac.Resolution{}, err
	}
	req.Header.Set("Accept", "application/json")
	if f.cookie != nil {
		req.AddCookie(f.cookie)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return rbac.Resolution{}, fmt.Errorf("%w: %w", rbac.ErrStoreUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return rbac.Resolution{}, fmt.Errorf("permcache: /me/permissions returned status %d", resp.StatusCode)
	}
	var res rbac.Resolution
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return rbac.Resolution{}, err
	}
	if res.UserID != userID {
		return rbac.Resolution{}, fmt.Errorf("permcache: resolution for user %d, want %d", res.UserID, userID)
	}
	return res, nil
}
