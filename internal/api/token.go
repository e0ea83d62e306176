package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/sbaerlocher/tuyametrics/internal/errors"
)

type tokenResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpireTime   int64  `json:"expire_time"`
	UID          string `json:"uid"`
}

// tokenSource fetches a fresh project access token on every call. It is wrapped
// in oauth2.ReuseTokenSource so a token is only fetched once it has expired.
type tokenSource struct {
	c *Client
}

func (ts tokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ts.c.timeout)
	defer cancel()
	return ts.c.fetchToken(ctx)
}

func (c *Client) fetchToken(ctx context.Context) (*oauth2.Token, error) {
	env, err := c.doOnce(ctx, http.MethodGet, tokenPath, "token", false)
	if err != nil {
		return nil, fmt.Errorf("fetch access token: %w", err)
	}

	var res tokenResult
	if err := decodeResult(env, "token", &res); err != nil {
		return nil, err
	}
	if res.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", errors.ErrMalformedResponse)
	}

	return &oauth2.Token{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       c.now().Add(time.Duration(res.ExpireTime) * time.Second),
	}, nil
}

// resetToken drops the cached token so the next request fetches a new one.
func (c *Client) resetToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = oauth2.ReuseTokenSource(nil, tokenSource{c: c})
}

func (c *Client) token() (*oauth2.Token, error) {
	c.mu.Lock()
	ts := c.tokens
	c.mu.Unlock()
	return ts.Token()
}
