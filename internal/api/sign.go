package api

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// signRequest sets the OpenAPI authentication headers on req.
//
// sign = upper(hex(HMAC-SHA256(secret, clientID + accessToken + t + nonce + stringToSign)))
// stringToSign = method \n sha256(body) \n headers \n path?sortedQuery
func (c *Client) signRequest(req *http.Request, body []byte, accessToken string) {
	t := strconv.FormatInt(c.now().UnixMilli(), 10)
	nonce := c.nonce()

	req.Header.Set("client_id", c.clientID)
	req.Header.Set("t", t)
	req.Header.Set("nonce", nonce)
	req.Header.Set("sign_method", signMethod)
	req.Header.Set("sign", c.sign(req.Method, canonicalPath(req.URL), body, accessToken, t, nonce))
	if accessToken != "" {
		req.Header.Set("access_token", accessToken)
	}
	req.Header.Set("Content-Type", "application/json")
}

func (c *Client) sign(method, path string, body []byte, accessToken, t, nonce string) string {
	bodyHash := sha256.Sum256(body)
	stringToSign := method + "\n" + hex.EncodeToString(bodyHash[:]) + "\n\n" + path

	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(c.clientID + accessToken + t + nonce + stringToSign))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// canonicalPath renders the path with its query parameters sorted by key and left unescaped.
func canonicalPath(u *url.URL) string {
	query := u.Query()
	if len(query) == 0 {
		return u.Path
	}

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, v := range query[k] {
			parts = append(parts, k+"="+v)
		}
	}
	return u.Path + "?" + strings.Join(parts, "&")
}

func newNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
