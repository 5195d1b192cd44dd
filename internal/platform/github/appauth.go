// Package github provides the agent's GitHub access: a GitHub App
// authentication service that mints and caches installation tokens,
// and repository operations built on the go-github SDK.
package github

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	gogithub "github.com/google/go-github/v69/github"

	"github.com/otron-io/otron/internal/httpkit"
)

// tokenRefreshMargin renews installation tokens this long before their
// stated expiry so an in-flight request never uses a token that dies
// mid-call.
const tokenRefreshMargin = 5 * time.Minute

// AppAuth mints GitHub App installation tokens and caches them until
// near expiry. Safe for concurrent use.
type AppAuth struct {
	appID      int64
	privateKey *rsa.PrivateKey
	http       *http.Client
	baseURL    string
	logger     *slog.Logger

	mu     sync.Mutex
	tokens map[int64]cachedToken
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// NewAppAuth loads the App private key from keyPath and returns an
// authentication service for the given App id.
func NewAppAuth(appID int64, keyPath string, logger *slog.Logger) (*AppAuth, error) {
	if logger == nil {
		logger = slog.Default()
	}

	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read github app key: %w", err)
	}
	key, err := parsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parse github app key: %w", err)
	}

	return &AppAuth{
		appID:      appID,
		privateKey: key,
		http:       httpkit.NewClient(httpkit.WithTimeout(30 * time.Second)),
		baseURL:    "https://api.github.com",
		logger:     logger.With("component", "github-auth"),
		tokens:     make(map[int64]cachedToken),
	}, nil
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (a *AppAuth) SetBaseURL(url string) { a.baseURL = url }

func parsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is %T, want RSA", parsed)
	}
	return key, nil
}

// appJWT builds the short-lived RS256 JWT that identifies the App
// itself (not an installation). GitHub caps validity at 10 minutes;
// the issued-at is backdated 60s to absorb clock skew.
func (a *AppAuth) appJWT(now time.Time) (string, error) {
	header := map[string]string{"alg": "RS256", "typ": "JWT"}
	claims := map[string]any{
		"iat": now.Add(-time.Minute).Unix(),
		"exp": now.Add(9 * time.Minute).Unix(),
		"iss": a.appID,
	}

	enc := func(v any) (string, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return base64.RawURLEncoding.EncodeToString(data), nil
	}

	h, err := enc(header)
	if err != nil {
		return "", fmt.Errorf("encode jwt header: %w", err)
	}
	c, err := enc(claims)
	if err != nil {
		return "", fmt.Errorf("encode jwt claims: %w", err)
	}

	signingInput := h + "." + c
	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, a.privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// InstallationToken returns a valid token for the installation,
// minting a fresh one when the cached token is absent or within the
// refresh margin of expiry.
func (a *AppAuth) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	a.mu.Lock()
	cached, ok := a.tokens[installationID]
	a.mu.Unlock()
	if ok && time.Until(cached.expiresAt) > tokenRefreshMargin {
		return cached.token, nil
	}

	token, expiresAt, err := a.mintToken(ctx, installationID)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.tokens[installationID] = cachedToken{token: token, expiresAt: expiresAt}
	a.mu.Unlock()

	a.logger.Debug("minted installation token",
		"installation", installationID, "expires", expiresAt)
	return token, nil
}

func (a *AppAuth) mintToken(ctx context.Context, installationID int64) (string, time.Time, error) {
	jwt, err := a.appJWT(time.Now())
	if err != nil {
		return "", time.Time{}, err
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", a.baseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(nil))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+jwt)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("mint installation token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", time.Time{}, fmt.Errorf("github token API returned %d: %s",
			resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 2048))
	}

	var body struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}
	return body.Token, body.ExpiresAt, nil
}

// InstallationClient returns a go-github client authenticated as the
// installation. The client carries a snapshot token; long-lived
// holders should re-request a client rather than cache this one.
func (a *AppAuth) InstallationClient(ctx context.Context, installationID int64) (*gogithub.Client, error) {
	token, err := a.InstallationToken(ctx, installationID)
	if err != nil {
		return nil, err
	}
	return gogithub.NewClient(httpkit.NewClient(httpkit.WithTimeout(30 * time.Second))).
		WithAuthToken(token), nil
}
