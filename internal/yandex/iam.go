package yandex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const iamTokenEndpoint = "https://iam.api.cloud.yandex.net/iam/v1/tokens"

// TokenProvider yields a bearer token for Yandex Cloud API calls.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider returns a fixed, externally managed IAM token.
type StaticTokenProvider string

// Token implements TokenProvider.
func (p StaticTokenProvider) Token(context.Context) (string, error) { return string(p), nil }

// ServiceAccountKey holds an authorized key of a Yandex Cloud service account.
type ServiceAccountKey struct {
	ServiceAccountID string `json:"service_account_id"`
	KeyID            string `json:"id"`
	PrivateKey       string `json:"private_key"`
	KeyAlgorithm     string `json:"key_algorithm"`
}

// LoadServiceAccountKeyFile reads a service account key from a JSON file.
func LoadServiceAccountKeyFile(path string) (*ServiceAccountKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account key: %w", err)
	}
	return ParseServiceAccountKey(data)
}

// ParseServiceAccountKey parses a service account key from raw JSON.
func ParseServiceAccountKey(raw []byte) (*ServiceAccountKey, error) {
	var key ServiceAccountKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	if key.ServiceAccountID == "" || key.KeyID == "" || key.PrivateKey == "" {
		return nil, fmt.Errorf("service account key is missing required fields")
	}
	if key.KeyAlgorithm == "" {
		key.KeyAlgorithm = "RSA_2048"
	}
	return &key, nil
}

// IAMTokenProvider exchanges a signed JWT assertion for short-lived IAM
// tokens and caches them until shortly before expiry.
type IAMTokenProvider struct {
	key           *ServiceAccountKey
	http          Doer
	endpoint      string
	refreshMargin time.Duration

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// Doer executes HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewIAMTokenProvider builds a provider around a service account key.
func NewIAMTokenProvider(key *ServiceAccountKey, client Doer) *IAMTokenProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &IAMTokenProvider{
		key:           key,
		http:          client,
		endpoint:      iamTokenEndpoint,
		refreshMargin: time.Minute,
	}
}

// Token returns a valid IAM token, refreshing it when close to expiry.
func (p *IAMTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.token != "" && now.Before(p.expiresAt.Add(-p.refreshMargin)) {
		return p.token, nil
	}

	assertion, err := p.buildJWT(now)
	if err != nil {
		return "", err
	}

	body, _ := json.Marshal(map[string]string{"jwt": assertion})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("iam token request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var payload struct {
		IAMToken  string `json:"iamToken"`
		ExpiresAt string `json:"expiresAt"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("iam token response: %w", err)
	}
	if payload.IAMToken == "" || payload.ExpiresAt == "" {
		return "", fmt.Errorf("iam token response missing token or expiry")
	}
	expires, err := time.Parse(time.RFC3339, payload.ExpiresAt)
	if err != nil {
		return "", fmt.Errorf("iam token expiry: %w", err)
	}

	p.token = payload.IAMToken
	p.expiresAt = expires
	return p.token, nil
}

// buildJWT signs the token-exchange assertion: PS256 for RSA keys, ES256
// for EC keys, kid header set to the key id, one hour lifetime.
func (p *IAMTokenProvider) buildJWT(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"aud": p.endpoint,
		"iss": p.key.ServiceAccountID,
		"iat": now.Unix(),
		"exp": now.Unix() + 3600,
	}

	var (
		method jwt.SigningMethod
		signer interface{}
		err    error
	)
	if strings.Contains(p.key.KeyAlgorithm, "RSA") {
		method = jwt.SigningMethodPS256
		signer, err = jwt.ParseRSAPrivateKeyFromPEM([]byte(p.key.PrivateKey))
	} else {
		method = jwt.SigningMethodES256
		signer, err = jwt.ParseECPrivateKeyFromPEM([]byte(p.key.PrivateKey))
	}
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}

	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = p.key.KeyID
	signed, err := token.SignedString(signer)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}
