package identity

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// KeySource fetches the currently published verification keys by key id.
type KeySource interface {
	FetchKeys(ctx context.Context) (map[string]*rsa.PublicKey, error)
}

// HTTPKeySource downloads keys from a publishing endpoint. Both a JWKS
// document ({"keys":[...]}) and a kid -> PEM certificate map are accepted.
type HTTPKeySource struct {
	URL    string
	Client *http.Client
}

type jwks struct {
	Keys []struct {
		Kid string `json:"kid"`
		Kty string `json:"kty"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

// FetchKeys implements KeySource.
func (s *HTTPKeySource) FetchKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build key request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch keys: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read keys: %w", err)
	}
	return ParseKeySet(body)
}

// ParseKeySet decodes a JWKS document or a kid -> PEM map.
func ParseKeySet(body []byte) (map[string]*rsa.PublicKey, error) {
	var set jwks
	if err := json.Unmarshal(body, &set); err == nil && len(set.Keys) > 0 {
		keys := make(map[string]*rsa.PublicKey, len(set.Keys))
		for _, k := range set.Keys {
			if k.Kty != "RSA" || k.Kid == "" {
				continue
			}
			pub, err := rsaFromJWK(k.N, k.E)
			if err != nil {
				return nil, fmt.Errorf("key %s: %w", k.Kid, err)
			}
			keys[k.Kid] = pub
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("key set has no RSA keys")
		}
		return keys, nil
	}

	var pems map[string]string
	if err := json.Unmarshal(body, &pems); err != nil {
		return nil, fmt.Errorf("unrecognised key set format: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(pems))
	for kid, pem := range pems {
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", kid, err)
		}
		keys[kid] = pub
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("key set is empty")
	}
	return keys, nil
}

func rsaFromJWK(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(eb)
	if !exp.IsInt64() || exp.Int64() < 3 {
		return nil, fmt.Errorf("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp.Int64())}, nil
}

// KeyCache holds the published keys for ttl and refreshes early on a key-id
// miss, at most once per minRefresh.
type KeyCache struct {
	source     KeySource
	ttl        time.Duration
	minRefresh time.Duration
	now        func() time.Time

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	lastAttempt time.Time

	group singleflight.Group
}

// NewKeyCache creates an empty cache over source.
func NewKeyCache(source KeySource, ttl time.Duration) *KeyCache {
	return &KeyCache{
		source:     source,
		ttl:        ttl,
		minRefresh: time.Minute,
		now:        time.Now,
	}
}

// Key returns the key for kid, refreshing the set when it is stale or lacks kid.
func (c *KeyCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	stale := c.keys == nil || c.now().Sub(c.fetchedAt) >= c.ttl
	throttled := c.now().Sub(c.lastAttempt) < c.minRefresh
	c.mu.RUnlock()

	if ok && !stale {
		return key, nil
	}
	if !stale && throttled {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}

	if err := c.refresh(ctx); err != nil {
		if ok {
			// serve the stale key rather than fail every request while the endpoint is down
			return key, nil
		}
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if key, ok := c.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("unknown key id %q", kid)
}

func (c *KeyCache) refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		c.mu.Lock()
		c.lastAttempt = c.now()
		c.mu.Unlock()

		keys, err := c.source.FetchKeys(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.keys = keys
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return nil, nil
	})
	return err
}
