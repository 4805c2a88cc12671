package keys

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// Prefix tags every issued secret so downstream code can distinguish
	// key-shaped strings from other secrets without decoding them.
	Prefix = "fbk_"

	// secretBytes is the entropy of the random body (256 bits).
	secretBytes = 32

	// bodyLen is the encoded length of secretBytes under raw URL base64.
	bodyLen = 43

	// DefaultCost is the bcrypt cost factor for secret hashing
	DefaultCost = 12
)

var secretRegex = regexp.MustCompile(`^fbk_[A-Za-z0-9_-]{43}$`)

// Material provides the secret primitives for API keys: generation,
// hashing, verification, format validation and masking. It is safe for
// concurrent use.
type Material struct {
	cost   int
	buffer *pregenBuffer
	cache  *verifyCache
}

// Option configures a Material
type Option func(*Material)

// WithCost overrides the bcrypt cost factor (tests use bcrypt.MinCost)
func WithCost(cost int) Option {
	return func(m *Material) { m.cost = cost }
}

// WithBuffer enables a bounded buffer of pre-generated secrets, refilled
// by a background goroutine. Generation falls back to the synchronous
// path whenever the buffer is empty.
func WithBuffer(size int) Option {
	return func(m *Material) { m.buffer = newPregenBuffer(size) }
}

// WithVerificationCache enables a bounded cache of verification results
// so hot keys skip the bcrypt comparison. Outcomes are identical with
// the cache disabled.
func WithVerificationCache(entries int64) Option {
	return func(m *Material) { m.cache = newVerifyCache(entries) }
}

// NewMaterial creates key material primitives with the given options
func NewMaterial(opts ...Option) (*Material, error) {
	m := &Material{cost: DefaultCost}
	for _, opt := range opts {
		opt(m)
	}
	if m.cost < bcrypt.MinCost || m.cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", m.cost)
	}
	if m.cache != nil {
		if err := m.cache.init(); err != nil {
			return nil, fmt.Errorf("failed to initialize verification cache: %w", err)
		}
	}
	if m.buffer != nil {
		m.buffer.start()
	}
	return m, nil
}

// Close stops the background refill goroutine, if any
func (m *Material) Close() {
	if m.buffer != nil {
		m.buffer.stop()
	}
}

// Generate returns a new high-entropy URL-safe secret. The buffer is a
// latency optimization only; an empty buffer falls through to the
// synchronous path.
func (m *Material) Generate() (string, error) {
	if m.buffer != nil {
		if secret, ok := m.buffer.take(); ok {
			return secret, nil
		}
	}
	return generateSecret()
}

// generateSecret builds a secret from the crypto/rand source
func generateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random source: %w", err)
	}
	return Prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash hashes a secret for storage. The salt varies per call, so two
// hashes of the same secret differ but both verify.
func (m *Material) Hash(secret string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), m.cost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// Verify reports whether secret hashes to hash. This is the sole
// comparison primitive for secrets; bcrypt's comparison is constant-time
// for equal-length hashes.
func (m *Material) Verify(secret, hash string) bool {
	if secret == "" || hash == "" {
		return false
	}
	if m.cache != nil {
		if ok, hit := m.cache.get(secret, hash); hit {
			return ok
		}
	}
	ok := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
	if m.cache != nil {
		m.cache.put(secret, hash, ok)
	}
	return ok
}

// ValidateFormat reports whether candidate is shaped like an issued key
func ValidateFormat(candidate string) bool {
	return secretRegex.MatchString(candidate)
}

// Mask returns the display form of a secret: prefix, the leading and
// trailing four characters of the body, filler in between. Used in
// listings and audit logs; never log the raw secret.
func Mask(secret string) string {
	if !strings.HasPrefix(secret, Prefix) || len(secret) < len(Prefix)+8 {
		return "****"
	}
	body := secret[len(Prefix):]
	return Prefix + body[:4] + "****" + body[len(body)-4:]
}
