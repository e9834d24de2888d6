package token

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	wrapping "github.com/openbao/go-kms-wrapping/v2"
	aeadwrapper "github.com/openbao/go-kms-wrapping/wrappers/aead/v2"
	"github.com/timerhsenso/sentinela/logger"
	"google.golang.org/protobuf/proto"
)

// Well-known purposes minted by the action endpoints. The codec itself does
// not interpret them; callers bind against the expected purpose on redeem.
const (
	PurposeEdit   = "Edit"
	PurposeDelete = "Delete"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpired          = errors.New("token has expired")
	ErrPurposeMismatch  = errors.New("token purpose mismatch")
	ErrIdentityMismatch = errors.New("token identity mismatch")
)

// envelope is the encrypted interior of a token. The payload stays opaque to
// the codec so any entity key shape can ride in it.
type envelope struct {
	Payload  json.RawMessage `json:"p"`
	Purpose  string          `json:"a"`
	Issuer   string          `json:"u"`
	ExpireAt time.Time       `json:"e"`
}

// CodecConfig holds configuration for the token codec
type CodecConfig struct {
	// DefaultTTL is used when Issue is called with a non-positive ttl
	DefaultTTL time.Duration

	// EnableMetrics enables collection of operational metrics
	EnableMetrics bool
}

// DefaultCodecConfig returns a production-ready default configuration
func DefaultCodecConfig() *CodecConfig {
	return &CodecConfig{
		DefaultTTL:    10 * time.Minute,
		EnableMetrics: true,
	}
}

// Metrics tracks operational statistics
type Metrics struct {
	mu                 sync.RWMutex
	TokensIssued       int64
	TokensRedeemed     int64
	TokensExpired      int64
	InvalidTokens      int64
	PurposeMismatches  int64
	IdentityMismatches int64
}

func (m *Metrics) IncrementIssued() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TokensIssued++
}

func (m *Metrics) IncrementRedeemed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TokensRedeemed++
}

func (m *Metrics) IncrementExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TokensExpired++
}

func (m *Metrics) IncrementInvalid() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InvalidTokens++
}

func (m *Metrics) IncrementPurposeMismatches() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PurposeMismatches++
}

func (m *Metrics) IncrementIdentityMismatches() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.IdentityMismatches++
}

func (m *Metrics) GetSnapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int64{
		"tokens_issued":       m.TokensIssued,
		"tokens_redeemed":     m.TokensRedeemed,
		"tokens_expired":      m.TokensExpired,
		"invalid_tokens":      m.InvalidTokens,
		"purpose_mismatches":  m.PurposeMismatches,
		"identity_mismatches": m.IdentityMismatches,
	}
}

// Codec issues and redeems opaque row-action tokens. Both operations are
// purely computational, so a single Codec is safe for concurrent use.
type Codec struct {
	wrapper wrapping.Wrapper
	config  *CodecConfig
	logger  logger.Logger
	metrics *Metrics
}

// NewCodec creates a codec sealed with the given 256-bit protection key.
func NewCodec(log logger.Logger, key []byte, config *CodecConfig) (*Codec, error) {
	if config == nil {
		config = DefaultCodecConfig()
	}

	wrapper := aeadwrapper.NewWrapper()
	if err := wrapper.SetAesGcmKeyBytes(key); err != nil {
		return nil, fmt.Errorf("failed to configure protection key: %w", err)
	}

	log.Info("token codec initialized",
		logger.Duration("default_ttl", config.DefaultTTL),
		logger.Bool("metrics_enabled", config.EnableMetrics))

	return &Codec{
		wrapper: wrapper,
		config:  config,
		logger:  log,
		metrics: &Metrics{},
	}, nil
}

// Issue serializes and encrypts {payload, purpose, issuer, expiry} into an
// opaque base64 string. The payload may be any JSON-serializable key shape.
func (c *Codec) Issue(ctx context.Context, payload any, purpose, issuer string, ttl time.Duration) (string, error) {
	if purpose == "" {
		return "", errors.New("purpose cannot be empty")
	}
	if issuer == "" {
		return "", errors.New("issuer cannot be empty")
	}
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to serialize payload: %w", err)
	}

	env := envelope{
		Payload:  raw,
		Purpose:  purpose,
		Issuer:   issuer,
		ExpireAt: time.Now().Add(ttl),
	}

	plaintext, err := json.Marshal(&env)
	if err != nil {
		return "", fmt.Errorf("failed to serialize envelope: %w", err)
	}

	blob, err := c.wrapper.Encrypt(ctx, plaintext)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt envelope: %w", err)
	}

	sealed, err := proto.Marshal(blob)
	if err != nil {
		return "", fmt.Errorf("failed to marshal sealed envelope: %w", err)
	}

	if c.config.EnableMetrics {
		c.metrics.IncrementIssued()
	}

	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Redeem decrypts and verifies a token, deserializing its payload into out.
// It returns the purpose and issuer baked into the envelope; binding them to
// the expected action and caller is the caller's responsibility (see RedeemFor).
func (c *Codec) Redeem(ctx context.Context, token string, out any) (string, string, error) {
	env, err := c.open(ctx, token)
	if err != nil {
		return "", "", err
	}

	if out != nil {
		if err := json.Unmarshal(env.Payload, out); err != nil {
			c.logger.Warn("token payload does not match expected shape",
				logger.Err(err))
			if c.config.EnableMetrics {
				c.metrics.IncrementInvalid()
			}
			return "", "", ErrInvalidToken
		}
	}

	if c.config.EnableMetrics {
		c.metrics.IncrementRedeemed()
	}

	return env.Purpose, env.Issuer, nil
}

// RedeemFor redeems a token and enforces purpose and issuer binding.
func (c *Codec) RedeemFor(ctx context.Context, token, wantPurpose, wantIssuer string, out any) error {
	purpose, issuer, err := c.Redeem(ctx, token, out)
	if err != nil {
		return err
	}

	if purpose != wantPurpose {
		c.logger.Warn("token presented for wrong purpose",
			logger.String("want", wantPurpose),
			logger.String("got", purpose),
			logger.String("issuer", issuer))
		if c.config.EnableMetrics {
			c.metrics.IncrementPurposeMismatches()
		}
		return ErrPurposeMismatch
	}

	if issuer != wantIssuer {
		c.logger.Warn("token presented by wrong identity",
			logger.String("issuer", issuer),
			logger.String("presenter", wantIssuer))
		if c.config.EnableMetrics {
			c.metrics.IncrementIdentityMismatches()
		}
		return ErrIdentityMismatch
	}

	return nil
}

// RedeemAs redeems a token into a value of type T.
func RedeemAs[T any](ctx context.Context, c *Codec, token string) (T, string, string, error) {
	var payload T
	purpose, issuer, err := c.Redeem(ctx, token, &payload)
	return payload, purpose, issuer, err
}

// open decrypts a token and checks its expiry. Every decode failure collapses
// into ErrInvalidToken so callers cannot distinguish tampering from garbage.
func (c *Codec) open(ctx context.Context, token string) (*envelope, error) {
	fail := func(reason string, err error) (*envelope, error) {
		c.logger.Warn("token rejected",
			logger.String("reason", reason),
			logger.Err(err))
		if c.config.EnableMetrics {
			c.metrics.IncrementInvalid()
		}
		return nil, ErrInvalidToken
	}

	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fail("malformed encoding", err)
	}

	blob := &wrapping.BlobInfo{}
	if err := proto.Unmarshal(sealed, blob); err != nil {
		return fail("malformed sealed envelope", err)
	}

	plaintext, err := c.wrapper.Decrypt(ctx, blob)
	if err != nil {
		return fail("decryption failed", err)
	}

	var env envelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return fail("malformed envelope", err)
	}

	if time.Now().After(env.ExpireAt) {
		c.logger.Warn("expired token presented",
			logger.String("issuer", env.Issuer),
			logger.Time("expired_at", env.ExpireAt))
		if c.config.EnableMetrics {
			c.metrics.IncrementExpired()
		}
		return nil, ErrExpired
	}

	return &env, nil
}

// GetMetrics returns a snapshot of current metrics
func (c *Codec) GetMetrics() map[string]int64 {
	if !c.config.EnableMetrics {
		return nil
	}
	return c.metrics.GetSnapshot()
}
