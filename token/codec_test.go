package token

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timerhsenso/sentinela/logger"
)

type rowKey struct {
	System string `json:"s"`
	Key    string `json:"k"`
}

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	log := logger.NewZerologLogger(logger.DefaultConfig())

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	codec, err := NewCodec(log, key, DefaultCodecConfig())
	require.NoError(t, err)
	return codec
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	payload := rowKey{System: "SEG", Key: "row-42"}
	tok, err := codec.Issue(ctx, payload, PurposeEdit, "alice", 10*time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, tok)

	var got rowKey
	purpose, issuer, err := codec.Redeem(ctx, tok, &got)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, PurposeEdit, purpose)
	assert.Equal(t, "alice", issuer)
}

func TestCodec_RoundTrip_CompositePayload(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	payload := map[string]string{"empresa": "01", "filial": "02", "matricula": "123"}
	tok, err := codec.Issue(ctx, payload, PurposeDelete, "bob", time.Minute)
	require.NoError(t, err)

	got, purpose, issuer, err := RedeemAs[map[string]string](ctx, codec, tok)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, PurposeDelete, purpose)
	assert.Equal(t, "bob", issuer)
}

func TestCodec_Expiry(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	tok, err := codec.Issue(ctx, rowKey{Key: "x"}, PurposeEdit, "alice", time.Millisecond)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	var got rowKey
	_, _, err = codec.Redeem(ctx, tok, &got)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestCodec_TamperDetection(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	tok, err := codec.Issue(ctx, rowKey{System: "SEG", Key: "row-1"}, PurposeEdit, "alice", time.Minute)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(tok)
	require.NoError(t, err)

	// Flipping any byte must yield ErrInvalidToken, never a decoded
	// envelope with a different payload.
	for i := 0; i < len(raw); i += 7 {
		mangled := make([]byte, len(raw))
		copy(mangled, raw)
		mangled[i] ^= 0x01

		var got rowKey
		_, _, err := codec.Redeem(ctx, base64.RawURLEncoding.EncodeToString(mangled), &got)
		assert.ErrorIs(t, err, ErrInvalidToken, "byte %d", i)
	}
}

func TestCodec_GarbageTokens(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	for _, tok := range []string{"", "not-a-token", "!!!%%%", base64.RawURLEncoding.EncodeToString([]byte("junk"))} {
		var got rowKey
		_, _, err := codec.Redeem(ctx, tok, &got)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", tok)
	}
}

func TestCodec_PurposeBinding(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	tok, err := codec.Issue(ctx, rowKey{Key: "row-1"}, PurposeEdit, "alice", time.Minute)
	require.NoError(t, err)

	var got rowKey
	err = codec.RedeemFor(ctx, tok, PurposeDelete, "alice", &got)
	assert.ErrorIs(t, err, ErrPurposeMismatch)
}

func TestCodec_IdentityBinding(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	tok, err := codec.Issue(ctx, rowKey{Key: "row-1"}, PurposeEdit, "alice", time.Minute)
	require.NoError(t, err)

	var got rowKey
	err = codec.RedeemFor(ctx, tok, PurposeEdit, "bob", &got)
	assert.ErrorIs(t, err, ErrIdentityMismatch)
}

func TestCodec_WrongKeyRejected(t *testing.T) {
	ctx := context.Background()
	log := logger.NewZerologLogger(logger.DefaultConfig())

	codecA := newTestCodec(t)

	otherKey := make([]byte, 32)
	for i := range otherKey {
		otherKey[i] = byte(255 - i)
	}
	codecB, err := NewCodec(log, otherKey, nil)
	require.NoError(t, err)

	tok, err := codecA.Issue(ctx, rowKey{Key: "row-1"}, PurposeEdit, "alice", time.Minute)
	require.NoError(t, err)

	var got rowKey
	_, _, err = codecB.Redeem(ctx, tok, &got)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCodec_Issue_Validation(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	_, err := codec.Issue(ctx, rowKey{}, "", "alice", time.Minute)
	assert.Error(t, err)

	_, err = codec.Issue(ctx, rowKey{}, PurposeEdit, "", time.Minute)
	assert.Error(t, err)
}

// Scenario from the delete flow: a token for key SYS01 minted for u1 with
// purpose Delete is good for u1+Delete within its window, rejected for u2,
// and rejected after expiry.
func TestCodec_DeleteScenario(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	tok, err := codec.Issue(ctx, rowKey{System: "SEG", Key: "SYS01"}, PurposeDelete, "u1", 10*time.Minute)
	require.NoError(t, err)

	var got rowKey
	require.NoError(t, codec.RedeemFor(ctx, tok, PurposeDelete, "u1", &got))
	assert.Equal(t, "SYS01", got.Key)

	err = codec.RedeemFor(ctx, tok, PurposeDelete, "u2", &got)
	assert.ErrorIs(t, err, ErrIdentityMismatch)

	expired, err := codec.Issue(ctx, rowKey{Key: "SYS01"}, PurposeDelete, "u1", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	err = codec.RedeemFor(ctx, expired, PurposeDelete, "u1", &got)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestCodec_Metrics(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	tok, err := codec.Issue(ctx, rowKey{Key: "row-1"}, PurposeEdit, "alice", time.Minute)
	require.NoError(t, err)

	var got rowKey
	_, _, err = codec.Redeem(ctx, tok, &got)
	require.NoError(t, err)

	_, _, err = codec.Redeem(ctx, "garbage", &got)
	require.Error(t, err)

	snapshot := codec.GetMetrics()
	assert.Equal(t, int64(1), snapshot["tokens_issued"])
	assert.Equal(t, int64(1), snapshot["tokens_redeemed"])
	assert.Equal(t, int64(1), snapshot["invalid_tokens"])
}
