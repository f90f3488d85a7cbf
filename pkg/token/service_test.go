package token

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T) (*Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	svc, err := NewService(Config{
		Secret:   testSecret,
		Issuer:   "mobius-identity",
		Audience: "mobius-browser-shell",
	}, WithClock(clock.Now))
	require.NoError(t, err)
	return svc, clock
}

func testSubject() Subject {
	return Subject{
		UserID:          "user-1",
		Handle:          "kaizen",
		Email:           "kaizen@example.com",
		TrustLevel:      1,
		WalletPublicKey: "02abc",
	}
}

func TestNewService_NotConfigured(t *testing.T) {
	_, err := NewService(Config{Issuer: "i", Audience: "a"})
	require.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewService(Config{Secret: []byte("short"), Issuer: "i", Audience: "a"})
	require.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewService(Config{Secret: testSecret})
	require.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewService(Config{Secret: testSecret, RefreshSecret: []byte("short"), Issuer: "i", Audience: "a"})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestRefreshKeyIsDistinct(t *testing.T) {
	svc, _ := newTestService(t)
	assert.NotEqual(t, svc.accessKey, svc.refreshKey)

	again, err := deriveRefreshKey(testSecret)
	require.NoError(t, err)
	assert.Equal(t, svc.refreshKey, again, "derivation must be deterministic")
}

func TestAccessToken_RoundTrip(t *testing.T) {
	svc, clock := newTestService(t)

	raw, exp, err := svc.CreateAccessToken(testSubject())
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(DefaultAccessTTL), exp)

	claims, err := svc.VerifyAccessToken(raw)
	require.NoError(t, err)
	assert.Equal(t, testSubject(), claims.Subject())
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, "mobius-identity", claims.Issuer)
}

func TestAccessToken_UniqueJTI(t *testing.T) {
	svc, _ := newTestService(t)

	a, _, err := svc.CreateAccessToken(testSubject())
	require.NoError(t, err)
	b, _, err := svc.CreateAccessToken(testSubject())
	require.NoError(t, err)

	ca, err := svc.VerifyAccessToken(a)
	require.NoError(t, err)
	cb, err := svc.VerifyAccessToken(b)
	require.NoError(t, err)
	assert.NotEqual(t, ca.ID, cb.ID)
}

func TestAccessToken_Expired(t *testing.T) {
	svc, clock := newTestService(t)

	raw, _, err := svc.CreateAccessToken(testSubject())
	require.NoError(t, err)

	clock.Advance(DefaultAccessTTL + time.Second)
	_, err = svc.VerifyAccessToken(raw)
	require.ErrorIs(t, err, ErrTokenExpired)
	assert.NotErrorIs(t, err, ErrTokenInvalid)
}

func TestVerify_Forged(t *testing.T) {
	svc, clock := newTestService(t)

	other, err := NewService(Config{
		Secret:   []byte("ffffffffffffffffffffffffffffffff"),
		Issuer:   "mobius-identity",
		Audience: "mobius-browser-shell",
	}, WithClock(clock.Now))
	require.NoError(t, err)

	forged, _, err := other.CreateAccessToken(testSubject())
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(forged)
	require.ErrorIs(t, err, ErrTokenInvalid)

	// forged and expired is still invalid, never expired
	clock.Advance(time.Hour)
	_, err = svc.VerifyAccessToken(forged)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerify_Malformed(t *testing.T) {
	svc, _ := newTestService(t)

	for _, raw := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := svc.VerifyAccessToken(raw)
		require.ErrorIs(t, err, ErrTokenInvalid, raw)
	}
}

func TestVerify_RejectsAlgNone(t *testing.T) {
	svc, clock := newTestService(t)

	claims := &AccessClaims{UserID: "user-1", RegisteredClaims: svc.registered(clock.Now(), time.Minute)}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerify_WrongAudience(t *testing.T) {
	svc, clock := newTestService(t)
	other, err := NewService(Config{Secret: testSecret, Issuer: "mobius-identity", Audience: "elsewhere"}, WithClock(clock.Now))
	require.NoError(t, err)

	raw, _, err := other.CreateAccessToken(testSubject())
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestDiscriminators(t *testing.T) {
	svc, _ := newTestService(t)

	access, _, err := svc.CreateAccessToken(testSubject())
	require.NoError(t, err)
	refresh, _, err := svc.CreateRefreshToken("user-1")
	require.NoError(t, err)
	magic, _, err := svc.CreateMagicLinkToken("user-1", LinkLogin)
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(refresh)
	assert.ErrorIs(t, err, ErrTokenInvalid, "refresh replayed as access")
	_, err = svc.VerifyAccessToken(magic)
	assert.ErrorIs(t, err, ErrTokenInvalid, "magic link replayed as access")

	_, err = svc.VerifyRefreshToken(access)
	assert.ErrorIs(t, err, ErrTokenInvalid, "access replayed as refresh")
	_, err = svc.VerifyRefreshToken(magic)
	assert.ErrorIs(t, err, ErrTokenInvalid, "magic link replayed as refresh")

	_, err = svc.VerifyMagicLinkToken(access)
	assert.ErrorIs(t, err, ErrTokenInvalid, "access replayed as magic link")
	_, err = svc.VerifyMagicLinkToken(refresh)
	assert.ErrorIs(t, err, ErrTokenInvalid, "refresh replayed as magic link")
}

func TestRefreshToken_RoundTrip(t *testing.T) {
	svc, clock := newTestService(t)

	raw, exp, err := svc.CreateRefreshToken("user-1")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(DefaultRefreshTTL), exp)

	claims, err := svc.VerifyRefreshToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, KindRefresh, claims.Type)

	clock.Advance(DefaultRefreshTTL + time.Second)
	_, err = svc.VerifyRefreshToken(raw)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestMagicLinkToken(t *testing.T) {
	svc, clock := newTestService(t)

	for _, lt := range []LinkType{LinkLogin, LinkVerifyEmail, LinkResetPassword} {
		raw, _, err := svc.CreateMagicLinkToken("user-1", lt)
		require.NoError(t, err)

		claims, err := svc.VerifyMagicLinkToken(raw)
		require.NoError(t, err)
		assert.Equal(t, lt, claims.LinkType)
	}

	_, _, err := svc.CreateMagicLinkToken("user-1", LinkType("admin"))
	require.ErrorIs(t, err, ErrTokenInvalid)

	raw, _, err := svc.CreateMagicLinkToken("user-1", LinkLogin)
	require.NoError(t, err)
	clock.Advance(DefaultMagicLinkTTL + time.Second)
	_, err = svc.VerifyMagicLinkToken(raw)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestCreateTokenPair(t *testing.T) {
	svc, clock := newTestService(t)

	pair, err := svc.CreateTokenPair(testSubject())
	require.NoError(t, err)

	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(900), pair.ExpiresIn)
	assert.Equal(t, clock.Now().Add(DefaultAccessTTL), pair.AccessExpiresAt)
	assert.Equal(t, clock.Now().Add(DefaultRefreshTTL), pair.RefreshExpiresAt)

	_, err = svc.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	_, err = svc.VerifyRefreshToken(pair.RefreshToken)
	require.NoError(t, err)
}

func TestHashToken(t *testing.T) {
	h := HashToken("abc")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashToken("abc"))
	assert.NotEqual(t, h, HashToken("abd"))
	assert.Equal(t, strings.ToLower(h), h)
}
