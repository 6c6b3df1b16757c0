package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/iliyamo/airport-booking/internal/config"
	"github.com/iliyamo/airport-booking/internal/utils"
)

const testSecret = "test-secret"

func newContext(e *echo.Echo, method, target string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func okHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"user_id": c.Get(CtxUserID),
		"role":    c.Get(CtxRole),
	})
}

func TestJWTAuth_MissingHeader(t *testing.T) {
	e := echo.New()
	c, rec := newContext(e, http.MethodGet, "/v1/orders")

	require.NoError(t, JWTAuth(testSecret)(okHandler)(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", gjson.Get(rec.Body.String(), "error").String())
	assert.Equal(t, "missing bearer token", gjson.Get(rec.Body.String(), "message").String())
}

func TestJWTAuth_WrongSecret(t *testing.T) {
	tok, err := utils.NewAccessToken("other-secret", 7, "CUSTOMER", 5)
	require.NoError(t, err)

	e := echo.New()
	c, rec := newContext(e, http.MethodGet, "/v1/orders")
	c.Request().Header.Set("Authorization", "Bearer "+tok.Token)

	require.NoError(t, JWTAuth(testSecret)(okHandler)(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid token", gjson.Get(rec.Body.String(), "message").String())
}

func TestJWTAuth_Expired(t *testing.T) {
	tok, err := utils.NewAccessToken(testSecret, 7, "CUSTOMER", -1)
	require.NoError(t, err)

	e := echo.New()
	c, rec := newContext(e, http.MethodGet, "/v1/orders")
	c.Request().Header.Set("Authorization", "Bearer "+tok.Token)

	require.NoError(t, JWTAuth(testSecret)(okHandler)(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTAuth_ValidTokenSetsIdentity(t *testing.T) {
	tok, err := utils.NewAccessToken(testSecret, 42, "ADMIN", 5)
	require.NoError(t, err)

	e := echo.New()
	c, rec := newContext(e, http.MethodGet, "/v1/orders")
	c.Request().Header.Set("Authorization", "Bearer "+tok.Token)

	require.NoError(t, JWTAuth(testSecret)(okHandler)(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(42), c.Get(CtxUserID))
	assert.Equal(t, "ADMIN", c.Get(CtxRole))
	assert.Equal(t, "42", subject(c))
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	mw := RequireRole("ADMIN")

	c, rec := newContext(e, http.MethodPost, "/v1/admin/flights")
	c.Set(CtxRole, "CUSTOMER")
	require.NoError(t, mw(okHandler)(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", gjson.Get(rec.Body.String(), "error").String())

	c, rec = newContext(e, http.MethodPost, "/v1/admin/flights")
	require.NoError(t, mw(okHandler)(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	c, rec = newContext(e, http.MethodPost, "/v1/admin/flights")
	c.Set(CtxRole, "ADMIN")
	require.NoError(t, mw(okHandler)(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubject_Anonymous(t *testing.T) {
	e := echo.New()
	c, _ := newContext(e, http.MethodGet, "/")
	assert.Equal(t, "anon", subject(c))

	c.Set(CtxUserID, uint64(0))
	assert.Equal(t, "anon", subject(c))
}

func TestNilRedisPassesThrough(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	e := echo.New()

	cache := NewRedisCache(config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}}, nil, logger)
	c, rec := newContext(e, http.MethodGet, "/v1/flights")
	require.NoError(t, cache(okHandler)(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Cache"))

	limiter := NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1}, nil, logger)
	c, rec = newContext(e, http.MethodPost, "/v1/orders")
	require.NoError(t, limiter(okHandler)(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestCacheKeyFrom(t *testing.T) {
	e := echo.New()
	cfg := config.CacheConfig{Prefix: "flights", KeyStrategy: "route_query"}

	a, _ := newContext(e, http.MethodGet, "/v1/flights?page=2&page_size=5")
	a.SetPath("/v1/flights")
	b, _ := newContext(e, http.MethodGet, "/v1/flights?page_size=5&page=2")
	b.SetPath("/v1/flights")
	other, _ := newContext(e, http.MethodGet, "/v1/flights?page=3")
	other.SetPath("/v1/flights")

	ka := cacheKeyFrom(cfg, a)
	assert.Regexp(t, `^flights:[0-9a-f]{40}$`, ka)
	assert.Equal(t, ka, cacheKeyFrom(cfg, b))
	assert.NotEqual(t, ka, cacheKeyFrom(cfg, other))

	cfg.KeyStrategy = "route_query_user"
	a.Set(CtxUserID, uint64(1))
	b.Set(CtxUserID, uint64(2))
	assert.NotEqual(t, cacheKeyFrom(cfg, a), cacheKeyFrom(cfg, b))
}

func TestPayloadRoundTrip(t *testing.T) {
	hdr := http.Header{"Content-Type": []string{"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"items":[]}`))
	require.NoError(t, err)

	status, got, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.JSONEq(t, `{"items":[]}`, string(body))

	_, _, _, ok = decodePayload([]byte{0, 1})
	assert.False(t, ok)
	_, _, _, ok = decodePayload(append(bs[:4:4], 0xff, 0xff, 0xff, 0xff))
	assert.False(t, ok)
}

func TestCaptureWriter_Overflow(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := &captureWriter{ResponseWriter: rec, status: http.StatusOK, limit: 8}

	_, err := cw.Write([]byte("12345"))
	require.NoError(t, err)
	assert.False(t, cw.overflow)
	assert.Equal(t, "12345", cw.buf.String())

	_, err = cw.Write([]byte("6789"))
	require.NoError(t, err)
	assert.True(t, cw.overflow)
	assert.Zero(t, cw.buf.Len())
	assert.Equal(t, "123456789", rec.Body.String())

	cw.WriteHeader(http.StatusCreated)
	assert.Equal(t, http.StatusCreated, cw.status)
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	c, _ := newContext(e, http.MethodPost, "/v1/orders")
	c.SetPath("/v1/orders")
	c.Request().Header.Set(echo.HeaderXRealIP, "10.0.0.9")
	c.Set(CtxUserID, uint64(5))

	cfg := config.RateLimitConfig{Prefix: "rl"}
	assert.Equal(t, "rl:ip:10.0.0.9:user:5:route:POST /v1/orders", buildRateKey(cfg, c))

	cfg.KeyStrategy = "user"
	assert.Equal(t, "rl:user:5", buildRateKey(cfg, c))

	cfg.KeyStrategy = "ip"
	assert.Equal(t, "rl:ip:10.0.0.9", buildRateKey(cfg, c))
}

func TestAsInt64(t *testing.T) {
	assert.Equal(t, int64(3), asInt64(int64(3)))
	assert.Equal(t, int64(4), asInt64("4"))
	assert.Equal(t, int64(2), asInt64(2.9))
	assert.Zero(t, asInt64("x"))
	assert.Zero(t, asInt64(nil))
}

func TestRequestLogger_LevelsByStatus(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	e := echo.New()
	e.Use(RequestLogger(logger))
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/missing", func(c echo.Context) error { return echo.NewHTTPError(http.StatusNotFound) })
	e.GET("/boom", func(c echo.Context) error { return c.NoContent(http.StatusInternalServerError) })

	for _, tc := range []struct {
		path  string
		level logrus.Level
	}{
		{"/ok", logrus.InfoLevel},
		{"/missing", logrus.WarnLevel},
		{"/boom", logrus.ErrorLevel},
	} {
		hook.Reset()
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))

		entry := hook.LastEntry()
		require.NotNil(t, entry, tc.path)
		assert.Equal(t, tc.level, entry.Level, tc.path)
		assert.Equal(t, tc.path, entry.Data["uri"])
		assert.Equal(t, "anon", entry.Data["user"])
	}
}
