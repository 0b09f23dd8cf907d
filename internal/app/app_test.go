package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-commerce/internal/handler"
	"github.com/xenking/kart-commerce/pkg/health"
)

type noopTelemetry struct{}

func (noopTelemetry) TracerProvider() trace.TracerProvider { return tracenoop.NewTracerProvider() }
func (noopTelemetry) MeterProvider() metric.MeterProvider  { return metricnoop.NewMeterProvider() }

const adminKey = "admin-key"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &Config{
		Storage:      StorageMemory,
		Currency:     "USD",
		CartTTL:      time.Hour,
		StaleCartAge: 24 * time.Hour,
		APIKeyPepper: "pepper",
		AdminAPIKey:  adminKey,
		Payments:     PaymentsConfig{GatewayTimeout: 5 * time.Second, ReturnURL: "https://shop.example/api/payments/{hash}/complete"},
		RateLimit:    RateLimitConfig{Max: 1000, Window: time.Minute},
		CORS:         CORSConfig{Origins: []string{"*"}},
	}
	lg := zap.NewNop()
	repos, err := openMemory(ctx, lg, cfg.APIKeyPepper, cfg.AdminAPIKey)
	require.NoError(t, err)
	sessions, err := openSessions(cfg)
	require.NoError(t, err)
	svc, err := newServices(lg, noopTelemetry{}, cfg, repos, sessions)
	require.NoError(t, err)

	probes := health.New()
	probes.SetReady(true)
	h := handler.NewHandler(handler.Config{StaleCartAge: cfg.StaleCartAge}, svc.carts, svc.payments, repos.adjustments)
	sec := handler.NewSecurityHandler(repos.apiKeys, []byte(cfg.APIKeyPepper))

	srv := httptest.NewServer(newRouter(ctx, cfg, noopTelemetry{}, probes, h, sec, sessions.limiter(ctx, cfg.RateLimit)))
	t.Cleanup(srv.Close)
	return srv
}

type client struct {
	t     *testing.T
	srv   *httptest.Server
	token string
}

func (c *client) do(method, path, body string, headers map[string]string) (*http.Response, []byte) {
	c.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, c.srv.URL+path, r)
	require.NoError(c.t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(handler.CartTokenHeader, c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.srv.Client().Do(req)
	require.NoError(c.t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	if tok := resp.Header.Get(handler.CartTokenHeader); tok != "" {
		c.token = tok
	}
	return resp, data
}

type cartBody struct {
	ID         string `json:"id"`
	ItemTotal  string `json:"itemTotal"`
	Discount   string `json:"discount"`
	TotalPrice string `json:"totalPrice"`
	CouponCode string `json:"couponCode"`
	Items      []struct {
		PurchasableID string `json:"purchasableId"`
		Qty           int    `json:"qty"`
	} `json:"items"`
}

type paymentBody struct {
	Completed   bool `json:"completed"`
	Transaction struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Status string `json:"status"`
		Amount string `json:"amount"`
	} `json:"transaction"`
}

func decodeBody[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestServer_CheckoutFlow(t *testing.T) {
	srv := newTestServer(t)
	c := &client{t: t, srv: srv}

	resp, data := c.do(http.MethodGet, "/api/cart", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	require.NotEmpty(t, c.token)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	first := decodeBody[cartBody](t, data)

	resp, data = c.do(http.MethodPost, "/api/cart/items", `{"purchasableId":"1","qty":2}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	cart := decodeBody[cartBody](t, data)
	assert.Equal(t, first.ID, cart.ID)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Qty)
	assert.Equal(t, "13.00", cart.ItemTotal)

	resp, data = c.do(http.MethodPost, "/api/cart/coupon", `{"code":"happyhours"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	cart = decodeBody[cartBody](t, data)
	assert.Equal(t, "10.66", cart.TotalPrice)

	resp, data = c.do(http.MethodPost, "/api/cart/payments", `{"paymentMethodId":"dummy-purchase"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	paid := decodeBody[paymentBody](t, data)
	assert.True(t, paid.Completed)
	assert.Equal(t, "purchase", paid.Transaction.Type)
	assert.Equal(t, "success", paid.Transaction.Status)
	assert.Equal(t, "10.66", paid.Transaction.Amount)

	// The completed cart is detached from the token.
	resp, data = c.do(http.MethodGet, "/api/cart", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	next := decodeBody[cartBody](t, data)
	assert.NotEqual(t, cart.ID, next.ID)
	assert.Empty(t, next.Items)

	refundPath := "/api/admin/transactions/" + paid.Transaction.ID + "/refund"
	resp, _ = c.do(http.MethodPost, refundPath, "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, data = c.do(http.MethodPost, refundPath, "", map[string]string{handler.APIKeyHeader: adminKey})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	refund := decodeBody[paymentBody](t, data)
	assert.Equal(t, "refund", refund.Transaction.Type)
	assert.Equal(t, "success", refund.Transaction.Status)
}

func TestServer_Declined(t *testing.T) {
	srv := newTestServer(t)
	c := &client{t: t, srv: srv}

	resp, data := c.do(http.MethodPost, "/api/cart/items", `{"purchasableId":"2","qty":1}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	resp, data = c.do(http.MethodPost, "/api/cart/payments",
		`{"paymentMethodId":"dummy-purchase","params":{"number":"4000000000000002"}}`, nil)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode, string(data))

	resp, data = c.do(http.MethodGet, "/api/cart", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cart := decodeBody[cartBody](t, data)
	assert.Len(t, cart.Items, 1, "a declined cart stays open")
}

func TestServer_Probes(t *testing.T) {
	srv := newTestServer(t)
	c := &client{t: t, srv: srv}

	for _, path := range []string{"/livez", "/readyz"} {
		resp, data := c.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.JSONEq(t, `{"status":"ok"}`, string(data))
	}

	resp, _ := c.do(http.MethodGet, "/api/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_CORSPreflight(t *testing.T) {
	srv := newTestServer(t)
	c := &client{t: t, srv: srv}

	resp, _ := c.do(http.MethodOptions, "/api/cart/items/abc", "", map[string]string{
		"Origin":                         "https://shop.example",
		"Access-Control-Request-Method":  http.MethodPatch,
		"Access-Control-Request-Headers": handler.CartTokenHeader,
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), handler.CartTokenHeader)
}

func TestServer_CORSExposesCartToken(t *testing.T) {
	srv := newTestServer(t)
	c := &client{t: t, srv: srv}

	resp, _ := c.do(http.MethodGet, "/api/cart", "", map[string]string{"Origin": "https://shop.example"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(handler.CartTokenHeader))
	assert.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), handler.CartTokenHeader)
	assert.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), "X-Request-ID")
}

func TestServer_EmptyCartPayment(t *testing.T) {
	srv := newTestServer(t)
	c := &client{t: t, srv: srv}

	resp, data := c.do(http.MethodGet, "/api/cart", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	empty := decodeBody[cartBody](t, data)

	resp, data = c.do(http.MethodPost, "/api/cart/payments", `{"paymentMethodId":"dummy-purchase"}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, string(data))

	resp, data = c.do(http.MethodGet, "/api/cart", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, empty.ID, decodeBody[cartBody](t, data).ID, "the empty cart stays open")
}
