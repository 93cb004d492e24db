package mockapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func doRequest(t *testing.T, h http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, h http.Handler, email string) string {
	t.Helper()
	w := doRequest(t, h, "POST", "/api/auth/login", `{"email":"`+email+`","password":"password123"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	token := gjson.Get(w.Body.String(), "data.token").String()
	require.NotEmpty(t, token)
	return token
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": {"Bearer " + token}}
}

func TestCatalogueEndpoints(t *testing.T) {
	h := New(Options{}).Handler()

	tests := []struct {
		name    string
		path    string
		status  int
		minData int
	}{
		{"categories", "/api/categories", 200, 5},
		{"products", "/api/products", 200, 10},
		{"products by category", "/api/products?category_id=2", 200, 1},
		{"best sellers", "/api/products?best_seller=true", 200, 1},
		{"search", "/api/search?q=milk", 200, 1},
		{"search without hits", "/api/search?q=caviar", 200, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, h, "GET", tt.path, "", nil)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			data := gjson.Get(w.Body.String(), "data")
			require.True(t, data.IsArray(), "data must be an array: %s", w.Body.String())
			assert.GreaterOrEqual(t, len(data.Array()), tt.minData)
		})
	}
}

func TestProductFilters(t *testing.T) {
	h := New(Options{}).Handler()

	w := doRequest(t, h, "GET", "/api/products?category_id=3", "", nil)
	for _, p := range gjson.Get(w.Body.String(), "data").Array() {
		assert.Equal(t, "3", p.Get("category_id").String())
	}

	w = doRequest(t, h, "GET", "/api/products?best_seller=true", "", nil)
	for _, p := range gjson.Get(w.Body.String(), "data").Array() {
		assert.True(t, p.Get("best_seller").Bool())
	}
}

func TestProductDetail(t *testing.T) {
	h := New(Options{}).Handler()

	w := doRequest(t, h, "GET", "/api/products/p1", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "p1", gjson.Get(w.Body.String(), "data.id").String())

	w = doRequest(t, h, "GET", "/api/products/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "product not found", gjson.Get(w.Body.String(), "error").String())
}

func TestLogin(t *testing.T) {
	h := New(Options{}).Handler()

	token := login(t, h, "test1@example.com")
	assert.Len(t, token, 36)

	w := doRequest(t, h, "POST", "/api/auth/login", `{"email":"test1@example.com","password":"wrong"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, gjson.Get(w.Body.String(), "data.token").Exists())

	w = doRequest(t, h, "POST", "/api/auth/login", `{"email":`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogin_ReusesSessionToken(t *testing.T) {
	srv := New(Options{})
	h := srv.Handler()

	first := login(t, h, "test1@example.com")
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, login(t, h, "Test1@example.com"))
	}
	other := login(t, h, "test2@example.com")
	assert.NotEqual(t, first, other)

	srv.store.mu.RLock()
	defer srv.store.mu.RUnlock()
	assert.Len(t, srv.store.tokens, 2)
	assert.Len(t, srv.store.sessions, 2)
}

func TestSignup(t *testing.T) {
	h := New(Options{}).Handler()

	body := `{"name":"Test User abcde","email":"test_abc@example.com","password":"password123","phone":"+123456789042"}`
	w := doRequest(t, h, "POST", "/api/auth/signup", body, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "test_abc@example.com", gjson.Get(w.Body.String(), "data.user.email").String())
	assert.False(t, gjson.Get(w.Body.String(), "data.user.password").Exists())

	w = doRequest(t, h, "POST", "/api/auth/signup", body, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, h, "POST", "/api/auth/signup", `{"email":"x@example.com"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// New accounts can log in.
	token := login(t, h, "test_abc@example.com")
	w = doRequest(t, h, "GET", "/api/orders", "", bearer(token))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", gjson.Get(w.Body.String(), "data").Raw)
}

func TestAccountEndpoints_RequireBearer(t *testing.T) {
	h := New(Options{}).Handler()

	for _, path := range []string{"/api/cart", "/api/orders", "/api/addresses"} {
		t.Run(path, func(t *testing.T) {
			w := doRequest(t, h, "GET", path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)

			w = doRequest(t, h, "GET", path, "", bearer("not-a-token"))
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestAccountEndpoints(t *testing.T) {
	h := New(Options{}).Handler()

	tests := []struct {
		email     string
		cart      int
		orders    int
		addresses int
	}{
		{"test1@example.com", 200, 200, 200},
		{"test2@example.com", 404, 200, 200},
		{"test3@example.com", 404, 200, 404},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			auth := bearer(login(t, h, tt.email))
			assert.Equal(t, tt.cart, doRequest(t, h, "GET", "/api/cart", "", auth).Code)
			assert.Equal(t, tt.orders, doRequest(t, h, "GET", "/api/orders", "", auth).Code)
			assert.Equal(t, tt.addresses, doRequest(t, h, "GET", "/api/addresses", "", auth).Code)
		})
	}
}

func TestTracking(t *testing.T) {
	h := New(Options{}).Handler()

	w := doRequest(t, h, "GET", "/api/delivery/tracking/order_42", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "order_42", gjson.Get(w.Body.String(), "data.order_id").String())

	for _, id := range []string{"order_0", "order_501", "order_42x", "42"} {
		w = doRequest(t, h, "GET", "/api/delivery/tracking/"+id, "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code, id)
	}
}

func TestHits(t *testing.T) {
	srv := New(Options{})
	h := srv.Handler()

	doRequest(t, h, "GET", "/api/products/p1", "", nil)
	doRequest(t, h, "GET", "/api/products/p2", "", nil)
	doRequest(t, h, "GET", "/api/categories", "", nil)

	assert.Equal(t, int64(2), srv.Hits("GET /api/products/{id}"))
	assert.Equal(t, int64(1), srv.Hits("GET /api/categories"))
	assert.Equal(t, int64(3), srv.TotalHits())
	assert.Equal(t, []string{"GET /api/categories", "GET /api/products/{id}"}, srv.Routes())
}

func TestFaultInjection(t *testing.T) {
	h := New(Options{ErrorRate: 1, Seed: 1}).Handler()

	w := doRequest(t, h, "GET", "/api/categories", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "injected failure", body["error"])
}

func TestLatencyInjection(t *testing.T) {
	h := New(Options{Latency: 50 * time.Millisecond}).Handler()

	start := time.Now()
	w := doRequest(t, h, "GET", "/api/categories", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(Options{}).Serve(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/api/categories")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
