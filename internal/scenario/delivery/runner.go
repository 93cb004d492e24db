package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wesleyorama2/deliveryload/internal/loadtest"
	"github.com/wesleyorama2/deliveryload/internal/loadtest/metrics"
)

// Request names, used to group latencies in the per-request breakdown.
const (
	ReqCategories    = "GET /api/categories"
	ReqProducts      = "GET /api/products"
	ReqProductDetail = "GET /api/products/:id"
	ReqSearch        = "GET /api/search"
	ReqBestSellers   = "GET /api/products?best_seller=true"
	ReqLogin         = "POST /api/auth/login"
	ReqCart          = "GET /api/cart"
	ReqOrders        = "GET /api/orders"
	ReqAddresses     = "GET /api/addresses"
	ReqSignup        = "POST /api/auth/signup"
	ReqTracking      = "GET /api/delivery/tracking/:id"
)

const signupPassword = "password123"

// Runner executes the delivery journey once per VU iteration.
type Runner struct {
	opts   Options
	logger *zap.Logger
}

var _ loadtest.Scenario = (*Runner)(nil)

// New creates a Runner. A nil logger discards log output.
func New(opts Options, logger *zap.Logger) (*Runner, error) {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if len(opts.Categories) == 0 {
		return nil, errors.New("at least one category is required")
	}
	if len(opts.SearchQueries) == 0 {
		return nil, errors.New("at least one search query is required")
	}
	if opts.AuthRate > 0 && len(opts.Users) == 0 {
		return nil, errors.New("authenticated flow enabled but no users configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{opts: opts, logger: logger}, nil
}

// Name implements loadtest.Scenario.
func (r *Runner) Name() string {
	return "delivery"
}

// Setup logs the target and returns empty setup data.
func (r *Runner) Setup(ctx context.Context) (loadtest.SetupData, error) {
	r.logger.Info("Starting load test against: " + r.opts.BaseURL)
	return loadtest.SetupData{}, nil
}

// Teardown logs completion.
func (r *Runner) Teardown(ctx context.Context, data loadtest.SetupData) error {
	r.logger.Info("Load test completed")
	return nil
}

// Iterate runs one pass of the journey. Failed requests and checks are
// recorded in metrics and never returned; the only error is a cancelled
// context.
func (r *Runner) Iterate(ctx context.Context, vu *loadtest.VirtualUser, data loadtest.SetupData) error {
	rng := vu.Rand()

	// 1. Categories
	resp := vu.Get(ctx, ReqCategories, r.url("/api/categories", nil), nil)
	r.checkGroup(vu, resp,
		statusIs("categories status is 200", http.StatusOK),
		loadtest.Check{Name: "categories has data", Fn: hasDataArray},
	)
	if !r.pause(ctx, vu) {
		return ctx.Err()
	}

	// 2. Products in a random category
	products := vu.Get(ctx, ReqProducts, r.url("/api/products", url.Values{
		"category_id": {pick(rng, r.opts.Categories)},
	}), nil)
	r.checkGroup(vu, products,
		statusIs("products status is 200", http.StatusOK),
		loadtest.Check{Name: "products has data", Fn: hasDataArray},
	)
	if !r.pause(ctx, vu) {
		return ctx.Err()
	}

	// 3. Detail of the first product, when there is one
	if id := firstProductID(products.Body); id != "" {
		resp = vu.Get(ctx, ReqProductDetail, r.url("/api/products/"+url.PathEscape(id), nil), nil)
		r.checkGroup(vu, resp,
			statusIs("product detail status is 200", http.StatusOK),
			loadtest.Check{Name: "product detail has data", Fn: func(resp *loadtest.Response) bool {
				return hasTruthy(resp, "data", "id")
			}},
		)
		if !r.pause(ctx, vu) {
			return ctx.Err()
		}
	}

	// 4. Search
	resp = vu.Get(ctx, ReqSearch, r.url("/api/search", url.Values{
		"q": {pick(rng, r.opts.SearchQueries)},
	}), nil)
	r.checkGroup(vu, resp,
		statusIs("search status is 200", http.StatusOK),
		loadtest.Check{Name: "search has data", Fn: hasDataArray},
	)
	if !r.pause(ctx, vu) {
		return ctx.Err()
	}

	// 5. Best sellers
	resp = vu.Get(ctx, ReqBestSellers, r.url("/api/products", url.Values{
		"best_seller": {"true"},
	}), nil)
	r.checkGroup(vu, resp,
		statusIs("best sellers status is 200", http.StatusOK),
		loadtest.Check{Name: "best sellers has data", Fn: hasDataArray},
	)
	if !r.pause(ctx, vu) {
		return ctx.Err()
	}

	// 6. Authenticated account flow
	if chance(rng, r.opts.AuthRate) {
		if !r.accountFlow(ctx, vu) {
			return ctx.Err()
		}
	}

	// 7. Signup
	if chance(rng, r.opts.SignupRate) {
		r.signup(ctx, vu)
		if !r.pause(ctx, vu) {
			return ctx.Err()
		}
	}

	// 8. Delivery tracking
	if chance(rng, r.opts.TrackingRate) {
		orderID := "order_" + strconv.Itoa(rng.Intn(1000)+1)
		resp = vu.Get(ctx, ReqTracking, r.url("/api/delivery/tracking/"+orderID, nil), nil)
		r.checkGroup(vu, resp, statusIn("tracking status is 200 or 404", http.StatusOK, http.StatusNotFound))
		r.pause(ctx, vu)
	}

	return ctx.Err()
}

// Login posts creds to the login endpoint and returns the issued token, or
// "" when the status was not 200 or the body carried no token under
// data.token or token. A failed login adds exactly one failure sample to
// the errors rate.
func (r *Runner) Login(ctx context.Context, vu *loadtest.VirtualUser, creds Credentials) string {
	resp := vu.PostJSON(ctx, ReqLogin, r.url("/api/auth/login", nil), map[string]string{
		"email":    creds.Email,
		"password": creds.Password,
	}, nil)

	ok := r.checkGroup(vu, resp,
		statusIs("login status is 200", http.StatusOK),
		loadtest.Check{Name: "login has token", Fn: func(resp *loadtest.Response) bool {
			return hasTruthy(resp, "data.token", "token")
		}},
	)
	if !ok {
		return ""
	}

	if token := resp.JSON("data.token"); loadtest.Truthy(token) {
		return token.String()
	}
	return resp.JSON("token").String()
}

// accountFlow logs in and, with a token, reads cart, orders and addresses.
// Returns false when the context ended.
func (r *Runner) accountFlow(ctx context.Context, vu *loadtest.VirtualUser) bool {
	token := r.Login(ctx, vu, pick(vu.Rand(), r.opts.Users))
	if token == "" {
		return ctx.Err() == nil
	}

	header := http.Header{
		"Content-Type":  {"application/json"},
		"Authorization": {"Bearer " + token},
	}

	calls := []struct {
		name  string
		path  string
		check loadtest.Check
	}{
		{ReqCart, "/api/cart", statusIn("cart status is 200 or 404", http.StatusOK, http.StatusNotFound)},
		{ReqOrders, "/api/orders", statusIs("orders status is 200", http.StatusOK)},
		{ReqAddresses, "/api/addresses", statusIn("addresses status is 200 or 404", http.StatusOK, http.StatusNotFound)},
	}
	for _, c := range calls {
		resp := vu.Get(ctx, c.name, r.url(c.path, nil), header)
		r.checkGroup(vu, resp, c.check)
		if !r.pause(ctx, vu) {
			return false
		}
	}
	return true
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

func (r *Runner) signup(ctx context.Context, vu *loadtest.VirtualUser) {
	rng := vu.Rand()
	payload := signupRequest{
		Name:     "Test User " + randomString(rng, 5),
		Email:    fmt.Sprintf("test_%s@example.com", randomString(rng, 8)),
		Password: signupPassword,
		Phone:    fmt.Sprintf("+1234567890%d", rng.Intn(1000)),
	}

	resp := vu.PostJSON(ctx, ReqSignup, r.url("/api/auth/signup", nil), payload, nil)
	r.checkGroup(vu, resp, statusIn("signup status is 200 or 201", http.StatusOK, http.StatusCreated))
}

// checkGroup evaluates the checks attached to one call and adds a single
// sample to the errors rate. Interrupted responses record nothing.
func (r *Runner) checkGroup(vu *loadtest.VirtualUser, resp *loadtest.Response, checks ...loadtest.Check) bool {
	if resp.Interrupted {
		return false
	}
	ok := vu.Check(resp, checks...)
	vu.Metrics.AddRate(metrics.ErrorsMetric, !ok)
	if !ok {
		r.logger.Debug("check failed",
			zap.Int("vu", vu.ID),
			zap.Int64("iteration", vu.GetIteration()),
			zap.String("request", resp.Name),
			zap.Int("status", resp.Status),
			zap.Error(resp.Error),
		)
	}
	return ok
}

// pause sleeps for the think time and reports whether the iteration may
// continue.
func (r *Runner) pause(ctx context.Context, vu *loadtest.VirtualUser) bool {
	vu.Sleep(ctx, r.opts.Pause(vu.Rand()))
	return ctx.Err() == nil
}

func (r *Runner) url(path string, query url.Values) string {
	u := r.opts.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func statusIs(name string, status int) loadtest.Check {
	return loadtest.Check{Name: name, Fn: func(resp *loadtest.Response) bool {
		return resp.OK(status)
	}}
}

func statusIn(name string, statuses ...int) loadtest.Check {
	return loadtest.Check{Name: name, Fn: func(resp *loadtest.Response) bool {
		return resp.StatusIn(statuses...)
	}}
}
