package mockapi

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Category is a product category.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Product is a catalogue entry.
type Product struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	CategoryID string  `json:"category_id"`
	Price      float64 `json:"price"`
	BestSeller bool    `json:"best_seller"`
	InStock    bool    `json:"in_stock"`
}

// User is an account. Password is never serialized.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Password string `json:"-"`
}

// CartItem is a line in a cart.
type CartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Order is a placed order.
type Order struct {
	ID     string  `json:"id"`
	Status string  `json:"status"`
	Total  float64 `json:"total"`
}

// Address is a delivery address.
type Address struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Line1 string `json:"line1"`
	City  string `json:"city"`
}

// Tracking is the delivery status of an order.
type Tracking struct {
	OrderID    string `json:"order_id"`
	Status     string `json:"status"`
	ETAMinutes int    `json:"eta_minutes"`
}

var (
	errInvalidCredentials = errors.New("invalid email or password")
	errEmailTaken         = errors.New("email already registered")
)

// trackedOrders is the number of orders (order_1 .. order_N) with tracking.
const trackedOrders = 500

// store is the in-memory state of the fake API.
type store struct {
	categories []Category
	products   []Product

	mu        sync.RWMutex
	users     map[string]*User // by email
	tokens    map[string]string // token -> email
	sessions  map[string]string // email -> token
	carts     map[string][]CartItem
	orders    map[string][]Order
	addresses map[string][]Address
}

func newStore() *store {
	s := &store{
		categories: []Category{
			{ID: "1", Name: "Dairy"},
			{ID: "2", Name: "Bakery"},
			{ID: "3", Name: "Meat & Poultry"},
			{ID: "4", Name: "Pantry"},
			{ID: "5", Name: "Fresh Produce"},
		},
		products: []Product{
			{ID: "p1", Name: "Whole Milk 1L", CategoryID: "1", Price: 1.29, BestSeller: true, InStock: true},
			{ID: "p2", Name: "Cheddar Cheese", CategoryID: "1", Price: 3.49, InStock: true},
			{ID: "p3", Name: "Greek Yogurt", CategoryID: "1", Price: 2.19, InStock: true},
			{ID: "p4", Name: "Free Range Eggs (12)", CategoryID: "1", Price: 3.99, BestSeller: true, InStock: true},
			{ID: "p5", Name: "Sourdough Bread", CategoryID: "2", Price: 2.79, BestSeller: true, InStock: true},
			{ID: "p6", Name: "Wholegrain Bread", CategoryID: "2", Price: 2.49, InStock: true},
			{ID: "p7", Name: "Croissants (4)", CategoryID: "2", Price: 3.29, InStock: false},
			{ID: "p8", Name: "Chicken Breast 500g", CategoryID: "3", Price: 5.99, BestSeller: true, InStock: true},
			{ID: "p9", Name: "Chicken Thighs 1kg", CategoryID: "3", Price: 6.49, InStock: true},
			{ID: "p10", Name: "Beef Mince 500g", CategoryID: "3", Price: 4.99, InStock: true},
			{ID: "p11", Name: "Basmati Rice 1kg", CategoryID: "4", Price: 2.99, BestSeller: true, InStock: true},
			{ID: "p12", Name: "Penne Pasta 500g", CategoryID: "4", Price: 1.19, InStock: true},
			{ID: "p13", Name: "Spaghetti Pasta 500g", CategoryID: "4", Price: 1.19, InStock: true},
			{ID: "p14", Name: "Orange Juice 1L", CategoryID: "4", Price: 2.29, InStock: true},
			{ID: "p15", Name: "Mixed Vegetables 1kg", CategoryID: "5", Price: 2.59, InStock: true},
			{ID: "p16", Name: "Seasonal Fruits Box", CategoryID: "5", Price: 7.99, BestSeller: true, InStock: true},
			{ID: "p17", Name: "Bananas (6)", CategoryID: "5", Price: 1.09, InStock: true},
		},
		users:     make(map[string]*User),
		tokens:    make(map[string]string),
		sessions:  make(map[string]string),
		carts:     make(map[string][]CartItem),
		orders:    make(map[string][]Order),
		addresses: make(map[string][]Address),
	}

	for i := 1; i <= 3; i++ {
		email := fmt.Sprintf("test%d@example.com", i)
		s.users[email] = &User{
			ID:       fmt.Sprintf("u%d", i),
			Name:     fmt.Sprintf("Test User %d", i),
			Email:    email,
			Password: "password123",
		}
	}

	// test1 has everything; test2 has no cart; test3 has no cart and no addresses.
	s.carts["test1@example.com"] = []CartItem{{ProductID: "p1", Quantity: 2}, {ProductID: "p5", Quantity: 1}}
	s.orders["test1@example.com"] = []Order{{ID: "order_1", Status: "delivered", Total: 12.37}}
	s.orders["test2@example.com"] = []Order{{ID: "order_2", Status: "out_for_delivery", Total: 5.99}}
	s.addresses["test1@example.com"] = []Address{{ID: "a1", Label: "Home", Line1: "1 Main St", City: "Springfield"}}
	s.addresses["test2@example.com"] = []Address{{ID: "a2", Label: "Work", Line1: "99 Market St", City: "Springfield"}}

	return s
}

func (s *store) listProducts(categoryID string, bestSeller bool) []Product {
	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		if categoryID != "" && p.CategoryID != categoryID {
			continue
		}
		if bestSeller && !p.BestSeller {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (s *store) product(id string) (Product, bool) {
	for _, p := range s.products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

func (s *store) search(q string) []Product {
	q = strings.ToLower(strings.TrimSpace(q))
	out := make([]Product, 0)
	if q == "" {
		return out
	}
	for _, p := range s.products {
		if strings.Contains(strings.ToLower(p.Name), q) {
			out = append(out, p)
		}
	}
	return out
}

// login checks credentials and returns the user's session token.
func (s *store) login(email, password string) (string, *User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[strings.ToLower(email)]
	if !ok || u.Password != password {
		return "", nil, errInvalidCredentials
	}
	return s.sessionLocked(u.Email), u, nil
}

func (s *store) signup(name, email, password, phone string) (string, *User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(email)
	if _, exists := s.users[key]; exists {
		return "", nil, errEmailTaken
	}
	u := &User{
		ID:       uuid.NewString(),
		Name:     name,
		Email:    key,
		Phone:    phone,
		Password: password,
	}
	s.users[key] = u

	return s.sessionLocked(key), u, nil
}

// sessionLocked returns the token of email, issuing one on first use. Each
// user holds a single token so repeated logins do not grow the store.
func (s *store) sessionLocked(email string) string {
	if token, ok := s.sessions[email]; ok {
		return token
	}
	token := uuid.NewString()
	s.sessions[email] = token
	s.tokens[token] = email
	return token
}

// userForToken resolves a bearer token to an email.
func (s *store) userForToken(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email, ok := s.tokens[token]
	return email, ok
}

func (s *store) cart(email string) ([]CartItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items, ok := s.carts[email]
	return items, ok
}

func (s *store) userOrders(email string) []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(make([]Order, 0), s.orders[email]...)
}

func (s *store) userAddresses(email string) ([]Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addrs, ok := s.addresses[email]
	return addrs, ok
}

func (s *store) tracking(orderID string) (Tracking, bool) {
	var n int
	if _, err := fmt.Sscanf(orderID, "order_%d", &n); err != nil || n < 1 || n > trackedOrders {
		return Tracking{}, false
	}
	if orderID != fmt.Sprintf("order_%d", n) {
		return Tracking{}, false
	}
	statuses := []string{"preparing", "picked_up", "out_for_delivery", "delivered"}
	return Tracking{
		OrderID:    orderID,
		Status:     statuses[n%len(statuses)],
		ETAMinutes: 10 - n%10,
	}, true
}
