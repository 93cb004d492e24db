package mockapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	s.respondData(w, http.StatusOK, s.store.categories)
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	bestSeller, _ := strconv.ParseBool(query.Get("best_seller"))
	s.respondData(w, http.StatusOK, s.store.listProducts(query.Get("category_id"), bestSeller))
}

func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	p, ok := s.store.product(chi.URLParam(r, "id"))
	if !ok {
		s.respondError(w, http.StatusNotFound, errors.New("product not found"))
		return
	}
	s.respondData(w, http.StatusOK, p)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.respondData(w, http.StatusOK, s.store.search(r.URL.Query().Get("q")))
}

func (s *Server) handleTracking(w http.ResponseWriter, r *http.Request) {
	t, ok := s.store.tracking(chi.URLParam(r, "orderID"))
	if !ok {
		s.respondError(w, http.StatusNotFound, errors.New("order not found"))
		return
	}
	s.respondData(w, http.StatusOK, t)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}

	token, user, err := s.store.login(req.Email, req.Password)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, err)
		return
	}
	s.respondData(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  user,
	})
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}
	if req.Name == "" || req.Email == "" || req.Password == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("name, email and password are required"))
		return
	}

	token, user, err := s.store.signup(req.Name, req.Email, req.Password, req.Phone)
	if errors.Is(err, errEmailTaken) {
		s.respondError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondData(w, http.StatusCreated, map[string]interface{}{
		"token": token,
		"user":  user,
	})
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request) {
	items, ok := s.store.cart(userEmail(r))
	if !ok {
		s.respondError(w, http.StatusNotFound, errors.New("cart is empty"))
		return
	}
	s.respondData(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	s.respondData(w, http.StatusOK, s.store.userOrders(userEmail(r)))
}

func (s *Server) handleAddresses(w http.ResponseWriter, r *http.Request) {
	addrs, ok := s.store.userAddresses(userEmail(r))
	if !ok {
		s.respondError(w, http.StatusNotFound, errors.New("no saved addresses"))
		return
	}
	s.respondData(w, http.StatusOK, addrs)
}
