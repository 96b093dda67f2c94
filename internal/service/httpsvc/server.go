package httpsvc

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dormside/internal/auth"
	"github.com/vladislavdragonenkov/dormside/internal/domain"
	"github.com/vladislavdragonenkov/dormside/internal/service/idempotency"
	"github.com/vladislavdragonenkov/dormside/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/dormside/internal/service/storestatus"
)

const (
	defaultRequestTimeout = 30 * time.Second
	checkoutSuccessPath   = "/checkout/success"
)

// Исходы оплаты в редиректе после Stripe.
const (
	ReturnStatusPaid       = "paid"
	ReturnStatusProcessing = "processing"
	ReturnStatusFailed     = "failed"
)

// Deps — зависимости HTTP API.
type Deps struct {
	Orders   *lifecycle.Controller
	Store    *storestatus.Service
	Menu     domain.MenuRepository
	Sessions *auth.Sessions
	// Guard необязателен: без него Idempotency-Key игнорируется.
	Guard  *idempotency.Guard
	Logger *log.Entry
	// RequestTimeout ограничивает обработку одного запроса.
	RequestTimeout time.Duration
}

// Server — JSON API витрины.
type Server struct {
	orders   *lifecycle.Controller
	store    *storestatus.Service
	menu     domain.MenuRepository
	sessions *auth.Sessions
	guard    *idempotency.Guard
	logger   *log.Entry
	timeout  time.Duration
}

// NewServer создаёт HTTP API.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = auth.NewSessions(auth.Config{})
	}

	return &Server{
		orders:   deps.Orders,
		store:    deps.Store,
		menu:     deps.Menu,
		sessions: sessions,
		guard:    deps.Guard,
		logger:   logger,
		timeout:  timeout,
	}
}

// Handler собирает chi-роутер со всеми маршрутами /api.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Route("/api", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.With(s.idempotent).Post("/", s.handlePlaceOrder)
			r.Patch("/", s.handleUpdateStatus)
			r.With(s.requireAdmin).Get("/", s.handleListOrders)
			r.With(s.requireAdmin).Delete("/", s.handleDeleteOrder)
			r.With(s.requireAdmin).Get("/{id}", s.handleGetOrder)
		})

		r.With(s.idempotent).Post("/checkout", s.handleCheckout)
		r.Get("/checkout/return", s.handleCheckoutReturn)

		r.Get("/settings", s.handleGetSettings)
		r.With(s.requireAdmin).Put("/settings", s.handlePutSettings)

		r.Get("/menu", s.handleGetMenu)
		r.With(s.requireAdmin).Put("/menu", s.handlePutMenu)

		r.Post("/admin/login", s.handleLogin)
		r.Post("/admin/logout", s.handleLogout)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Not found", "code": CodeNotFound})
	})

	return r
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.orders.PlaceOrder(r.Context(), lifecycle.PlaceOrderRequest{
		Draft:          req.toDraft(),
		SessionOrderID: req.OrderID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := map[string]any{"order": toOrderDTO(result.Order)}
	if result.ClientSecret != "" {
		resp["clientSecret"] = result.ClientSecret
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Status) == "" {
		s.writeError(w, r, domain.NewValidationError([]error{errors.New("id and status are required")}))
		return
	}

	actor := lifecycle.CustomerActor
	if s.sessions.IsAdmin(r) {
		actor = lifecycle.AdminActor
	}

	order, err := s.orders.UpdateStatus(r.Context(), actor, lifecycle.UpdateStatusRequest{
		ID:              req.ID,
		Status:          domain.OrderStatus(req.Status),
		PaymentIntentID: req.PaymentIntentID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": toOrderDTO(order)})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orders.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": toOrderDTOs(orders)})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": toOrderDTO(order)})
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	var req deleteOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		s.writeError(w, r, domain.NewValidationError([]error{errors.New("missing id")}))
		return
	}

	removed, err := s.orders.Delete(r.Context(), req.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.orders.CreatePaymentIntent(r.Context(), lifecycle.IntentRequest{
		OrderID:     req.OrderID,
		Items:       toItems(req.Items),
		Fulfillment: domain.Fulfillment(req.DeliveryOption),
		Tip:         req.Tip,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{
		ClientSecret:    result.ClientSecret,
		PaymentIntentID: result.PaymentIntentID,
		Amount:          result.Amount().InexactFloat64(),
		OrderID:         result.OrderID,
	})
}

// handleCheckoutReturn принимает редирект Stripe после подтверждения оплаты
// и переводит заказ в paid, если intent действительно успешен.
func (s *Server) handleCheckoutReturn(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	orderID := strings.TrimSpace(query.Get("order_id"))
	intentID := strings.TrimSpace(query.Get("payment_intent"))

	status := ReturnStatusFailed
	if orderID != "" && intentID != "" {
		_, err := s.orders.Finalize(r.Context(), lifecycle.FinalizeRequest{OrderID: orderID, PaymentIntentID: intentID})
		var incomplete *lifecycle.IncompleteError
		switch {
		case err == nil:
			status = ReturnStatusPaid
		case errors.As(err, &incomplete) && incomplete.Status == domain.IntentStatusProcessing:
			status = ReturnStatusProcessing
		default:
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id":       orderID,
				"payment_intent": intentID,
			}).Warn("checkout return could not finalize order")
		}
	}

	target := url.Values{}
	target.Set("status", status)
	if orderID != "" {
		target.Set("order_id", orderID)
	}
	http.Redirect(w, r, checkoutSuccessPath+"?"+target.Encode(), http.StatusSeeOther)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.Get(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsDTO{IsOpen: &settings.IsOpen})
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsDTO
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.IsOpen == nil {
		s.writeError(w, r, domain.NewValidationError([]error{errors.New("isOpen must be a boolean")}))
		return
	}

	settings, err := s.store.Set(r.Context(), domain.StoreSettings{IsOpen: *req.IsOpen})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsDTO{IsOpen: &settings.IsOpen})
}

func (s *Server) handleGetMenu(w http.ResponseWriter, r *http.Request) {
	items, err := s.menu.Get(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMenuDTO(items))
}

func (s *Server) handlePutMenu(w http.ResponseWriter, r *http.Request) {
	var req menuDTO
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Items == nil {
		s.writeError(w, r, domain.NewValidationError([]error{errors.New("items must be an array")}))
		return
	}

	items, err := s.menu.Replace(r.Context(), req.toDomain())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.WithField("items", len(items)).Info("menu replaced")
	writeJSON(w, http.StatusOK, toMenuDTO(items))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	token, err := s.sessions.Login(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrMissingCredentials):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing credentials", "code": CodeValidation})
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.logger.WithField("remote_ip", r.RemoteAddr).Warn("admin login rejected")
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid credentials", "code": CodeUnauthorized})
		return
	case err != nil:
		s.logger.WithError(err).Error("admin login failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Unable to login", "code": CodeStorageUnavailable})
		return
	}

	s.sessions.SetCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	auth.ClearCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
