// Package http is the gateway's REST surface: order intake, order and
// catalog reads, catalog administration, and the live status stream.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	invapp "github.com/dmehra2102/order-fulfillment/internal/inventory/application"
	invdom "github.com/dmehra2102/order-fulfillment/internal/inventory/domain"
	"github.com/dmehra2102/order-fulfillment/internal/notify"
	orderapp "github.com/dmehra2102/order-fulfillment/internal/order/application"
	orderdom "github.com/dmehra2102/order-fulfillment/internal/order/domain"
	"github.com/dmehra2102/order-fulfillment/internal/saga"
	"github.com/dmehra2102/order-fulfillment/pkg/bus"
)

const sseHeartbeat = 15 * time.Second

type Handler struct {
	log         *slog.Logger
	strategy    saga.Strategy
	orders      *orderapp.Service
	inventory   *invapp.Service
	broadcaster *notify.Broadcaster
	validate    *validator.Validate
	tracer      trace.Tracer
}

func NewHandler(log *slog.Logger, strategy saga.Strategy, orders *orderapp.Service, inventory *invapp.Service, broadcaster *notify.Broadcaster) *Handler {
	return &Handler{
		log:         log,
		strategy:    strategy,
		orders:      orders,
		inventory:   inventory,
		broadcaster: broadcaster,
		validate:    validator.New(),
		tracer:      otel.Tracer("gateway-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/events", h.streamEvents)
	r.Get("/orders/{id}", h.getOrder)

	r.Get("/products", h.listProducts)
	r.Post("/products", h.createProduct)
	r.Get("/products/{id}", h.getProduct)
	r.Put("/products/{id}", h.updateProduct)
	r.Delete("/products/{id}", h.deleteProduct)

	return r
}

type orderItemReq struct {
	ProductID int64 `json:"productId" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0"`
}

type createOrderReq struct {
	CustomerID int64          `json:"customerId" validate:"required,gt=0"`
	Items      []orderItemReq `json:"items" validate:"required,min=1,dive"`
}

type orderItemResp struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type orderResponse struct {
	ID           int64           `json:"id"`
	CustomerID   int64           `json:"customerId"`
	Status       orderdom.Status `json:"status"`
	Message      string          `json:"message"`
	Total        decimal.Decimal `json:"total"`
	CancelReason string          `json:"cancelReason,omitempty"`
	Items        []orderItemResp `json:"items"`
}

func toOrderResponse(o orderdom.Order) orderResponse {
	items := make([]orderItemResp, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemResp{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return orderResponse{
		ID:           o.ID,
		CustomerID:   o.CustomerID,
		Status:       o.Status,
		Message:      orderdom.StatusMessages[o.Status],
		Total:        o.Total,
		CancelReason: o.CancelReason,
		Items:        items,
	}
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items := make([]orderdom.OrderItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = orderdom.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	order, err := h.strategy.Submit(ctx, req.CustomerID, items)
	if err != nil {
		if errors.Is(err, bus.ErrTransport) {
			h.log.ErrorContext(ctx, "order intake unavailable", "error", err)
			writeError(w, http.StatusServiceUnavailable, "order intake temporarily unavailable")
			return
		}
		h.log.ErrorContext(ctx, "submit failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusCreated
	if !order.Status.Terminal() {
		status = http.StatusAccepted
	}
	writeJSON(w, status, toOrderResponse(order))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	order, err := h.orders.Get(r.Context(), id)
	if errors.Is(err, orderdom.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("order %d not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]orderResponse, len(orders))
	for i, o := range orders {
		out[i] = toOrderResponse(o)
	}
	writeJSON(w, http.StatusOK, out)
}

// streamEvents pushes every order status change to the client as
// server-sent events. Delivery is best effort; a slow client misses events
// instead of slowing the saga.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := h.broadcaster.Subscribe()
	defer cancel()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: status\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

type productReq struct {
	Name  string          `json:"name" validate:"required"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock" validate:"gte=0"`
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.inventory.Products(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	p, err := h.inventory.Product(r.Context(), id)
	if errors.Is(err, invdom.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("product %d not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req productReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Price.IsNegative() {
		writeError(w, http.StatusBadRequest, "price must not be negative")
		return
	}
	p, err := h.inventory.CreateProduct(r.Context(), invdom.Product{
		Name: req.Name, Price: req.Price, Stock: req.Stock,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	var req productReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Price.IsNegative() {
		writeError(w, http.StatusBadRequest, "price must not be negative")
		return
	}
	p := invdom.Product{ID: id, Name: req.Name, Price: req.Price, Stock: req.Stock}
	if err := h.inventory.UpdateProduct(r.Context(), p); err != nil {
		if errors.Is(err, invdom.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("product %d not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	if err := h.inventory.DeleteProduct(r.Context(), id); err != nil {
		if errors.Is(err, invdom.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("product %d not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
