package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/vaidashi/order-processing-api/internal/models"
	"github.com/vaidashi/order-processing-api/internal/scheduler"
	"github.com/vaidashi/order-processing-api/internal/service"
	apperrors "github.com/vaidashi/order-processing-api/pkg/errors"
)

// maxBodyBytes caps request bodies, an order with thousands of lines is still far below it
const maxBodyBytes = 1 << 20

type ApiResponse struct {
	Success bool              `json:"success"`
	Data    interface{}       `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Health represents the health check response
type Health struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

type createOrderRequest struct {
	CustomerID   string             `json:"customerId" validate:"notblank,max=100"`
	CustomerName string             `json:"customerName" validate:"notblank,max=255"`
	Items        []orderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type orderItemRequest struct {
	ProductName string          `json:"productName" validate:"notblank,max=255"`
	Price       decimal.Decimal `json:"price" validate:"money"`
	Quantity    int             `json:"quantity" validate:"gt=0,lte=2147483647"`
}

// CancelResponse is returned when an order was cancelled
type CancelResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	OrderID int64  `json:"orderId"`
}

// healthCheckHandler reports liveness and database reachability
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	health := Health{
		Status:    "ok",
		Version:   "1.0.0",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    map[string]string{},
	}

	code := http.StatusOK

	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.pinger.Ping(ctx); err != nil {
			s.logger.Warn("Health check failed", "error", err)
			health.Status = "degraded"
			health.Checks["database"] = "unreachable"
			code = http.StatusServiceUnavailable
		} else {
			health.Checks["database"] = "ok"
		}
	}

	s.respondWithJSON(w, code, ApiResponse{
		Success: code == http.StatusOK,
		Data:    health,
	})
}

// getOrdersHandler returns every order with its items
func (s *Server) getOrdersHandler(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orders.GetAllOrders(r.Context())

	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    orders,
	})
}

// getOrdersByStatusHandler returns the orders in a status, matched case-insensitively
func (s *Server) getOrdersByStatusHandler(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["status"]
	status, err := models.ParseOrderStatus(raw)

	if err != nil {
		s.respondWithAppError(w, apperrors.NewValidationError("Invalid order status: "+raw).
			WithContext("fields", map[string]string{"status": "must be one of PENDING, PROCESSING, SHIPPED, DELIVERED, CANCELLED"}))
		return
	}

	orders, err := s.orders.GetOrdersByStatus(r.Context(), status)

	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    orders,
	})
}

// createOrderHandler creates a new order
func (s *Server) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req createOrderRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := s.validate.Struct(req); err != nil {
		s.respondWithJSON(w, http.StatusBadRequest, ApiResponse{
			Success: false,
			Error:   "Validation failed",
			Details: formatValidationError(err),
		})
		return
	}

	items := make([]service.ItemInput, 0, len(req.Items))

	for _, item := range req.Items {
		items = append(items, service.ItemInput{
			ProductName: item.ProductName,
			Price:       item.Price,
			Quantity:    item.Quantity,
		})
	}

	order, err := s.orders.CreateOrder(r.Context(), req.CustomerID, req.CustomerName, items)

	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    order,
	})
}

// getOrderByIDHandler returns an order by ID
func (s *Server) getOrderByIDHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.orderIDFromPath(w, r)

	if !ok {
		return
	}

	order, err := s.orders.GetOrderByID(r.Context(), id)

	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    order,
	})
}

// cancelOrderHandler cancels a pending order
func (s *Server) cancelOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.orderIDFromPath(w, r)

	if !ok {
		return
	}

	if _, err := s.orders.CancelOrder(r.Context(), id); err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: CancelResponse{
			Status:  "success",
			Message: "Order cancelled successfully",
			OrderID: id,
		},
	})
}

// runSweepHandler runs one pending sweep right away
func (s *Server) runSweepHandler(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "Sweeper is not configured")
		return
	}

	result, err := s.sweeper.RunOnce(r.Context())

	switch {
	case errors.Is(err, scheduler.ErrSweepInProgress), errors.Is(err, scheduler.ErrLockHeld):
		s.respondWithError(w, http.StatusConflict, err.Error())
	case err != nil && result.Candidates == 0:
		s.respondWithAppError(w, err)
	case err != nil:
		// Partial failure: report what happened alongside the error
		s.logger.Error("Manual sweep finished with failures", "error", err)
		s.respondWithJSON(w, http.StatusInternalServerError, ApiResponse{
			Success: false,
			Data:    result,
			Error:   apperrors.KindOf(err).String(),
		})
	default:
		s.respondWithJSON(w, http.StatusOK, ApiResponse{
			Success: true,
			Data:    result,
		})
	}
}

// breakerStateHandler exposes the graceful degradation breaker
func (s *Server) breakerStateHandler(w http.ResponseWriter, r *http.Request) {
	if s.degradation == nil {
		s.respondWithError(w, http.StatusNotFound, "Circuit breaker is not configured")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]string{
			"state": s.degradation.State().String(),
		},
	})
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.respondWithError(w, http.StatusNotFound, "Resource not found")
}

func (s *Server) methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	s.respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

// orderIDFromPath parses {id}, answering 400 itself when it is not a number
func (s *Server) orderIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)

	if err != nil {
		s.respondWithJSON(w, http.StatusBadRequest, ApiResponse{
			Success: false,
			Error:   "Invalid order id: " + raw,
			Details: map[string]string{"id": "must be an integer"},
		})
		return 0, false
	}

	return id, true
}

// respondWithAppError maps the error kind to a status code
func (s *Server) respondWithAppError(w http.ResponseWriter, err error) {
	code := statusForError(err)

	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
		s.respondWithError(w, code, "Internal server error")
		return
	}

	response := ApiResponse{
		Success: false,
		Error:   err.Error(),
	}

	if appErr, ok := apperrors.As(err); ok {
		if fields, ok := appErr.Context["fields"].(map[string]string); ok {
			response.Details = fields
		}
	}

	s.respondWithJSON(w, code, response)
}

// respondWithError sends a JSON response with an error message
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, ApiResponse{
		Success: false,
		Error:   message,
	})
}

// respondWithJSON sends a JSON response
func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)

	if err != nil {
		s.logger.Error("Failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if _, err := w.Write(response); err != nil {
		s.logger.Debug("Failed to write response", "error", err)
	}
}
