package interfaces

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"stockflow/internal/pkg/logger"
	"stockflow/internal/service/order/application"
	"stockflow/internal/service/order/domain"
)

// OrderHandler 封装了订单和库存的 HTTP 处理器
type OrderHandler struct {
	admission *application.AdmissionService
	inventory *application.InventoryService
}

// NewOrderHandler 创建一个新的 HTTP 处理器实例
func NewOrderHandler(admission *application.AdmissionService, inventory *application.InventoryService) *OrderHandler {
	return &OrderHandler{admission: admission, inventory: inventory}
}

// RegisterRoutes 在 ServeMux 上注册所有路由 (/healthz 和 /metrics 由 bootstrap 注册)
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /orders", h.handleSubmitOrder)
	mux.HandleFunc("GET /orders/{id}", h.handleGetOrder)
	mux.HandleFunc("POST /inventory", h.handleAddStock)
	mux.HandleFunc("GET /inventory", h.handleListStock)
	mux.HandleFunc("PATCH /inventory/{product}", h.handleRestock)
}

type submitOrderRequest struct {
	OrderID     string `json:"orderId"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
}

type addStockRequest struct {
	ProductName       string `json:"productName"`
	AvailableQuantity int    `json:"availableQuantity"`
}

type restockRequest struct {
	AdditionalQuantity int `json:"additionalQuantity"`
}

// ErrorResponse 是统一的错误响应体
type ErrorResponse struct {
	Timestamp string `json:"timestamp"`
	Status    int    `json:"status"`
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
	Path      string `json:"path"`
}

func (h *OrderHandler) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req submitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body")
		return
	}
	if req.OrderID == "" {
		req.OrderID = uuid.New().String()
	}

	outcome, err := h.admission.Submit(ctx, application.SubmitOrderCommand{
		OrderID:     req.OrderID,
		ProductName: req.ProductName,
		Quantity:    req.Quantity,
	})
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", req.OrderID).Msg("order submission failed")
		writeDomainError(w, r, err)
		return
	}

	// 已接受且等待对账返回 202；被拒绝的订单已经落库为 FAILED，返回 200
	status := http.StatusOK
	if outcome.IsAccepted() && outcome.Order.Status == domain.StatusPending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, application.ToOrderResponse(outcome))
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	order, err := h.admission.GetOrder(ctx, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.FromOrder(order))
}

func (h *OrderHandler) handleAddStock(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req addStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body")
		return
	}
	stock, err := h.inventory.AddStock(ctx, application.AddStockCommand{
		ProductName:       req.ProductName,
		AvailableQuantity: req.AvailableQuantity,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, application.FromStock(stock))
}

func (h *OrderHandler) handleListStock(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	q := r.URL.Query()
	query := domain.StockQuery{SortBy: q.Get("sortBy"), Desc: q.Get("desc") == "true"}
	var err error
	if query.Page, err = intParam(q.Get("page")); err != nil {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "page: must be an integer")
		return
	}
	if query.Size, err = intParam(q.Get("size")); err != nil {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "size: must be an integer")
		return
	}

	page, err := h.inventory.ListStock(ctx, query)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.FromStockPage(page))
}

func (h *OrderHandler) handleRestock(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req restockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body")
		return
	}
	stock, err := h.inventory.Restock(ctx, r.PathValue("product"), req.AdditionalQuantity)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.FromStock(stock))
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// writeDomainError 根据错误类型返回不同的 HTTP 状态码
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", ve.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, domain.ErrDuplicateOrder):
		writeError(w, r, http.StatusConflict, "DUPLICATE_ORDER", err.Error())
	case errors.Is(err, domain.ErrDuplicateProduct):
		writeError(w, r, http.StatusConflict, "DUPLICATE_PRODUCT", err.Error())
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrProductNotFound):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
	case domain.IsTransient(err):
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Temporarily unable to process the request, please retry.")
	default:
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("unexpected error")
		writeError(w, r, http.StatusInternalServerError, "UNKNOWN_ERROR", "An unexpected error occurred. Please contact support.")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Timestamp: time.Now().Format("2006-01-02T15:04:05"),
		Status:    status,
		ErrorCode: code,
		Message:   message,
		Path:      r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
