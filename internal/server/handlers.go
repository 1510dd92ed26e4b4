package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
	"github.com/chatpongdeepet/iot-shop/internal/logging"
)

const (
	webhookCompleted = "checkout.session.completed"
	webhookExpired   = "checkout.session.expired"
)

func writeCart(c *gin.Context, view *domain.CartView) {
	c.Header("ETag", strconv.Quote(strconv.FormatInt(view.Cart.Version, 10)))
	c.JSON(http.StatusOK, newCartResponse(view))
}

func (s *Server) getCartHandler(c *gin.Context) {
	view, err := s.carts.GetCart(c.Request.Context(), userID(c))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeCart(c, view)
}

type addItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

func (s *Server) addItemHandler(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	if req.ProductID <= 0 {
		badRequest(c, "product_id", "must be a positive id")
		return
	}
	view, err := s.carts.AddItem(c.Request.Context(), userID(c), req.ProductID, req.Quantity)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeCart(c, view)
}

type updateItemRequest struct {
	Quantity int    `json:"quantity"`
	Version  *int64 `json:"version"`
}

func (s *Server) updateItemHandler(c *gin.Context) {
	itemID, ok := pathID(c)
	if !ok {
		return
	}
	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	version, ok := expectedVersion(c, req.Version)
	if !ok {
		return
	}
	view, err := s.carts.UpdateQuantity(c.Request.Context(), userID(c), version, itemID, req.Quantity)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeCart(c, view)
}

func (s *Server) removeItemHandler(c *gin.Context) {
	itemID, ok := pathID(c)
	if !ok {
		return
	}
	var fromQuery *int64
	if raw := c.Query("version"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(c, "version", "must be an integer")
			return
		}
		fromQuery = &v
	}
	version, ok := expectedVersion(c, fromQuery)
	if !ok {
		return
	}
	view, err := s.carts.RemoveItem(c.Request.Context(), userID(c), version, itemID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeCart(c, view)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "id", "must be a positive id")
		return 0, false
	}
	return id, true
}

// expectedVersion prefers an explicit version and falls back to If-Match.
func expectedVersion(c *gin.Context, explicit *int64) (int64, bool) {
	if explicit != nil {
		return *explicit, true
	}
	tag := strings.TrimPrefix(strings.TrimSpace(c.GetHeader("If-Match")), "W/")
	if tag == "" {
		badRequest(c, "version", "required in body, query or If-Match")
		return 0, false
	}
	v, err := strconv.ParseInt(strings.Trim(tag, `"`), 10, 64)
	if err != nil {
		badRequest(c, "version", "If-Match must carry the cart version")
		return 0, false
	}
	return v, true
}

func (s *Server) createSessionHandler(c *gin.Context) {
	session, err := s.checkout.CreateSession(c.Request.Context(), userID(c))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(session))
}

func (s *Server) verifySessionHandler(c *gin.Context) {
	ref := c.Query("session_id")
	if ref == "" {
		badRequest(c, "session_id", "required")
		return
	}
	res, err := s.verifier.Verify(c.Request.Context(), ref)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	// external refs are not secret, so hide sessions that belong to someone else
	if res.Session.UserID != userID(c) {
		writeDomainError(c, domain.ErrSessionNotFound)
		return
	}
	c.JSON(http.StatusOK, verifyResponse{
		Status:         res.Session.Status,
		ProviderStatus: res.ProviderStatus.String(),
		Order:          newOrderResponse(res.Order),
	})
}

type webhookRequest struct {
	Type        string `json:"type"`
	ExternalRef string `json:"external_ref"`
}

// webhookHandler runs the same idempotent verification as the redirect path.
// Provider signature checks happen in front of this service.
func (s *Server) webhookHandler(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	log := logging.FromContext(c.Request.Context()).With(
		zap.String("event_type", req.Type),
		zap.String("external_ref", req.ExternalRef),
	)

	if req.Type != webhookCompleted && req.Type != webhookExpired {
		log.Debug("ignoring webhook event")
		c.JSON(http.StatusOK, gin.H{"received": true, "status": "ignored"})
		return
	}
	if req.ExternalRef == "" {
		badRequest(c, "external_ref", "required")
		return
	}

	res, err := s.verifier.Verify(c.Request.Context(), req.ExternalRef)
	if errors.Is(err, domain.ErrSessionExpired) {
		c.JSON(http.StatusOK, gin.H{"received": true, "status": domain.SessionExpired})
		return
	}
	if err != nil {
		log.Warn("webhook verification failed", zap.Error(err))
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "status": res.Session.Status})
}

func (s *Server) listOrdersHandler(c *gin.Context) {
	orders, err := s.orders.ListOrders(c.Request.Context(), userID(c))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	out := make([]*orderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, newOrderResponse(&orders[i]))
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (s *Server) getOrderHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeDomainError(c, domain.ErrOrderNotFound)
		return
	}
	order, err := s.orders.GetOrder(c.Request.Context(), userID(c), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (s *Server) mockProviderHandler(c *gin.Context) {
	ref := c.Param("ref")
	var err error
	switch c.Param("action") {
	case "complete":
		err = s.mock.Complete(ref)
	case "cancel":
		err = s.mock.Cancel(ref)
	default:
		badRequest(c, "action", "must be complete or cancel")
		return
	}
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"external_ref": ref, "action": c.Param("action")})
}
