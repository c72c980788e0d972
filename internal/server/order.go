package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	orderdomain "github.com/didstack/backoffice/internal/order/domain"
)

type createOrderRequest struct {
	UserID      int64    `json:"userId"`
	ResourceIDs []string `json:"resourceIds"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.UserID <= 0 {
		AbortWithError(c, newValidationError("userId", "invalid_user_id", "userId is required"))
		return
	}

	resourceIDs := make([]snowflake.ID, 0, len(req.ResourceIDs))
	for _, raw := range req.ResourceIDs {
		id, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil || id == 0 {
			AbortWithError(c, newValidationError("resourceIds", "invalid_resource_id", "invalid resource id"))
			return
		}
		resourceIDs = append(resourceIDs, id)
	}

	order, err := s.ledger.CreateOrder(c.Request.Context(), req.UserID, resourceIDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) GetOrder(c *gin.Context) {
	orderID, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	order, err := s.ledger.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

type paymentResultRequest struct {
	Status string `json:"status"`
}

// ApplyPaymentResult is the webhook-shaped payment callback. A
// succeeded payment confirms the order; a failed one is recorded but
// leaves the reservation to run out its window.
func (s *Server) ApplyPaymentResult(c *gin.Context) {
	orderID, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req paymentResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	switch strings.ToLower(strings.TrimSpace(req.Status)) {
	case "succeeded", "completed":
		err = s.ledger.Confirm(c.Request.Context(), orderID)
	case "failed":
		err = s.ledger.MarkPaymentFailed(c.Request.Context(), orderID)
	default:
		AbortWithError(c, newValidationError("status", "invalid_status", "status must be succeeded or failed"))
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	order, err := s.ledger.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) ListResources(c *gin.Context) {
	var query orderdomain.ListResourcesRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledger.ListResources(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type scheduleDeletionRequest struct {
	OwnerID int64 `json:"ownerId"`
}

func (s *Server) ScheduleResourceDeletion(c *gin.Context) {
	resourceID, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req scheduleDeletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.OwnerID <= 0 {
		AbortWithError(c, newValidationError("ownerId", "invalid_owner_id", "ownerId is required"))
		return
	}

	if err := s.ledger.ScheduleDeletion(c.Request.Context(), resourceID, req.OwnerID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "scheduled"})
}
