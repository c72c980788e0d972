package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	usagedomain "github.com/didstack/backoffice/internal/usage/domain"
)

type provisionRequest struct {
	UserID    int64  `json:"userId"`
	Direction string `json:"direction"`
}

func (s *Server) ProvisionUser(c *gin.Context) {
	var req provisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.UserID <= 0 {
		AbortWithError(c, newValidationError("userId", "invalid_user_id", "userId is required"))
		return
	}

	direction, err := usagedomain.ParseDirection(strings.TrimSpace(req.Direction))
	if err != nil {
		AbortWithError(c, newValidationError("direction", "invalid_direction", "direction must be inbound or outbound"))
		return
	}

	ref, err := s.facade.Provision(c.Request.Context(), req.UserID, string(direction))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": ref})
}
