package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	usagedomain "github.com/didstack/backoffice/internal/usage/domain"
)

func (s *Server) QueryUsage(c *gin.Context) {
	var query usagedomain.QueryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	direction, err := usagedomain.ParseDirection(strings.TrimSpace(c.Query("direction")))
	if err != nil {
		AbortWithError(c, newValidationError("direction", "invalid_direction", "direction must be inbound or outbound"))
		return
	}

	resp, err := s.usagesvc.Query(c.Request.Context(), direction, query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) DailyUsageSummary(c *gin.Context) {
	var query usagedomain.QueryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.usagesvc.DailySummary(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) MonthlyUsageSummary(c *gin.Context) {
	var query usagedomain.QueryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.usagesvc.MonthlySummary(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
