package server

import (
	"net/http"
	"strings"

	welldomain "github.com/aquastake/wellflow/internal/well/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type createWellRequest struct {
	Name           string `json:"name"`
	Location       string `json:"location"`
	Currency       string `json:"currency"`
	PlatformFeeBps *int   `json:"platform_fee_bps"`
	OperatorFeeBps *int   `json:"operator_fee_bps"`
}

func (s *Server) CreateWell(c *gin.Context) {
	var req createWellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	well, err := s.wellSvc.Create(c.Request.Context(), welldomain.CreateWellRequest{
		Name:           req.Name,
		Location:       req.Location,
		Currency:       req.Currency,
		PlatformFeeBps: req.PlatformFeeBps,
		OperatorFeeBps: req.OperatorFeeBps,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": well})
}

func (s *Server) GetWell(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	well, err := s.wellSvc.GetByID(c.Request.Context(), welldomain.GetWellRequest{ID: id})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": well})
}
