package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	settlementdomain "github.com/aquastake/wellflow/internal/settlement/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type requestSettlementRequest struct {
	WellID       string    `json:"well_id"`
	PeriodStart  time.Time `json:"period_start"`
	PeriodEnd    time.Time `json:"period_end"`
	VolumeLiters int64     `json:"volume_liters"`
	GrossRevenue int64     `json:"gross_revenue"`
	MessageID    string    `json:"message_id"`
}

type transitionRequest struct {
	MessageID string `json:"message_id"`
}

type executeSettlementRequest struct {
	AssetType string `json:"asset_type"`
	MessageID string `json:"message_id"`
}

type mintSettlementRequest struct {
	TokenID   string `json:"token_id"`
	Amount    int64  `json:"amount"`
	MessageID string `json:"message_id"`
}

func (s *Server) RequestSettlement(c *gin.Context) {
	var req requestSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	messageID, err := resolveMessageID(c, req.MessageID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.settlementSvc.Request(c.Request.Context(), settlementdomain.RequestSettlementRequest{
		WellID:       req.WellID,
		PeriodStart:  req.PeriodStart,
		PeriodEnd:    req.PeriodEnd,
		VolumeLiters: req.VolumeLiters,
		GrossRevenue: req.GrossRevenue,
		MessageID:    messageID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(replayStatus(http.StatusCreated, resp.Replayed), gin.H{
		"data":     resp,
		"replayed": resp.Replayed,
	})
}

func (s *Server) ApproveSettlement(c *gin.Context) {
	s.handleTransition(c, s.settlementSvc.Approve)
}

func (s *Server) RejectSettlement(c *gin.Context) {
	s.handleTransition(c, s.settlementSvc.Reject)
}

func (s *Server) CancelSettlement(c *gin.Context) {
	s.handleTransition(c, s.settlementSvc.Cancel)
}

func (s *Server) handleTransition(
	c *gin.Context,
	fn func(ctx context.Context, req settlementdomain.TransitionRequest) (settlementdomain.SettlementResponse, error),
) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	messageID, err := resolveMessageID(c, req.MessageID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := fn(c.Request.Context(), settlementdomain.TransitionRequest{
		SettlementID: id,
		MessageID:    messageID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp, "replayed": resp.Replayed})
}

func (s *Server) ExecuteSettlement(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var req executeSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	messageID, err := resolveMessageID(c, req.MessageID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.settlementSvc.Execute(c.Request.Context(), settlementdomain.ExecuteSettlementRequest{
		SettlementID: id,
		AssetType:    req.AssetType,
		MessageID:    messageID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp, "replayed": resp.Replayed})
}

func (s *Server) MintSettlement(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var req mintSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	messageID, err := resolveMessageID(c, req.MessageID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.settlementSvc.Mint(c.Request.Context(), settlementdomain.MintSettlementRequest{
		SettlementID: id,
		TokenID:      req.TokenID,
		Amount:       req.Amount,
		MessageID:    messageID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp, "replayed": resp.Replayed})
}

func (s *Server) GetSettlement(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	detail, err := s.settlementSvc.GetByID(c.Request.Context(), settlementdomain.GetSettlementRequest{ID: id})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": detail})
}

func (s *Server) ListSettlements(c *gin.Context) {
	wellID := strings.TrimSpace(c.Query("well_id"))
	if _, err := snowflake.ParseString(wellID); err != nil {
		AbortWithError(c, newValidationError("well_id", "invalid_id", "invalid well_id"))
		return
	}

	settlements, err := s.settlementSvc.ListByWell(c.Request.Context(), settlementdomain.ListSettlementsRequest{WellID: wellID})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": settlements})
}
