package server

import (
	"net/http"
	"strings"

	membershipdomain "github.com/aquastake/wellflow/internal/membership/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type shareInput struct {
	AccountID string `json:"account_id"`
	Role      string `json:"role"`
	ShareBps  int    `json:"share_bps"`
}

type replaceSharesRequest struct {
	Shares []shareInput `json:"shares"`
}

func (s *Server) ListMemberships(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	shares, err := s.membershipSvc.GetActiveShares(c.Request.Context(), membershipdomain.GetActiveSharesRequest{WellID: id})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": shares})
}

func (s *Server) ReplaceMemberships(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var req replaceSharesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	shares := make([]membershipdomain.ShareInput, 0, len(req.Shares))
	for _, share := range req.Shares {
		shares = append(shares, membershipdomain.ShareInput{
			AccountID: share.AccountID,
			Role:      membershipdomain.Role(strings.ToUpper(strings.TrimSpace(share.Role))),
			ShareBps:  share.ShareBps,
		})
	}

	replaced, err := s.membershipSvc.ReplaceShares(c.Request.Context(), membershipdomain.ReplaceSharesRequest{
		WellID: id,
		Shares: shares,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": replaced})
}
