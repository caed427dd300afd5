package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	membershipdomain "github.com/aquastake/wellflow/internal/membership/domain"
	settlementdomain "github.com/aquastake/wellflow/internal/settlement/domain"
	welldomain "github.com/aquastake/wellflow/internal/well/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettlementService struct {
	lastMessageID string
	requestCalls  int
	executeErr    error
	replayed      bool
}

func (f *fakeSettlementService) Request(ctx context.Context, req settlementdomain.RequestSettlementRequest) (settlementdomain.SettlementResponse, error) {
	f.requestCalls++
	f.lastMessageID = req.MessageID
	return settlementdomain.SettlementResponse{
		SettlementID: "7000",
		WellID:       req.WellID,
		Status:       settlementdomain.StatusRequested,
		MessageID:    req.MessageID,
		Replayed:     f.replayed,
	}, nil
}

func (f *fakeSettlementService) Approve(ctx context.Context, req settlementdomain.TransitionRequest) (settlementdomain.SettlementResponse, error) {
	f.lastMessageID = req.MessageID
	return settlementdomain.SettlementResponse{
		SettlementID: req.SettlementID,
		Status:       settlementdomain.StatusApproved,
		MessageID:    req.MessageID,
	}, nil
}

func (f *fakeSettlementService) Execute(ctx context.Context, req settlementdomain.ExecuteSettlementRequest) (settlementdomain.ExecuteSettlementResponse, error) {
	f.lastMessageID = req.MessageID
	if f.executeErr != nil {
		return settlementdomain.ExecuteSettlementResponse{}, f.executeErr
	}
	return settlementdomain.ExecuteSettlementResponse{
		SettlementID: req.SettlementID,
		Status:       settlementdomain.StatusExecuted,
		MessageID:    req.MessageID,
	}, nil
}

func (f *fakeSettlementService) Mint(ctx context.Context, req settlementdomain.MintSettlementRequest) (settlementdomain.MintSettlementResponse, error) {
	f.lastMessageID = req.MessageID
	return settlementdomain.MintSettlementResponse{SettlementID: req.SettlementID}, nil
}

func (f *fakeSettlementService) Reject(ctx context.Context, req settlementdomain.TransitionRequest) (settlementdomain.SettlementResponse, error) {
	return settlementdomain.SettlementResponse{SettlementID: req.SettlementID, Status: settlementdomain.StatusRejected}, nil
}

func (f *fakeSettlementService) Cancel(ctx context.Context, req settlementdomain.TransitionRequest) (settlementdomain.SettlementResponse, error) {
	return settlementdomain.SettlementResponse{SettlementID: req.SettlementID, Status: settlementdomain.StatusCancelled}, nil
}

func (f *fakeSettlementService) GetByID(ctx context.Context, req settlementdomain.GetSettlementRequest) (settlementdomain.SettlementDetail, error) {
	return settlementdomain.SettlementDetail{}, settlementdomain.ErrNotFound
}

func (f *fakeSettlementService) ListByWell(ctx context.Context, req settlementdomain.ListSettlementsRequest) ([]settlementdomain.Settlement, error) {
	return nil, nil
}

func (f *fakeSettlementService) ResumeTransfers(ctx context.Context, settlementID snowflake.ID) error {
	return nil
}

type fakeWellService struct{}

func (fakeWellService) Create(ctx context.Context, req welldomain.CreateWellRequest) (welldomain.Well, error) {
	return welldomain.Well{}, nil
}

func (fakeWellService) GetByID(ctx context.Context, req welldomain.GetWellRequest) (welldomain.Well, error) {
	return welldomain.Well{}, welldomain.ErrNotFound
}

type fakeMembershipService struct{}

func (fakeMembershipService) ReplaceShares(ctx context.Context, req membershipdomain.ReplaceSharesRequest) ([]membershipdomain.Membership, error) {
	return nil, membershipdomain.ErrShareMismatch
}

func (fakeMembershipService) GetActiveShares(ctx context.Context, req membershipdomain.GetActiveSharesRequest) ([]membershipdomain.Membership, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *fakeSettlementService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	fake := &fakeSettlementService{}
	srv := &Server{
		engine:        engine,
		wellSvc:       fakeWellService{},
		membershipSvc: fakeMembershipService{},
		settlementSvc: fake,
	}
	srv.registerAPIRoutes()
	return srv, fake
}

func doJSON(t *testing.T, srv *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)
	return w
}

func TestRequestSettlement_MessageIDFromHeader(t *testing.T) {
	srv, fake := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/settlements", gin.H{
		"well_id":       "1234",
		"period_start":  "2026-01-01T00:00:00Z",
		"period_end":    "2026-02-01T00:00:00Z",
		"gross_revenue": 50000,
	}, map[string]string{idempotencyKeyHeader: "msg-h"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "msg-h", fake.lastMessageID)
}

func TestRequestSettlement_HeaderBodyMismatch(t *testing.T) {
	srv, fake := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/settlements", gin.H{
		"well_id":    "1234",
		"message_id": "msg-b",
	}, map[string]string{idempotencyKeyHeader: "msg-h"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, fake.requestCalls)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation_error", resp.Error.Type)
	require.Len(t, resp.Error.Errors, 1)
	assert.Equal(t, "message_id_mismatch", resp.Error.Errors[0].Code)
}

func TestRequestSettlement_MissingMessageID(t *testing.T) {
	srv, fake := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/settlements", gin.H{
		"well_id": "1234",
	}, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, fake.requestCalls)
}

func TestRequestSettlement_ReplayReturnsOK(t *testing.T) {
	srv, fake := newTestServer(t)
	fake.replayed = true

	w := doJSON(t, srv, http.MethodPost, "/api/settlements", gin.H{
		"well_id":    "1234",
		"message_id": "msg-1",
	}, nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Replayed bool `json:"replayed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Replayed)
}

func TestExecuteSettlement_TransferFailurePayload(t *testing.T) {
	srv, fake := newTestServer(t)
	fake.executeErr = &settlementdomain.TransferFailedError{
		SettlementID:      "7000",
		ConfirmedAccounts: []string{"acct-alice"},
	}

	w := doJSON(t, srv, http.MethodPost, "/api/settlements/7000/execute", gin.H{
		"message_id": "exec-1",
	}, nil)

	assert.Equal(t, http.StatusBadGateway, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ledger_transfer_failed", resp.Error.Type)
	assert.Equal(t, "7000", resp.Error.SettlementID)
	assert.Equal(t, []string{"acct-alice"}, resp.Error.ConfirmedAccounts)
}

func TestTransitionInvalidStateMapsToConflict(t *testing.T) {
	srv, fake := newTestServer(t)
	fake.executeErr = settlementdomain.ErrInvalidState

	w := doJSON(t, srv, http.MethodPost, "/api/settlements/7000/execute", gin.H{
		"message_id": "exec-1",
	}, nil)

	assert.Equal(t, http.StatusConflict, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_state", resp.Error.Type)
}

func TestReplaceMemberships_ShareMismatchMapsTo422(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPut, "/api/wells/1234/memberships", gin.H{
		"shares": []gin.H{{"account_id": "acct-a", "role": "investor", "share_bps": 9000}},
	}, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "share_mismatch", resp.Error.Type)
}

func TestGetSettlement_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/settlements/7000", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSettlement_InvalidID(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/settlements/not-a-snowflake", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
