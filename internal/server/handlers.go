package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papertrade/papertrade/internal/engine"
	"github.com/papertrade/papertrade/pkg/errs"
)

// ownerID resolves the acting user from the X-User-ID header. The platform
// runs without authentication; identity is declared, not proven.
func ownerID(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		c.JSON(http.StatusBadRequest, errorBody(errs.Validationf("X-User-ID header is required")))
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(errs.Validationf("invalid X-User-ID: %v", err)))
		return uuid.Nil, false
	}
	return id, true
}

func errorBody(err error) gin.H {
	return gin.H{"error": gin.H{"kind": errs.Kind(err), "message": err.Error()}}
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrAssetNotFound), errors.Is(err, errs.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrInsufficientAssets):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrTransactionAbort):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), errorBody(err))
}

type createAssetRequest struct {
	Symbol string          `json:"symbol" binding:"required"`
	Name   string          `json:"name" binding:"required"`
	Price  decimal.Decimal `json:"price"`
}

func (s *Server) handleCreateAsset(c *gin.Context) {
	var req createAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errs.Validationf("invalid request body: %v", err))
		return
	}
	asset, err := s.assets.CreateAsset(c.Request.Context(), req.Symbol, req.Name, req.Price)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, asset)
}

func (s *Server) handleListAssets(c *gin.Context) {
	list, err := s.assets.ListAssets(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assets": list})
}

func (s *Server) handleGetAsset(c *gin.Context) {
	asset, err := s.assets.GetAssetBySymbol(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

type submitOrderRequest struct {
	AssetID  uuid.UUID        `json:"asset_id" binding:"required"`
	Side     string           `json:"side" binding:"required"`
	Type     string           `json:"type" binding:"required"`
	Quantity decimal.Decimal  `json:"quantity" binding:"required"`
	Price    *decimal.Decimal `json:"price,omitempty"`
}

func (s *Server) handleSubmitOrder(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	var req submitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errs.Validationf("invalid request body: %v", err))
		return
	}

	order, err := s.engine.SubmitOrder(c.Request.Context(), engine.SubmitRequest{
		OwnerID:    owner,
		AssetID:    req.AssetID,
		Side:       req.Side,
		Type:       req.Type,
		Quantity:   req.Quantity,
		LimitPrice: req.Price,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (s *Server) handleListOrders(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	var assetID *uuid.UUID
	if raw := c.Query("asset_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.fail(c, errs.Validationf("invalid asset_id: %v", err))
			return
		}
		assetID = &id
	}

	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	orders, err := s.engine.GetOrders(c.Request.Context(), owner, assetID, c.Query("status"), limit, offset)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) handleGetOrder(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.fail(c, errs.Validationf("invalid order id: %v", err))
		return
	}

	order, err := s.engine.GetOrder(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if order.OwnerID != owner {
		s.fail(c, errs.OrderNotFoundf("id %s", id))
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleListFills(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.fail(c, errs.Validationf("invalid order id: %v", err))
		return
	}

	order, err := s.engine.GetOrder(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if order.OwnerID != owner {
		s.fail(c, errs.OrderNotFoundf("id %s", id))
		return
	}

	fills, err := s.engine.GetFills(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fills": fills})
}

func (s *Server) handleGetOrderBook(c *gin.Context) {
	depth := intQuery(c, "depth", 10)
	snapshot, err := s.engine.GetOrderBook(c.Request.Context(), c.Param("symbol"), depth)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) handleGetHoldings(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	holdings, err := s.engine.GetHoldings(c.Request.Context(), owner)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"holdings": holdings})
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
