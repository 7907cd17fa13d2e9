package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/orderflow/internal/auth"
	"github.com/imrishuroy/orderflow/internal/domain"
	"github.com/imrishuroy/orderflow/internal/inventory"
	"github.com/imrishuroy/orderflow/internal/validation"
)

func (h *handler) listProducts(c *gin.Context) {
	products, err := h.ledger.ListProducts(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *handler) getProduct(c *gin.Context) {
	p, err := h.ledger.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *handler) createProduct(c *gin.Context) {
	if err := auth.RequireRole(actor(c), auth.RoleAdmin); err != nil {
		writeError(c, h.log, err)
		return
	}
	var req validation.CreateProductRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	price, err := parsePrice(req.Price)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	p, err := h.ledger.CreateProduct(c.Request.Context(), inventory.NewProduct{
		Name:        req.Name,
		Description: req.Description,
		Price:       price,
		Stock:       req.Stock,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *handler) adjustStock(c *gin.Context) {
	if err := auth.RequireRole(actor(c), auth.RoleAdmin); err != nil {
		writeError(c, h.log, err)
		return
	}
	var req validation.StockDeltaRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	p, err := h.ledger.ApplyDelta(c.Request.Context(), c.Param("id"), req.Delta)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *handler) updateProduct(c *gin.Context) {
	if err := auth.RequireRole(actor(c), auth.RoleAdmin); err != nil {
		writeError(c, h.log, err)
		return
	}
	var req validation.UpdateProductRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	ch := inventory.ProductChanges{
		Name:        req.Name,
		Description: req.Description,
		Stock:       req.Stock,
	}
	if req.Price != nil {
		price, err := parsePrice(*req.Price)
		if err != nil {
			writeError(c, h.log, err)
			return
		}
		ch.Price = &price
	}
	p, err := h.ledger.UpdateProduct(c.Request.Context(), c.Param("id"), ch)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *handler) deleteProduct(c *gin.Context) {
	if err := auth.RequireRole(actor(c), auth.RoleAdmin); err != nil {
		writeError(c, h.log, err)
		return
	}
	if err := h.ledger.DeleteProduct(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "product deleted"})
}

func parsePrice(raw string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: price %q: %v", domain.ErrInvalidInput, raw, err)
	}
	return price, nil
}
