package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/orderflow/internal/validation"
)

func (h *handler) getCart(c *gin.Context) {
	cart, err := h.cart.Get(c.Request.Context(), actor(c).UserID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *handler) addCartItem(c *gin.Context) {
	var req validation.AddCartItemRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	item, created, err := h.cart.Add(c.Request.Context(), actor(c).UserID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, item)
}

func (h *handler) updateCartItem(c *gin.Context) {
	var req validation.UpdateCartItemRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	item, err := h.cart.Update(c.Request.Context(), actor(c).UserID, c.Param("itemId"), req.Quantity)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *handler) removeCartItem(c *gin.Context) {
	if err := h.cart.Remove(c.Request.Context(), actor(c).UserID, c.Param("itemId")); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "item removed"})
}

func (h *handler) clearCart(c *gin.Context) {
	if err := h.cart.Clear(c.Request.Context(), actor(c).UserID); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "cart cleared"})
}
