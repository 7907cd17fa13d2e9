package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/orderflow/internal/validation"
)

func (h *handler) requestReturn(c *gin.Context) {
	var req validation.CreateReturnRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	r, err := h.returns.RequestReturn(c.Request.Context(), actor(c), req.OrderID, req.Reason)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *handler) listMyReturns(c *gin.Context) {
	list, err := h.returns.ListMine(c.Request.Context(), actor(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) listAllReturns(c *gin.Context) {
	list, err := h.returns.ListAll(c.Request.Context(), actor(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) updateReturn(c *gin.Context) {
	var req validation.UpdateStatusRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	r, err := h.returns.UpdateStatus(c.Request.Context(), actor(c), c.Param("id"), req.Status)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
