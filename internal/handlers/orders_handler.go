package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/orderflow/internal/idempotency"
	"github.com/imrishuroy/orderflow/internal/validation"
)

const headerIdempotencyKey = "Idempotency-Key"

// placeOrder turns the caller's cart into an order. With an
// Idempotency-Key header a repeated request replays the first response
// instead of placing a second order.
func (h *handler) placeOrder(c *gin.Context) {
	ctx := c.Request.Context()
	who := actor(c)

	idempKey := c.GetHeader(headerIdempotencyKey)
	if idempKey == "" || h.idem == nil {
		order, err := h.orders.Place(ctx, who)
		if err != nil {
			writeError(c, h.log, err)
			return
		}
		c.JSON(http.StatusCreated, order)
		return
	}

	key := idempotency.Scoped(who.UserID, idempKey)
	log := h.log.WithFields(logrus.Fields{"request_id": requestID(c), "idempotency_key": idempKey, "user_id": who.UserID})

	created, err := h.idem.CreateIfNotExists(ctx, key, "")
	if err != nil {
		writeError(c, h.log, fmt.Errorf("claim idempotency key: %w", err))
		return
	}
	if !created {
		h.replay(c, key)
		return
	}

	order, err := h.orders.Place(ctx, who)
	if err != nil {
		status, _ := errorStatus(err)
		if status >= http.StatusInternalServerError {
			if ferr := h.idem.MarkFailed(ctx, key, err.Error()); ferr != nil {
				log.WithError(ferr).Warn("mark idempotency key failed")
			}
		} else if rerr := h.idem.Release(ctx, key); rerr != nil {
			log.WithError(rerr).Warn("release idempotency key")
		}
		writeError(c, h.log, err)
		return
	}

	body, err := json.Marshal(order)
	if err != nil {
		writeError(c, h.log, fmt.Errorf("encode order: %w", err))
		return
	}
	if err := h.idem.MarkDone(ctx, key, string(body), http.StatusCreated); err != nil {
		log.WithError(err).WithField("order_id", order.ID).Warn("mark idempotency key done")
	}
	c.Data(http.StatusCreated, "application/json; charset=utf-8", body)
}

// replay answers a duplicate request from the stored record.
func (h *handler) replay(c *gin.Context, key string) {
	rec, err := h.idem.Get(c.Request.Context(), key)
	if err != nil {
		writeError(c, h.log, fmt.Errorf("read idempotency key: %w", err))
		return
	}
	if rec == nil {
		// released between claim and read
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "msg": "request with this key is being retried, try again"})
		return
	}
	switch rec.Status {
	case idempotency.StatusDone:
		c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress"})
	default:
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "msg": "previous attempt failed, try again"})
	}
}

func (h *handler) listMyOrders(c *gin.Context) {
	list, err := h.orders.ListMine(c.Request.Context(), actor(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) listAllOrders(c *gin.Context) {
	list, err := h.orders.ListAll(c.Request.Context(), actor(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) getOrder(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *handler) updateOrderStatus(c *gin.Context) {
	var req validation.UpdateStatusRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	o, err := h.orders.UpdateStatus(c.Request.Context(), actor(c), c.Param("id"), req.Status)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *handler) cancelOrder(c *gin.Context) {
	o, err := h.orders.Cancel(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, o)
}
