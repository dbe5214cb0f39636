package api

import (
	"net/http"

	"storefront/internal/models"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.deps.Orders.ListOrders(c.Request.Context(), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	order, err := h.deps.Orders.CreateOrder(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	id, ok := pathID(c, "id", "Order not found")
	if !ok {
		return
	}

	order, err := h.deps.Orders.GetOrder(c.Request.Context(), id, currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// payOrder records a client-reported payment result.
func (h *Handler) payOrder(c *gin.Context) {
	id, ok := pathID(c, "id", "Order not found")
	if !ok {
		return
	}

	var result models.PaymentResult
	if err := c.ShouldBindJSON(&result); err != nil {
		bindError(c, err)
		return
	}

	order, err := h.deps.Orders.MarkPaid(c.Request.Context(), id, currentUser(c), result)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) deliverOrder(c *gin.Context) {
	id, ok := pathID(c, "id", "Order not found")
	if !ok {
		return
	}

	order, err := h.deps.Orders.MarkDelivered(c.Request.Context(), id, currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
