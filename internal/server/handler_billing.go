package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	creditsdomain "github.com/helixconsole/billing/internal/credits/domain"
	invoicedomain "github.com/helixconsole/billing/internal/invoiceview/domain"
	"github.com/helixconsole/billing/internal/reconcile"
)

type billingHandler struct {
	orchestrator *reconcile.Orchestrator
}

func newBillingHandler(orchestrator *reconcile.Orchestrator) *billingHandler {
	return &billingHandler{orchestrator: orchestrator}
}

func (h *billingHandler) register(group *gin.RouterGroup) {
	group.GET("/subscription", h.getSubscriptionInfo)
	group.POST("/checkout", h.createCheckoutSession)
	group.POST("/subscription/change-plan", h.changePlan)
	group.POST("/subscription/cancel", h.cancel)
	group.POST("/subscription/reactivate", h.reactivate)
	group.POST("/subscription/cancel-now", h.cancelImmediately)
	group.POST("/subscription/clear-schedule", h.clearSchedule)
	group.POST("/subscription/promotion", h.applyPromotion)
	group.GET("/usage", h.getUsage)
	group.POST("/usage/events", h.recordUsageEvent)
	group.GET("/credits", h.getCredits)
	group.POST("/credits/purchase", h.purchaseCredits)
	group.GET("/invoices", h.getInvoices)
	group.GET("/history", h.getSubscriptionHistory)
	group.GET("/payment-methods", h.listPaymentMethods)
}

func (h *billingHandler) getSubscriptionInfo(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	info, err := h.orchestrator.GetSubscriptionInfo(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type checkoutRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	OpID      string `json:"op_id"`
}

func (h *billingHandler) createCheckoutSession(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	session, err := h.orchestrator.CreateCheckoutSession(c.Request.Context(), orgID, req.ProductID, req.OpID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

type changePlanRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	OpID      string `json:"op_id"`
}

func (h *billingHandler) changePlan(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	info, err := h.orchestrator.ChangePlan(c.Request.Context(), orgID, req.ProductID, req.OpID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type opRequest struct {
	OpID string `json:"op_id"`
}

func (h *billingHandler) cancel(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	var req opRequest
	_ = c.ShouldBindJSON(&req)
	info, err := h.orchestrator.Cancel(c.Request.Context(), orgID, req.OpID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *billingHandler) reactivate(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	var req opRequest
	_ = c.ShouldBindJSON(&req)
	info, err := h.orchestrator.Reactivate(c.Request.Context(), orgID, req.OpID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *billingHandler) cancelImmediately(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	var req opRequest
	_ = c.ShouldBindJSON(&req)
	result, err := h.orchestrator.CancelImmediatelyAndInvoice(c.Request.Context(), orgID, req.OpID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *billingHandler) clearSchedule(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	var req opRequest
	_ = c.ShouldBindJSON(&req)
	info, err := h.orchestrator.ClearPlanSwitchSchedule(c.Request.Context(), orgID, req.OpID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type promotionRequest struct {
	Code string `json:"code" binding:"required"`
	OpID string `json:"op_id"`
}

func (h *billingHandler) applyPromotion(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	var req promotionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	info, err := h.orchestrator.ApplyPromotionCode(c.Request.Context(), orgID, req.Code, req.OpID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *billingHandler) getUsage(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	usage, err := h.orchestrator.GetUsage(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}

type usageEventRequest struct {
	MeterCode      string  `json:"meter_code"`
	PaymentEventID string  `json:"payment_event_id" binding:"required"`
	Value          float64 `json:"value"`
}

func (h *billingHandler) recordUsageEvent(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	var req usageEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if err := h.orchestrator.RecordUsageEvent(c.Request.Context(), orgID, req.MeterCode, req.PaymentEventID, req.Value); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *billingHandler) getCredits(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	balance, err := h.orchestrator.GetCredits(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credits": balance})
}

type purchaseCreditsRequest struct {
	PaymentEventID string `json:"payment_event_id" binding:"required"`
	Credits        int64  `json:"credits" binding:"required"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
}

func (h *billingHandler) purchaseCredits(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	var req purchaseCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	result, err := h.orchestrator.PurchaseCredits(c.Request.Context(), creditsdomain.PurchaseRequest{
		OrgID:          orgID,
		PaymentEventID: req.PaymentEventID,
		Credits:        req.Credits,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *billingHandler) getInvoices(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		limit = parsed
	}
	page, err := h.orchestrator.GetInvoices(c.Request.Context(), orgID, invoicedomain.InvoicesRequest{
		Limit:         limit,
		StartingAfter: strings.TrimSpace(c.Query("starting_after")),
		EndingBefore:  strings.TrimSpace(c.Query("ending_before")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *billingHandler) getSubscriptionHistory(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		limit = parsed
	}
	items, err := h.orchestrator.GetSubscriptionHistory(c.Request.Context(), orgID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": items})
}

func (h *billingHandler) listPaymentMethods(c *gin.Context) {
	orgID, ok := orgIDFrom(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	methods, err := h.orchestrator.ListPaymentMethods(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment_methods": methods})
}
