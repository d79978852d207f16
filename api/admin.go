package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tourtastic/tourtastic/internal/auth"
	"github.com/tourtastic/tourtastic/internal/domain"
	"github.com/tourtastic/tourtastic/internal/service/booking"
)

type AdminHandler struct {
	service booking.BookingUseCase
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

type recordPaymentRequest struct {
	AmountCents int64  `json:"amount_cents" binding:"required,gt=0"`
	Kind        string `json:"kind" binding:"required,oneof=payment refund"`
	Reference   string `json:"reference"`
}

type attachTicketRequest struct {
	PNR           string   `json:"pnr" binding:"required"`
	TicketNumbers []string `json:"ticket_numbers"`
	Documents     []string `json:"documents"`
}

type updateAdminDataRequest struct {
	AssignedTo  string `json:"assigned_to"`
	CostCents   int64  `json:"cost_cents"`
	ProfitCents int64  `json:"profit_cents"`
	ProviderRef string `json:"provider_ref"`
	Notes       string `json:"notes"`
}

// adminBookingResponse widens the owner-facing booking with the operator-only
// fields that are stripped from regular responses.
type adminBookingResponse struct {
	*domain.Booking
	AdminData domain.AdminData `json:"admin_data"`
}

func NewAdminHandler(service booking.BookingUseCase) *AdminHandler {
	return &AdminHandler{service: service}
}

func (h *AdminHandler) Register(router *gin.RouterGroup) {
	router.GET("/bookings/:id", h.get)
	router.PUT("/bookings/:id/status", h.updateStatus)
	router.POST("/bookings/:id/payments", h.recordPayment)
	router.PUT("/bookings/:id/ticket", h.attachTicket)
	router.PUT("/bookings/:id/admin-data", h.updateAdminData)
}

func (h *AdminHandler) get(c *gin.Context) {
	b, err := h.service.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, adminBookingResponse{Booking: b, AdminData: b.AdminData})
}

func (h *AdminHandler) updateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	status, ok := domain.ParseBookingStatus(req.Status)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown booking status " + req.Status, "code": "VALIDATION_FAILED"})
		return
	}

	actor := "admin:" + auth.UserID(c)
	b, err := h.service.Transition(c.Request.Context(), c.Param("id"), status, actor, req.Note)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, adminBookingResponse{Booking: b, AdminData: b.AdminData})
}

func (h *AdminHandler) recordPayment(c *gin.Context) {
	var req recordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	b, err := h.service.RecordPayment(c.Request.Context(), c.Param("id"), domain.PaymentTransaction{
		At:          time.Now(),
		AmountCents: req.AmountCents,
		Kind:        domain.PaymentKind(req.Kind),
		Reference:   req.Reference,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, adminBookingResponse{Booking: b, AdminData: b.AdminData})
}

func (h *AdminHandler) attachTicket(c *gin.Context) {
	var req attachTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	details := domain.TicketDetails{
		PNR:           req.PNR,
		TicketNumbers: req.TicketNumbers,
		Documents:     req.Documents,
	}
	if err := h.service.AttachTicket(c.Request.Context(), c.Param("id"), details); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket_details": details})
}

func (h *AdminHandler) updateAdminData(c *gin.Context) {
	var req updateAdminDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	admin := domain.AdminData{
		AssignedTo:  req.AssignedTo,
		CostCents:   req.CostCents,
		ProfitCents: req.ProfitCents,
		ProviderRef: req.ProviderRef,
		Notes:       req.Notes,
	}
	if err := h.service.UpdateAdminData(c.Request.Context(), c.Param("id"), admin); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"admin_data": admin})
}
