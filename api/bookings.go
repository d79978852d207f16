package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tourtastic/tourtastic/internal/auth"
	"github.com/tourtastic/tourtastic/internal/domain"
	"github.com/tourtastic/tourtastic/internal/service/booking"
)

type BookingHandler struct {
	service booking.BookingUseCase
}

type createBookingRequest struct {
	SearchID   string             `json:"search_id" binding:"required"`
	OfferID    string             `json:"offer_id" binding:"required"`
	Contact    contactRequest     `json:"contact" binding:"required"`
	Passengers []passengerRequest `json:"passengers" binding:"required,min=1,dive"`
}

type contactRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
	Phone string `json:"phone" binding:"required,e164"`
}

type passengerRequest struct {
	FirstName      string `json:"first_name" binding:"required"`
	LastName       string `json:"last_name" binding:"required"`
	Type           string `json:"type" binding:"required,oneof=adult child infant"`
	PassportNumber string `json:"passport_number"`
}

func NewBookingHandler(service booking.BookingUseCase) *BookingHandler {
	return &BookingHandler{service: service}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("/", h.create)
	router.GET("/", h.list)
	router.GET("/:id", h.get)
	router.DELETE("/:id", h.cancel)
}

func (h *BookingHandler) create(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	passengers := make([]domain.Passenger, 0, len(req.Passengers))
	for _, p := range req.Passengers {
		passengers = append(passengers, domain.Passenger{
			FirstName:      p.FirstName,
			LastName:       p.LastName,
			Type:           domain.PassengerType(p.Type),
			PassportNumber: p.PassportNumber,
		})
	}

	b, err := h.service.CreateBooking(c.Request.Context(), booking.CreateBookingInput{
		UserID:   auth.UserID(c),
		SearchID: req.SearchID,
		OfferID:  req.OfferID,
		Contact: domain.Contact{
			Name:  req.Contact.Name,
			Email: req.Contact.Email,
			Phone: req.Contact.Phone,
		},
		Passengers: passengers,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, b)
}

func (h *BookingHandler) list(c *gin.Context) {
	bookings, err := h.service.ListBookingsForUser(c.Request.Context(), auth.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}

func (h *BookingHandler) get(c *gin.Context) {
	b, err := h.service.GetBookingForUser(c.Request.Context(), c.Param("id"), auth.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// cancel is idempotent: a second DELETE of a cancelled booking returns 200
// with the unchanged booking. Cancelling a ticketed booking returns 409.
func (h *BookingHandler) cancel(c *gin.Context) {
	userID := auth.UserID(c)
	if _, err := h.service.GetBookingForUser(c.Request.Context(), c.Param("id"), userID); err != nil {
		writeError(c, err)
		return
	}

	b, err := h.service.CancelBooking(c.Request.Context(), c.Param("id"), "user:"+userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}
