package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tourtastic/tourtastic/internal/domain"
	"github.com/tourtastic/tourtastic/internal/service/search"
)

type SearchHandler struct {
	service search.SearchUseCase
}

type searchRequest struct {
	Origin        string `json:"origin" binding:"required,iata"`
	Destination   string `json:"destination" binding:"required,iata"`
	DepartureDate string `json:"departure_date" binding:"required,datetime=2006-01-02"`
	ReturnDate    string `json:"return_date" binding:"omitempty,datetime=2006-01-02"`
	Adults        int    `json:"adults" binding:"required,min=1"`
	Children      int    `json:"children" binding:"min=0"`
	Infants       int    `json:"infants" binding:"min=0"`
}

type submitSearchResponse struct {
	SearchID string `json:"search_id"`
}

type searchResultsResponse struct {
	SearchID  string         `json:"search_id"`
	Complete  bool           `json:"complete"`
	Offers    []domain.Offer `json:"offers"`
	ExpiresAt string         `json:"expires_at"`
}

func NewSearchHandler(service search.SearchUseCase) *SearchHandler {
	return &SearchHandler{service: service}
}

func (h *SearchHandler) Register(router *gin.RouterGroup) {
	router.POST("/", h.submit)
	router.GET("/:id", h.results)
}

// submit accepts the criteria and returns a search id right away; offers
// accumulate in the background and are fetched by polling results.
func (h *SearchHandler) submit(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	departure, err := time.Parse("2006-01-02", req.DepartureDate)
	if err != nil {
		writeBindError(c, err)
		return
	}
	criteria := domain.SearchCriteria{
		Origin:        req.Origin,
		Destination:   req.Destination,
		DepartureDate: departure,
		Adults:        req.Adults,
		Children:      req.Children,
		Infants:       req.Infants,
	}
	if req.ReturnDate != "" {
		ret, err := time.Parse("2006-01-02", req.ReturnDate)
		if err != nil {
			writeBindError(c, err)
			return
		}
		criteria.ReturnDate = &ret
	}

	searchID, err := h.service.SubmitSearch(c.Request.Context(), criteria)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, submitSearchResponse{SearchID: searchID})
}

func (h *SearchHandler) results(c *gin.Context) {
	rec, err := h.service.GetResults(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, searchResultsResponse{
		SearchID:  rec.ID,
		Complete:  rec.Complete,
		Offers:    rec.Offers,
		ExpiresAt: rec.ExpiresAt.Format(time.RFC3339),
	})
}
