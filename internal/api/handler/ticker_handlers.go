package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/navid-fn/tickerboard/internal/api/service"
)

type TickerHandler struct {
	tickerService *service.TickersService
}

func NewTickerHandler(service *service.TickersService) *TickerHandler {
	return &TickerHandler{
		tickerService: service,
	}
}

// GetTickers serves one page of the volume-ranked view as the same Page
// envelope the stream sessions push.
func (h *TickerHandler) GetTickers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "30"))

	result, err := h.tickerService.PageByVolume(c.Request.Context(), page, perPage)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetSymbol serves one symbol's recent history; a symbol with no stored
// rows is a 404, matching the stream router's rejection rule.
func (h *TickerHandler) GetSymbol(c *gin.Context) {
	symbol := c.Param("symbol")

	rows, err := h.tickerService.RecentForSymbol(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if len(rows) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no data for symbol"})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *TickerHandler) GetHealth(c *gin.Context) {
	if err := h.tickerService.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
