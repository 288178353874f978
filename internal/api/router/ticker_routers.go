package router

import (
	"github.com/gin-gonic/gin"

	"github.com/navid-fn/tickerboard/internal/api/handler"
)

func registerTickerRoutes(router *gin.RouterGroup, tickerHandler *handler.TickerHandler) {
	tickers := router.Group("/tickers")
	{
		tickers.GET("", tickerHandler.GetTickers)
		tickers.GET("/:symbol", tickerHandler.GetSymbol)
	}
}
