package router

import (
	"github.com/gin-gonic/gin"

	"github.com/navid-fn/tickerboard/internal/api/handler"
)

type Config struct {
	TickerHandler *handler.TickerHandler
}

func NewRouter(cfg *Config) *gin.Engine {
	router := gin.Default()

	router.GET("/healthz", cfg.TickerHandler.GetHealth)

	api := router.Group("/v1/")
	registerTickerRoutes(api, cfg.TickerHandler)

	return router
}
