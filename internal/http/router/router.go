package router

import (
	"github.com/gin-gonic/gin"

	"github.com/gatehouse-hq/gatehouse/internal/governor"
	"github.com/gatehouse-hq/gatehouse/internal/http/handler"
	"github.com/gatehouse-hq/gatehouse/internal/http/handler/webhook"
	"github.com/gatehouse-hq/gatehouse/internal/service"
	"github.com/gatehouse-hq/gatehouse/internal/store"
)

type Deps struct {
	Processor     *service.Processor
	Governor      *governor.Governor
	Store         store.Store
	WebhookSecret string
}

func SetupRoutes(engine *gin.Engine, deps Deps) {
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	webhookHandler := webhook.NewGitHubWebhookHandler(deps.WebhookSecret, deps.Processor)
	engine.POST("/", webhookHandler.HandleEvent)

	statsHandler := handler.NewStatsHandler(deps.Governor, deps.Store)
	engine.GET("/stats", statsHandler.GetStats)
}
