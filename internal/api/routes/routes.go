package routes

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Wikid82/rampart/internal/api/handlers"
	"github.com/Wikid82/rampart/internal/database"
	"github.com/Wikid82/rampart/internal/defense"
	"github.com/Wikid82/rampart/internal/logger"
	"github.com/Wikid82/rampart/internal/services"
)

// Register wires up the API routes. db may be nil when archiving is
// disabled; the archive routes then answer 503.
func Register(router *gin.Engine, engine *defense.Engine, db *gorm.DB) error {
	var svc *services.SecurityService
	if db != nil {
		if err := database.Migrate(db); err != nil {
			return err
		}
		svc = services.NewSecurityService(db)
	} else {
		logger.Log().Info("event archive disabled, archive routes will answer 503")
	}

	router.GET("/api/v1/health", handlers.HealthHandler)

	api := router.Group("/api/v1")

	security := handlers.NewSecurityHandler(engine, svc)
	sec := api.Group("/security")
	{
		sec.GET("/stats", security.Stats)
		sec.GET("/events", security.Events)
		sec.GET("/ips/:ip", security.IPInfo)
		sec.POST("/ips/:ip/block", security.BlockIP)
		sec.DELETE("/ips/:ip/block", security.UnblockIP)
		sec.GET("/archive/events", security.ArchivedEvents)
		sec.GET("/audits", security.Audits)
	}

	return nil
}
