package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/anamnesi/internal/api/handlers"
	"github.com/yoockh/anamnesi/internal/api/middleware"
)

type Deps struct {
	Interview *handlers.InterviewHandler
	Archive   *handlers.ArchiveHandler
	WS        *handlers.WSHandler
	JWT       middleware.JWTConfig
	Metrics   http.Handler // optional
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	// Protected routes (JWT)
	auth := r.Group("/")
	auth.Use(middleware.JWTAuth(d.JWT))

	auth.POST("/interviews", d.Interview.Create)
	auth.GET("/interviews/:interview_id", d.Interview.Get)
	auth.DELETE("/interviews/:interview_id", d.Interview.Delete)
	auth.POST("/interviews/:interview_id/start", d.Interview.Start)
	auth.POST("/interviews/:interview_id/stop", d.Interview.Stop)
	auth.POST("/interviews/:interview_id/document/export", d.Interview.ExportDocument)
	auth.GET("/interviews/:interview_id/chunks", d.Interview.Chunks)

	archive := auth.Group("/archive")
	archive.Use(middleware.RequireRole("clinician", "admin"))
	archive.GET("", d.Archive.List)
	archive.GET("/:record_id", d.Archive.Get)

	// WebSocket
	auth.GET("/ws/interviews/:interview_id", d.WS.InterviewWS)
}
