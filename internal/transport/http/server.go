package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"docchat/internal/bootstrap"
	"docchat/internal/repository"
	"docchat/internal/transport/http/handler"
	"docchat/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	docChatHandler := handler.NewDocChatHandler(
		app.Service,
		app.Config.Auth.JWTSecret,
		time.Duration(app.Config.Auth.JWTExpireMinute)*time.Minute,
		app.Config.RAG.MaxCorpusBytes,
	)
	v1 := router.Group("/api/v1")
	RegisterDocChatRoutes(v1, docChatHandler, app.Config.Auth.JWTSecret)

	if app.MySQL != nil {
		archiveHandler := handler.NewArchiveHandler(
			repository.NewTranscriptRepository(app.MySQL),
			repository.NewCorpusRepository(app.MySQL),
		)
		v1.GET("/chat/transcript", middleware.SessionToken(app.Config.Auth.JWTSecret, true), archiveHandler.GetTranscript)
	}

	return router
}

// RegisterDocChatRoutes mounts the session endpoints under group.
func RegisterDocChatRoutes(group *gin.RouterGroup, h *handler.DocChatHandler, jwtSecret string) {
	group.POST("/ingest", middleware.SessionToken(jwtSecret, false), h.Ingest)

	chatGroup := group.Group("/chat")
	chatGroup.Use(middleware.SessionToken(jwtSecret, true))
	chatGroup.POST("/messages", h.SendMessage)
	chatGroup.GET("/history", h.GetHistory)
	chatGroup.GET("/corpus.pdf", h.ExportPDF)
	chatGroup.DELETE("/session", h.EndSession)
}
