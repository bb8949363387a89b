package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"docchat/internal/bootstrap"
)

type HealthHandler struct {
	app *bootstrap.App
}

type dependencyStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func NewHealthHandler(app *bootstrap.App) *HealthHandler {
	return &HealthHandler{app: app}
}

// Check reports liveness plus the state of every enabled backing service.
// Disabled services are left out rather than reported as down.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	deps := gin.H{}
	allOK := true
	record := func(name string, st dependencyStatus) {
		deps[name] = st
		allOK = allOK && st.OK
	}
	if h.app.MySQL != nil {
		record("mysql", h.checkMySQL(ctx))
	}
	if h.app.Redis != nil {
		record("redis", h.checkRedis(ctx))
	}
	if h.app.MQConn != nil {
		record("rabbitmq", h.checkRabbitMQ())
	}

	statusCode := http.StatusOK
	if !allOK {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"app":             h.app.Config.App.Name,
		"env":             h.app.Config.App.Env,
		"uptime_sec":      int(time.Since(h.app.StartedAt).Seconds()),
		"active_sessions": h.app.Service.ActiveSessions(),
		"llm_provider":    h.app.Config.LLM.Provider,
		"embedding_model": h.app.Config.Embedding.Model,
		"dependencies":    deps,
	})
}

func (h *HealthHandler) checkMySQL(ctx context.Context) dependencyStatus {
	sqlDB, err := h.app.MySQL.DB()
	if err != nil {
		return dependencyStatus{OK: false, Message: err.Error()}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return dependencyStatus{OK: false, Message: err.Error()}
	}
	return dependencyStatus{OK: true}
}

func (h *HealthHandler) checkRedis(ctx context.Context) dependencyStatus {
	if err := h.app.Redis.Ping(ctx).Err(); err != nil {
		return dependencyStatus{OK: false, Message: err.Error()}
	}
	return dependencyStatus{OK: true}
}

func (h *HealthHandler) checkRabbitMQ() dependencyStatus {
	if h.app.MQConn.IsClosed() {
		return dependencyStatus{OK: false, Message: "connection closed"}
	}
	return dependencyStatus{OK: true}
}
