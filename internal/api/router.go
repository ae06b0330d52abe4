package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter registers every route. The websocket route is outside the
// timeout group since it is long lived.
func NewRouter(svc Service, timeout time.Duration, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery())

	h := NewHandler(svc)
	r.GET("/healthz", h.Health)
	r.GET("/ws", h.Push(log))

	v := r.Group("/api", Error(log), Timeout(timeout))
	{
		v.GET("/quote", h.GetQuote)
		v.POST("/quotes", h.GetQuotes)
		v.GET("/volume", h.GetVolume)
		v.POST("/volumes", h.GetVolumes)
		v.PUT("/subscriptions", h.PutSubscriptions)
		v.GET("/snapshot", h.GetSnapshot)
		v.GET("/fundamentals", h.GetFundamentals)
		v.GET("/profile", h.GetProfile)
		v.GET("/search", h.Search)
	}
	return r
}
