package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/neurobridge-synthesis/internal/observability"
	"github.com/yungbote/neurobridge-synthesis/internal/platform/logger"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/config"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/engine"
)

const serviceName = "neurobridge-synthesis"

func NewServer(cfg *config.Config, log *logger.Logger, eng *engine.Engine, m *observability.Metrics) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           NewHandler(cfg, log, eng, m),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout.Duration,
		IdleTimeout:       cfg.HTTP.IdleTimeout.Duration,
		WriteTimeout:      0,
	}
}

func NewHandler(cfg *config.Config, log *logger.Logger, eng *engine.Engine, m *observability.Metrics) http.Handler {
	if strings.EqualFold(cfg.Env, "production") || strings.EqualFold(cfg.Env, "prod") {
		gin.SetMode(gin.ReleaseMode)
	}
	log = log.With("service", "SynthesisAPI")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(attachTraceContext())
	r.Use(requestLogger(log))
	r.Use(recordMetrics(m))
	if mw := allowCORS(cfg.HTTP.CORSOrigins); mw != nil {
		r.Use(mw)
	}

	h := &handler{log: log, eng: eng, maxBytes: cfg.HTTP.MaxRequestBytes}

	r.GET("/healthz", h.healthz)
	r.GET("/readyz", h.readyz)
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	v1 := r.Group("/v1")
	{
		v1.POST("/synthesize", h.synthesize)
		v1.POST("/synthesize/batch", h.synthesizeBatch)
		v1.GET("/schemas", h.schemas)
		v1.GET("/cache/stats", h.cacheStats)
		v1.DELETE("/cache/:key", h.cacheDelete)
	}

	r.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "route not found", "not_found", "")
	})
	return r
}
