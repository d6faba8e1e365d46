package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-synthesis/internal/platform/logger"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/cache"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/engine"
)

const maxBatchRequests = 64

type handler struct {
	log      *logger.Logger
	eng      *engine.Engine
	maxBytes int64
}

func (h *handler) healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (h *handler) readyz(c *gin.Context) {
	if p, ok := h.eng.Cache().(cache.Pinger); ok {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeError(c, http.StatusServiceUnavailable, "cache unreachable: "+err.Error(), "not_ready", "")
			return
		}
	}
	c.String(http.StatusOK, "ok")
}

func (h *handler) bind(c *gin.Context, dst any) bool {
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, http.StatusBadRequest, err.Error(), "invalid_request", "")
		return false
	}
	return true
}

func (h *handler) synthesize(c *gin.Context) {
	var in SynthesizeRequest
	if !h.bind(c, &in) {
		return
	}
	req := toEngine(in)
	res, err := h.eng.Synthesize(c.Request.Context(), req.Spec, req.Context)
	if err != nil {
		status, code := classify(err)
		writeError(c, status, err.Error(), code, "")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) synthesizeBatch(c *gin.Context) {
	var in BatchRequest
	if !h.bind(c, &in) {
		return
	}
	if len(in.Requests) == 0 {
		writeError(c, http.StatusBadRequest, "requests is required", "invalid_request", "requests")
		return
	}
	if len(in.Requests) > maxBatchRequests {
		writeError(c, http.StatusBadRequest, "too many requests in batch", "invalid_request", "requests")
		return
	}

	reqs := make([]engine.Request, len(in.Requests))
	for i, r := range in.Requests {
		reqs[i] = toEngine(r)
	}
	results := h.eng.SynthesizeBatch(c.Request.Context(), reqs)

	out := BatchResponse{Results: make([]BatchItem, len(results))}
	for i, r := range results {
		out.Results[i] = BatchItem{Index: r.Index, Result: r.Result}
		if r.Err != nil {
			out.Results[i].Error = errorFor(r.Err)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) schemas(c *gin.Context) {
	list := h.eng.Registry().List()
	out := SchemasResponse{Schemas: make([]SchemaView, 0, len(list))}
	for _, s := range list {
		v := SchemaView{
			ID:           s.ID,
			PrimaryField: s.PrimaryField,
			ListKey:      s.ListKey,
			Fields:       make([]SchemaField, 0, len(s.Fields)),
			JSONSchema:   s.JSONSchema(),
		}
		for _, f := range s.Fields {
			v.Fields = append(v.Fields, SchemaField{Name: f.Name, Kind: string(f.Kind), Required: f.Required})
		}
		out.Schemas = append(out.Schemas, v)
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) cacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.eng.Cache().Stats(c.Request.Context()))
}

func (h *handler) cacheDelete(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		writeError(c, http.StatusBadRequest, "key is required", "invalid_request", "key")
		return
	}
	if !h.eng.Cache().Delete(c.Request.Context(), key) {
		writeError(c, http.StatusNotFound, "cache entry not found", "not_found", "key")
		return
	}
	c.Status(http.StatusNoContent)
}
