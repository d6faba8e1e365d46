package router

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/yungbote/neurobridge-synthesis/internal/platform/logger"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/client"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/client/gemini"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/client/mock"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/client/oaihttp"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/client/openai"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/config"
)

type Route struct {
	Name   string
	Type   string
	Model  string
	Client client.Client
}

// Router holds one generation client per configured backend.
type Router struct {
	routes map[string]Route
}

func New(ctx context.Context, log *logger.Logger, cfg *config.Config) (*Router, error) {
	r := &Router{routes: map[string]Route{}}
	for _, b := range cfg.Backends {
		name := strings.TrimSpace(b.Name)
		if name == "" {
			return nil, fmt.Errorf("backend name required")
		}
		if _, exists := r.routes[name]; exists {
			return nil, fmt.Errorf("duplicate backend name: %s", name)
		}

		var c client.Client
		switch strings.ToLower(strings.TrimSpace(b.Type)) {
		case "mock":
			c = mock.FromConfig(b)
		case "openai_http", "oai_http":
			e, err := oaihttp.New(b)
			if err != nil {
				return nil, err
			}
			c = e
		case "openai":
			e, err := openai.New(log, b)
			if err != nil {
				return nil, fmt.Errorf("backend %q: %w", name, err)
			}
			c = e
		case "gemini":
			e, err := gemini.New(ctx, log, b)
			if err != nil {
				return nil, fmt.Errorf("backend %q: %w", name, err)
			}
			c = e
		default:
			return nil, fmt.Errorf("unsupported backend type %q for %q", b.Type, name)
		}

		r.routes[name] = Route{Name: name, Type: b.Type, Model: b.Model, Client: c}
	}
	return r, nil
}

// NewStatic wraps pre-built clients; used by tests and embedders.
func NewStatic(clients map[string]client.Client) *Router {
	r := &Router{routes: map[string]Route{}}
	for name, c := range clients {
		r.routes[name] = Route{Name: name, Type: "static", Client: c}
	}
	return r
}

func (r *Router) ListBackends() []string {
	out := make([]string, 0, len(r.routes))
	for name := range r.routes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Router) Route(name string) (Route, bool) {
	route, ok := r.routes[strings.TrimSpace(name)]
	return route, ok
}
