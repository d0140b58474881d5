// Package server exposes the observatory HTTP surface: readiness and
// capability probes, the fleet insights aggregation, per-agent drilldowns,
// the docs library, Prometheus metrics, and the websocket push hub.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/virgolamobile/observatory/internal/coreplane"
	"github.com/virgolamobile/observatory/internal/docs"
	"github.com/virgolamobile/observatory/internal/drilldown"
	"github.com/virgolamobile/observatory/internal/event"
	"github.com/virgolamobile/observatory/internal/insights"
	"github.com/virgolamobile/observatory/internal/state"
)

// CapabilitiesFunc supplies the current control-plane capability report.
type CapabilitiesFunc func() coreplane.Capabilities

// Server routes the observatory API.
type Server struct {
	router       *chi.Mux
	log          *zap.Logger
	store        *state.Store
	hub          *Hub
	aggregator   *insights.Aggregator
	depth        *drilldown.Builder
	library      *docs.Library
	capabilities CapabilitiesFunc
	metricsH     http.Handler
}

// New assembles the router with all handlers attached.
func New(
	log *zap.Logger,
	store *state.Store,
	hub *Hub,
	aggregator *insights.Aggregator,
	depth *drilldown.Builder,
	library *docs.Library,
	capabilities CapabilitiesFunc,
	metricsHandler http.Handler,
) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		log:          log.Named("server"),
		store:        store,
		hub:          hub,
		aggregator:   aggregator,
		depth:        depth,
		library:      library,
		capabilities: capabilities,
		metricsH:     metricsHandler,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ready", s.handleReady)
	r.Get("/capabilities", s.handleCapabilities)
	r.Get("/insights", s.handleInsights)
	r.Get("/docs/index", s.handleDocsIndex)
	r.Get("/docs/content/{name}", s.handleDocsContent)
	r.Get("/drilldown/{agent}", s.handleDrilldown)
	r.Get("/drilldown/{agent}/node/{nodeID}", s.handleDrilldownNode)
	r.Get("/ws", s.hub.HandleWS)
	if s.metricsH != nil {
		r.Handle("/metrics", s.metricsH)
	}
}

// ServeHTTP lets the server act as a standard http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Debug("response encode failed", zap.Error(err))
	}
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"ready": s.store.Ready()})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"mode":           s.store.Mode(),
		"ready":          s.store.Ready(),
		"tracked_agents": s.store.Count(),
		"capabilities":   s.capabilities(),
	})
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.aggregator.Build(r.Context()))
}

func (s *Server) handleDocsIndex(w http.ResponseWriter, r *http.Request) {
	manifest := s.library.Manifest()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count": len(manifest),
		"docs":  manifest,
	})
}

func (s *Server) handleDocsContent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	doc, content, err := s.library.Content(name)
	switch {
	case errors.Is(err, docs.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]any{
			"found": false, "error": "doc_not_found", "doc": name,
		})
	case err != nil:
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"found": false, "error": "doc_read_failed", "doc": name,
		})
	default:
		s.writeJSON(w, http.StatusOK, map[string]any{
			"found":    true,
			"doc":      doc.Name,
			"is_index": doc.IsIndex,
			"content":  content,
		})
	}
}

// requestedActivations reads the graph cap override from the query string;
// max_outcomes is the historical alias of max_activations.
func requestedActivations(r *http.Request) int {
	for _, key := range []string{"max_activations", "max_outcomes"} {
		raw := r.URL.Query().Get(key)
		if raw == "" {
			continue
		}
		if value, err := strconv.Atoi(raw); err == nil {
			return value
		}
	}
	return 0
}

func (s *Server) handleDrilldown(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	snap, found := s.store.Get(agent)
	if !found {
		s.writeJSON(w, http.StatusNotFound, map[string]any{
			"agent": agent, "found": false, "error": "agent_not_found",
		})
		return
	}
	depth := s.depth.Depth(snap, requestedActivations(r), time.Now())
	s.writeJSON(w, http.StatusOK, map[string]any{
		"agent":        snap.Agent,
		"found":        true,
		"generated_at": event.UTCNowISO(),
		"depth":        depth,
	})
}

func (s *Server) handleDrilldownNode(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	nodeID := chi.URLParam(r, "nodeID")
	snap, found := s.store.Get(agent)
	if !found {
		s.writeJSON(w, http.StatusNotFound, map[string]any{
			"agent": agent, "found": false, "error": "agent_not_found",
		})
		return
	}
	depth := s.depth.Depth(snap, requestedActivations(r), time.Now())
	detail, ok := depth.Node(nodeID)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]any{
			"agent": snap.Agent, "found": false, "error": "node_not_found", "node_id": nodeID,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"agent":          snap.Agent,
		"found":          true,
		"node":           detail.Node,
		"related_nodes":  detail.RelatedNodes,
		"inbound_edges":  detail.InboundEdges,
		"outbound_edges": detail.OutboundEdges,
		"file_detail":    detail.FileDetail,
	})
}
