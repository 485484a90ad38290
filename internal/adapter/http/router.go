package http

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AutoCookies/pomai-memberttl/internal/adapter/http/handlers"
)

func (s *Server) setupRoutes() {
	h := handlers.NewHTTPHandlers(s.tenants)
	s.router.Use(RequestIDMiddleware(s.logger))

	api := s.router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/stats", TenantMiddleware(s.tenants, h.HandleStats)).Methods("GET")

	member := "/keys/{key}/members/{member}/ttl"
	api.HandleFunc(member, TenantMiddleware(s.tenants, h.HandleSetMemberTTL)).Methods("PUT")
	api.HandleFunc(member, TenantMiddleware(s.tenants, h.HandleGetMemberTTL)).Methods("GET")
	api.HandleFunc(member, TenantMiddleware(s.tenants, h.HandleDeleteMemberTTL)).Methods("DELETE")

	s.router.HandleFunc("/health", h.HandleHealth).Methods("GET")

	if s.cfg.EnableMetrics {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
}
