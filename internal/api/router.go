// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coverpoint/tabsync/internal/config"
	"github.com/coverpoint/tabsync/internal/middleware"
)

// Router assembles the HTTP surface.
type Router struct {
	handler *Handler
	ws      *WSHandler
	cfg     config.SecurityConfig
}

// NewRouter creates the router. ws may be nil on deployments without the
// push channel.
func NewRouter(handler *Handler, ws *WSHandler, cfg config.SecurityConfig) *Router {
	return &Router{handler: handler, ws: ws, cfg: cfg}
}

// Setup builds the route tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   router.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", HeaderIdempotencyKey, HeaderUserID, HeaderBusinessID, HeaderUserRole, HeaderAdminApproval},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		if !router.cfg.RateLimitDisabled {
			r.Use(httprate.LimitByIP(router.cfg.RateLimitReqs, router.cfg.RateLimitWindow))
		}
		r.Use(middleware.PrometheusMetrics)

		r.Route("/tickets", func(r chi.Router) {
			r.Post("/", router.handler.TicketWrite)
			r.Get("/latest", router.handler.TicketLatest)
			r.Post("/void-item", router.handler.VoidItem)
			r.Post("/void-ticket", router.handler.VoidTicket)
		})

		r.Route("/tables", func(r chi.Router) {
			r.Get("/open", router.handler.TablesOpen)
			r.Post("/open", router.handler.SetTableState)
			r.Post("/covers", router.handler.SetCovers)
		})

		r.Route("/requests", func(r chi.Router) {
			r.Post("/create", router.handler.RequestCreate)
			r.Post("/approve", router.handler.RequestApprove)
			r.Post("/reject", router.handler.RequestReject)
			r.Post("/mark-applied", router.handler.RequestMarkApplied)
			r.Get("/list-for-owner", router.handler.RequestListForOwner)
			r.Get("/poll-approved", router.handler.RequestPollApproved)
			r.Post("/cancel-stale-for-table", router.handler.RequestCancelStale)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", router.handler.Notifications)
			r.Post("/mark-read", router.handler.NotificationsMarkRead)
		})

		if router.ws != nil {
			r.Get("/ws", router.ws.ServeHTTP)
		}
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
