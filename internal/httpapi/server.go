// Package httpapi exposes the dispatch protocol to the surrounding UI layer:
// seller order-status actions, the captain offer endpoints, and a WebSocket
// stream of change events per captain.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"captainDispatch/internal/auth"
	"captainDispatch/internal/config"
	"captainDispatch/internal/dispatch"
	"captainDispatch/internal/events"
	"captainDispatch/repository"
)

const healthPath = "/healthz"

// Handler carries the dependencies of every route.
type Handler struct {
	cfg           *config.Config
	users         repository.UserRepositoryI
	orders        repository.OrderRepositoryI
	deliveries    repository.DeliveryRepositoryI
	captains      repository.CaptainRepositoryI
	notifications repository.NotificationRepositoryI
	broadcaster   *dispatch.Broadcaster
	resolver      *dispatch.Resolver
	workflow      *dispatch.Workflow
	bus           events.Bus
}

// NewHandler builds the route handler.
func NewHandler(cfg *config.Config, users repository.UserRepositoryI, orders repository.OrderRepositoryI, deliveries repository.DeliveryRepositoryI, captains repository.CaptainRepositoryI, notifications repository.NotificationRepositoryI, broadcaster *dispatch.Broadcaster, resolver *dispatch.Resolver, workflow *dispatch.Workflow, bus events.Bus) *Handler {
	return &Handler{
		cfg:           cfg,
		users:         users,
		orders:        orders,
		deliveries:    deliveries,
		captains:      captains,
		notifications: notifications,
		broadcaster:   broadcaster,
		resolver:      resolver,
		workflow:      workflow,
		bus:           bus,
	}
}

// Router assembles the chi router with CORS and JWT auth.
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}))
	r.Use(auth.Middleware(h.cfg.Auth.JWTSecret, healthPath))

	r.Get(healthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Post("/api/orders", h.createOrder)
	r.Get("/api/orders/{id}", h.getOrder)

	r.Route("/api/seller", func(r chi.Router) {
		r.Post("/orders/{id}/status", h.sellerAdvanceOrder)
		r.Post("/orders/{id}/cancel", h.sellerCancelOrder)
	})

	r.Route("/api/captain", func(r chi.Router) {
		r.Get("/offers", h.captainOffers)
		r.Get("/available", h.captainAvailableOrders)
		r.Post("/offers/{id}/accept", h.captainAcceptOffer)
		r.Post("/offers/{id}/decline", h.captainDeclineOffer)
		r.Post("/deliveries/{id}/advance", h.captainAdvanceDelivery)
		r.Post("/availability", h.captainSetAvailability)
		r.Post("/location", h.captainUpdateLocation)
		r.Get("/stream", h.captainStream)
	})

	return r
}

// Start runs the HTTP server on the configured address and returns a shutdown
// function.
func Start(cfg *config.Config, h *Handler) (func(context.Context) error, error) {
	addr := cfg.HTTP.Address
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	return func(ctx context.Context) error {
		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
			return err
		}
		select {
		case err := <-errc:
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		default:
			return nil
		}
	}, nil
}
