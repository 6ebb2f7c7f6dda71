package router

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wellywell/wbtasks/internal/handlers"
)

const (
	compressLevel   = 5
	shutdownTimeout = 5 * time.Second
)

type Middleware interface {
	Handle(h http.Handler) http.Handler
}

type Router struct {
	address string
	router  *chi.Mux
}

func NewRouter(address string, h *handlers.HandlerSet, middlewares ...Middleware) *Router {

	r := chi.NewRouter()

	for _, m := range middlewares {
		r.Use(m.Handle)
	}
	r.Use(middleware.Compress(compressLevel))

	r.Get("/ping", h.HandlePing)

	r.Get("/api/tasks", h.HandleGetTasks)
	r.Get("/api/tasks/{orderID}", h.HandleGetTask)
	r.Post("/api/tasks/{orderID}/complete", h.HandleCompleteTask)

	r.Get("/api/supplies", h.HandleGetSupplies)
	r.Get("/api/supplies/{supplyID}/orders", h.HandleGetSupplyOrders)

	r.Post("/api/poll", h.HandlePoll)

	return &Router{router: r, address: address}
}

func (r *Router) ListenAndServe() error {
	err := http.ListenAndServe(r.address, r.router)
	return err
}

// Run serves until ctx is cancelled, then shuts down draining in-flight
// requests.
func (r *Router) Run(ctx context.Context) error {

	server := &http.Server{
		Addr:    r.address,
		Handler: r.router,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
