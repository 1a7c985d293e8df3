package http

import (
	"log/slog"
	"net/http"
)

type RouterConfig struct {
	Rooms      *RoomHandler
	Events     *EventHandler
	Changes    *ChangeHandler
	Accounts   *AccountHandler
	Logger     *slog.Logger
	Middleware []func(http.Handler) http.Handler
}

// NewRouter registers the routes of every configured handler. Unknown methods
// on a known path get 405 with an Allow header from the mux.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	withUser := RequireUser(cfg.Logger)
	authed := func(fn http.HandlerFunc) http.Handler { return withUser(fn) }

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if cfg.Rooms != nil {
		mux.HandleFunc("POST /rooms", cfg.Rooms.Create)
		mux.HandleFunc("GET /rooms", cfg.Rooms.List)
		mux.HandleFunc("GET /rooms/{id}", cfg.Rooms.Get)
		mux.HandleFunc("GET /rooms/{id}/availability", cfg.Rooms.Availability)
		mux.HandleFunc("GET /rooms/{id}/events", cfg.Rooms.Events)
		mux.HandleFunc("GET /rooms/{id}/reports", cfg.Rooms.Reports)
	}

	if cfg.Events != nil {
		mux.Handle("POST /rooms/{id}/occupy", authed(cfg.Events.Occupy))
		mux.Handle("POST /rooms/{id}/free", authed(cfg.Events.Free))
		mux.Handle("POST /rooms/{id}/reports/unavailable", authed(cfg.Events.ReportUnavailable))
		mux.Handle("POST /rooms/{id}/reports/free", authed(cfg.Events.ReportFree))
		mux.Handle("POST /rooms/{id}/reports/busy", authed(cfg.Events.ReportBusy))
		mux.Handle("PATCH /events/{id}", authed(cfg.Events.Edit))
		mux.Handle("DELETE /events/{id}", authed(cfg.Events.Delete))
	}

	if cfg.Changes != nil {
		mux.HandleFunc("GET /changes", cfg.Changes.List)
		mux.Handle("POST /changes/{id}/revert", authed(cfg.Changes.Revert))
	}

	if cfg.Accounts != nil {
		mux.HandleFunc("POST /accounts/verifications", cfg.Accounts.CreateVerification)
		mux.HandleFunc("POST /accounts/verifications/confirm", cfg.Accounts.ConfirmVerification)
		mux.HandleFunc("POST /accounts", cfg.Accounts.Register)
		mux.HandleFunc("POST /accounts/authenticate", cfg.Accounts.Authenticate)
	}

	var handler http.Handler = mux
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			handler = cfg.Middleware[i](handler)
		}
	}

	return handler
}
