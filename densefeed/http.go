package densefeed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/densefeed/kit"
	"github.com/hazyhaar/densefeed/shield"
)

// Handler returns the loopback status API. Requests from non-loopback
// peers are refused.
//
//	GET  /healthz
//	GET  /sessions
//	GET  /sessions/{id}/report
//	POST /sessions/{id}/rescan
//	POST /sessions/{id}/toggle/{mode}
func (c *Coordinator) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(shield.LoopbackOnly)
	r.Use(shield.HeadToGet)
	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
	r.Use(shield.MaxBody(shield.DefaultMaxBody))
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := kit.WithTransport(req.Context(), "http")
			ctx = kit.WithRequestID(ctx, middleware.GetReqID(ctx))
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": len(c.Sessions())})
	})

	r.Get("/sessions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, c.sessionInfos())
	})

	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/report", func(w http.ResponseWriter, r *http.Request) {
			s, err := c.Session(chi.URLParam(r, "id"))
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			rep, ok := s.LastReport()
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "no report yet"})
				return
			}
			writeJSON(w, http.StatusOK, rep)
		})

		r.Post("/rescan", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			resp, err := c.endpoint("rescan", func(ctx context.Context, _ any) (any, error) {
				s, err := c.Session(id)
				if err != nil {
					return nil, err
				}
				return s.Rescan(ctx), nil
			})(r.Context(), nil)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		})

		r.Post("/toggle/{mode}", func(w http.ResponseWriter, r *http.Request) {
			id, mode := chi.URLParam(r, "id"), chi.URLParam(r, "mode")
			resp, err := c.endpoint("toggle", func(_ context.Context, _ any) (any, error) {
				return c.toggle(id, mode)
			})(r.Context(), nil)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		})
	})
	return r
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, ErrUnknownMode):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
