package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/tripsync/ingest"
	"github.com/hazyhaar/tripsync/observability"
	"github.com/hazyhaar/tripsync/shield"
)

type api struct {
	svc *ingest.Service
}

// newRouter wires the HTTP surface. trustProxy controls whether forwarded
// client IP headers are honoured by the rate limiter.
func newRouter(svc *ingest.Service, metrics *observability.Metrics, lim *shield.Limiter, trustProxy bool) http.Handler {
	a := &api{svc: svc}
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack() {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", a.events)
		r.Post("/sync", a.sync)

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", a.listSources)
			r.Post("/", a.createSource)
			r.Patch("/{sourceID}", a.updateSource)
			r.Delete("/{sourceID}", a.deleteSource)
			r.Post("/{sourceID}/sync", a.syncSource)
		})

		r.Group(func(r chi.Router) {
			r.Use(shield.RateLimit(lim, shield.GeocodeRule, trustProxy, metrics.RateLimited))
			r.Get("/geocode", a.geocode)
			r.Post("/geocode", a.geocode)
		})
		r.Group(func(r chi.Router) {
			r.Use(shield.RateLimit(lim, shield.RouteRule, trustProxy, metrics.RateLimited))
			r.Get("/route-cache/{key}", a.getRoute)
			r.Put("/route-cache/{key}", a.putRoute)
		})
	})
	return r
}

func (a *api) events(w http.ResponseWriter, r *http.Request) {
	p, err := a.svc.LoadEvents(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type syncResponse struct {
	SyncedAt        string                  `json:"syncedAt"`
	EventCount      int                     `json:"eventCount"`
	SpotCount       int                     `json:"spotCount"`
	IngestionErrors []ingest.IngestionError `json:"ingestionErrors"`
	State           ingest.RunState         `json:"state"`
	Meta            ingest.Meta             `json:"meta"`
	Events          []ingest.Event          `json:"events"`
	Places          []ingest.Spot           `json:"places"`
}

func (a *api) sync(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.Sync(r.Context())
	if err != nil {
		shield.GetLogger(r.Context()).Error("api: sync failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	errs := res.Meta.IngestionErrors
	if errs == nil {
		errs = []ingest.IngestionError{}
	}
	writeJSON(w, http.StatusOK, syncResponse{
		SyncedAt:        res.Meta.SyncedAt,
		EventCount:      res.Meta.EventCount,
		SpotCount:       res.Meta.SpotCount,
		IngestionErrors: errs,
		State:           res.State,
		Meta:            res.Meta,
		Events:          res.Events,
		Places:          res.Places,
	})
}

func (a *api) listSources(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.ListSources(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": list})
}

func (a *api) createSource(w http.ResponseWriter, r *http.Request) {
	var in ingest.SourceInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid source payload."})
		return
	}
	src, err := a.svc.CreateSource(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"source": src})
}

func (a *api) updateSource(w http.ResponseWriter, r *http.Request) {
	var in ingest.SourceUpdate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid source patch payload."})
		return
	}
	src, err := a.svc.UpdateSource(r.Context(), chi.URLParam(r, "sourceID"), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": src})
}

func (a *api) deleteSource(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteSource(r.Context(), chi.URLParam(r, "sourceID")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (a *api) syncSource(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.SyncSource(r.Context(), chi.URLParam(r, "sourceID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) geocode(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if r.Method == http.MethodPost {
		var body struct {
			Address string `json:"address"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid geocode request payload."})
			return
		}
		address = body.Address
	}
	c, err := a.svc.Geocode(r.Context(), address)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func routeKey(r *http.Request) string {
	raw := chi.URLParam(r, "key")
	if k, err := url.PathUnescape(raw); err == nil {
		return k
	}
	return raw
}

func (a *api) getRoute(w http.ResponseWriter, r *http.Request) {
	route, ok, err := a.svc.GetRoute(r.Context(), routeKey(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Route not cached."})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ingest.Route
		Source string `json:"source"`
	}{route, "cache"})
}

func (a *api) putRoute(w http.ResponseWriter, r *http.Request) {
	var in ingest.Route
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ingest.MsgBadRoute})
		return
	}
	saved, err := a.svc.SaveRoute(r.Context(), routeKey(r), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// writeServiceError maps service sentinels to status codes. Unexpected
// errors are logged and reported without internals.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ingest.ErrInvalidInput), errors.Is(err, ingest.ErrEmptyUpdate):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, ingest.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ingest.ErrNoPersistence):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		shield.GetLogger(r.Context()).Error("api: request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Unexpected error"})
	}
}
