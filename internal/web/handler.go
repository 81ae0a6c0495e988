// Copyright (c) 2026 Shipmecarton
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package web exposes the admin API: health, client directory CRUD, manual
// poll trigger, and cursor reset. The API is for the operator, not
// customers; it binds to the service port behind whatever ingress the
// deployment provides.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shipmecarton/mailroom/internal/clients"
	"github.com/shipmecarton/mailroom/internal/models"
)

// ClientDirectory is the slice of the client store the admin API needs.
type ClientDirectory interface {
	List(ctx context.Context) ([]models.Client, error)
	Get(ctx context.Context, email string) (*models.Client, error)
	Add(ctx context.Context, c models.Client) (*models.Client, error)
	UpdateFields(ctx context.Context, email string, upd clients.Update) (*models.Client, error)
	Delete(ctx context.Context, email string) (bool, error)
}

// PollTrigger runs one poll cycle on demand.
type PollTrigger interface {
	Poll(ctx context.Context) (int, error)
}

// CursorStore clears the mailbox cursor.
type CursorStore interface {
	Clear(ctx context.Context) error
}

// Handler serves the admin API.
type Handler struct {
	clients ClientDirectory
	trigger PollTrigger
	cursor  CursorStore
	ping    func(ctx context.Context) error
}

// NewHandler creates an admin API handler. ping reports storage health.
func NewHandler(dir ClientDirectory, trigger PollTrigger, cursor CursorStore, ping func(ctx context.Context) error) *Handler {
	return &Handler{
		clients: dir,
		trigger: trigger,
		cursor:  cursor,
		ping:    ping,
	}
}

// Router builds the chi mux for the admin API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/poll", h.pollNow)
		r.Post("/cursor/reset", h.resetCursor)

		r.Route("/clients", func(r chi.Router) {
			r.Get("/", h.listClients)
			r.Post("/", h.addClient)
			r.Get("/{email}", h.getClient)
			r.Put("/{email}", h.updateClient)
			r.Delete("/{email}", h.deleteClient)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) pollNow(w http.ResponseWriter, r *http.Request) {
	n, err := h.trigger.Poll(r.Context())
	if err != nil {
		slog.Error("manual poll failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": n})
}

func (h *Handler) resetCursor(w http.ResponseWriter, r *http.Request) {
	if err := h.cursor.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cursor cleared"})
}

func (h *Handler) listClients(w http.ResponseWriter, r *http.Request) {
	list, err := h.clients.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []models.Client{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) getClient(w http.ResponseWriter, r *http.Request) {
	client, err := h.clients.Get(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if client == nil {
		writeError(w, http.StatusNotFound, errors.New("client not found"))
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (h *Handler) addClient(w http.ResponseWriter, r *http.Request) {
	var c models.Client
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := h.clients.Add(r.Context(), c)
	if err != nil {
		writeError(w, statusForClientError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) updateClient(w http.ResponseWriter, r *http.Request) {
	var upd clients.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	updated, err := h.clients.UpdateFields(r.Context(), chi.URLParam(r, "email"), upd)
	if err != nil {
		writeError(w, statusForClientError(err), err)
		return
	}
	if updated == nil {
		writeError(w, http.StatusNotFound, errors.New("client not found"))
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteClient(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.clients.Delete(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, errors.New("client not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusForClientError(err error) int {
	switch {
	case errors.Is(err, clients.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, clients.ErrInvalidPaymentType),
		errors.Is(err, clients.ErrInvalidDiscount),
		errors.Is(err, clients.ErrInvalidOrdersLeft):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
