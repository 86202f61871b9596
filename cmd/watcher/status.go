package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"transferwatch/internal/dispatch"
	"transferwatch/internal/feed"
	"transferwatch/internal/filter"
	"transferwatch/internal/model"
	"transferwatch/internal/storage"
	"transferwatch/internal/subscription"
)

func newMux(
	hub *feed.Hub,
	manager *subscription.Manager,
	filters *filter.Chain,
	dispatcher *dispatch.Dispatcher,
	store storage.Store,
) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/ws", hub)

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		snapshot := model.StatusSnapshot{
			Connection:   manager.Status(),
			Filter:       filters.Stats(),
			LastDispatch: dispatcher.LastResult(),
			Subscribers:  hub.SubscriberCount(),
		}
		writeJSON(w, snapshot)
	})

	mux.HandleFunc("/recent", func(w http.ResponseWriter, r *http.Request) {
		limit := parseLimit(r, 50)
		address := r.URL.Query().Get("address")

		var events []model.TransferEvent
		var err error
		if address != "" {
			events, err = store.RecentForAddress(r.Context(), address, limit)
		} else {
			events, err = store.Recent(r.Context(), limit)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, events)
	})

	return mux
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
