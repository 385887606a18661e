// Package api exposes the HTTP surface for submitting scans and reading
// back snapshots, price changes, and retailer profiles.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"catalogwatch/internal/storage"
	"catalogwatch/pkg/types"
)

// ReportingStore is the read surface the HTTP handlers need beyond scan
// management. *storage.Store satisfies it.
type ReportingStore interface {
	OpenPriceChanges(ctx context.Context, retailer string, limit int) ([]types.PriceChangeRecord, error)
	Profile(ctx context.Context, retailer string) (types.RetailerProfile, error)
	ListBaseline(ctx context.Context, params storage.BaselineListParams) (storage.BaselineListResult, error)
	Ping(ctx context.Context) error
}

// ProfileRecomputer rebuilds a retailer profile from observation history.
// *catalog.ProfileManager satisfies it.
type ProfileRecomputer interface {
	Recompute(ctx context.Context, retailer string) (types.RetailerProfile, error)
}

// Server exposes the HTTP API for the change-detection engine.
type Server struct {
	manager  *ScanManager
	store    ReportingStore
	profiles ProfileRecomputer
	mux      *http.ServeMux
}

// NewServer wires handlers onto an HTTP mux.
func NewServer(manager *ScanManager, store ReportingStore, profiles ProfileRecomputer) *Server {
	s := &Server{
		manager:  manager,
		store:    store,
		profiles: profiles,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP satisfies the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/scans", s.handleScans)
	s.mux.HandleFunc("/api/scans/", s.handleScanByID)
	s.mux.HandleFunc("/api/price-changes", s.handlePriceChanges)
	s.mux.HandleFunc("/api/profiles/", s.handleProfileByRetailer)
	s.mux.HandleFunc("/api/baseline", s.handleBaseline)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	status := "ok"
	code := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleScans(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.manager.ListScans())
	case http.MethodPost:
		s.createScan(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) createScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json payload: %v", err), http.StatusBadRequest)
		return
	}
	summary, err := s.manager.StartScan(req)
	if err != nil {
		if errors.Is(err, ErrMaxConcurrency) {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleScanByID(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/scans/"), "/")
	if trimmed == "" {
		http.NotFound(w, r)
		return
	}
	parts := strings.Split(trimmed, "/")
	scanID, err := url.PathUnescape(parts[0])
	if err != nil {
		http.Error(w, "invalid scan id", http.StatusBadRequest)
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		detail, ok := s.manager.GetScan(scanID)
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, detail)
		return
	}

	if parts[1] != "cancel" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if err := s.manager.CancelScan(scanID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePriceChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	retailer := strings.TrimSpace(r.URL.Query().Get("retailer"))
	limit := queryInt(r, "limit", 100)
	records, err := s.store.OpenPriceChanges(r.Context(), retailer, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []types.PriceChangeRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleProfileByRetailer(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/profiles/"), "/")
	if trimmed == "" {
		http.NotFound(w, r)
		return
	}
	parts := strings.Split(trimmed, "/")
	retailer, err := url.PathUnescape(parts[0])
	if err != nil || strings.TrimSpace(retailer) == "" {
		http.Error(w, "invalid retailer", http.StatusBadRequest)
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		profile, err := s.store.Profile(r.Context(), retailer)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, profile)
		return
	}

	if parts[1] != "recompute" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	profile, err := s.profiles.Recompute(r.Context(), retailer)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleBaseline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	params := storage.BaselineListParams{
		Retailer: strings.TrimSpace(r.URL.Query().Get("retailer")),
		Category: strings.TrimSpace(r.URL.Query().Get("category")),
		Page:     queryInt(r, "page", 1),
		PageSize: queryInt(r, "page_size", 50),
	}
	result, err := s.store.ListBaseline(r.Context(), params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
