package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mdobak/go-xerrors"

	"tremorwatch/models"
	"tremorwatch/tremor"
	"tremorwatch/utils"
)

const maxRequestBytes = 8 << 20

type apiError struct {
	Message string `json:"message"`
}

type baselineResponse struct {
	Snapshot            models.BaselineSnapshot `json:"snapshot"`
	RestingValid        bool                    `json:"restingValid"`
	ActiveValid         bool                    `json:"activeValid"`
	CalibrationActive   bool                    `json:"calibrationActive"`
	CalibrationComplete bool                    `json:"calibrationComplete"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode JSON response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Message: message})
}

// preflight sets CORS headers and answers OPTIONS. It reports false when the
// request has been fully handled.
func preflight(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", strings.Join(append(methods, http.MethodOptions), ", "))
	w.Header().Set("Access-Control-Allow-Credentials", "true")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return false
	}
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func newSamplesHandler(m *monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !preflight(w, r, http.MethodPost) {
			return
		}

		var batch models.SampleBatch
		if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&batch); err != nil {
			m.logger.ErrorContext(ctx, "failed to parse sample batch", slog.Any("error", err))
			writeJSONError(w, http.StatusBadRequest, "invalid sample payload")
			return
		}
		if len(batch.Samples) == 0 {
			writeJSONError(w, http.StatusBadRequest, "no samples received")
			return
		}

		result := m.ingest(batch)
		log.Printf("[HTTP] Ingested %d samples (%d rejected), %d records\n", result.Accepted, result.Rejected, len(result.Records))
		writeJSON(w, http.StatusOK, result)
	}
}

func newRecordsHandler(m *monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !preflight(w, r, http.MethodGet) {
			return
		}

		var (
			recs []models.TremorRecord
			err  error
		)
		if session := r.URL.Query().Get("session"); session != "" {
			recs, err = m.store.GetSessionRecords(session)
		} else {
			limit := 100
			if raw := r.URL.Query().Get("limit"); raw != "" {
				limit, err = strconv.Atoi(raw)
				if err != nil || limit <= 0 {
					writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
					return
				}
			}
			recs, err = m.store.GetRecentRecords(limit)
		}
		if err != nil {
			err := xerrors.New(err)
			m.logger.ErrorContext(ctx, "failed to load records", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, "failed to load records")
			return
		}
		if recs == nil {
			recs = []models.TremorRecord{}
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

func newBaselineHandler(m *monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !preflight(w, r, http.MethodGet) {
			return
		}
		tracker := m.engine.Baseline()
		writeJSON(w, http.StatusOK, baselineResponse{
			Snapshot:            tracker.Snapshot(),
			RestingValid:        tracker.IsValid(true),
			ActiveValid:         tracker.IsValid(false),
			CalibrationActive:   tracker.CalibrationActive(),
			CalibrationComplete: tracker.CalibrationComplete(),
		})
	}
}

func newConfigHandler(m *monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !preflight(w, r, http.MethodGet, http.MethodPost) {
			return
		}
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, m.engine.Configs().Current())
			return
		}

		doc, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "unable to read config")
			return
		}
		cfg, err := m.applyConfig(doc)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, cfg)
		case errors.Is(err, tremor.ErrStaleConfig):
			writeJSONError(w, http.StatusConflict, err.Error())
		default:
			m.logger.WarnContext(ctx, "rejected config update", slog.Any("error", err))
			writeJSONError(w, http.StatusBadRequest, err.Error())
		}
	}
}

func newCalibrationStartHandler(m *monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !preflight(w, r, http.MethodPost) {
			return
		}
		progress, err := m.startCalibration()
		if errors.Is(err, tremor.ErrCalibrationActive) {
			writeJSONError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, progress)
	}
}

func newCalibrationCancelHandler(m *monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !preflight(w, r, http.MethodPost) {
			return
		}
		result, err := m.cancelCalibration()
		if errors.Is(err, tremor.ErrNoCalibration) {
			writeJSONError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func newSessionHandler(m *monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !preflight(w, r, http.MethodGet, http.MethodPost) {
			return
		}
		if r.Method == http.MethodPost {
			m.batcher.Flush()
			id := m.engine.Restart()
			log.Printf("[HTTP] Started new session %s\n", id)
			writeJSON(w, http.StatusOK, map[string]string{"sessionId": id})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"sessionId": m.engine.SessionID()})
	}
}

func newSummaryHandler(m *monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		if !preflight(w, r, http.MethodGet) {
			return
		}
		s, err := m.sessionSummary(ctx, r.URL.Query().Get("session"))
		if err != nil {
			err := xerrors.New(err)
			m.logger.ErrorContext(ctx, "failed to build summary", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, "failed to build summary")
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func newAPIMux(m *monitor) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/samples", newSamplesHandler(m))
	mux.HandleFunc("/api/records", newRecordsHandler(m))
	mux.HandleFunc("/api/baseline", newBaselineHandler(m))
	mux.HandleFunc("/api/config", newConfigHandler(m))
	mux.HandleFunc("/api/calibration/start", newCalibrationStartHandler(m))
	mux.HandleFunc("/api/calibration/cancel", newCalibrationCancelHandler(m))
	mux.HandleFunc("/api/session", newSessionHandler(m))
	mux.HandleFunc("/api/summary", newSummaryHandler(m))
	return mux
}

func serveHTTP(ctx context.Context, serveHTTPS bool, port string, handler http.Handler) {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown: %v", err)
		}
	}()

	if serveHTTPS {
		server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}

		certKey := utils.GetEnv("CERT_KEY")
		certFile := utils.GetEnv("CERT_FILE")
		if certKey == "" || certFile == "" {
			log.Fatal("Missing cert")
		}

		log.Printf("Starting HTTPS server on %s\n", server.Addr)
		if err := server.ListenAndServeTLS(certFile, certKey); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTPS server ListenAndServeTLS: %v", err)
		}
	} else {
		log.Printf("Starting HTTP server on port %v", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}

	// in-flight handlers finish before the caller closes storage
	<-shutdownDone
}
