package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/raaihank/photo-sentinel/internal/scan"
	"github.com/raaihank/photo-sentinel/internal/store"
	"github.com/raaihank/photo-sentinel/internal/thumbs"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 16

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// requireURI reads the uri query parameter or writes a 400
func requireURI(w http.ResponseWriter, r *http.Request) (string, bool) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeError(w, http.StatusBadRequest, "missing uri parameter")
		return "", false
	}
	return uri, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":     "healthy",
		"timestamp":  time.Now().Format(time.RFC3339),
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		"progress":   s.gallery.GetScanProgress(r.Context()),
		"counts":     s.gallery.Counts(r.Context()),
		"thumbnails": s.gallery.ThumbnailStatus(),
	}
	if s.hub != nil {
		body["websocket"] = s.hub.GetStats()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	uri, ok := requireURI(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uri":    uri,
		"status": s.gallery.GetStatus(r.Context(), uri),
		"record": s.gallery.GetRecord(r.Context(), uri),
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	progress := s.gallery.GetScanProgress(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"processed": progress.Processed,
		"total":     progress.Total,
		"fraction":  progress.Fraction(),
	})
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	uri, ok := requireURI(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	bucket, err := strconv.Atoi(query.Get("bucket"))
	if err != nil || bucket <= 0 {
		width, werr := strconv.Atoi(query.Get("width"))
		if werr != nil || width <= 0 {
			writeError(w, http.StatusBadRequest, "bucket or width must be a positive integer")
			return
		}
		bucket = thumbs.Bucket(width, s.config.Thumbnails.BucketStep)
	}

	cached, found := s.gallery.GetCachedThumbnail(r.Context(), uri, bucket)
	body := map[string]interface{}{
		"uri":        uri,
		"bucket":     bucket,
		"found":      found,
		"cached_uri": nil,
	}
	if found {
		body["cached_uri"] = cached
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleFlagged(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records := s.gallery.Flagged(r.Context(), limit)
	if records == nil {
		records = []store.ScanRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	uri, ok := requireURI(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uri":    uri,
		"hidden": s.gallery.IsHidden(r.Context(), uri),
	})
}

func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	reset, err := s.gallery.RequestFullRescan(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset scan records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"reset": reset})
}

// handleScan runs the scheduler once. With wait=true the outcome is returned,
// otherwise the run continues in the background.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		outcome := s.gallery.ForceScan(r.Context())
		writeJSON(w, http.StatusOK, map[string]string{"outcome": outcome.String()})
		return
	}

	log := s.logger.WithRequestID(getRequestID(r.Context()))
	go func() {
		outcome := s.gallery.ForceScan(s.jobs)
		log.Info("Forced scan finished", zap.String("outcome", outcome.String()))
	}()
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	status := s.gallery.ThumbnailStatus()
	if status == nil {
		writeError(w, http.StatusNotFound, "thumbnail cache is disabled")
		return
	}
	if status.State.Busy() {
		writeError(w, http.StatusConflict, thumbs.ErrBusy.Error())
		return
	}

	go func() {
		if err := s.gallery.RequestCacheWipeAndRecalculate(s.jobs); err != nil && !errors.Is(err, thumbs.ErrBusy) {
			s.logger.Error("Background thumbnail recalculation failed", zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *Server) handleGetConditions(w http.ResponseWriter, r *http.Request) {
	if s.conditions == nil {
		writeError(w, http.StatusNotFound, "scheduler is disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.conditions.Conditions())
}

func (s *Server) handleSetConditions(w http.ResponseWriter, r *http.Request) {
	if s.conditions == nil {
		writeError(w, http.StatusNotFound, "scheduler is disabled")
		return
	}
	var conditions scan.Conditions
	if err := decodeBody(w, r, &conditions); err != nil {
		writeError(w, http.StatusBadRequest, "invalid conditions body")
		return
	}
	s.conditions.SetConditions(conditions)
	writeJSON(w, http.StatusOK, conditions)
}

type unlockRequest struct {
	URI string `json:"uri"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gallery.Session().State())
}

// handleUnlock reveals one photo, or all of them when the body has no uri
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid unlock body")
			return
		}
	}
	s.gallery.Session().Unlock(req.URI)
	writeJSON(w, http.StatusOK, s.gallery.Session().State())
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid lock body")
			return
		}
	}
	s.gallery.Session().Lock(req.URI)
	writeJSON(w, http.StatusOK, s.gallery.Session().State())
}

func (s *Server) handleSecurityMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeBody(w, r, &req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"enabled\": true|false}")
		return
	}
	s.gallery.Session().SetSecurityMode(*req.Enabled)
	writeJSON(w, http.StatusOK, s.gallery.Session().State())
}
