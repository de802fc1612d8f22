package api

import (
	"net/http"
)

// ========== Traffic handlers ==========

// HandleListTraffic lists plate detections, optionally filtered by camera
func (s *RESTServer) HandleListTraffic(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	traffic, total, err := s.store.ListTraffic(r.Context(), cameraFilter(r), limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"traffic": traffic,
		"total":   total,
	})
}

// ========== Record handlers ==========

// HandleListRecords lists stored recordings, optionally filtered by camera
func (s *RESTServer) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	records, total, err := s.store.ListRecords(r.Context(), cameraFilter(r), limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"total":   total,
	})
}
