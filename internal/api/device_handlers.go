package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/alpr-fleet/fleet-server/internal/device"
	"github.com/alpr-fleet/fleet-server/internal/models"
	"github.com/alpr-fleet/fleet-server/internal/storage"
	"github.com/alpr-fleet/fleet-server/pkg/crypto"
)

// ========== LPR device handlers ==========

// HandleListLPRs lists LPR devices
func (s *RESTServer) HandleListLPRs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	lprs, total, err := s.store.ListLPRs(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"lprs":  lprs,
		"total": total,
	})
}

// HandleCreateLPR creates an LPR device
func (s *RESTServer) HandleCreateLPR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string   `json:"name" validate:"required,min=3"`
		IP        string   `json:"ip" validate:"required"`
		Port      int      `json:"port" validate:"required"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		IsActive  bool     `json:"is_active"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Each device gets its own auth token, presented during the handshake.
	token, err := crypto.GenerateRandomString(32)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate auth token")
		return
	}

	lpr := &models.LPR{
		Name:      req.Name,
		IP:        req.IP,
		Port:      req.Port,
		AuthToken: token,
		IsActive:  req.IsActive,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	}

	if err := s.store.CreateLPR(r.Context(), lpr); err != nil {
		if err == storage.ErrDuplicateKey {
			s.respondError(w, http.StatusConflict, "device already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if lpr.IsActive {
		if err := s.registry.Add(lpr); err != nil {
			log.Error().Err(err).Int64("lpr_id", lpr.ID).Msg("Failed to register device")
		}
	}

	s.respondJSON(w, http.StatusCreated, lpr)
}

// HandleGetLPR gets an LPR device with its settings and cameras
func (s *RESTServer) HandleGetLPR(w http.ResponseWriter, r *http.Request) {
	id, err := lprID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	lpr, err := s.store.GetLPR(r.Context(), id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, lpr)
}

// HandleUpdateLPR updates an LPR device. Connection parameter changes force
// a reconnect with the new parameters.
func (s *RESTServer) HandleUpdateLPR(w http.ResponseWriter, r *http.Request) {
	id, err := lprID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	lpr, err := s.store.GetLPR(r.Context(), id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var req struct {
		Name      string   `json:"name" validate:"required,min=3"`
		IP        string   `json:"ip" validate:"required"`
		Port      int      `json:"port" validate:"required"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	lpr.Name = req.Name
	lpr.IP = req.IP
	lpr.Port = req.Port
	lpr.Latitude = req.Latitude
	lpr.Longitude = req.Longitude

	if err := s.store.UpdateLPR(r.Context(), lpr); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if lpr.IsActive {
		if err := s.registry.Update(lpr); err != nil {
			log.Error().Err(err).Int64("lpr_id", lpr.ID).Msg("Failed to re-register device")
		}
	}

	s.respondJSON(w, http.StatusOK, lpr)
}

// HandleDeleteLPR deletes an LPR device
func (s *RESTServer) HandleDeleteLPR(w http.ResponseWriter, r *http.Request) {
	id, err := lprID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	if err := s.registry.Remove(id); err != nil {
		log.Error().Err(err).Int64("lpr_id", id).Msg("Failed to unregister device")
	}

	if err := s.store.DeleteLPR(r.Context(), id); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleActivateLPR marks a device active and starts connecting to it
func (s *RESTServer) HandleActivateLPR(w http.ResponseWriter, r *http.Request) {
	id, err := lprID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	lpr, err := s.store.GetLPR(r.Context(), id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	lpr.IsActive = true
	if err := s.store.UpdateLPR(r.Context(), lpr); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.registry.Add(lpr); err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to register device")
		return
	}

	s.respondJSON(w, http.StatusOK, lpr)
}

// HandleDeactivateLPR marks a device inactive and disconnects it
func (s *RESTServer) HandleDeactivateLPR(w http.ResponseWriter, r *http.Request) {
	id, err := lprID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	lpr, err := s.store.GetLPR(r.Context(), id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	lpr.IsActive = false
	if err := s.store.UpdateLPR(r.Context(), lpr); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.registry.Remove(id); err != nil {
		log.Error().Err(err).Int64("lpr_id", id).Msg("Failed to unregister device")
	}

	s.respondJSON(w, http.StatusOK, lpr)
}

// HandleSendCommand sends a signed command to a connected device
func (s *RESTServer) HandleSendCommand(w http.ResponseWriter, r *http.Request) {
	id, err := lprID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.registry.SendCommand(id, payload); err != nil {
		switch err {
		case device.ErrNotConnected, device.ErrNotAuthenticated:
			s.respondError(w, http.StatusConflict, err.Error())
		default:
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// HandleDeviceStatuses reports the connection state of every managed device
func (s *RESTServer) HandleDeviceStatuses(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": s.registry.Statuses(),
	})
}

// HandleListCameras lists the cameras of one device
func (s *RESTServer) HandleListCameras(w http.ResponseWriter, r *http.Request) {
	id, err := lprID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	cameras, err := s.store.ListCameras(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"cameras": cameras,
	})
}

func lprID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
