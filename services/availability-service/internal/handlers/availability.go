package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"slotwise/services/availability-service/internal/outbox"
	"slotwise/services/availability-service/internal/schedule"
	"slotwise/services/availability-service/internal/storage"
)

// Store is the persistence surface the handlers need. *storage.ProfileRepository
// satisfies it in production.
type Store interface {
	CreateProfile(ctx context.Context, displayName, timezone string) (storage.Profile, error)
	GetProfile(ctx context.Context, profileID string) (storage.Profile, error)
	DeleteProfile(ctx context.Context, profileID string) error
	GetConfig(ctx context.Context, profileID string) (schedule.Config, int64, error)
	ReplaceConfig(ctx context.Context, profileID string, cfg schedule.Config, evt *outbox.Event) (int64, error)
	SwapConfig(ctx context.Context, profileID string, cfg schedule.Config, expectedVersion int64, evt *outbox.Event) (int64, error)
}

// AvailabilityHandler serves the availability API: slot listing, interval
// checking, and configuration reads and writes. Slot and check responses are
// pure policy computation; they do not consult existing bookings, and nothing
// here reserves a slot. Exclusivity belongs to the booking layer.
type AvailabilityHandler struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewAvailabilityHandler(store Store, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{store: store, logger: logger, now: time.Now}
}

// patch CAS retries before giving up with a conflict.
const swapAttempts = 3

type configResponse struct {
	ProfileID string          `json:"profile_id"`
	Version   int64           `json:"version"`
	Config    schedule.Config `json:"config"`
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func profileIDFromRequest(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Profile-Id")); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("profile_id"))
}

// Profiles dispatches the profile collection endpoint.
func (h *AvailabilityHandler) Profiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createProfile(w, r)
	case http.MethodDelete:
		h.deleteProfile(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *AvailabilityHandler) createProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"display_name"`
		Timezone    string `json:"timezone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	req.Timezone = strings.TrimSpace(req.Timezone)
	if req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "display_name is required")
		return
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		writeError(w, http.StatusBadRequest, "invalid timezone")
		return
	}

	p, err := h.store.CreateProfile(r.Context(), req.DisplayName, req.Timezone)
	if err != nil {
		h.logger.Error("profile create failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to create profile")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"profile_id": p.ID,
		"timezone":   p.Timezone,
	})
}

func (h *AvailabilityHandler) deleteProfile(w http.ResponseWriter, r *http.Request) {
	profileID := profileIDFromRequest(r)
	if profileID == "" {
		writeError(w, http.StatusBadRequest, "profile id is required")
		return
	}
	if err := h.store.DeleteProfile(r.Context(), profileID); err != nil {
		h.respondStoreError(w, err, "failed to delete profile")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Config dispatches the configuration endpoint: read, full replace, merge
// patch.
func (h *AvailabilityHandler) Config(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.GetConfig(w, r)
	case http.MethodPut:
		h.PutConfig(w, r)
	case http.MethodPatch:
		h.PatchConfig(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *AvailabilityHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	profileID := profileIDFromRequest(r)
	if profileID == "" {
		writeError(w, http.StatusBadRequest, "profile id is required")
		return
	}

	cfg, version, err := h.store.GetConfig(r.Context(), profileID)
	if err != nil {
		h.respondStoreError(w, err, "failed to load availability config")
		return
	}
	writeJSON(w, http.StatusOK, configResponse{ProfileID: profileID, Version: version, Config: cfg})
}

// PutConfig replaces the whole configuration after validation.
func (h *AvailabilityHandler) PutConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	profileID := profileIDFromRequest(r)
	if profileID == "" {
		writeError(w, http.StatusBadRequest, "profile id is required")
		return
	}

	var cfg schedule.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body: "+err.Error())
		return
	}
	if err := schedule.Validate(cfg); err != nil {
		writeValidationError(w, err)
		return
	}

	evt, err := configUpdatedEvent(profileID, cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build change event")
		return
	}
	version, err := h.store.ReplaceConfig(r.Context(), profileID, cfg, evt)
	if err != nil {
		h.respondStoreError(w, err, "failed to store availability config")
		return
	}
	writeJSON(w, http.StatusOK, configResponse{ProfileID: profileID, Version: version, Config: cfg})
}

// PatchConfig merges a partial update into the stored configuration. The
// merged result is validated as a whole before persisting, so a failing patch
// is never partially applied. Concurrent writers are handled with a bounded
// compare-and-swap loop.
func (h *AvailabilityHandler) PatchConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	profileID := profileIDFromRequest(r)
	if profileID == "" {
		writeError(w, http.StatusBadRequest, "profile id is required")
		return
	}

	var patch schedule.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body: "+err.Error())
		return
	}

	for attempt := 0; attempt < swapAttempts; attempt++ {
		current, version, err := h.store.GetConfig(r.Context(), profileID)
		if err != nil {
			h.respondStoreError(w, err, "failed to load availability config")
			return
		}

		merged := schedule.MergePatch(current, patch)
		if err := schedule.Validate(merged); err != nil {
			writeValidationError(w, err)
			return
		}

		evt, err := configUpdatedEvent(profileID, merged)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to build change event")
			return
		}
		newVersion, err := h.store.SwapConfig(r.Context(), profileID, merged, version, evt)
		if storage.IsVersionConflict(err) {
			continue
		}
		if err != nil {
			h.respondStoreError(w, err, "failed to store availability config")
			return
		}
		writeJSON(w, http.StatusOK, configResponse{ProfileID: profileID, Version: newVersion, Config: merged})
		return
	}

	writeError(w, http.StatusConflict, "availability config is being modified concurrently; retry")
}

// Slots lists the open slots implied by the configuration for one date.
// An empty list is a normal outcome, indistinguishable from "closed".
func (h *AvailabilityHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	profileID := profileIDFromRequest(r)
	if profileID == "" {
		writeError(w, http.StatusBadRequest, "profile id is required")
		return
	}
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if dateStr == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}

	profile, cfg, ok := h.loadProfileConfig(w, r, profileID)
	if !ok {
		return
	}

	loc := profileLocation(profile)
	day, err := time.ParseInLocation(schedule.DateLayout, dateStr, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date (want YYYY-MM-DD)")
		return
	}

	slots := schedule.GenerateSlots(cfg, day)

	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		if enforceWindow(r) && !schedule.WithinBookingWindow(cfg.Window, s.Start, h.now()) {
			continue
		}
		items = append(items, slotItem{
			StartTime: s.Start.UTC().Format(time.RFC3339),
			EndTime:   s.End.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// Check reports whether one exact interval is bookable. The interval is not
// required to align with the generated slot grid.
func (h *AvailabilityHandler) Check(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	profileID := profileIDFromRequest(r)
	if profileID == "" {
		writeError(w, http.StatusBadRequest, "profile id is required")
		return
	}

	start, err := time.Parse(time.RFC3339, strings.TrimSpace(r.URL.Query().Get("start")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start (want RFC3339)")
		return
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(r.URL.Query().Get("end")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end (want RFC3339)")
		return
	}
	if !end.After(start) {
		writeError(w, http.StatusBadRequest, "end must be after start")
		return
	}

	profile, cfg, ok := h.loadProfileConfig(w, r, profileID)
	if !ok {
		return
	}

	loc := profileLocation(profile)
	available := schedule.CheckInterval(cfg, start.In(loc), end.In(loc))
	if available && enforceWindow(r) {
		available = schedule.WithinBookingWindow(cfg.Window, start, h.now())
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": available})
}

func (h *AvailabilityHandler) loadProfileConfig(w http.ResponseWriter, r *http.Request, profileID string) (storage.Profile, schedule.Config, bool) {
	profile, err := h.store.GetProfile(r.Context(), profileID)
	if err != nil {
		h.respondStoreError(w, err, "failed to load profile")
		return storage.Profile{}, schedule.Config{}, false
	}
	cfg, _, err := h.store.GetConfig(r.Context(), profileID)
	if err != nil {
		h.respondStoreError(w, err, "failed to load availability config")
		return storage.Profile{}, schedule.Config{}, false
	}
	return profile, cfg, true
}

func (h *AvailabilityHandler) respondStoreError(w http.ResponseWriter, err error, msg string) {
	if storage.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	h.logger.Error(msg, "err", err)
	writeError(w, http.StatusInternalServerError, msg)
}

func profileLocation(p storage.Profile) *time.Location {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func enforceWindow(r *http.Request) bool {
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("enforce_window"))) {
	case "1", "true", "t", "yes":
		return true
	default:
		return false
	}
}

func configUpdatedEvent(profileID string, cfg schedule.Config) (*outbox.Event, error) {
	payload, err := json.Marshal(map[string]any{
		"profile_id":   profileID,
		"is_available": cfg.Available,
		"updated_at":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	return &outbox.Event{
		AggregateType: "availability_config",
		AggregateID:   profileID,
		EventType:     outbox.EventTypeConfigUpdated,
		Payload:       payload,
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeValidationError(w http.ResponseWriter, err error) {
	var fe *schedule.FieldError
	if errors.As(err, &fe) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fe.Message,
			"field": fe.Field,
		})
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}
