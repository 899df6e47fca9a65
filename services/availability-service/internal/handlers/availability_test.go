package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"slotwise/services/availability-service/internal/outbox"
	"slotwise/services/availability-service/internal/schedule"
	"slotwise/services/availability-service/internal/storage"
)

// fakeStore keeps everything in memory and mimics the repository's error
// contract (pgx.ErrNoRows for missing rows, ErrVersionConflict for raced
// swaps).
type fakeStore struct {
	profiles map[string]storage.Profile
	configs  map[string]schedule.Config
	versions map[string]int64
	events   []outbox.Event

	// forceConflicts makes SwapConfig fail that many times before succeeding.
	forceConflicts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles: make(map[string]storage.Profile),
		configs:  make(map[string]schedule.Config),
		versions: make(map[string]int64),
	}
}

func (f *fakeStore) seed(id, timezone string, cfg schedule.Config) {
	f.profiles[id] = storage.Profile{ID: id, DisplayName: "Dr. Test", Timezone: timezone, CreatedAt: time.Now()}
	f.configs[id] = cfg
	f.versions[id] = 1
}

func (f *fakeStore) CreateProfile(_ context.Context, displayName, timezone string) (storage.Profile, error) {
	p := storage.Profile{ID: "profile-new", DisplayName: displayName, Timezone: timezone, CreatedAt: time.Now()}
	f.profiles[p.ID] = p
	f.configs[p.ID] = schedule.DefaultConfig()
	f.versions[p.ID] = 1
	return p, nil
}

func (f *fakeStore) GetProfile(_ context.Context, profileID string) (storage.Profile, error) {
	p, ok := f.profiles[profileID]
	if !ok {
		return storage.Profile{}, pgx.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) DeleteProfile(_ context.Context, profileID string) error {
	if _, ok := f.profiles[profileID]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.profiles, profileID)
	delete(f.configs, profileID)
	delete(f.versions, profileID)
	return nil
}

func (f *fakeStore) GetConfig(_ context.Context, profileID string) (schedule.Config, int64, error) {
	cfg, ok := f.configs[profileID]
	if !ok {
		return schedule.Config{}, 0, pgx.ErrNoRows
	}
	return cfg, f.versions[profileID], nil
}

func (f *fakeStore) ReplaceConfig(_ context.Context, profileID string, cfg schedule.Config, evt *outbox.Event) (int64, error) {
	if _, ok := f.configs[profileID]; !ok {
		return 0, pgx.ErrNoRows
	}
	f.configs[profileID] = cfg
	f.versions[profileID]++
	if evt != nil {
		f.events = append(f.events, *evt)
	}
	return f.versions[profileID], nil
}

func (f *fakeStore) SwapConfig(_ context.Context, profileID string, cfg schedule.Config, expectedVersion int64, evt *outbox.Event) (int64, error) {
	if _, ok := f.configs[profileID]; !ok {
		return 0, pgx.ErrNoRows
	}
	if f.forceConflicts > 0 {
		f.forceConflicts--
		return 0, storage.ErrVersionConflict
	}
	if f.versions[profileID] != expectedVersion {
		return 0, storage.ErrVersionConflict
	}
	return f.ReplaceConfig(context.Background(), profileID, cfg, evt)
}

var testNow = time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)

func newTestHandler(fs *fakeStore) *AvailabilityHandler {
	return &AvailabilityHandler{
		store:  fs,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    func() time.Time { return testNow },
	}
}

// mondayConfig opens Mondays 09:00-12:00 with 60-minute slots and no buffer.
func mondayConfig() schedule.Config {
	cfg := schedule.DefaultConfig()
	cfg.Available = true
	cfg.BufferMinutes = 0
	cfg.Hours[time.Monday] = schedule.DayHours{Working: true, Start: 9 * 60, End: 12 * 60}
	return cfg
}

func doRequest(h http.HandlerFunc, method, target string, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rw := httptest.NewRecorder()
	h(rw, req)
	return rw
}

func TestCreateProfile(t *testing.T) {
	fs := newFakeStore()
	h := newTestHandler(fs)

	rw := doRequest(h.Profiles, http.MethodPost, "/api/v1/profiles",
		`{"display_name":"Dr. Ada","timezone":"America/New_York"}`)
	if rw.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rw.Code, rw.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["profile_id"] == "" {
		t.Fatal("expected profile_id in response")
	}
	if resp["timezone"] != "America/New_York" {
		t.Fatalf("expected timezone echoed, got %q", resp["timezone"])
	}

	cfg := fs.configs[resp["profile_id"]]
	if cfg.Available {
		t.Fatal("new profile must start not bookable")
	}
}

func TestCreateProfileRejectsBadInput(t *testing.T) {
	h := newTestHandler(newFakeStore())

	if rw := doRequest(h.Profiles, http.MethodPost, "/api/v1/profiles", `{"timezone":"UTC"}`); rw.Code != http.StatusBadRequest {
		t.Fatalf("missing display_name: expected 400, got %d", rw.Code)
	}
	if rw := doRequest(h.Profiles, http.MethodPost, "/api/v1/profiles",
		`{"display_name":"x","timezone":"Mars/Olympus"}`); rw.Code != http.StatusBadRequest {
		t.Fatalf("bad timezone: expected 400, got %d", rw.Code)
	}
	if rw := doRequest(h.Profiles, http.MethodGet, "/api/v1/profiles", ""); rw.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET: expected 405, got %d", rw.Code)
	}
}

func TestDeleteProfile(t *testing.T) {
	fs := newFakeStore()
	fs.seed("p1", "UTC", mondayConfig())
	h := newTestHandler(fs)

	rw := doRequest(h.Profiles, http.MethodDelete, "/api/v1/profiles?profile_id=p1", "")
	if rw.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rw.Code)
	}
	if _, ok := fs.profiles["p1"]; ok {
		t.Fatal("profile should be gone")
	}

	rw = doRequest(h.Profiles, http.MethodDelete, "/api/v1/profiles?profile_id=p1", "")
	if rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown profile, got %d", rw.Code)
	}
}

func TestGetConfig(t *testing.T) {
	fs := newFakeStore()
	fs.seed("p1", "UTC", mondayConfig())
	h := newTestHandler(fs)

	rw := doRequest(h.Config, http.MethodGet, "/api/v1/availability/config?profile_id=p1", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	var resp configResponse
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.ProfileID != "p1" || resp.Version != 1 {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
	if !resp.Config.Hours[time.Monday].Working {
		t.Fatal("expected monday hours in config")
	}

	if rw := doRequest(h.Config, http.MethodGet, "/api/v1/availability/config", ""); rw.Code != http.StatusBadRequest {
		t.Fatalf("missing profile id: expected 400, got %d", rw.Code)
	}
	if rw := doRequest(h.Config, http.MethodGet, "/api/v1/availability/config?profile_id=nope", ""); rw.Code != http.StatusNotFound {
		t.Fatalf("unknown profile: expected 404, got %d", rw.Code)
	}
}

func TestGetConfigReadsProfileIDHeader(t *testing.T) {
	fs := newFakeStore()
	fs.seed("p1", "UTC", mondayConfig())
	h := newTestHandler(fs)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/availability/config", nil)
	req.Header.Set("X-Profile-Id", "p1")
	rw := httptest.NewRecorder()
	h.Config(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
}

func TestPutConfigReplacesAndEmitsEvent(t *testing.T) {
	fs := newFakeStore()
	fs.seed("p1", "UTC", mondayConfig())
	h := newTestHandler(fs)

	body, _ := json.Marshal(mondayConfig())
	rw := doRequest(h.Config, http.MethodPut, "/api/v1/availability/config?profile_id=p1", string(body))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	var resp configResponse
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Version != 2 {
		t.Fatalf("expected version bump to 2, got %d", resp.Version)
	}
	if len(fs.events) != 1 || fs.events[0].EventType != outbox.EventTypeConfigUpdated {
		t.Fatalf("expected one config-updated event, got %+v", fs.events)
	}
	if fs.events[0].AggregateID != "p1" {
		t.Fatalf("event aggregate id: got %q", fs.events[0].AggregateID)
	}
}

func TestPutConfigRejectsInvalid(t *testing.T) {
	fs := newFakeStore()
	fs.seed("p1", "UTC", mondayConfig())
	h := newTestHandler(fs)

	cfg := mondayConfig()
	cfg.SlotDurationMinutes = 0
	body, _ := json.Marshal(cfg)
	rw := doRequest(h.Config, http.MethodPut, "/api/v1/availability/config?profile_id=p1", string(body))
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["field"] != "default_duration_minutes" {
		t.Fatalf("expected field name in error, got %+v", resp)
	}
	if len(fs.events) != 0 {
		t.Fatal("invalid config must not emit events")
	}
	if fs.versions["p1"] != 1 {
		t.Fatal("invalid config must not be stored")
	}
}

func TestPatchConfigMerges(t *testing.T) {
	fs := newFakeStore()
	fs.seed("p1", "UTC", mondayConfig())
	h := newTestHandler(fs)

	rw := doRequest(h.Config, http.MethodPatch, "/api/v1/availability/config?profile_id=p1",
		`{"default_duration_minutes":30}`)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	got := fs.configs["p1"]
	if got.SlotDurationMinutes != 30 {
		t.Fatalf("patched duration: got %d", got.SlotDurationMinutes)
	}
	// untouched fields survive the merge
	if !got.Hours[time.Monday].Working || got.Hours[time.Monday].Start != 9*60 {
		t.Fatalf("monday hours should be untouched, got %+v", got.Hours[time.Monday])
	}
	if len(fs.events) != 1 {
		t.Fatalf("expected one event, got %d", len(fs.events))
	}
}

func TestPatchConfigValidatesMergedResult(t *testing.T) {
	fs := newFakeStore()
	fs.seed("p1", "UTC", mondayConfig())
	h := newTestHandler(fs)

	rw := doRequest(h.Config, http.MethodPatch, "/api/v1/availability/config?profile_id=p1",
		`{"buffer_minutes":-5}`)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
	if fs.configs["p1"].BufferMinutes != 0 {
		t.Fatal("failed patch must not be applied")
	}
}

func TestPatchConfigRetriesOnConflict(t *testing.T) {
	fs := newFakeStore()
	fs.seed("p1", "UTC", mondayConfig())
	fs.forceConflicts = 2
	h := newTestHandler(fs)

	rw := doRequest(h.Config, http.MethodPatch, "/api/v1/availability/config?profile_id=p1",
		`{"buffer_minutes":10}`)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 after retries, got %d: %s", rw.Code, rw.Body.String())
	}
	if fs.configs["p1"].BufferMinutes != 10 {
		t.Fatal("patch should land after conflict retries")
	}
}

func TestPatchConfigGivesUpAfterRepeatedConflicts(t *testing.T) {
	fs := newFakeStore()
	fs.seed("p1", "UTC", mondayConfig())
	fs.forceConflicts = swapAttempts
	h := newTestHandler(fs)

	rw := doRequest(h.Config, http.MethodPatch, "/api/v1/availability/config?profile_id=p1",
		`{"buffer_minutes":10}`)
	if rw.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rw.Code)
	}
}

func TestSlots(t *testing.T) {
	fs := newFakeStore()
	fs.seed("p1", "UTC", mondayConfig())
	h := newTestHandler(fs)

	rw := doRequest(h.Slots, http.MethodGet, "/api/v1/availability/slots?profile_id=p1&date=2026-01-05", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	var items []slotItem
	if err := json.Unmarshal(rw.Body.Bytes(), &items); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	want := []slotItem{
		{StartTime: "2026-01-05T09:00:00Z", EndTime: "2026-01-05T10:00:00Z"},
		{StartTime: "2026-01-05T10:00:00Z", EndTime: "2026-01-05T11:00:00Z"},
		{StartTime: "2026-01-05T11:00:00Z", EndTime: "2026-01-05T12:00:00Z"},
	}
	if len(items) != len(want) {
		t.Fatalf("expected %d slots, got %d: %+v", len(want), len(items), items)
	}
	for i := range want {
		if items[i] != want[i] {
			t.Fatalf("slot %d: got %+v, want %+v", i, items[i], want[i])
		}
	}
}

func TestSlotsClosedDayIsEmptyList(t *testing.T) {
	fs := newFakeStore()
	fs.seed("p1", "UTC", mondayConfig())
	h := newTestHandler(fs)

	// 2026-01-06 is a Tuesday, closed in the fixture.
	rw := doRequest(h.Slots, http.MethodGet, "/api/v1/availability/slots?profile_id=p1&date=2026-01-06", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	if body := strings.TrimSpace(rw.Body.String()); body != "[]" {
		t.Fatalf("expected empty array, got %s", body)
	}
}

func TestSlotsUsesProfileTimezone(t *testing.T) {
	fs := newFakeStore()
	fs.seed("p1", "America/New_York", mondayConfig())
	h := newTestHandler(fs)

	rw := doRequest(h.Slots, http.MethodGet, "/api/v1/availability/slots?profile_id=p1&date=2026-01-05", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	var items []slotItem
	if err := json.Unmarshal(rw.Body.Bytes(), &items); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	// 09:00 in New York is 14:00 UTC in January.
	if len(items) == 0 || items[0].StartTime != "2026-01-05T14:00:00Z" {
		t.Fatalf("expected first slot at 14:00Z, got %+v", items)
	}
}

func TestSlotsEnforceWindow(t *testing.T) {
	fs := newFakeStore()
	cfg := mondayConfig()
	cfg.Window = schedule.BookingWindow{MinNoticeMinutes: 60, MaxAdvanceDays: 2}
	fs.seed("p1", "UTC", cfg)
	h := newTestHandler(fs)

	// testNow is 2026-01-01; 2026-01-05 is beyond the 2-day advance limit.
	rw := doRequest(h.Slots, http.MethodGet,
		"/api/v1/availability/slots?profile_id=p1&date=2026-01-05&enforce_window=true", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	if body := strings.TrimSpace(rw.Body.String()); body != "[]" {
		t.Fatalf("expected all slots filtered, got %s", body)
	}

	// Without the flag the same date yields slots.
	rw = doRequest(h.Slots, http.MethodGet, "/api/v1/availability/slots?profile_id=p1&date=2026-01-05", "")
	var items []slotItem
	if err := json.Unmarshal(rw.Body.Bytes(), &items); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 slots without enforcement, got %d", len(items))
	}
}

func TestSlotsRejectsBadParams(t *testing.T) {
	fs := newFakeStore()
	fs.seed("p1", "UTC", mondayConfig())
	h := newTestHandler(fs)

	if rw := doRequest(h.Slots, http.MethodGet, "/api/v1/availability/slots?date=2026-01-05", ""); rw.Code != http.StatusBadRequest {
		t.Fatalf("missing profile id: expected 400, got %d", rw.Code)
	}
	if rw := doRequest(h.Slots, http.MethodGet, "/api/v1/availability/slots?profile_id=p1", ""); rw.Code != http.StatusBadRequest {
		t.Fatalf("missing date: expected 400, got %d", rw.Code)
	}
	if rw := doRequest(h.Slots, http.MethodGet, "/api/v1/availability/slots?profile_id=p1&date=05-01-2026", ""); rw.Code != http.StatusBadRequest {
		t.Fatalf("bad date: expected 400, got %d", rw.Code)
	}
	if rw := doRequest(h.Slots, http.MethodGet, "/api/v1/availability/slots?profile_id=ghost&date=2026-01-05", ""); rw.Code != http.StatusNotFound {
		t.Fatalf("unknown profile: expected 404, got %d", rw.Code)
	}
}

func TestCheck(t *testing.T) {
	fs := newFakeStore()
	fs.seed("p1", "UTC", mondayConfig())
	h := newTestHandler(fs)

	check := func(start, end, extra string) (int, bool) {
		target := "/api/v1/availability/check?profile_id=p1&start=" + start + "&end=" + end + extra
		rw := doRequest(h.Check, http.MethodGet, target, "")
		var resp map[string]bool
		_ = json.Unmarshal(rw.Body.Bytes(), &resp)
		return rw.Code, resp["available"]
	}

	if code, ok := check("2026-01-05T09:30:00Z", "2026-01-05T10:15:00Z", ""); code != http.StatusOK || !ok {
		t.Fatalf("inside hours: got code=%d available=%v", code, ok)
	}
	if code, ok := check("2026-01-05T11:30:00Z", "2026-01-05T12:30:00Z", ""); code != http.StatusOK || ok {
		t.Fatalf("past closing: got code=%d available=%v", code, ok)
	}
	if code, _ := check("2026-01-05T10:00:00Z", "2026-01-05T09:00:00Z", ""); code != http.StatusBadRequest {
		t.Fatalf("end before start: expected 400, got %d", code)
	}
	if code, _ := check("not-a-time", "2026-01-05T10:00:00Z", ""); code != http.StatusBadRequest {
		t.Fatalf("bad start: expected 400, got %d", code)
	}
}

func TestCheckEnforceWindow(t *testing.T) {
	fs := newFakeStore()
	cfg := mondayConfig()
	cfg.Window = schedule.BookingWindow{MinNoticeMinutes: 60, MaxAdvanceDays: 2}
	fs.seed("p1", "UTC", cfg)
	h := newTestHandler(fs)

	target := "/api/v1/availability/check?profile_id=p1" +
		"&start=2026-01-05T09:00:00Z&end=2026-01-05T10:00:00Z&enforce_window=true"
	rw := doRequest(h.Check, http.MethodGet, target, "")
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	var resp map[string]bool
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["available"] {
		t.Fatal("interval beyond max advance should be rejected when enforced")
	}
}
