package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/dukerupert/dayboard/internal/auth"
	"github.com/dukerupert/dayboard/internal/store"
	"github.com/dukerupert/dayboard/internal/websocket"
)

var timeFormatRegexp = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

var themes = map[string]bool{"garden": true, "ocean": true, "night": true}

type SettingsHandler struct {
	settings *store.SettingsStore
	notifier Notifier
	logger   *slog.Logger
}

func NewSettingsHandler(ss *store.SettingsStore, notifier Notifier, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{settings: ss, notifier: notifier, logger: logger}
}

func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.GetAll(auth.HouseholdID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateSettings(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hid := auth.HouseholdID(r.Context())
	for key, value := range req {
		if err := h.settings.Set(hid, key, value); err != nil {
			h.logger.Error("save setting", "error", err, "household_id", hid, "key", key)
			writeError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
	}

	h.notifier.BroadcastHousehold(hid, websocket.NewMessage(websocket.EntitySettings, websocket.ActionUpdated, hid, nil))

	settings, err := h.settings.GetAll(hid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func validateSettings(settings map[string]string) error {
	for key, value := range settings {
		if _, ok := store.DefaultSettings[key]; !ok {
			return fmt.Errorf("unknown setting: %s", key)
		}

		switch key {
		case "week_start":
			if value != "sunday" && value != "monday" {
				return fmt.Errorf("week_start must be \"sunday\" or \"monday\"")
			}
		case "timezone":
			if _, err := time.LoadLocation(value); err != nil || value == "" {
				return fmt.Errorf("timezone must be an IANA zone name")
			}
		case "theme":
			if !themes[value] {
				return fmt.Errorf("unknown theme: %s", value)
			}
		case "quiet_hours_enabled":
			if value != "true" && value != "false" {
				return fmt.Errorf("%s must be \"true\" or \"false\"", key)
			}
		case "quiet_hours_start", "quiet_hours_end":
			if !timeFormatRegexp.MatchString(value) {
				return fmt.Errorf("%s must be HH:MM format", key)
			}
		}
	}
	return nil
}
