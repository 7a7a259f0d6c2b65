// Package api is the operator HTTP surface of the station.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"gps-station/internal/dispatcher"
	"gps-station/internal/observability"
	"gps-station/internal/registry"
)

// Sender delivers operator commands.
type Sender interface {
	Send(ctx context.Context, cmd dispatcher.Command) error
}

type Handler struct {
	devices *registry.Registry
	sender  Sender
	feed    http.Handler
	logger  *slog.Logger
}

type commandRequest struct {
	DeviceSerialNumber string `json:"device_serial_number"`
	Command            string `json:"command"`
}

type deviceView struct {
	IMEI   string `json:"imei"`
	Remote string `json:"remote"`
}

// NewMux builds the admin mux. feed may be nil.
func NewMux(devices *registry.Registry, sender Sender, feed http.Handler, lg *slog.Logger) *http.ServeMux {
	h := &Handler{devices: devices, sender: sender, feed: feed, logger: lg.With("component", "api")}

	mux := http.NewServeMux()
	observability.RegisterHandlers(mux)
	mux.HandleFunc("GET /devices", h.listDevices)
	mux.HandleFunc("POST /commands", h.postCommand)
	if feed != nil {
		mux.Handle("GET /feed", feed)
	}
	return mux
}

func (h *Handler) listDevices(w http.ResponseWriter, _ *http.Request) {
	ids := h.devices.Devices()
	out := make([]deviceView, 0, len(ids))
	for _, id := range ids {
		d, ok := h.devices.Lookup(id)
		if !ok {
			continue
		}
		out = append(out, deviceView{IMEI: id, Remote: d.RemoteAddr()})
	}
	writeJSON(w, http.StatusOK, out)
}

// postCommand accepts {"device_serial_number": "...", "command": "CUT_FUEL"} or
// the operator text form "H02,<serial>,CUT_FUEL".
func (h *Handler) postCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<10))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cmd, err := parseCommand(r.Header.Get("Content-Type"), body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.sender.Send(r.Context(), cmd); err != nil {
		h.logger.Warn("operator command failed", "imei", cmd.DeviceID, "cmd", cmd.Code, "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "sent",
		"imei":   cmd.DeviceID,
		"cmd":    cmd.Name(),
	})
}

func parseCommand(contentType string, body []byte) (dispatcher.Command, error) {
	if strings.HasPrefix(contentType, "application/json") {
		var req commandRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return dispatcher.Command{}, err
		}
		return dispatcher.ParseOperatorCommand("H02," + req.DeviceSerialNumber + "," + req.Command)
	}
	return dispatcher.ParseOperatorCommand(string(body))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatcher.ErrNoLiveConnection):
		return http.StatusNotFound
	case errors.Is(err, dispatcher.ErrRateLimited), errors.Is(err, dispatcher.ErrDailyLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, dispatcher.ErrUnknownCommand):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
