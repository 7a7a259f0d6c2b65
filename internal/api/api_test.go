package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gps-station/internal/dispatcher"
	"gps-station/internal/registry"
)

type fakeDownlink struct{ addr string }

func (f fakeDownlink) Send(context.Context, []byte) error { return nil }
func (f fakeDownlink) RemoteAddr() string { return f.addr }

type fakeSender struct {
	got []dispatcher.Command
	err error
}

func (s *fakeSender) Send(_ context.Context, cmd dispatcher.Command) error {
	s.got = append(s.got, cmd)
	return s.err
}

func newTestMux(sender Sender) (*http.ServeMux, *registry.Registry) {
	devices := registry.New()
	devices.Register("3009106027", fakeDownlink{addr: "10.0.0.7:41000"})
	feed := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	return NewMux(devices, sender, feed, slog.New(slog.NewTextHandler(io.Discard, nil))), devices
}

func do(mux http.Handler, method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestListDevices(t *testing.T) {
	mux, _ := newTestMux(&fakeSender{})

	rec := do(mux, http.MethodGet, "/devices", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []deviceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []deviceView{{IMEI: "3009106027", Remote: "10.0.0.7:41000"}}, got)
}

func TestPostCommand(t *testing.T) {
	sender := &fakeSender{}
	mux, _ := newTestMux(sender)

	rec := do(mux, http.MethodPost, "/commands", "text/plain", "H02,3009106027,CUT_FUEL")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(mux, http.MethodPost, "/commands", "application/json", `{"device_serial_number":"3009106027","command":"enable_fuel"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cmd":"ENABLE_FUEL"`)

	require.Len(t, sender.got, 2)
	assert.Equal(t, dispatcher.Command{DeviceID: "3009106027", Code: "CUT_FUEL"}, sender.got[0])
	assert.Equal(t, "ENABLE_FUEL", sender.got[1].Code)
}

func TestPostCommand_Errors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		body string
		want int
	}{
		{"bad text", nil, "H02,3009106027,EXPLODE", http.StatusBadRequest},
		{"offline", dispatcher.ErrNoLiveConnection, "H02,3009106027,CUT_FUEL", http.StatusNotFound},
		{"rate", dispatcher.ErrRateLimited, "H02,3009106027,CUT_FUEL", http.StatusTooManyRequests},
		{"daily", dispatcher.ErrDailyLimit, "H02,3009106027,CUT_FUEL", http.StatusTooManyRequests},
		{"write", errors.New("broken pipe"), "H02,3009106027,CUT_FUEL", http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux, _ := newTestMux(&fakeSender{err: tc.err})
			rec := do(mux, http.MethodPost, "/commands", "text/plain", tc.body)
			assert.Equal(t, tc.want, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}

	mux, _ := newTestMux(&fakeSender{})
	rec := do(mux, http.MethodPost, "/commands", "application/json", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMuxRoutes(t *testing.T) {
	mux, _ := newTestMux(&fakeSender{})

	assert.Equal(t, http.StatusOK, do(mux, http.MethodGet, "/healthz", "", "").Code)
	assert.Equal(t, http.StatusTeapot, do(mux, http.MethodGet, "/feed", "", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(mux, http.MethodGet, "/commands", "", "").Code)
}
