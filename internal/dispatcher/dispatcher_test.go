package dispatcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gps-station/internal/link"
	"gps-station/internal/registry"
)

const serial = "3009106027"

var fixedNow = time.Date(2025, 1, 1, 13, 3, 5, 0, time.UTC)

type fakeDownlink struct {
	mu     sync.Mutex
	frames []string
	err    error
}

func (f *fakeDownlink) Send(_ context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, string(frame))
	return nil
}

func (f *fakeDownlink) RemoteAddr() string { return "10.0.0.7:41000" }

func (f *fakeDownlink) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

type fakeCompleter struct {
	mu  sync.Mutex
	ids []link.CommandID
	err error
}

func (f *fakeCompleter) MarkCommandComplete(_ context.Context, id link.CommandID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return f.err
}

type fakeQuota struct {
	count map[string]int64
	err   error
}

func (q *fakeQuota) IncDailyCmdCounter(_ context.Context, imei, cmd string, limit int) (bool, int64, error) {
	if q.err != nil {
		return false, 0, q.err
	}
	q.count[imei+":"+cmd]++
	n := q.count[imei+":"+cmd]
	return n <= int64(limit), n, nil
}

func (q *fakeQuota) RefundDailyCmdCounter(_ context.Context, imei, cmd string) error {
	q.count[imei+":"+cmd]--
	return nil
}

func newTestDispatcher(opts Options) (*Dispatcher, *registry.Registry, *fakeDownlink, *fakeCompleter) {
	devices := registry.New()
	dl := &fakeDownlink{}
	devices.Register(serial, dl)
	completer := &fakeCompleter{}
	d := New(devices, completer, slog.New(slog.NewTextHandler(io.Discard, nil)), opts)
	d.now = func() time.Time { return fixedNow }
	return d, devices, dl, completer
}

func TestParseOperatorCommand(t *testing.T) {
	cmd, err := ParseOperatorCommand(" h02,3009106027,cut_fuel ")
	require.NoError(t, err)
	assert.Equal(t, Command{DeviceID: serial, Code: "CUT_FUEL"}, cmd)

	bad := []string{
		"",
		"H02,3009106027",
		"GT06,3009106027,CUT_FUEL",
		"H02,30091,CUT_FUEL",
		"H02,3009106027,SELF_DESTRUCT",
		"H02,3009106027,CUT_FUEL,extra",
	}
	for _, text := range bad {
		_, err := ParseOperatorCommand(text)
		assert.ErrorIs(t, err, ErrUnknownCommand, text)
	}
}

func TestCommandFrame(t *testing.T) {
	cases := []struct {
		code string
		want string
		name string
	}{
		{"CUT_FUEL", "*HQ,3009106027,S20,130305,1,1#", "CUT_FUEL"},
		{"enable_fuel", "*HQ,3009106027,S20,130305,1,0#", "ENABLE_FUEL"},
		{"CLEAR_ALARMS", "*HQ,3009106027,R7,130305#", "CLEAR_ALARMS"},
		{"*HQ,3009106027,S20,130305,1,1#", "*HQ,3009106027,S20,130305,1,1#", "RAW"},
	}
	for _, tc := range cases {
		cmd := Command{DeviceID: serial, Code: tc.code}
		frame, err := cmd.Frame(fixedNow)
		require.NoError(t, err, tc.code)
		assert.Equal(t, tc.want, string(frame))
		assert.Equal(t, tc.name, cmd.Name())
	}

	for _, code := range []string{"*HQ,9999999999,R7,130305#", "*HQ,3009106027,R7", "REBOOT"} {
		_, err := Command{DeviceID: serial, Code: code}.Frame(fixedNow)
		assert.ErrorIs(t, err, ErrUnknownCommand, code)
	}
}

func TestDispatcher_SendBackendCommand(t *testing.T) {
	d, _, dl, completer := newTestDispatcher(Options{})

	err := d.Deliver(context.Background(), link.Command{ID: "12", DeviceSerialNumber: serial, Code: "CUT_FUEL"})
	require.NoError(t, err)

	assert.Equal(t, []string{"*HQ,3009106027,S20,130305,1,1#"}, dl.sent())
	assert.Equal(t, []link.CommandID{"12"}, completer.ids)
}

func TestDispatcher_OperatorCommandNotMarked(t *testing.T) {
	d, _, dl, completer := newTestDispatcher(Options{})

	require.NoError(t, d.Send(context.Background(), Command{DeviceID: serial, Code: "ENABLE_FUEL"}))
	assert.Len(t, dl.sent(), 1)
	assert.Empty(t, completer.ids)
}

func TestDispatcher_NoLiveConnection(t *testing.T) {
	d, _, _, completer := newTestDispatcher(Options{})

	start := time.Now()
	err := d.Send(context.Background(), Command{ID: "1", DeviceID: "1111111111", Code: "CUT_FUEL"})
	assert.ErrorIs(t, err, ErrNoLiveConnection)
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, completer.ids)
}

func TestDispatcher_RateLimited(t *testing.T) {
	d, _, dl, _ := newTestDispatcher(Options{Rate: 0.001, Burst: 1})

	require.NoError(t, d.Send(context.Background(), Command{DeviceID: serial, Code: "CUT_FUEL"}))
	err := d.Send(context.Background(), Command{DeviceID: serial, Code: "ENABLE_FUEL"})
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Len(t, dl.sent(), 1)
}

func TestDispatcher_DailyLimit(t *testing.T) {
	quota := &fakeQuota{count: map[string]int64{}}
	d, _, dl, _ := newTestDispatcher(Options{Rate: 1000, Burst: 10, DailyLimit: 2, Quota: quota})

	ctx := context.Background()
	require.NoError(t, d.Send(ctx, Command{DeviceID: serial, Code: "CUT_FUEL"}))
	require.NoError(t, d.Send(ctx, Command{DeviceID: serial, Code: "CUT_FUEL"}))
	assert.ErrorIs(t, d.Send(ctx, Command{DeviceID: serial, Code: "CUT_FUEL"}), ErrDailyLimit)
	require.NoError(t, d.Send(ctx, Command{DeviceID: serial, Code: "ENABLE_FUEL"}))
	assert.Len(t, dl.sent(), 3)

	quota.err = errors.New("redis down")
	require.NoError(t, d.Send(ctx, Command{DeviceID: serial, Code: "CUT_FUEL"}))
}

func TestDispatcher_SendFailureNotMarked(t *testing.T) {
	d, _, dl, completer := newTestDispatcher(Options{})
	dl.err = errors.New("broken pipe")

	err := d.Deliver(context.Background(), link.Command{ID: "5", DeviceSerialNumber: serial, Code: "CUT_FUEL"})
	require.Error(t, err)
	assert.Empty(t, completer.ids)
}

func TestDispatcher_SendFailureRefunds(t *testing.T) {
	quota := &fakeQuota{count: map[string]int64{}}
	d, _, dl, _ := newTestDispatcher(Options{Rate: 0.001, Burst: 1, DailyLimit: 1, Quota: quota})
	ctx := context.Background()

	dl.err = errors.New("broken pipe")
	err := d.Send(ctx, Command{DeviceID: serial, Code: "CUT_FUEL"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimited)
	assert.Zero(t, quota.count[serial+":CUT_FUEL"])

	// the failed write spent neither the token nor the daily slot
	dl.err = nil
	require.NoError(t, d.Send(ctx, Command{DeviceID: serial, Code: "CUT_FUEL"}))
	assert.Len(t, dl.sent(), 1)
	assert.Equal(t, int64(1), quota.count[serial+":CUT_FUEL"])
}

func TestDispatcher_DailyLimitKeepsRateToken(t *testing.T) {
	quota := &fakeQuota{count: map[string]int64{serial + ":CUT_FUEL": 1}}
	d, _, dl, _ := newTestDispatcher(Options{Rate: 0.001, Burst: 1, DailyLimit: 1, Quota: quota})
	ctx := context.Background()

	assert.ErrorIs(t, d.Send(ctx, Command{DeviceID: serial, Code: "CUT_FUEL"}), ErrDailyLimit)
	require.NoError(t, d.Send(ctx, Command{DeviceID: serial, Code: "ENABLE_FUEL"}))
	assert.Equal(t, []string{"*HQ,3009106027,S20,130305,1,0#"}, dl.sent())
}

func TestDispatcher_Prune(t *testing.T) {
	d, devices, dl, _ := newTestDispatcher(Options{Rate: 0.001, Burst: 1})
	other := &fakeDownlink{}
	devices.Register("2222222222", other)
	ctx := context.Background()

	require.NoError(t, d.Send(ctx, Command{DeviceID: serial, Code: "CUT_FUEL"}))
	require.NoError(t, d.Send(ctx, Command{DeviceID: "2222222222", Code: "CUT_FUEL"}))
	assert.Len(t, d.limiters, 2)

	require.True(t, devices.Remove(serial, dl))
	assert.Equal(t, 1, d.Prune())
	assert.Len(t, d.limiters, 1)
	assert.Contains(t, d.limiters, "2222222222")

	// a reconnected device starts with fresh rate state
	devices.Register(serial, dl)
	require.NoError(t, d.Send(ctx, Command{DeviceID: serial, Code: "ENABLE_FUEL"}))
	assert.Zero(t, d.Prune())
}

func TestDispatcher_MarkCompleteFailure(t *testing.T) {
	d, _, dl, completer := newTestDispatcher(Options{})
	completer.err = link.ErrUnexpectedStatus

	err := d.Deliver(context.Background(), link.Command{ID: "5", DeviceSerialNumber: serial, Code: "CUT_FUEL"})
	assert.ErrorIs(t, err, link.ErrUnexpectedStatus)
	assert.Len(t, dl.sent(), 1)
}

type fakeSource struct {
	mu       sync.Mutex
	pending  map[string][]link.Command
	requests []string
}

func (s *fakeSource) PendingCommands(_ context.Context, deviceID string) ([]link.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, deviceID)
	if deviceID == "2222222222" {
		return nil, link.ErrUnexpectedStatus
	}
	return s.pending[deviceID], nil
}

func TestPoller_Poll(t *testing.T) {
	d, devices, dl, completer := newTestDispatcher(Options{Rate: 1000, Burst: 10})
	devices.Register("2222222222", &fakeDownlink{})

	src := &fakeSource{pending: map[string][]link.Command{
		serial: {
			{ID: "1", DeviceSerialNumber: serial, Code: "CUT_FUEL"},
			{ID: "2", DeviceSerialNumber: serial, Code: "BOGUS"},
		},
	}}
	p := NewPoller(src, devices, d, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Equal(t, 1, p.Poll(context.Background()))
	assert.ElementsMatch(t, []string{serial, "2222222222"}, src.requests)
	assert.Equal(t, []string{"*HQ,3009106027,S20,130305,1,1#"}, dl.sent())
	assert.Equal(t, []link.CommandID{"1"}, completer.ids)
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	d, devices, _, _ := newTestDispatcher(Options{})
	p := NewPoller(&fakeSource{}, devices, d, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
