package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"gps-station/internal/codec"
	"gps-station/internal/pipeline"
)

// ErrUnexpectedStatus is returned when the backend answers with a status other
// than the one the call expects.
var ErrUnexpectedStatus = errors.New("backend returned unexpected status")

// Paths are the backend endpoints relative to the base URL.
type Paths struct {
	AddLocation     string
	PendingCommands string
	CompleteCommand string
}

func DefaultPaths() Paths {
	return Paths{
		AddLocation:     "/tracker/add-location/",
		PendingCommands: "/tracker/pending-commands/",
		CompleteCommand: "/tracker/mark-command-complete/",
	}
}

// CommandID accepts both string and numeric ids from the backend.
type CommandID string

func (id *CommandID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = CommandID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("command id: %w", err)
	}
	*id = CommandID(n.String())
	return nil
}

// Command is a downlink command stored by the backend.
type Command struct {
	ID                 CommandID `json:"id"`
	DeviceSerialNumber string    `json:"device_serial_number"`
	Code               string    `json:"command_code"`
	Fulfilled          bool      `json:"fulfilled"`
}

// Client talks to the HTTP backend. One instance with one *http.Client is shared
// by every session.
type Client struct {
	baseURL string
	paths   Paths
	http    *http.Client
}

func NewClient(baseURL string, paths Paths, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), paths: paths, http: hc}
}

// PostLocation stores one record. The backend answers 201; its body may carry a
// command that is still waiting for this device, which is returned when unfulfilled.
func (c *Client) PostLocation(ctx context.Context, loc *codec.Location) (*Command, error) {
	body := pipeline.ToForm(loc).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.paths.AddLocation, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post location: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("post location: %w: %d %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var cmd Command
	if len(raw) == 0 || json.Unmarshal(raw, &cmd) != nil {
		return nil, nil
	}
	if cmd.Code == "" || cmd.Fulfilled {
		return nil, nil
	}
	if cmd.DeviceSerialNumber == "" {
		cmd.DeviceSerialNumber = loc.DeviceSerialNumber
	}
	return &cmd, nil
}

// PendingCommands lists the unfulfilled commands queued for a device.
func (c *Client) PendingCommands(ctx context.Context, deviceID string) ([]Command, error) {
	u := c.baseURL + c.paths.PendingCommands + "?" + url.Values{"device_serial_number": {deviceID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pending commands: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("pending commands: %w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var cmds []Command
	if err := json.NewDecoder(resp.Body).Decode(&cmds); err != nil {
		return nil, fmt.Errorf("pending commands: decode: %w", err)
	}

	out := cmds[:0]
	for _, cmd := range cmds {
		if cmd.Fulfilled || cmd.Code == "" {
			continue
		}
		if cmd.DeviceSerialNumber == "" {
			cmd.DeviceSerialNumber = deviceID
		}
		out = append(out, cmd)
	}
	return out, nil
}

// MarkCommandComplete acknowledges a delivered command by id.
func (c *Client) MarkCommandComplete(ctx context.Context, id CommandID) error {
	body := url.Values{"id": {string(id)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.paths.CompleteCommand, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mark command complete: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mark command complete: %w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}
