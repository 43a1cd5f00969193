package incontrol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

const maxResponseBytes = 1 << 20

// GPSRecord is the fix information extracted from a GPS response.
type GPSRecord struct {
	Timestamp string
}

// GPSQuerier fetches the last known GPS fix of a device. A nil record with a nil error
// means the device has no GPS data.
type GPSQuerier interface {
	GetGPS(ctx context.Context, token, serial string) (*GPSRecord, error)
}

// Rebooter sends a remote reboot command to a device.
type Rebooter interface {
	Reboot(ctx context.Context, token, serial string) error
}

// rebootAccepted is the set of statuses treated as a successful reboot command.
var rebootAccepted = map[int]struct{}{
	http.StatusOK:        {},
	http.StatusCreated:   {},
	http.StatusAccepted:  {},
	http.StatusNoContent: {},
}

// Client talks to the device management REST API.
type Client struct {
	baseURL    string
	orgID      string
	mapping    Mapping
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a Client for the organisation orgID.
func NewClient(baseURL, orgID string, mapping Mapping, httpClient *http.Client, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		orgID:      orgID,
		mapping:    mapping,
		httpClient: httpClient,
		logger:     logger,
	}
}

// GetGPS queries the GPS endpoint of serial. 404 is reported as absent data.
func (c *Client) GetGPS(ctx context.Context, token, serial string) (*GPSRecord, error) {
	const op = "gps query"

	req, err := c.newRequest(ctx, http.MethodGet, c.mapping.GPSPath, token, serial)
	if err != nil {
		return nil, &APIError{Op: op, Serial: serial, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Op: op, Serial: serial, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &APIError{Op: op, Serial: serial, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode == http.StatusNotFound {
		c.logger.Debug().Str("serial", serial).Msg("GPS endpoint returned not found")
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Op: op, Serial: serial, StatusCode: resp.StatusCode, Err: errors.New(snippet(body))}
	}

	ts, err := extractTimestamp(body, c.mapping.TimestampField)
	if err != nil {
		return nil, &APIError{Op: op, Serial: serial, StatusCode: resp.StatusCode, Err: err}
	}
	return &GPSRecord{Timestamp: ts}, nil
}

// Reboot posts a reboot command for serial.
func (c *Client) Reboot(ctx context.Context, token, serial string) error {
	const op = "reboot"

	req, err := c.newRequest(ctx, http.MethodPost, c.mapping.RebootPath, token, serial)
	if err != nil {
		return &APIError{Op: op, Serial: serial, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Op: op, Serial: serial, Err: err}
	}
	defer resp.Body.Close()

	if _, ok := rebootAccepted[resp.StatusCode]; !ok {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		return &APIError{Op: op, Serial: serial, StatusCode: resp.StatusCode, Err: errors.New(snippet(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, pathTemplate, token, serial string) (*http.Request, error) {
	path := strings.NewReplacer(
		"{org_id}", url.PathEscape(c.orgID),
		"{serial}", url.PathEscape(serial),
	).Replace(pathTemplate)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "empty response body"
	}
	return s
}
