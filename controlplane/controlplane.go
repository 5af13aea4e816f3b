// Package controlplane implements the HTTP client adapter a measurement
// server/client uses to talk to the control server: registration,
// liveness ping, deregistration, server discovery, and result upload.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-retryablehttp"
)

var validate = validator.New()

// ServerTypeDetail describes one listening endpoint of a measurement
// server, spec.md §6.2.
type ServerTypeDetail struct {
	ServerType string `json:"serverType" validate:"required"`
	Port       int    `json:"port" validate:"required"`
	PortSsl    int    `json:"portSsl,omitempty"`
	Encrypted  bool   `json:"encrypted"`
}

// Location is the server record's geographic position.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ServerRecord is one entry in the control server's discovery list,
// spec.md §6.2.
type ServerRecord struct {
	ID               int                `json:"id"`
	UUID             string             `json:"uuid,omitempty"`
	Name             string             `json:"name" validate:"required"`
	WebAddress       string             `json:"webAddress" validate:"required"`
	IPAddress        string             `json:"ipAddress,omitempty"`
	Location         Location           `json:"location" validate:"required"`
	Distance         float64            `json:"distance"`
	Version          string             `json:"version,omitempty"`
	ServerTypeDetails []ServerTypeDetail `json:"serverTypeDetails"`
}

// SavedResult is the body of POST /measurement/save, spec.md §4.8.
// Speeds are stored in hundredths of a Mbit/s; PingMedian in nanoseconds.
type SavedResult struct {
	OpenTestUUID   string `json:"openTestUuid" validate:"required"`
	ClientUUID     string `json:"clientUuid" validate:"required"`
	SpeedDownload  int64  `json:"speedDownload"`
	SpeedUpload    int64  `json:"speedUpload"`
	PingMedian     int64  `json:"pingMedian"`
	Time           int64  `json:"time"`
	ClientVersion  string `json:"clientVersion"`
	ConnectionType string `json:"connectionType,omitempty"`
	ThreadsNumber  int    `json:"threadsNumber"`
	CommitHash     string `json:"commitHash,omitempty"`
}

// RegisterRequest is the body of POST /measurementServer/auto-register.
type RegisterRequest struct {
	Token    string `json:"token" validate:"required"`
	TCPPort  int    `json:"tcpPort" validate:"required"`
	TLSPort  int    `json:"tlsPort,omitempty"`
	Version  string `json:"version" validate:"required"`
	Hostname string `json:"hostname,omitempty"`
}

// Client is the control-plane HTTP adapter. BaseURL is the measurement
// server's own control endpoint (auto-register/ping/auto-deregister);
// ControlServerURL is the separate discovery endpoint (spec.md §4.8's
// "GET <control-server-URL>").
type Client struct {
	BaseURL          string
	ControlServerURL string
	ClientTag        string
	HTTPClient       *http.Client
	retrying         *retryablehttp.Client
}

// New builds a Client with sane defaults: a plain http.Client for the
// fatal auto-register call, and a retryablehttp.Client (silenced
// internal logging) for the best-effort ping/result-upload calls.
func New(baseURL, controlServerURL, clientTag string) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = 3
	return &Client{
		BaseURL:          baseURL,
		ControlServerURL: controlServerURL,
		ClientTag:        clientTag,
		HTTPClient:       &http.Client{Timeout: 10 * time.Second},
		retrying:         rc,
	}
}

func (c *Client) setHeaders(h http.Header) {
	h.Set("Content-Type", "application/json")
	if c.ClientTag != "" {
		h.Set("x-nettest-client", c.ClientTag)
	}
}

// AutoRegister registers the measurement server on startup. Non-2xx or
// transport failure is fatal, spec.md §4.8.
func (c *Client) AutoRegister(ctx context.Context, req RegisterRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("controlplane: invalid register request: %w", err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("controlplane: encode register request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/measurementServer/auto-register", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("controlplane: build register request: %w", err)
	}
	c.setHeaders(httpReq.Header)
	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("controlplane: auto-register: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("controlplane: auto-register: status %d", resp.StatusCode)
	}
	return nil
}

// Ping sends a heartbeat. Failures are returned to the caller for
// logging but are never fatal, spec.md §4.8 ("non-2xx logged, not
// fatal"); go-retryablehttp absorbs transient network blips.
func (c *Client) Ping(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{"message": "PING"})
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/measurementServer/ping", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("controlplane: build ping request: %w", err)
	}
	c.setHeaders(httpReq.Header)
	resp, err := c.retrying.Do(httpReq)
	if err != nil {
		return fmt.Errorf("controlplane: ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("controlplane: ping: status %d", resp.StatusCode)
	}
	return nil
}

// AutoDeregister removes the server record on graceful shutdown.
func (c *Client) AutoDeregister(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.BaseURL+"/measurementServer/auto-deregister", nil)
	if err != nil {
		return fmt.Errorf("controlplane: build deregister request: %w", err)
	}
	c.setHeaders(httpReq.Header)
	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("controlplane: auto-deregister: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("controlplane: auto-deregister: status %d", resp.StatusCode)
	}
	return nil
}

// Discover fetches the candidate server list from ControlServerURL and
// drops records that fail validation or report a version below
// minVersion (records without a version are kept), spec.md §4.8. It
// does not pick a server; ClosestServer does that.
func (c *Client) Discover(ctx context.Context, minVersion string) ([]ServerRecord, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ControlServerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("controlplane: build discover request: %w", err)
	}
	c.setHeaders(httpReq.Header)
	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("controlplane: discover: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("controlplane: discover: status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("controlplane: read discover body: %w", err)
	}
	var records []ServerRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("controlplane: decode discover body: %w", err)
	}
	filtered := records[:0]
	for _, r := range records {
		if err := validate.Struct(r); err != nil {
			continue
		}
		if r.Version != "" && versionLess(r.Version, minVersion) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

// ClosestServer picks the minimum-distance record from a discovery
// list, spec.md §4.8 ("picks minimum-distance").
func ClosestServer(records []ServerRecord) (ServerRecord, bool) {
	if len(records) == 0 {
		return ServerRecord{}, false
	}
	best := records[0]
	for _, r := range records[1:] {
		if r.Distance < best.Distance {
			best = r
		}
	}
	return best, true
}

// SaveResult uploads a completed measurement. Best-effort: retries
// transient failures through go-retryablehttp but does not block
// overall success on this call, spec.md §4.8.
func (c *Client) SaveResult(ctx context.Context, res SavedResult) error {
	if err := validate.Struct(res); err != nil {
		return fmt.Errorf("controlplane: invalid saved result: %w", err)
	}
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("controlplane: encode saved result: %w", err)
	}
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/measurement/save", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("controlplane: build save request: %w", err)
	}
	c.setHeaders(httpReq.Header)
	resp, err := c.retrying.Do(httpReq)
	if err != nil {
		return fmt.Errorf("controlplane: save result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("controlplane: save result: status %d", resp.StatusCode)
	}
	return nil
}

// versionLess reports whether v is strictly less than min under simple
// dotted-numeric "major.minor.patch" comparison (spec.md §4.8's
// "filters by version >= 2.0.0"); non-numeric or short components
// compare as 0.
func versionLess(v, min string) bool {
	vp := splitVersion(v)
	mp := splitVersion(min)
	for i := 0; i < 3; i++ {
		if vp[i] != mp[i] {
			return vp[i] < mp[i]
		}
	}
	return false
}

func splitVersion(v string) [3]int {
	var out [3]int
	part := 0
	val := 0
	have := false
	for _, r := range v {
		if r >= '0' && r <= '9' {
			val = val*10 + int(r-'0')
			have = true
			continue
		}
		if r == '.' {
			if part < 3 {
				out[part] = val
			}
			part++
			val = 0
			have = false
			if part >= 3 {
				break
			}
			continue
		}
		break
	}
	if have && part < 3 {
		out[part] = val
	}
	return out
}
