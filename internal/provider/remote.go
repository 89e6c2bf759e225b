package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"
)

// DefaultRequestTimeout bounds a single remote switch request when none is configured.
const DefaultRequestTimeout = 5 * time.Second

// maxReplySize caps how much of a switch reply is read.
const maxReplySize = 4096

// legacyStatePattern matches the plain-text reply form "light state: 1 4821".
var legacyStatePattern = regexp.MustCompile(`state:\s*(\d+)`)

// RemoteSwitch is a network switch controlled over plain HTTP.
//
// Reads issue GET http://<address>/ and writes GET http://<address>/?state=<n>.
// Both reply with the resulting state, either as JSON ({"state":n} or
// {"on":bool}) or in the legacy text form.
//
// Thread Safety: All methods are safe for concurrent use.
type RemoteSwitch struct {
	id         string
	address    string
	baseURL    string
	httpClient *http.Client
}

// RemoteOption configures a RemoteSwitch.
type RemoteOption func(*RemoteSwitch)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *RemoteSwitch) {
		r.httpClient = c
	}
}

// WithBaseURL overrides the URL derived from the address. Used by tests
// that run the switch behind httptest.
func WithBaseURL(u string) RemoteOption {
	return func(r *RemoteSwitch) {
		r.baseURL = u
	}
}

// NewRemoteSwitch creates a remote switch reachable at address (host or host:port).
func NewRemoteSwitch(id, address string, timeout time.Duration, opts ...RemoteOption) *RemoteSwitch {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	r := &RemoteSwitch{
		id:      id,
		address: address,
		baseURL: "http://" + address + "/",
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID returns the provider id.
func (r *RemoteSwitch) ID() string { return r.id }

// Kind returns KindRemote.
func (r *RemoteSwitch) Kind() Kind { return KindRemote }

// Address returns the network address the switch was registered with.
func (r *RemoteSwitch) Address() string { return r.address }

// Get reads the current state of the switch.
func (r *RemoteSwitch) Get(ctx context.Context) (State, error) {
	return r.do(ctx, r.baseURL)
}

// Set writes level to the switch and returns the state it reports back.
func (r *RemoteSwitch) Set(ctx context.Context, level int) (State, error) {
	u, err := url.Parse(r.baseURL)
	if err != nil {
		return State{}, fmt.Errorf("%w: %s: %w", ErrBackend, r.id, err)
	}
	q := u.Query()
	q.Set("state", strconv.Itoa(level))
	u.RawQuery = q.Encode()

	return r.do(ctx, u.String())
}

func (r *RemoteSwitch) do(ctx context.Context, target string) (State, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return State{}, fmt.Errorf("%w: %s: creating request: %w", ErrBackend, r.id, err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return State{}, fmt.Errorf("%w: %s: %w", ErrBackend, r.id, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return State{}, fmt.Errorf("%w: %s: reading reply: %w", ErrBackend, r.id, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return State{}, fmt.Errorf("%w: %s: status %d", ErrBackend, r.id, resp.StatusCode)
	}

	level, err := parseReply(body)
	if err != nil {
		return State{}, fmt.Errorf("%w: %s: %w", ErrBackend, r.id, err)
	}

	return StateAt(r.id, level), nil
}

// switchReply is the JSON reply form. Either field may be present.
type switchReply struct {
	State *int  `json:"state"`
	On    *bool `json:"on"`
}

// parseReply extracts a numeric level from a switch reply body.
func parseReply(body []byte) (int, error) {
	var reply switchReply
	if err := json.Unmarshal(body, &reply); err == nil {
		switch {
		case reply.State != nil && *reply.State >= 0:
			return *reply.State, nil
		case reply.On != nil:
			if *reply.On {
				return 1, nil
			}
			return 0, nil
		}
	}

	m := legacyStatePattern.FindSubmatch(body)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrUnparseableState, truncate(body, 64))
	}
	level, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnparseableState, err)
	}
	return level, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
