// Package flaresolverr is the non-interactive renderer backend. Each renderer
// owns one FlareSolverr browser session; every poll re-requests the page
// inside that session so clearance cookies carry over between polls.
package flaresolverr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"stream-resolver-go/pkg/logging"
)

// Cookie is a cookie as FlareSolverr reports and accepts it.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
}

// Solution is the rendered result of a request command.
type Solution struct {
	URL       string   `json:"url"`
	Status    int      `json:"status"`
	Response  string   `json:"response"`
	Cookies   []Cookie `json:"cookies"`
	UserAgent string   `json:"userAgent"`
}

// Response is the envelope of every command.
type Response struct {
	Status    string   `json:"status"`
	Message   string   `json:"message"`
	StartTime int64    `json:"startTimestamp"`
	EndTime   int64    `json:"endTimestamp"`
	Version   string   `json:"version"`
	Session   string   `json:"session,omitempty"`
	Solution  Solution `json:"solution"`
}

// Request is a command body.
type Request struct {
	Cmd        string   `json:"cmd"`
	URL        string   `json:"url,omitempty"`
	MaxTimeout int      `json:"maxTimeout,omitempty"`
	Cookies    []Cookie `json:"cookies,omitempty"`
	Session    string   `json:"session,omitempty"`
}

// Commands.
const (
	cmdGet            = "request.get"
	cmdSessionCreate  = "sessions.create"
	cmdSessionDestroy = "sessions.destroy"
)

// Client talks to a FlareSolverr instance.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	log        *logging.Logger
}

// NewClient creates a new FlareSolverr client.
func NewClient(baseURL string, timeout time.Duration, log *logging.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout + 10*time.Second, // Add buffer for network overhead
		},
		log: log.WithComponent("flaresolverr"),
	}
}

// IsConfigured returns true if the client has an endpoint.
func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

// Get renders targetURL, inside session when one is given.
func (c *Client) Get(ctx context.Context, targetURL, session string, cookies []Cookie) (*Solution, error) {
	c.log.Debug("rendering via FlareSolverr", "url", targetURL, "session", session)

	resp, err := c.command(ctx, Request{
		Cmd:        cmdGet,
		URL:        targetURL,
		MaxTimeout: int(c.timeout.Milliseconds()),
		Cookies:    cookies,
		Session:    session,
	})
	if err != nil {
		return nil, err
	}

	c.log.Debug("FlareSolverr request successful",
		"url", targetURL,
		"status", resp.Solution.Status,
		"cookies", len(resp.Solution.Cookies),
		"response_length", len(resp.Solution.Response))

	return &resp.Solution, nil
}

// CreateSession starts a persistent browser session and returns its ID.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	resp, err := c.command(ctx, Request{Cmd: cmdSessionCreate})
	if err != nil {
		return "", err
	}
	if resp.Session == "" {
		return "", fmt.Errorf("FlareSolverr returned no session id")
	}
	return resp.Session, nil
}

// DestroySession tears a session down.
func (c *Client) DestroySession(ctx context.Context, session string) error {
	_, err := c.command(ctx, Request{Cmd: cmdSessionDestroy, Session: session})
	return err
}

func (c *Client) command(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("FlareSolverr returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var fsResp Response
	if err := json.Unmarshal(respBody, &fsResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if fsResp.Status != "ok" {
		return nil, fmt.Errorf("FlareSolverr error: %s", fsResp.Message)
	}

	return &fsResp, nil
}

// ToHTTPCookies converts FlareSolverr cookies to http.Cookie slice.
func ToHTTPCookies(cookies []Cookie) []*http.Cookie {
	result := make([]*http.Cookie, len(cookies))
	for i, cookie := range cookies {
		result[i] = &http.Cookie{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Domain:   cookie.Domain,
			Path:     cookie.Path,
			Secure:   cookie.Secure,
			HttpOnly: cookie.HTTPOnly,
		}
		if cookie.Expires > 0 {
			result[i].Expires = time.Unix(int64(cookie.Expires), 0)
		}
	}
	return result
}

// FromHTTPCookies converts cookies into the form FlareSolverr accepts.
func FromHTTPCookies(cookies []*http.Cookie) []Cookie {
	result := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		result = append(result, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		})
	}
	return result
}
