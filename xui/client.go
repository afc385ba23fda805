package xui

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/multix-dev/multix/database/model"
	"github.com/multix-dev/multix/logger"
	"github.com/multix-dev/multix/util/common"
	"github.com/multix-dev/multix/util/random"
)

// Client is the authenticated channel to one 3x-ui panel instance. It is
// cheap to construct per operation; the expensive part, the login session,
// lives in the shared SessionCache.
type Client struct {
	panelId  int
	baseURL  string
	username string
	password string
	http     *http.Client
	sessions *SessionCache
}

// NewClient builds a remote client for one panel. Redirects are not
// followed so a bounce to the login page stays visible as an auth failure.
func NewClient(panelId int, baseURL, username, password string, timeout time.Duration, sessions *SessionCache) *Client {
	return &Client{
		panelId:  panelId,
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		sessions: sessions,
	}
}

// Login authenticates against the panel and caches the session cookie.
// A 200 response with success=false is still an authentication failure:
// some deployments soft-fail the login endpoint.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("panel connection failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("panel response read failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &common.AuthError{Msg: fmt.Sprintf("login returned status %d", resp.StatusCode)}
	}

	var res apiResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return &common.AuthError{Msg: "login response is not a panel api envelope"}
	}
	if !res.Success {
		return &common.AuthError{Msg: res.Msg}
	}

	cookies := make([]string, 0, 1)
	for _, ck := range resp.Cookies() {
		if ck.Value != "" {
			cookies = append(cookies, ck.Name+"="+ck.Value)
		}
	}
	if len(cookies) == 0 {
		return &common.AuthError{Msg: "login succeeded but no session cookie was issued"}
	}
	c.sessions.Put(c.panelId, strings.Join(cookies, "; "))
	return nil
}

// do performs one API call with the single-retry-on-auth-failure contract:
// attempt, on auth failure re-login once, attempt once more, then fail.
// Transport errors and plain timeouts are never retried.
func (c *Client) do(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	reloggedIn := false
	if _, ok := c.sessions.Get(c.panelId); !ok {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		reloggedIn = true
	}

	for {
		obj, authFailed, err := c.attempt(ctx, method, path, body)
		if err != nil {
			return nil, err
		}
		if !authFailed {
			return obj, nil
		}
		if reloggedIn {
			return nil, &common.AuthError{Msg: "session rejected immediately after re-login"}
		}
		logger.Debugf("panel %d: session expired on %s, re-authenticating", c.panelId, path)
		c.sessions.Invalidate(c.panelId)
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		reloggedIn = true
	}
}

// attempt runs a single request. The bool result reports an authentication
// symptom: 401/403, a redirect to the login page, the login page itself
// served with 200, or a success=false body hinting at an expired session.
func (c *Client) attempt(ctx context.Context, method, path string, body []byte) (json.RawMessage, bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, false, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie, ok := c.sessions.Get(c.panelId); ok {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("panel connection failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("panel response read failed: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, true, nil
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		if strings.Contains(resp.Header.Get("Location"), "login") {
			return nil, true, nil
		}
		return nil, false, &common.APIError{Status: resp.StatusCode, Msg: "unexpected redirect"}
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, fmt.Errorf("%s %s: %w", method, path, common.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, false, &common.APIError{Status: resp.StatusCode, Msg: truncate(string(raw), 200)}
	}

	var res apiResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		if strings.Contains(strings.ToLower(string(raw)), "login") {
			return nil, true, nil
		}
		return nil, false, &common.APIError{Status: resp.StatusCode, Msg: "response is not a panel api envelope"}
	}
	if !res.Success {
		lower := strings.ToLower(res.Msg)
		if strings.Contains(lower, "login") || strings.Contains(lower, "expire") || strings.Contains(lower, "session") || strings.Contains(lower, "unauthor") {
			return nil, true, nil
		}
		if strings.Contains(lower, "not found") || strings.Contains(lower, "no client") {
			return nil, false, fmt.Errorf("%s: %w", res.Msg, common.ErrNotFound)
		}
		return nil, false, &common.APIError{Status: resp.StatusCode, Msg: res.Msg}
	}
	return res.Obj, false, nil
}

// GetInbounds returns the raw remote inbound list.
func (c *Client) GetInbounds(ctx context.Context) ([]Inbound, error) {
	obj, err := c.do(ctx, http.MethodGet, "/panel/api/inbounds/list", nil)
	if err != nil {
		return nil, err
	}
	var inbounds []Inbound
	if err := json.Unmarshal(obj, &inbounds); err != nil {
		return nil, &common.APIError{Status: http.StatusOK, Msg: "malformed inbound list: " + err.Error()}
	}
	return inbounds, nil
}

// GetInbound fetches a single inbound with its client list.
func (c *Client) GetInbound(ctx context.Context, inboundId int) (*Inbound, error) {
	obj, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/panel/api/inbounds/get/%d", inboundId), nil)
	if err != nil {
		return nil, err
	}
	var inbound Inbound
	if err := json.Unmarshal(obj, &inbound); err != nil {
		return nil, &common.APIError{Status: http.StatusOK, Msg: "malformed inbound: " + err.Error()}
	}
	return &inbound, nil
}

// AddClient provisions a client on an inbound and returns its native
// identifier, keyed by protocol, plus a best-effort subscription URL.
func (c *Client) AddClient(ctx context.Context, inboundId int, spec ClientSpec, protocol model.Protocol) (*AddClientResult, error) {
	cc := ClientConfig{
		Email:      spec.Email,
		LimitIP:    spec.LimitIP,
		TotalGB:    spec.TotalGB,
		ExpiryTime: spec.ExpiryTime,
		Enable:     true,
		SubID:      spec.SubID,
	}
	switch protocol {
	case model.VMESS:
		cc.ID = uuid.New().String()
	case model.VLESS:
		cc.ID = uuid.New().String()
		cc.Flow = spec.Flow
	case model.Trojan:
		cc.Password = random.Seq(16)
	case model.Shadowsocks:
		cc.Password = random.Seq(24)
	default:
		return nil, fmt.Errorf("unsupported protocol %q", protocol)
	}

	settings, err := json.Marshal(inboundSettings{Clients: []ClientConfig{cc}})
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"id": inboundId, "settings": string(settings)}
	if _, err := c.do(ctx, http.MethodPost, "/panel/api/inbounds/addClient", payload); err != nil {
		return nil, err
	}

	field, err := FieldFor(protocol)
	if err != nil {
		return nil, err
	}
	var value string
	switch field {
	case FieldUUID:
		value = cc.ID
	case FieldPassword:
		value = cc.Password
	case FieldEmail:
		value = cc.Email
	}

	result := &AddClientResult{
		Identifier: ClientIdentifier{Protocol: protocol, Field: field, Value: value},
	}
	if spec.SubID != "" {
		result.SubURL = c.baseURL + "/sub/" + url.PathEscape(spec.SubID)
	}
	return result, nil
}

// UpdateClient merges updates into an existing client and pushes the
// rewritten entry. The update endpoint is addressed by the protocol key.
func (c *Client) UpdateClient(ctx context.Context, inboundId int, ident ClientIdentifier, updates ClientSpec) error {
	existing, err := c.GetClientDetails(ctx, inboundId, ident)
	if err != nil {
		return err
	}
	if updates.TotalGB != 0 {
		existing.TotalGB = updates.TotalGB
	}
	if updates.ExpiryTime != 0 {
		existing.ExpiryTime = updates.ExpiryTime
	}
	if updates.LimitIP != 0 {
		existing.LimitIP = updates.LimitIP
	}
	if updates.Flow != "" {
		existing.Flow = updates.Flow
	}
	if updates.SubID != "" {
		existing.SubID = updates.SubID
	}
	existing.Enable = true

	settings, err := json.Marshal(inboundSettings{Clients: []ClientConfig{*existing}})
	if err != nil {
		return err
	}
	payload := map[string]any{"id": inboundId, "settings": string(settings)}
	_, err = c.do(ctx, http.MethodPost, "/panel/api/inbounds/updateClient/"+url.PathEscape(ident.Value), payload)
	return err
}

// DeleteClient removes a client from an inbound.
func (c *Client) DeleteClient(ctx context.Context, inboundId int, ident ClientIdentifier) error {
	path := fmt.Sprintf("/panel/api/inbounds/%d/delClient/%s", inboundId, url.PathEscape(ident.Value))
	_, err := c.do(ctx, http.MethodPost, path, nil)
	return err
}

// GetClientTraffic returns the traffic counters for a client, or nil when
// the panel no longer knows the client. Absence is a routine outcome
// (rotated clients, manual panel edits), never an error.
func (c *Client) GetClientTraffic(ctx context.Context, ident ClientIdentifier) (*ClientTraffic, error) {
	switch ident.Field {
	case FieldEmail:
		return c.trafficByEmail(ctx, ident.Value)
	case FieldUUID:
		obj, err := c.do(ctx, http.MethodGet, "/panel/api/inbounds/getClientTrafficsById/"+url.PathEscape(ident.Value), nil)
		if err != nil {
			if common.IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		var traffics []ClientTraffic
		if len(obj) == 0 || string(obj) == "null" {
			return nil, nil
		}
		if err := json.Unmarshal(obj, &traffics); err != nil {
			return nil, &common.APIError{Status: http.StatusOK, Msg: "malformed traffic response: " + err.Error()}
		}
		if len(traffics) == 0 {
			return nil, nil
		}
		return &traffics[0], nil
	case FieldPassword:
		// The panel keys traffic on email, so resolve the email first.
		email, err := c.emailForIdentifier(ctx, ident)
		if err != nil {
			if common.IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		return c.trafficByEmail(ctx, email)
	}
	return nil, fmt.Errorf("unsupported identifier field %q", ident.Field)
}

func (c *Client) trafficByEmail(ctx context.Context, email string) (*ClientTraffic, error) {
	obj, err := c.do(ctx, http.MethodGet, "/panel/api/inbounds/getClientTraffics/"+url.PathEscape(email), nil)
	if err != nil {
		if common.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(obj) == 0 || string(obj) == "null" {
		return nil, nil
	}
	var traffic ClientTraffic
	if err := json.Unmarshal(obj, &traffic); err != nil {
		return nil, &common.APIError{Status: http.StatusOK, Msg: "malformed traffic response: " + err.Error()}
	}
	return &traffic, nil
}

// ResetClientTraffic zeroes the counters for a client. Returns false when
// the client is gone, which callers treat as a no-op.
func (c *Client) ResetClientTraffic(ctx context.Context, inboundId int, ident ClientIdentifier) (bool, error) {
	email := ident.Value
	if ident.Field != FieldEmail {
		details, err := c.GetClientDetails(ctx, inboundId, ident)
		if err != nil {
			if common.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		email = details.Email
	}

	path := fmt.Sprintf("/panel/api/inbounds/%d/resetClientTraffic/%s", inboundId, url.PathEscape(email))
	if _, err := c.do(ctx, http.MethodPost, path, nil); err != nil {
		if common.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetClientDetails finds a client inside an inbound by its protocol key.
// The panel has no direct lookup endpoint, so the whole inbound is fetched
// and its client list scanned.
func (c *Client) GetClientDetails(ctx context.Context, inboundId int, ident ClientIdentifier) (*ClientConfig, error) {
	inbound, err := c.GetInbound(ctx, inboundId)
	if err != nil {
		return nil, err
	}
	var settings inboundSettings
	if err := json.Unmarshal([]byte(inbound.Settings), &settings); err != nil {
		return nil, &common.APIError{Status: http.StatusOK, Msg: "malformed inbound settings: " + err.Error()}
	}
	for i := range settings.Clients {
		if ident.Matches(&settings.Clients[i]) {
			return &settings.Clients[i], nil
		}
	}
	return nil, fmt.Errorf("client %s: %w", ident, common.ErrNotFound)
}

// emailForIdentifier resolves a client's email without knowing its inbound
// by scanning the full inbound list.
func (c *Client) emailForIdentifier(ctx context.Context, ident ClientIdentifier) (string, error) {
	inbounds, err := c.GetInbounds(ctx)
	if err != nil {
		return "", err
	}
	for _, inbound := range inbounds {
		var settings inboundSettings
		if err := json.Unmarshal([]byte(inbound.Settings), &settings); err != nil {
			continue
		}
		for i := range settings.Clients {
			if ident.Matches(&settings.Clients[i]) {
				return settings.Clients[i].Email, nil
			}
		}
	}
	return "", fmt.Errorf("client %s: %w", ident, common.ErrNotFound)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
