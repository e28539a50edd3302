// Package main provides a CI-friendly smoke test for the qrpass live feed.
//
// It validates:
//   - admin login over HTTP
//   - event creation + self registration
//   - WebSocket handshake on /feed (query-token auth, browser-like Origin)
//   - scan -> granted update fanout
//   - repeat scan -> already_scanned update fanout
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

// scanUpdate mirrors the JSON frames the /feed endpoint emits.
type scanUpdate struct {
	RegistrationID string    `json:"registration_id,omitempty"`
	EventID        string    `json:"event_id,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	Granted        bool      `json:"granted"`
	Reason         string    `json:"reason"`
	At             time.Time `json:"at"`
}

type feedClient struct {
	conn  *websocket.Conn
	inbox chan scanUpdate
	errCh chan error
}

func main() {
	var (
		baseURL  = flag.String("base", "http://127.0.0.1:8080", "Server base URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		username = flag.String("user", "admin", "Admin username")
		password = flag.String("pass", "", "Admin password")
		evName   = flag.String("event", "smoke-event", "Name for the throwaway event")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -base: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if strings.TrimSpace(*password) == "" {
		fatalf("missing -pass")
	}

	root := context.Background()
	hc := &http.Client{Timeout: *timeout}

	token, userID := mustLogin(root, hc, *baseURL, *username, *password)
	if *verbose {
		fmt.Printf("logged in: user_id=%s\n", userID)
	}

	eventID := mustCreateEvent(root, hc, *baseURL, token, *evName)
	regID, credential := mustRegister(root, hc, *baseURL, token, eventID)
	if *verbose {
		fmt.Printf("registered: event_id=%s registration_id=%s\n", eventID, regID)
	}

	fc := mustConnectFeed(root, *baseURL, token, *origin, *timeout)
	defer closeWS(fc.conn)

	mustScan(root, hc, *baseURL, token, credential, true, "ok")
	mustAssertUpdate(root, fc, regID, eventID, userID, true, "ok", *timeout)

	mustScan(root, hc, *baseURL, token, credential, false, "already_scanned")
	mustAssertUpdate(root, fc, regID, eventID, userID, false, "already_scanned", *timeout)

	// Cleanup keeps the server reusable for repeated CI runs.
	mustDeleteEvent(root, hc, *baseURL, token, eventID)

	fmt.Printf("OK: event_id=%s registration_id=%s\n", eventID, regID)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustLogin(ctx context.Context, hc *http.Client, base, username, password string) (token, userID string) {
	var resp struct {
		Token string `json:"token"`
		User  struct {
			ID      string `json:"id"`
			IsAdmin bool   `json:"is_admin"`
		} `json:"user"`
	}
	mustPostJSON(ctx, hc, base+"/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	}, http.StatusOK, &resp)

	if strings.TrimSpace(resp.Token) == "" {
		fatalf("login: missing token in response")
	}
	if !resp.User.IsAdmin {
		fatalf("login: %q is not an admin; scans require admin capability", username)
	}
	return resp.Token, resp.User.ID
}

func mustCreateEvent(ctx context.Context, hc *http.Client, base, token, name string) string {
	var resp struct {
		ID string `json:"id"`
	}
	starts := time.Now().UTC().Add(time.Hour)
	mustPostJSON(ctx, hc, base+"/events", token, map[string]any{
		"name":      fmt.Sprintf("%s-%d", name, time.Now().UnixNano()),
		"starts_at": starts,
		"capacity":  1,
	}, http.StatusCreated, &resp)

	if strings.TrimSpace(resp.ID) == "" {
		fatalf("create event: missing id in response")
	}
	return resp.ID
}

func mustRegister(ctx context.Context, hc *http.Client, base, token, eventID string) (regID, credential string) {
	var resp struct {
		ID         string `json:"id"`
		Credential string `json:"credential"`
	}
	mustPostJSON(ctx, hc, base+"/registrations", token, map[string]any{
		"event_id": eventID,
	}, http.StatusCreated, &resp)

	if strings.TrimSpace(resp.ID) == "" || strings.TrimSpace(resp.Credential) == "" {
		fatalf("register: missing id/credential in response")
	}
	return resp.ID, resp.Credential
}

func mustScan(ctx context.Context, hc *http.Client, base, token, credential string, wantGranted bool, wantReason string) {
	var resp struct {
		Granted bool   `json:"granted"`
		Reason  string `json:"reason"`
	}
	mustPostJSON(ctx, hc, base+"/scan", token, map[string]string{
		"token": credential,
	}, http.StatusOK, &resp)

	if resp.Granted != wantGranted || resp.Reason != wantReason {
		fatalf("scan: got granted=%v reason=%q, want granted=%v reason=%q",
			resp.Granted, resp.Reason, wantGranted, wantReason)
	}
}

func mustDeleteEvent(ctx context.Context, hc *http.Client, base, token, eventID string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, base+"/events/"+eventID, nil)
	if err != nil {
		fatalf("delete event: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := hc.Do(req)
	if err != nil {
		fatalf("delete event: %v", err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		fatalf("delete event: status=%d body=%s", res.StatusCode, body)
	}
}

func mustPostJSON(ctx context.Context, hc *http.Client, endpoint, token string, payload any, wantStatus int, out any) {
	b, err := json.Marshal(payload)
	if err != nil {
		fatalf("marshal request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		fatalf("build request %s: %v", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := hc.Do(req)
	if err != nil {
		fatalf("request %s: %v", endpoint, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != wantStatus {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		fatalf("request %s: status=%d want=%d body=%s", endpoint, res.StatusCode, wantStatus, body)
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			fatalf("decode response %s: %v", endpoint, err)
		}
	}
}

func mustConnectFeed(parent context.Context, base, token, origin string, stepTimeout time.Duration) *feedClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	wsURL := strings.Replace(base, "http", "ws", 1) + "/feed?token=" + url.QueryEscape(token)

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect /feed: %v", err)
	}

	conn.SetReadLimit(maxReadBytes)

	fc := &feedClient{
		conn:  conn,
		inbox: make(chan scanUpdate, 64),
		errCh: make(chan error, 1),
	}
	fc.startReadLoop()
	return fc
}

func (c *feedClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var upd scanUpdate
			if err := json.Unmarshal(data, &upd); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- upd:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustAssertUpdate(parent context.Context, c *feedClient, regID, eventID, userID string, wantGranted bool, wantReason string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		fatalf("timeout waiting for feed update (reason=%q): %v", wantReason, ctx.Err())
	case err := <-c.errCh:
		fatalf("feed connection error: %v", err)
	case upd, ok := <-c.inbox:
		if !ok {
			fatalf("feed connection closed while waiting for update")
		}
		if upd.RegistrationID != regID {
			fatalf("update registration_id mismatch: got=%q want=%q", upd.RegistrationID, regID)
		}
		if upd.EventID != eventID {
			fatalf("update event_id mismatch: got=%q want=%q", upd.EventID, eventID)
		}
		if upd.UserID != userID {
			fatalf("update user_id mismatch: got=%q want=%q", upd.UserID, userID)
		}
		if upd.Granted != wantGranted || upd.Reason != wantReason {
			fatalf("update mismatch: got granted=%v reason=%q, want granted=%v reason=%q",
				upd.Granted, upd.Reason, wantGranted, wantReason)
		}
		if upd.At.IsZero() {
			fatalf("update at missing/zero")
		}
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
