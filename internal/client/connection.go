package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"uploadhub/internal/models"
)

var errNotSubscribed = errors.New("not subscribed to progress")

// HTTPConnection is the Connection to a running upload server.
type HTTPConnection struct {
	apiURL *url.URL
	http   *http.Client
	dialer *websocket.Dialer
	log    *logrus.Entry

	mu        sync.Mutex
	sessionID string
	conn      *websocket.Conn
}

// NewHTTPConnection targets the server at apiURL, e.g. http://localhost:3333.
func NewHTTPConnection(apiURL string) (*HTTPConnection, error) {
	u, err := url.Parse(strings.TrimRight(apiURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url must be http or https, got %q", apiURL)
	}
	return &HTTPConnection{
		apiURL: u,
		http:   &http.Client{},
		dialer: websocket.DefaultDialer,
		log:    logrus.WithField("component", "connection"),
	}, nil
}

// SessionID is the id the server assigned on Subscribe.
func (c *HTTPConnection) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Subscribe opens the push channel, waits for the server to announce the session id
// and then delivers progress events to onProgress until ctx ends or Close is called.
func (c *HTTPConnection) Subscribe(ctx context.Context, onProgress func(models.ProgressEvent)) error {
	wsURL := *c.apiURL
	wsURL.Path = strings.TrimRight(wsURL.Path, "/") + "/socket"
	if wsURL.Scheme == "https" {
		wsURL.Scheme = "wss"
	} else {
		wsURL.Scheme = "ws"
	}

	conn, _, err := c.dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL.String(), err)
	}

	var first struct {
		Event   string                     `json:"event"`
		Payload models.SessionAnnouncement `json:"payload"`
	}
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return fmt.Errorf("read session announcement: %w", err)
	}
	if first.Event != models.SessionEventName || first.Payload.SessionID == "" {
		conn.Close()
		return fmt.Errorf("unexpected first event %q", first.Event)
	}

	c.mu.Lock()
	c.sessionID = first.Payload.SessionID
	c.conn = conn
	c.mu.Unlock()
	c.log.WithField("session", first.Payload.SessionID).Info("subscribed to progress")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go c.readLoop(conn, onProgress)
	return nil
}

func (c *HTTPConnection) readLoop(conn *websocket.Conn, onProgress func(models.ProgressEvent)) {
	for {
		var msg struct {
			Event   string          `json:"event"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("progress stream ended")
			}
			return
		}
		if msg.Event != models.UploadEventName {
			continue
		}
		var ev models.ProgressEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			c.log.WithError(err).Warn("decode progress event failed")
			continue
		}
		onProgress(ev)
	}
}

// Close ends the push channel.
func (c *HTTPConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// UploadFile streams file to the server as a multipart request tagged with the session.
func (c *HTTPConnection) UploadFile(ctx context.Context, file File) error {
	sessionID := c.SessionID()
	if sessionID == "" {
		return errNotSubscribed
	}
	src, err := os.Open(file.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", file.Path, err)
	}
	defer src.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", file.Name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	target := *c.apiURL
	target.Path = strings.TrimRight(target.Path, "/") + "/"
	target.RawQuery = url.Values{"sessionId": {sessionID}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), pr)
	if err != nil {
		pr.Close()
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", file.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server rejected %s: %s", file.Name, readError(resp))
	}
	return nil
}

// CurrentFiles fetches the server listing.
func (c *HTTPConnection) CurrentFiles(ctx context.Context) ([]models.FileStatus, error) {
	target := *c.apiURL
	target.Path = strings.TrimRight(target.Path, "/") + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get listing: %s", readError(resp))
	}
	var files []models.FileStatus
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	return files, nil
}

func readError(resp *http.Response) string {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return fmt.Sprintf("%s: %s", resp.Status, body.Error)
	}
	return resp.Status
}
