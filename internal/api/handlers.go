package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"uploadhub/internal/listing"
	"uploadhub/internal/models"
	"uploadhub/internal/progress"
	"uploadhub/internal/upload"
)

const uploadSuccessMessage = "Files uploaded with success!"

// Options configures the upload endpoint.
type Options struct {
	Dir             string
	Window          time.Duration
	Partial         upload.PartialPolicy
	Collision       upload.CollisionPolicy
	MaxRequestBytes int64
	Recorder        upload.Recorder
	Replicator      upload.Replicator
}

// Handler wires HTTP routes to upload sessions and the progress hub.
type Handler struct {
	hub      *progress.Hub
	opts     Options
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// NewHandler constructs a Handler instance.
func NewHandler(hub *progress.Hub, opts Options) *Handler {
	return &Handler{
		hub:  hub,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// any origin may subscribe, same as the CORS policy
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: logrus.WithField("component", "api"),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(allowAllOrigins())
	router.GET("/healthz", h.healthz)
	router.GET("/socket", h.socket)
	router.GET("/events", h.events)
	router.Any("/", h.root)
	router.NoRoute(h.root)
}

func allowAllOrigins() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Next()
	}
}

type requestKind int

const (
	kindOther requestKind = iota
	kindGet
	kindPost
	kindOptions
)

func kindOf(method string) requestKind {
	switch method {
	case http.MethodGet:
		return kindGet
	case http.MethodPost:
		return kindPost
	case http.MethodOptions:
		return kindOptions
	default:
		return kindOther
	}
}

func (h *Handler) root(c *gin.Context) {
	switch kindOf(c.Request.Method) {
	case kindGet:
		h.listFiles(c)
	case kindPost:
		h.uploadFiles(c)
	case kindOptions:
		c.Status(http.StatusNoContent)
	case kindOther:
		c.String(http.StatusOK, "Hello World")
	}
}

func (h *Handler) listFiles(c *gin.Context) {
	files, err := listing.FilesStatus(h.opts.Dir)
	if err != nil {
		h.log.WithError(err).Error("list files failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list files"})
		return
	}
	c.JSON(http.StatusOK, files)
}

func (h *Handler) uploadFiles(c *gin.Context) {
	sessionID := requestSessionID(c)
	log := h.log.WithField("session", sessionID)

	body := c.Request.Body
	if h.opts.MaxRequestBytes > 0 {
		body = http.MaxBytesReader(c.Writer, body, h.opts.MaxRequestBytes)
	}

	sess := upload.NewSession(upload.Options{
		SessionID:   sessionID,
		Dir:         h.opts.Dir,
		Window:      h.opts.Window,
		Partial:     h.opts.Partial,
		Collision:   h.opts.Collision,
		Broadcaster: h.hub,
		Recorder:    h.opts.Recorder,
		Replicator:  h.opts.Replicator,
	})
	results, err := sess.Receive(c.Request.Context(), c.Request.Header, body)
	if err != nil {
		status := uploadErrorStatus(err)
		if status >= http.StatusInternalServerError {
			log.WithError(err).Error("upload failed")
		} else {
			log.WithError(err).Warn("upload rejected")
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	log.WithField("files", len(results)).Info("upload finished")
	c.JSON(http.StatusOK, gin.H{"result": uploadSuccessMessage})
}

func uploadErrorStatus(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, upload.ErrUnsafeFilename),
		errors.Is(err, upload.ErrMalformedRequest),
		errors.Is(err, upload.ErrSourceAborted):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// requestSessionID reads ?sessionId, accepting the older socketId spelling.
func requestSessionID(c *gin.Context) string {
	if id := c.Query("sessionId"); id != "" {
		return id
	}
	return c.Query("socketId")
}

// subscriberSession returns the requested session id or a fresh one.
func subscriberSession(c *gin.Context) (string, bool) {
	if id := requestSessionID(c); id != "" {
		return id, false
	}
	return uuid.NewString(), true
}

func (h *Handler) socket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already replied
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	sub := progress.NewWSSubscriber(conn)
	sessionID, assigned := subscriberSession(c)
	log := h.log.WithFields(logrus.Fields{"session": sessionID, "subscriber": sub.ID()})

	// registered before the announcement so no event for the session is missed
	registry := h.hub.Registry()
	registry.Register(sessionID, sub)
	log.Info("subscriber connected")
	defer func() {
		registry.Deregister(sessionID, sub.ID())
		sub.Close()
		log.Info("subscriber disconnected")
	}()

	if assigned {
		if err := sub.Send(models.PushMessage{
			Event:   models.SessionEventName,
			Payload: models.SessionAnnouncement{SessionID: sessionID},
		}); err != nil {
			log.WithError(err).Warn("announce session failed")
			return
		}
	}
	sub.Wait()
}

func (h *Handler) events(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	sub := progress.NewSSESubscriber(0)
	sessionID, assigned := subscriberSession(c)
	log := h.log.WithFields(logrus.Fields{"session": sessionID, "subscriber": sub.ID()})
	registry := h.hub.Registry()
	registry.Register(sessionID, sub)
	log.Info("subscriber connected")
	defer func() {
		registry.Deregister(sessionID, sub.ID())
		sub.Close()
		log.Info("subscriber disconnected")
	}()

	if assigned {
		if err := sendEvent(models.SessionEventName, models.SessionAnnouncement{SessionID: sessionID}); err != nil {
			return
		}
	} else {
		// push the headers out so the client knows the stream is live
		flusher.Flush()
	}

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case msg := <-sub.Events():
			if err := sendEvent(msg.Event, msg.Payload); err != nil {
				log.WithError(err).Warn("stream write failed")
				return
			}
		}
	}
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"subscribers": h.hub.Registry().Len(),
	})
}
