package progress

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"uploadhub/internal/config"
	"uploadhub/internal/models"
	"uploadhub/internal/redis"
)

type fakeSubscriber struct {
	id      string
	mu      sync.Mutex
	got     []models.PushMessage
	sendErr error
	closed  bool
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(msg models.PushMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.got = append(f.got, msg)
	return nil
}

func (f *fakeSubscriber) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSubscriber) messages() []models.PushMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.PushMessage(nil), f.got...)
}

func TestRegistryRegisterDeregister(t *testing.T) {
	reg := NewRegistry()
	a := &fakeSubscriber{id: "a"}
	b := &fakeSubscriber{id: "b"}
	reg.Register("s1", a)
	reg.Register("s1", a)
	reg.Register("s2", b)

	if reg.Len() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", reg.Len())
	}
	if subs := reg.Subscribers("s1"); len(subs) != 1 || subs[0].ID() != "a" {
		t.Fatalf("unexpected subscribers for s1: %v", subs)
	}
	if !reg.Deregister("s1", "a") {
		t.Fatalf("expected deregister to find subscriber")
	}
	if reg.Deregister("s1", "a") {
		t.Fatalf("second deregister should report missing")
	}
	if len(reg.Subscribers("s1")) != 0 || reg.Len() != 1 {
		t.Fatalf("s1 should be empty after deregister")
	}
}

func TestBroadcastIsolatesSessions(t *testing.T) {
	hub := NewHub(NewRegistry())
	a := &fakeSubscriber{id: "a"}
	b := &fakeSubscriber{id: "b"}
	hub.Registry().Register("A", a)
	hub.Registry().Register("B", b)

	payload := models.ProgressEvent{ProcessedAlready: 10, Filename: "x.bin"}
	hub.BroadcastToSession("A", models.UploadEventName, payload)

	if got := a.messages(); len(got) != 1 || got[0].Event != models.UploadEventName || got[0].Payload != payload {
		t.Fatalf("session A did not receive its event: %+v", got)
	}
	if got := b.messages(); len(got) != 0 {
		t.Fatalf("session B received foreign events: %+v", got)
	}
}

func TestBroadcastWithoutSubscribers(t *testing.T) {
	hub := NewHub(NewRegistry())
	hub.BroadcastToSession("nobody", models.UploadEventName, models.ProgressEvent{})
	if n := hub.Deliver("nobody", models.PushMessage{}); n != 0 {
		t.Fatalf("expected no deliveries, got %d", n)
	}
}

func TestDeliverDropsFailingSubscriber(t *testing.T) {
	hub := NewHub(NewRegistry())
	bad := &fakeSubscriber{id: "bad", sendErr: errors.New("broken pipe")}
	good := &fakeSubscriber{id: "good"}
	hub.Registry().Register("s", bad)
	hub.Registry().Register("s", good)

	if n := hub.Deliver("s", models.PushMessage{Event: "e"}); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if !bad.closed {
		t.Fatalf("failing subscriber should be closed")
	}
	if subs := hub.Registry().Subscribers("s"); len(subs) != 1 || subs[0].ID() != "good" {
		t.Fatalf("failing subscriber should be deregistered, have %v", subs)
	}
	if len(good.messages()) != 1 {
		t.Fatalf("healthy subscriber missed the event")
	}
}

func TestSSESubscriberDropsWhenFull(t *testing.T) {
	sub := NewSSESubscriber(1)
	if err := sub.Send(models.PushMessage{Event: "first"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := sub.Send(models.PushMessage{Event: "second"}); err != nil {
		t.Fatalf("full buffer must not fail: %v", err)
	}
	if got := <-sub.Events(); got.Event != "first" {
		t.Fatalf("unexpected event %q", got.Event)
	}
	sub.Close()
	sub.Close()
	if err := sub.Send(models.PushMessage{}); !errors.Is(err, ErrSubscriberClosed) {
		t.Fatalf("expected ErrSubscriberClosed, got %v", err)
	}
}

func TestWSSubscriberDeliversJSON(t *testing.T) {
	hub := NewHub(NewRegistry())
	upgrader := websocket.Upgrader{}
	registered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		sub := NewWSSubscriber(conn)
		hub.Registry().Register("ws", sub)
		close(registered)
		sub.Wait()
		hub.Registry().Deregister("ws", sub.ID())
		sub.Close()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	<-registered

	hub.BroadcastToSession("ws", models.UploadEventName, models.ProgressEvent{ProcessedAlready: 42, Filename: "f.txt"})

	var got struct {
		Event   string               `json:"event"`
		Payload models.ProgressEvent `json:"payload"`
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Event != models.UploadEventName || got.Payload.ProcessedAlready != 42 || got.Payload.Filename != "f.txt" {
		t.Fatalf("unexpected message %+v", got)
	}
}

func TestRedisRelayFansOut(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed relay tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	client, err := redis.NewRedisClient(config.RedisConfig{Host: host, Port: port})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// two hubs stand in for two server instances
	sender := NewHub(NewRegistry())
	receiver := NewHub(NewRegistry())
	if err := sender.UseRelay(ctx, NewRedisRelay(client)); err != nil {
		t.Fatalf("sender relay: %v", err)
	}
	if err := receiver.UseRelay(ctx, NewRedisRelay(client)); err != nil {
		t.Fatalf("receiver relay: %v", err)
	}
	sub := NewSSESubscriber(4)
	receiver.Registry().Register("relay", sub)

	sender.BroadcastToSession("relay", models.UploadEventName, models.ProgressEvent{ProcessedAlready: 7, Filename: "r.bin"})

	select {
	case msg := <-sub.Events():
		if msg.Event != models.UploadEventName {
			t.Fatalf("unexpected event %q", msg.Event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("relay did not deliver the event")
	}
}
