// internal/server/server_test.go
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/sessionhub/internal/adapter"
	"github.com/user/sessionhub/internal/replay"
	"github.com/user/sessionhub/internal/store"
	"github.com/user/sessionhub/internal/types"
)

type fixture struct {
	ts       *httptest.Server
	registry *store.SessionRegistry
	hub      *replay.Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "sessionhub.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	registry := store.NewSessionRegistry(db)
	events := store.NewEventStore(db)
	hub := replay.NewCoordinator(events)
	uow := store.NewUnitOfWork(db)

	// No local drivers: these sessions are fed by the test acting as an
	// external adapter.
	srv := New(registry, events, hub, uow, adapter.NewRegistry())
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return &fixture{ts: ts, registry: registry, hub: hub}
}

func (f *fixture) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(f.ts.URL, "http") + path
}

func (f *fixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(path), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) serverMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg serverMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestSessionCRUD(t *testing.T) {
	f := newFixture(t)

	body := `{"kind":"pty","owner_id":"user-1","metadata":{"shell":"/bin/sh"}}`
	resp, err := http.Post(f.ts.URL+"/api/sessions", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var sess types.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if sess.Kind != types.KindPTY || sess.Status != types.StatusStarting {
		t.Errorf("created session = %+v", sess)
	}

	resp, err = http.Get(f.ts.URL + "/api/sessions/" + string(sess.ID))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get status = %d", resp.StatusCode)
	}

	resp, err = http.Get(f.ts.URL + "/api/sessions?kind=pty")
	if err != nil {
		t.Fatal(err)
	}
	var list struct {
		Sessions []*types.Session `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(list.Sessions) != 1 {
		t.Errorf("list returned %d sessions", len(list.Sessions))
	}

	req, _ := http.NewRequest(http.MethodDelete, f.ts.URL+"/api/sessions/"+string(sess.ID), nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}

	resp, err = http.Get(f.ts.URL + "/api/sessions/" + string(sess.ID))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d", resp.StatusCode)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.ts.URL+"/api/sessions", "application/json", bytes.NewBufferString(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing kind status = %d", resp.StatusCode)
	}

	resp, err = http.Post(f.ts.URL+"/api/sessions", "application/json", bytes.NewBufferString(`not json`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad json status = %d", resp.StatusCode)
	}
}

func TestEventsEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.registry.Create(ctx, types.KindPTY, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := f.hub.Append(ctx, sess.ID, "stdout", types.EventChunk, types.BytesPayload([]byte("x"))); err != nil {
			t.Fatal(err)
		}
	}

	resp, err := http.Get(f.ts.URL + "/api/sessions/" + string(sess.ID) + "/events?after_seq=3")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Events []*types.Event `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Events) != 2 {
		t.Fatalf("expected 2 events after seq 3, got %d", len(body.Events))
	}
	if body.Events[0].Seq != 4 || body.Events[1].Seq != 5 {
		t.Errorf("seqs = %d, %d", body.Events[0].Seq, body.Events[1].Seq)
	}
}

// TestAttachProtocol exercises the full replay scenario: three appended
// events arrive as one backlog batch, a later append arrives live with
// the next seq and no repeats.
func TestAttachProtocol(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.registry.Create(ctx, types.KindPTY, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := f.hub.Append(ctx, sess.ID, "stdout", types.EventChunk, types.BytesPayload([]byte{byte('a' + i)})); err != nil {
			t.Fatal(err)
		}
	}

	conn := f.dial(t, "/api/sessions/"+string(sess.ID)+"/attach?last_seq=0")

	msg := readMessage(t, conn)
	if msg.Type != "backlog" {
		t.Fatalf("first frame type = %s", msg.Type)
	}
	if len(msg.Events) != 3 {
		t.Fatalf("backlog has %d events", len(msg.Events))
	}
	for i, ev := range msg.Events {
		if ev.Seq != int64(i+1) {
			t.Errorf("backlog[%d].seq = %d", i, ev.Seq)
		}
	}

	if _, err := f.hub.Append(ctx, sess.ID, "stdout", types.EventChunk, types.BytesPayload([]byte("d"))); err != nil {
		t.Fatal(err)
	}

	msg = readMessage(t, conn)
	if msg.Type != "event" {
		t.Fatalf("live frame type = %s", msg.Type)
	}
	if msg.Event == nil || msg.Event.Seq != 4 {
		t.Fatalf("live event = %+v", msg.Event)
	}
	if !bytes.Equal(msg.Event.Payload.Bytes, []byte("d")) {
		t.Errorf("live payload = %q", msg.Event.Payload.Bytes)
	}
}

func TestAttachWithWatermark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.registry.Create(ctx, types.KindPTY, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if _, err := f.hub.Append(ctx, sess.ID, "stdout", types.EventChunk, types.BytesPayload([]byte("x"))); err != nil {
			t.Fatal(err)
		}
	}

	conn := f.dial(t, "/api/sessions/"+string(sess.ID)+"/attach?last_seq=2")
	msg := readMessage(t, conn)
	if len(msg.Events) != 2 {
		t.Fatalf("backlog has %d events, want 2", len(msg.Events))
	}
	if msg.Events[0].Seq != 3 {
		t.Errorf("first backlog seq = %d", msg.Events[0].Seq)
	}
}

func TestAttachUnknownSession(t *testing.T) {
	f := newFixture(t)

	// Attaching to a session that does not exist yet yields an empty
	// backlog and a live connection, not an error.
	conn := f.dial(t, "/api/sessions/does-not-exist/attach?last_seq=0")
	msg := readMessage(t, conn)
	if msg.Type != "backlog" {
		t.Fatalf("frame type = %s", msg.Type)
	}
	if len(msg.Events) != 0 {
		t.Errorf("backlog has %d events", len(msg.Events))
	}
}

func TestDetachFrame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.registry.Create(ctx, types.KindPTY, "", nil)
	if err != nil {
		t.Fatal(err)
	}

	conn := f.dial(t, "/api/sessions/"+string(sess.ID)+"/attach?last_seq=0")
	readMessage(t, conn) // backlog

	if err := conn.WriteJSON(map[string]string{"type": "detach"}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for f.hub.Attached(sess.ID) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("server never detached the connection")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
