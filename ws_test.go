package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type queueEnvelope struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

func dialQueueJoin(t *testing.T, ts *httptest.Server, hash string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/queue/join"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := conn.WriteJSON(map[string]string{"hash": hash}); err != nil {
		t.Fatalf("send join: %v", err)
	}
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) queueEnvelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env queueEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

func expectNormalClose(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env queueEnvelope
	err := conn.ReadJSON(&env)
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("after terminal envelope got %v, want normal close", err)
	}
}

// ---------------------------------------------------------------------------
// /api/queue/join
// ---------------------------------------------------------------------------

func TestQueueJoin_StreamsTransitionsThenCloses(t *testing.T) {
	s, h := newTestServer(t, nil)
	ts := httptest.NewServer(h)
	defer ts.Close()

	body, _ := json.Marshal(map[string]any{"data": []any{"hi"}})
	resp, err := http.Post(ts.URL+"/api/queue/push/", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	var pushed struct {
		Hash string `json:"hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pushed); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if pushed.Hash == "" {
		t.Fatal("push returned no hash")
	}

	conn := dialQueueJoin(t, ts, pushed.Hash)
	defer conn.Close()

	if env := readEnvelope(t, conn); env.Status != jobQueued {
		t.Fatalf("first envelope status = %q, want %q", env.Status, jobQueued)
	}

	// Sit through a few idle polls: an unchanged status must not repeat
	// the envelope, so the next read blocks until the real transition.
	time.Sleep(3 * queueJoinPoll / 2)

	ctx := context.Background()
	if _, err := s.engine.Next(ctx); err != nil {
		t.Fatal(err)
	}
	if env := readEnvelope(t, conn); env.Status != jobRunning {
		t.Fatalf("second envelope status = %q, want %q", env.Status, jobRunning)
	}

	if err := s.engine.Complete(ctx, pushed.Hash, &PredictResponse{Data: []any{"done"}}); err != nil {
		t.Fatal(err)
	}
	env := readEnvelope(t, conn)
	if env.Status != jobCompleted {
		t.Fatalf("final envelope status = %q, want %q", env.Status, jobCompleted)
	}
	if env.Data == nil {
		t.Error("completed envelope carries no data")
	}

	expectNormalClose(t, conn)
}

func TestQueueJoin_UnknownHashNotFoundThenCloses(t *testing.T) {
	_, h := newTestServer(t, nil)
	ts := httptest.NewServer(h)
	defer ts.Close()

	conn := dialQueueJoin(t, ts, "no-such-job")
	defer conn.Close()

	if env := readEnvelope(t, conn); env.Status != jobNotFound {
		t.Fatalf("envelope status = %q, want %q", env.Status, jobNotFound)
	}
	expectNormalClose(t, conn)
}

func TestQueueJoin_IdlePollsPingClient(t *testing.T) {
	s, h := newTestServer(t, nil)
	ts := httptest.NewServer(h)
	defer ts.Close()

	// No worker runs, so the job sits queued and every poll is idle.
	hash, _, err := s.engine.Push(context.Background(), "predict", json.RawMessage(`{"data":["x"]}`))
	if err != nil {
		t.Fatal(err)
	}

	conn := dialQueueJoin(t, ts, hash)
	defer conn.Close()

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(3 * time.Second):
		t.Error("no ping received on idle polls; dead clients would never be detected")
	}
}

func TestQueueJoin_BadJoinMessageErrors(t *testing.T) {
	_, h := newTestServer(t, nil)
	ts := httptest.NewServer(h)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/queue/join"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var reply map[string]any
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read error reply: %v", err)
	}
	if reply["error"] == nil {
		t.Errorf("reply = %v, want error envelope", reply)
	}
}
