package api

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/runledger/runledger/internal/episode"
)

func TestEpisodeStream(t *testing.T) {
	s, ts := newTestServer(t)

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/v1/episodes/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial error: %v", err)
	}
	defer conn.Close()
	waitForClients(t, s.wsHub, 1)

	resp := postEpisode(t, ts, episode.EpisodeCreate{AgentID: "streamer"})
	resp.Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("websocket read error: %v", err)
	}

	var event struct {
		Type string          `json:"type"`
		Data episode.Episode `json:"data"`
	}
	if err := json.Unmarshal(msg, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.Type != "episode" {
		t.Errorf("event type = %q, want episode", event.Type)
	}
	if event.Data.AgentID != "streamer" {
		t.Errorf("event agent_id = %q, want streamer", event.Data.AgentID)
	}
}

func TestWebSocketHub_ClientCount(t *testing.T) {
	s, ts := newTestServer(t)

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/v1/episodes/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial error: %v", err)
	}

	waitForClients(t, s.wsHub, 1)
	conn.Close()
	waitForClients(t, s.wsHub, 0)
}

func TestWebSocketHub_ConcurrentBroadcast(t *testing.T) {
	s, ts := newTestServer(t)

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/v1/episodes/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial error: %v", err)
	}
	defer conn.Close()
	waitForClients(t, s.wsHub, 1)

	const broadcasts = 20
	var wg sync.WaitGroup
	for i := 0; i < broadcasts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.wsHub.Broadcast(map[string]int{"n": n})
		}(i)
	}
	wg.Wait()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for i := 0; i < broadcasts; i++ {
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Fatalf("read %d/%d failed: %v", i+1, broadcasts, err)
		}
	}
}

func waitForClients(t *testing.T, hub *WebSocketHub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("ClientCount() = %d, want %d", hub.ClientCount(), want)
}
