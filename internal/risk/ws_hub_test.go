package risk_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openlend/risk-engine/internal/risk"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func readWSMessage(t *testing.T, conn *websocket.Conn) risk.WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var msg risk.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return msg
}

func TestWSHub_BroadcastReachesClient(t *testing.T) {
	hub := risk.NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	// Registration goes through the hub loop; give it a moment.
	time.Sleep(50 * time.Millisecond)

	hub.Broadcast(risk.WSMessage{Type: "price_updated", BankID: "sol"})

	msg := readWSMessage(t, conn)
	if msg.Type != "price_updated" || msg.BankID != "sol" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestWSHub_BroadcastSurvivesClosedClient(t *testing.T) {
	hub := risk.NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	dead := dialWS(t, srv)
	live := dialWS(t, srv)
	defer live.Close()

	time.Sleep(50 * time.Millisecond)
	dead.Close()

	// A closed connection in the set gets pruned on write failure; the
	// survivor must keep receiving through and after that.
	hub.Broadcast(risk.WSMessage{Type: "price_updated", BankID: "sol"})
	hub.Broadcast(risk.WSMessage{Type: "price_updated", BankID: "usdc"})

	first := readWSMessage(t, live)
	second := readWSMessage(t, live)
	if first.BankID != "sol" || second.BankID != "usdc" {
		t.Errorf("unexpected messages: %+v %+v", first, second)
	}
}
