package quakepulse_test

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	Qd "github.com/maroda/quakepulse/display"
	Qo "github.com/maroda/quakepulse/obvy"
	Qt "github.com/maroda/quakepulse/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestKindName(t *testing.T) {
	tests := []struct {
		kind Qt.ElementKind
		want string
	}{
		{Qt.Marker, "marker"},
		{Qt.Pulse, "pulse"},
		{Qt.Cursor, "cursor"},
		{Qt.ElementKind(42), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assertString(t, Qd.KindName(tt.kind), tt.want)
		})
	}
}

func TestFrameToD3(t *testing.T) {
	f := Qt.Frame{
		ID:      "us3-pulse",
		Kind:    Qt.Pulse,
		X:       900,
		Y:       600,
		Radius:  30,
		Opacity: 0.5,
		Fill:    Qt.PulseFill,
		At:      1500 * time.Millisecond,
	}
	got := Qd.FrameToD3(f)

	assertString(t, got.ID, "us3-pulse")
	assertString(t, got.Kind, "pulse")
	assertFloat(t, got.Radius, 30)
	assertFloat(t, got.Opacity, 0.5)
	assertInt(t, int(got.AtMs), 1500)
}

func TestHub_WebsocketHandler(t *testing.T) {
	stats := Qo.NewStatsInternal()
	hub := Qd.NewHub(stats)
	window := Qt.ObservationWindow{Start: t0, End: t0.Add(24 * time.Hour)}
	hub.SetSession("session-one", window)

	server := httptest.NewServer(http.HandlerFunc(hub.WebsocketHandler))
	defer server.Close()

	conn := dialHub(t, server)
	defer conn.Close()

	t.Run("Says hello with the session", func(t *testing.T) {
		msg := readMessage(t, conn)
		assertString(t, msg.Type, "hello")
		assertString(t, msg.Session, "session-one")
		if msg.Window == nil || !msg.Window.Start.Equal(t0) {
			t.Errorf("hello window = %v", msg.Window)
		}
	})

	waitForClients(t, hub, 1)

	t.Run("Counts the client", func(t *testing.T) {
		assertFloat(t, testutil.ToFloat64(stats.Clients), 1)
	})

	t.Run("Streams frames", func(t *testing.T) {
		hub.Draw([]Qt.Frame{
			{ID: "us1-marker", Kind: Qt.Marker, X: 100, Y: 200, Radius: 0.2, Fill: Qt.MarkerFill},
			{ID: "us1-pulse", Kind: Qt.Pulse, X: 100, Y: 200, Radius: 1.2, Opacity: 1, Fill: Qt.PulseFill},
		})

		msg := readMessage(t, conn)
		assertString(t, msg.Type, "frames")
		assertInt(t, len(msg.Frames), 2)
		assertString(t, msg.Frames[0].Kind, "marker")
		assertString(t, msg.Frames[1].Kind, "pulse")
	})

	t.Run("Streams removals", func(t *testing.T) {
		hub.Remove("us1-pulse")

		msg := readMessage(t, conn)
		assertString(t, msg.Type, "remove")
		assertString(t, msg.ID, "us1-pulse")
	})

	t.Run("Streams the cursor", func(t *testing.T) {
		hub.Cursor(560, 500*time.Millisecond)

		msg := readMessage(t, conn)
		assertString(t, msg.Type, "cursor")
		if msg.Cursor == nil {
			t.Fatalf("cursor message without cursor")
		}
		assertFloat(t, msg.Cursor.X, 560)
		assertString(t, msg.Cursor.Fill, Qt.CursorFill)
		assertInt(t, int(msg.Cursor.AtMs), 500)
	})

	t.Run("Late joiners catch up", func(t *testing.T) {
		late := dialHub(t, server)
		defer late.Close()

		assertString(t, readMessage(t, late).Type, "hello")

		frames := readMessage(t, late)
		assertString(t, frames.Type, "frames")
		assertInt(t, len(frames.Frames), 2)

		cursor := readMessage(t, late)
		assertString(t, cursor.Type, "cursor")
		assertFloat(t, cursor.Cursor.X, 560)
	})

	t.Run("A new session resets clients", func(t *testing.T) {
		waitForClients(t, hub, 1)
		hub.SetSession("session-two", window)

		assertString(t, readMessage(t, conn).Type, "reset")
		hello := readMessage(t, conn)
		assertString(t, hello.Type, "hello")
		assertString(t, hello.Session, "session-two")
	})

	t.Run("Forgets clients that leave", func(t *testing.T) {
		conn.Close()
		waitForClients(t, hub, 0)
	})
}

func TestHub_Close(t *testing.T) {
	hub := Qd.NewHub(nil)
	server := httptest.NewServer(http.HandlerFunc(hub.WebsocketHandler))
	defer server.Close()

	conn := dialHub(t, server)
	defer conn.Close()
	readMessage(t, conn)
	waitForClients(t, hub, 1)

	hub.Close()
	assertInt(t, hub.Clients(), 0)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected a normal close, got %v", err)
	}
}

func TestHub_SlowClient(t *testing.T) {
	stats := Qo.NewStatsInternal()
	hub := Qd.NewHub(stats)
	server := httptest.NewServer(http.HandlerFunc(hub.WebsocketHandler))
	defer server.Close()

	// this client never reads after hello, so its buffer fills up
	conn := dialHub(t, server)
	defer conn.Close()
	readMessage(t, conn)
	waitForClients(t, hub, 1)

	frames := make([]Qt.Frame, 500)
	for i := range frames {
		frames[i] = Qt.Frame{ID: "us" + strconv.Itoa(i) + "-pulse", Kind: Qt.Pulse, X: 100, Y: 200, Radius: 1.2, Opacity: 1, Fill: Qt.PulseFill}
	}

	t.Run("Drops frames before it drops the client", func(t *testing.T) {
		for i := 0; i < 5000 && testutil.ToFloat64(stats.Dropped) == 0; i++ {
			hub.Draw(frames)
		}
		if testutil.ToFloat64(stats.Dropped) == 0 {
			t.Fatalf("buffer never filled")
		}
		assertInt(t, hub.Clients(), 1)
	})

	t.Run("A missed removal disconnects it", func(t *testing.T) {
		hub.Remove("us0-pulse")
		assertInt(t, hub.Clients(), 0)
		assertFloat(t, testutil.ToFloat64(stats.Clients), 0)
	})

	t.Run("It can come back and catch up", func(t *testing.T) {
		again := dialHub(t, server)
		defer again.Close()

		assertString(t, readMessage(t, again).Type, "hello")
		msg := readMessage(t, again)
		assertString(t, msg.Type, "frames")
		assertInt(t, len(msg.Frames), len(frames))
		waitForClients(t, hub, 1)
	})
}

func TestHub_NoClients(t *testing.T) {
	hub := Qd.NewHub(nil)
	// nothing to send to, nothing to block on
	hub.Draw([]Qt.Frame{{ID: "x", Kind: Qt.Marker}})
	hub.Cursor(1, time.Millisecond)
	hub.Remove("x")
	assertInt(t, hub.Clients(), 0)
}

// Helpers //

func dialHub(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("could not dial %s: %v", url, err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Qd.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Qd.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("could not read message: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, hub *Qd.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != want {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.Clients(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
