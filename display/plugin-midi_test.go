//go:build !nomidi

package quakepulse_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	Qd "github.com/maroda/quakepulse/display"
	Qp "github.com/maroda/quakepulse/plugin"
	"gitlab.com/gomidi/midi/v2"
)

func TestParseScale(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []uint8
	}{
		{"unset", "ENOENT", Qp.DefaultScale},
		{"empty", "", Qp.DefaultScale},
		{"pentatonic", "0,2,2,3,2", []uint8{0, 2, 2, 3, 2}},
		{"spaces", "0, 3, 4", []uint8{0, 3, 4}},
		{"garbage", "0,two,2", Qp.DefaultScale},
		{"too wide", "0,13", Qp.DefaultScale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Qd.ParseScale(tt.raw)
			assertInt(t, len(got), len(tt.want))
			for i := range tt.want {
				assertInt(t, int(got[i]), int(tt.want[i]))
			}
		})
	}
}

func TestView_PluginControlHandlerMIDI(t *testing.T) {
	view := makeViewWithMIDI(t)

	tests := []struct {
		name     string
		method   string
		target   string
		assert   int
		contains string
	}{
		{
			name:     "Plugin Control Endpoint: Type",
			method:   "POST",
			target:   "/api/plugin/type",
			assert:   http.StatusOK, // 200
			contains: "MIDI",
		},
		{
			name:     "Plugin Control Endpoint: Flush",
			method:   "POST",
			target:   "/api/plugin/flush",
			assert:   http.StatusOK, // 200
			contains: "FLUSHED",
		},
		{
			name:     "Plugin Control Endpoint: Bad Request (invalid control)",
			method:   "POST",
			target:   "/api/plugin/cornhole",
			assert:   http.StatusBadRequest, // 400
			contains: "invalid",
		},
		{
			name:     "Plugin Control Endpoint: Close",
			method:   "POST",
			target:   "/api/plugin/close",
			assert:   http.StatusOK, // 200
			contains: "CLOSED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.target, nil)
			w := httptest.NewRecorder()
			view.PluginControlHandler(w, r)
			assertStatus(t, w.Code, tt.assert)
			assertStringContains(t, w.Body.String(), tt.contains)
		})
	}
}

func TestView_SystemHandlerMIDI(t *testing.T) {
	view := makeViewWithMIDI(t)

	r := httptest.NewRequest("GET", "/api/system", nil)
	w := httptest.NewRecorder()
	view.SystemHandler(w, r)
	assertStatus(t, w.Code, http.StatusOK)

	var got Qd.SystemInfo
	assertError(t, json.Unmarshal(w.Body.Bytes(), &got), nil)
	assertString(t, got.Output, "MIDI")
	assertInt(t, got.MIDIRoot, 48)
	assertString(t, got.MIDIScale, "[0 2 2 1 2 2 2 1]")
	assertString(t, got.MIDINotes, "[48 50 52 53 55 57 59 60]")
}

// Helpers //

// ViewWithMIDI carries a MIDI output that sends nowhere
func makeViewWithMIDI(t *testing.T) *Qd.View {
	t.Helper()
	midiOut := &Qp.MIDIOutput{
		Send: func(midi.Message) error { return nil },
		Root: 48,
		Hold: 10 * time.Millisecond,
	}
	midiOut.SetScale(nil)

	view := makeTestView(t, &fakeFeed{})
	view.Output = midiOut
	return view
}
