package quakepulse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	Qs "github.com/maroda/quakepulse/server"
	Qt "github.com/maroda/quakepulse/types"
)

// SetupMux handles all data serving:
// - Prometheus metric endpoint
// - Websocket specialized for D3.js UI
// - Version for programmatic use
// - Events, plan and system data for UI feedback
// - Replay and plugin control
func (v *View) SetupMux() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/metrics", v.Stats.Handler())
	if v.Hub != nil {
		r.HandleFunc("/ws", v.Hub.WebsocketHandler)
	} else {
		r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no websocket hub", http.StatusBadRequest)
		})
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(v.StatsMiddleware)
	api.HandleFunc("/version", v.VersionHandler).Methods(http.MethodGet)
	api.HandleFunc("/events", v.EventsHandler).Methods(http.MethodGet)
	api.HandleFunc("/plan", v.PlanHandler).Methods(http.MethodGet)
	api.HandleFunc("/system", v.SystemHandler).Methods(http.MethodGet)
	api.HandleFunc("/replay", v.ReplayHandler)
	api.HandleFunc("/plugin/{control}", v.PluginControlHandler)

	// Static files for D3 frontend
	r.PathPrefix("/").Handler(http.FileServer(http.Dir("./web/")))

	return r
}

var Version = "dev"

func (v *View) VersionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"version": Version})
}

// EventJSON is an ingested event as served by /api/events
type EventJSON struct {
	ID           string    `json:"id"`
	Place        string    `json:"place"`
	Magnitude    float64   `json:"mag"`
	HasMagnitude bool      `json:"hasMag"`
	Longitude    float64   `json:"lon"`
	Latitude     float64   `json:"lat"`
	OccurredAt   time.Time `json:"time"`
	X            float64   `json:"x"`
	Y            float64   `json:"y"`
	DelayMs      int64     `json:"delayMs"`
	Title        string    `json:"title"`
}

func EventToJSON(ev *Qt.Event) EventJSON {
	return EventJSON{
		ID:           ev.ID,
		Place:        ev.Place,
		Magnitude:    ev.Magnitude,
		HasMagnitude: ev.HasMagnitude,
		Longitude:    ev.Longitude,
		Latitude:     ev.Latitude,
		OccurredAt:   ev.OccurredAt,
		X:            ev.X,
		Y:            ev.Y,
		DelayMs:      ev.Delay.Milliseconds(),
		Title:        Qs.EventTitle(ev),
	}
}

// EventsHandler serves the current session's events, or with
// start and end (RFC3339) everything the event log holds in [start, end)
func (v *View) EventsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rawStart, rawEnd := q.Get("start"), q.Get("end")

	var events []*Qt.Event
	if rawStart == "" && rawEnd == "" {
		if s := v.CurrentSession(); s != nil {
			for _, ev := range s.EventsSnapshot() {
				events = append(events, &ev)
			}
		}
	} else {
		start, err := time.Parse(time.RFC3339, rawStart)
		if err != nil {
			http.Error(w, "invalid start: "+err.Error(), http.StatusBadRequest)
			return
		}
		end, err := time.Parse(time.RFC3339, rawEnd)
		if err != nil {
			http.Error(w, "invalid end: "+err.Error(), http.StatusBadRequest)
			return
		}
		if !end.After(start) {
			http.Error(w, "invalid range: end must be after start", http.StatusBadRequest)
			return
		}
		if v.EventLog == nil {
			http.Error(w, "no event log", http.StatusServiceUnavailable)
			return
		}
		events, err = v.EventLog.QueryRange(start, end)
		if err != nil {
			slog.Error("Event log query failed", slog.Any("Error", err))
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
	}

	out := make([]EventJSON, 0, len(events))
	for _, ev := range events {
		out = append(out, EventToJSON(ev))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// PlanHandler describes the current session
func (v *View) PlanHandler(w http.ResponseWriter, r *http.Request) {
	s := v.CurrentSession()
	if s == nil {
		http.Error(w, "no session", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Summary())
}

// ReplayHandler throws away the current run and starts over
func (v *View) ReplayHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "invalid method", http.StatusMethodNotAllowed)
		return
	}
	if v.Supervisor == nil {
		http.Error(w, "no playback", http.StatusServiceUnavailable)
		return
	}

	v.Supervisor.Restart()

	id := ""
	if s := v.CurrentSession(); s != nil {
		id = s.ID
	}
	slog.Info("Replay requested", slog.String("session", id))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"session": id})
}

// SystemInfo is served by /api/system
type SystemInfo struct {
	Version     string  `json:"version"`
	Session     string  `json:"session"`
	Display     string  `json:"display"`
	SpeedFactor float64 `json:"speedFactor"`
	Clients     int     `json:"clients"`
	EventLog    string  `json:"eventLog"`
	Output      string  `json:"output"`
	MIDIPort    string  `json:"midiPort,omitempty"`
	MIDIChannel int     `json:"midiChannel,omitempty"`
	MIDIRoot    int     `json:"midiRoot,omitempty"`
	MIDIScale   string  `json:"midiScale,omitempty"`
	MIDINotes   string  `json:"midiNotes,omitempty"`
}

func (v *View) SystemHandler(w http.ResponseWriter, r *http.Request) {
	info := SystemInfo{
		Version:     Version,
		Display:     v.Config.Display,
		SpeedFactor: v.Config.SpeedFactor,
		Output:      "none",
	}
	if s := v.CurrentSession(); s != nil {
		info.Session = s.ID
	}
	if v.Hub != nil {
		info.Clients = v.Hub.Clients()
	}
	if v.EventLog != nil {
		info.EventLog = v.EventLog.Type()
	}
	if v.Output != nil {
		info.Output = v.Output.Type()
		v.getMIDISystemInfo(&info)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// PluginControlHandler operates the output adapter:
// POST /api/plugin/{type,flush,close}
func (v *View) PluginControlHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "invalid method", http.StatusMethodNotAllowed)
		return
	}
	if v.Output == nil {
		http.Error(w, "no output configured", http.StatusInternalServerError)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 3 {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	control := parts[2]
	switch control {
	case "type":
		fmt.Fprint(w, v.Output.Type())
	case "flush":
		if err := v.Output.Flush(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "FLUSHED")
	case "close":
		if err := v.Output.Close(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "CLOSED")
	default:
		http.Error(w, "invalid control: "+control, http.StatusBadRequest)
		return
	}
	slog.Info("Plugin control", slog.String("control", control), slog.String("output", v.Output.Type()))
}
