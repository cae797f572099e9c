package quakepulse

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	Qo "github.com/maroda/quakepulse/obvy"
	Qp "github.com/maroda/quakepulse/plugin"
	Qs "github.com/maroda/quakepulse/server"
	Qt "github.com/maroda/quakepulse/types"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	mapTop     = 3 // title row and axis row sit above the map
	mapBottom  = 3 // status, help and border below
	labelStyle = "Jan 2 15:04"
)

// View owns the surfaces of a run: the terminal map when there is a
// Screen, the websocket Hub when there is one, and the HTTP server.
type View struct {
	MU         sync.Mutex
	Config     Qs.Config
	Clock      Qs.Clock
	Feed       Qs.FeedSource // nil reads the USGS feed
	Session    *Qs.Session
	Screen     tcell.Screen
	Hub        *Hub
	Stats      *Qo.StatsInternal
	EventLog   Qp.OutputAdapter // ingested events, backs /api/events
	Output     Qp.OutputAdapter // fired events, MIDI
	Supervisor *PlaybackSupervisor
	BaseMap    *Qs.BaseMap
	server     *http.Server
	drawMU     sync.Mutex // one redraw at a time
	frames     map[string]Qt.Frame
	cursorX    float64
	lastTitle  string
	fired      int
	status     string
	quit       chan struct{}
}

// NewSession starts a run with this View's config, wired to its
// stats and outputs
func (v *View) NewSession() *Qs.Session {
	s := Qs.NewSession(v.Config, v.Clock, v.Feed)
	s.Hooks = Qs.Hooks{
		OnFetch:  v.onFetch,
		OnFire:   v.onFire,
		OnRemove: v.onRemove,
	}

	v.MU.Lock()
	v.Session = s
	v.MU.Unlock()

	if v.Hub != nil {
		v.Hub.SetSession(s.ID, s.Window)
	}
	return s
}

// CurrentSession is safe to call while a run is being replaced
func (v *View) CurrentSession() *Qs.Session {
	v.MU.Lock()
	defer v.MU.Unlock()
	return v.Session
}

func (v *View) onFetch(fr *Qs.FeedResult) {
	if v.Stats != nil {
		v.Stats.RecFetchTimer(fr.Took.Seconds())
		v.Stats.AddIngested(len(fr.Events))
		for reason, n := range fr.Excluded {
			v.Stats.AddExcluded(reason, n)
		}
	}
	if v.EventLog != nil {
		if err := v.EventLog.WriteBatch(fr.Events); err != nil {
			slog.Error("Could not log events", slog.Any("Error", err))
		}
	}
}

func (v *View) onFire(ev *Qt.Event) {
	if v.Stats != nil {
		v.Stats.IncTransition(KindName(Qt.Marker))
		v.Stats.IncTransition(KindName(Qt.Pulse))
	}

	v.MU.Lock()
	v.lastTitle = Qs.EventTitle(ev)
	v.fired++
	output := v.Output
	v.MU.Unlock()

	if output != nil {
		if err := output.WriteQuake(ev); err != nil {
			slog.Error("Output failed", slog.String("output", output.Type()), slog.Any("Error", err))
		}
	}
}

func (v *View) onRemove(Qs.Transition) {
	if v.Stats != nil {
		v.Stats.IncRemoved()
	}
}

// Surfaces is what playback draws on
func (v *View) Surfaces() Qs.Surface {
	var ms Qs.MultiSurface
	if v.Screen != nil {
		ms = append(ms, v)
	}
	if v.Hub != nil {
		ms = append(ms, v.Hub)
	}
	return ms
}

// Play runs one session to the end, the base map is fetched first
// when there is a terminal to draw it on
func (v *View) Play(ctx context.Context, s *Qs.Session) error {
	if v.Screen != nil {
		cols, rows := v.MapGrid()
		bm := s.FetchGeometry(ctx, cols, rows)
		v.MU.Lock()
		v.BaseMap = bm
		v.MU.Unlock()
	}

	err := s.Run(ctx, v.Surfaces())
	switch {
	case err == nil:
		v.setStatus("")
	case errors.Is(err, context.Canceled):
		return nil
	default:
		slog.Error("Playback failed", slog.String("session", s.ID), slog.Any("Error", err))
		v.setStatus(err.Error())
	}
	v.UpdateScreen()
	return err
}

// Reset clears everything drawn by a previous run
func (v *View) Reset() {
	v.MU.Lock()
	v.frames = make(map[string]Qt.Frame)
	v.cursorX = 0
	v.lastTitle = ""
	v.fired = 0
	v.status = ""
	v.MU.Unlock()
}

func (v *View) setStatus(s string) {
	v.MU.Lock()
	v.status = s
	v.MU.Unlock()
}

////////// SURFACE

func (v *View) Draw(frames []Qt.Frame) {
	v.MU.Lock()
	if v.frames == nil {
		v.frames = make(map[string]Qt.Frame)
	}
	for _, f := range frames {
		v.frames[f.ID] = f
	}
	v.MU.Unlock()

	v.UpdateScreen()
}

func (v *View) Remove(id string) {
	v.MU.Lock()
	delete(v.frames, id)
	v.MU.Unlock()
}

func (v *View) Cursor(x float64, _ time.Duration) {
	v.MU.Lock()
	v.cursorX = x
	v.MU.Unlock()

	v.UpdateScreen()
}

// FrameCount is the number of elements currently on the map
func (v *View) FrameCount() int {
	v.MU.Lock()
	defer v.MU.Unlock()
	return len(v.frames)
}

////////// DRAWING

// GetScreenSize provides the terminal size for drawing
func (v *View) GetScreenSize() (int, int) {
	width, height := v.Screen.Size()
	return width, height
}

// MapGrid is the number of cells the map occupies inside the border
func (v *View) MapGrid() (cols, rows int) {
	width, height := v.GetScreenSize()
	return max(width-2, 1), max(height-mapTop-mapBottom, 1)
}

// MapCell converts map pixels to a screen cell inside the map area
func (v *View) MapCell(x, y float64) (int, int, bool) {
	cols, rows := v.MapGrid()
	if x < 0 || y < 0 || x >= float64(v.Config.MapWidth) || y >= float64(v.Config.MapHeight) {
		return 0, 0, false
	}
	col := int(x / float64(v.Config.MapWidth) * float64(cols))
	row := int(y / float64(v.Config.MapHeight) * float64(rows))
	return 1 + col, mapTop + row, true
}

// CursorCol places the cursor on the axis row
func (v *View) CursorCol(x float64) int {
	width, _ := v.GetScreenSize()
	track := v.Config.TrackLength
	if track <= 0 {
		track = Qs.DefaultTrackLength
	}
	span := float64(width - 3)
	p := math.Max(0, math.Min(1, x/track))
	return 1 + int(math.Round(p*span))
}

// MarkerRune grows with the marker radius in map pixels
func MarkerRune(r float64) rune {
	switch {
	case r < 2:
		return '·'
	case r < 6:
		return '•'
	case r < 12:
		return '●'
	default:
		return '◉'
	}
}

// PulseStyle fades a pulse ring through grays as its opacity drops
func PulseStyle(opacity float64) tcell.Style {
	base := tcell.StyleDefault.Background(tcell.ColorBlack)
	switch {
	case opacity > 0.66:
		return base.Foreground(tcell.ColorWhite)
	case opacity > 0.33:
		return base.Foreground(tcell.ColorSilver)
	default:
		return base.Foreground(tcell.ColorGray).Dim(true)
	}
}

func (v *View) drawLand(bm *Qs.BaseMap) {
	cols, rows := v.MapGrid()
	if bm == nil || bm.Cols != cols || bm.Rows != rows {
		return
	}
	land := tcell.StyleDefault.Background(tcell.ColorDarkSlateGray)
	for row := range rows {
		for col := range cols {
			if bm.IsLand(col, row) {
				v.Screen.SetContent(1+col, mapTop+row, ' ', nil, land)
			}
		}
	}
}

func (v *View) drawPulse(f Qt.Frame) {
	cols, rows := v.MapGrid()
	rx := f.Radius / (float64(v.Config.MapWidth) / float64(cols))
	ry := f.Radius / (float64(v.Config.MapHeight) / float64(rows))
	if rx < 0.5 && ry < 0.5 {
		return
	}

	style := PulseStyle(f.Opacity)
	steps := max(8, int(2*math.Pi*math.Max(rx, ry)*2))
	cx, cy, ok := v.MapCell(f.X, f.Y)
	if !ok {
		return
	}
	for i := range steps {
		a := 2 * math.Pi * float64(i) / float64(steps)
		x := cx + int(math.Round(rx*math.Cos(a)))
		y := cy + int(math.Round(ry*math.Sin(a)))
		if y < mapTop || y >= mapTop+rows || x < 1 || x > cols {
			continue
		}
		_, _, st, _ := v.Screen.GetContent(x, y)
		_, bg, _ := st.Decompose()
		v.Screen.SetContent(x, y, '∘', nil, style.Background(bg))
	}
}

func (v *View) drawMarker(f Qt.Frame) {
	x, y, ok := v.MapCell(f.X, f.Y)
	if !ok {
		return
	}
	_, _, st, _ := v.Screen.GetContent(x, y)
	_, bg, _ := st.Decompose()
	style := tcell.StyleDefault.Background(bg).Foreground(tcell.GetColor(f.Fill))
	v.Screen.SetContent(x, y, MarkerRune(f.Radius), nil, style)
}

// drawAxis is the cursor track with the window start and end at either side
func (v *View) drawAxis(window Qt.ObservationWindow, cursorX float64) {
	width, _ := v.GetScreenSize()
	axis := tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorDimGray)
	for x := 1; x < width-1; x++ {
		v.Screen.SetContent(x, 2, tcell.RuneHLine, nil, axis)
	}

	if !window.Start.IsZero() {
		start := window.Start.Local().Format(labelStyle)
		end := window.End.Local().Format(labelStyle)
		v.DrawText(1, 1, width-1, 1, start)
		v.DrawText(width-1-len(end), 1, width-1, 1, end)
	}

	cursor := tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.GetColor(Qt.CursorFill))
	v.Screen.SetContent(v.CursorCol(cursorX), 2, '●', nil, cursor)
}

// DrawText displays the text string at the given (x1, y1) with box size (x2, y2)
func (v *View) DrawText(x1, y1, x2, y2 int, text string) {
	row := y1
	col := x1
	style := tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorLightSteelBlue)
	for _, r := range text {
		v.Screen.SetContent(col, row, r, nil, style)
		col++
		if col >= x2 {
			row++
			col = x1
		}
		if row > y2 {
			break
		}
	}
}

// DrawViewBorder displays the outline of the View
func (v *View) DrawViewBorder(width, height int) {
	hvStyle := tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorPink)
	v.Screen.SetContent(0, 0, tcell.RuneULCorner, nil, hvStyle)
	for i := 1; i < width; i++ {
		v.Screen.SetContent(i, 0, tcell.RuneHLine, nil, hvStyle)
		v.Screen.SetContent(i, height, tcell.RuneHLine, nil, hvStyle)
	}
	v.Screen.SetContent(width, 0, tcell.RuneURCorner, nil, hvStyle)

	for i := 1; i < height; i++ {
		v.Screen.SetContent(0, i, tcell.RuneVLine, nil, hvStyle)
		v.Screen.SetContent(width, i, tcell.RuneVLine, nil, hvStyle)
	}

	v.Screen.SetContent(0, height, tcell.RuneLLCorner, nil, hvStyle)
	v.Screen.SetContent(width, height, tcell.RuneLRCorner, nil, hvStyle)
}

// DrawQuakeView draws the whole screen from the current state
func (v *View) DrawQuakeView() {
	width, height := v.GetScreenSize()

	v.MU.Lock()
	frames := make([]Qt.Frame, 0, len(v.frames))
	for _, f := range v.frames {
		frames = append(frames, f)
	}
	bm := v.BaseMap
	cursorX := v.cursorX
	lastTitle := v.lastTitle
	fired := v.fired
	status := v.status
	s := v.Session
	v.MU.Unlock()

	var window Qt.ObservationWindow
	total := 0
	if s != nil {
		window = s.Window
		total = s.Summary().Events
	}

	v.DrawViewBorder(width-1, height-1)
	title := fmt.Sprintf("Earthquakes in the last %s", spanText(v.Config.Window.Duration))
	v.DrawText(max(1, (width-len(title))/2), 1, width-1, 1, title)
	v.drawAxis(window, cursorX)
	v.drawLand(bm)

	// pulses under markers, stable order
	slices.SortFunc(frames, func(a, b Qt.Frame) int {
		if a.Kind != b.Kind {
			return int(b.Kind) - int(a.Kind)
		}
		if c := cmp.Compare(a.At, b.At); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	for _, f := range frames {
		switch f.Kind {
		case Qt.Pulse:
			v.drawPulse(f)
		case Qt.Marker:
			v.drawMarker(f)
		}
	}

	if status != "" {
		v.DrawText(2, height-3, width-2, height-3, status)
	} else if lastTitle != "" {
		v.DrawText(2, height-3, width-2, height-3, lastTitle)
	}
	count := fmt.Sprintf("%d/%d", fired, total)
	v.DrawText(width-2-len(count), height-3, width-1, height-3, count)

	v.DrawText(1, height-2, width, height-2, "/r/ to replay | /ESC/ to quit")
	v.DrawText(width-12, height-2, width, height-2, "QUAKEPULSE")
}

func spanText(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		return strconv.Itoa(int(d/time.Hour)) + " hours"
	}
	return d.String()
}

// UpdateScreen redraws everything, a no-op without a terminal
func (v *View) UpdateScreen() {
	if v.Screen == nil {
		return
	}
	v.drawMU.Lock()
	defer v.drawMU.Unlock()
	v.Screen.Clear()
	v.DrawQuakeView()
	v.Screen.Show()
}

// ResizeScreen redraws after terminal changes. The base map grid is
// tied to the old size, so land disappears until the next replay.
func (v *View) ResizeScreen() {
	v.Screen.Sync()
	v.UpdateScreen()
}

////////// EVENTS

// Quit ends the keyboard loop
func (v *View) Quit() {
	v.MU.Lock()
	defer v.MU.Unlock()
	if v.quit == nil {
		v.quit = make(chan struct{})
	}
	select {
	case <-v.quit:
	default:
		close(v.quit)
	}
}

func (v *View) quitChan() chan struct{} {
	v.MU.Lock()
	defer v.MU.Unlock()
	if v.quit == nil {
		v.quit = make(chan struct{})
	}
	return v.quit
}

// HandleKey reports whether the key asks to quit
func (v *View) HandleKey(ev *tcell.EventKey) bool {
	if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC {
		return true
	}
	if ev.Key() == tcell.KeyCtrlL {
		v.Screen.Sync()
	}
	if ev.Rune() == 'r' && v.Supervisor != nil {
		v.Supervisor.Restart()
	}
	return false
}

// Running Loop to handle events until quit
func (v *View) handleKeyBoardEvent() {
	events := make(chan tcell.Event, 8)
	quit := v.quitChan()
	go v.Screen.ChannelEvents(events, quit)

	for {
		select {
		case <-quit:
			return
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventResize:
				v.ResizeScreen()
			case *tcell.EventKey:
				if v.HandleKey(ev) {
					v.Quit()
					return
				}
			}
		}
	}
}

////////// HTTP

// RespWriter is a wrapper with StatsMiddleware, used for Prometheus
type RespWriter struct {
	http.ResponseWriter
	Status int
}

// WriteHeader is a helper for StatsMiddleware, used for Prometheus
func (w *RespWriter) WriteHeader(status int) {
	w.Status = status
	w.ResponseWriter.WriteHeader(status)
}

// Write is a helper for StatsMiddleware, used for Prometheus
func (w *RespWriter) Write(b []byte) (int, error) {
	return w.ResponseWriter.Write(b)
}

func (v *View) StatsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &RespWriter{
			ResponseWriter: w,
			Status:         200,
		}
		next.ServeHTTP(wrapped, r)

		if v.Stats != nil {
			v.Stats.RecWWW(strconv.Itoa(wrapped.Status), r.Method)
		}
	})
}

func (v *View) startServer() {
	v.server = &http.Server{
		Addr:              v.Config.StatsAddr,
		Handler:           otelhttp.NewHandler(v.SetupMux(), "quakepulse"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting QuakePulse stats endpoint...", slog.String("Port", v.Config.StatsAddr))
		if err := v.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Could not start stats endpoint", slog.Any("Error", err))
		}
	}()
}

func (v *View) shutdown() {
	if v.Supervisor != nil {
		v.Supervisor.Stop()
	}
	if v.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := v.server.Shutdown(ctx); err != nil {
			slog.Error("Could not stop stats endpoint", slog.Any("Error", err))
		}
	}
	if v.Hub != nil {
		v.Hub.Close()
	}
	for _, out := range []Qp.OutputAdapter{v.Output, v.EventLog} {
		if out != nil {
			if err := out.Close(); err != nil {
				slog.Error("Could not close output", slog.String("output", out.Type()), slog.Any("Error", err))
			}
		}
	}
}

////////// STARTUP

// NewView builds a View without surfaces, callers add a Screen or Hub
func NewView(c Qs.Config) (*View, error) {
	eventLog, err := Qp.OutputLookup("eventlog")
	if err != nil {
		slog.Error("Could not open event log", slog.Any("Error", err))
		return nil, err
	}

	view := &View{
		Config:   c,
		Clock:    Qs.WallClock,
		Stats:    Qo.NewStatsInternal(),
		EventLog: eventLog,
		frames:   make(map[string]Qt.Frame),
	}

	if c.Output == "midi" {
		if err := InitMIDIOutput(view, c.Output); err != nil {
			slog.Warn("Continuing without MIDI", slog.Any("Error", err))
		}
	}

	view.NewPlaybackSupervisor()
	return view, nil
}

// NewScreen creates and configures the tcell screen
func NewScreen() (tcell.Screen, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		slog.Error("Could not get new screen", slog.Any("Error", err))
		return nil, err
	}
	if err := screen.Init(); err != nil {
		slog.Error("Could not initialize screen", slog.Any("Error", err))
		return nil, err
	}

	defStyle := tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorPink)
	screen.SetStyle(defStyle)
	return screen, nil
}

// StartQuakeView is called by main to run the terminal map.
// This also starts up the /metrics endpoint and the websocket stream.
func StartQuakeView(c Qs.Config) error {
	view, err := NewView(c)
	if err != nil {
		return err
	}

	screen, err := NewScreen()
	if err != nil {
		return err
	}
	view.Screen = screen
	view.Hub = NewHub(view.Stats)

	defer func() {
		maybePanic := recover()
		screen.Fini()
		if maybePanic != nil {
			panic(maybePanic)
		}
	}()

	view.UpdateScreen()
	view.startServer()
	view.Supervisor.Start()

	view.handleKeyBoardEvent()
	view.shutdown()

	return nil
}

// StartWebNoTUI streams the run to browsers only
func StartWebNoTUI(c Qs.Config) error {
	view, err := NewView(c)
	if err != nil {
		return err
	}
	view.Hub = NewHub(view.Stats)
	view.Supervisor.Start()

	view.server = &http.Server{
		Addr:              c.StatsAddr,
		Handler:           otelhttp.NewHandler(view.SetupMux(), "quakepulse"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting QuakePulse web server...", slog.String("Port", c.StatsAddr))
	if err := view.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Could not start web server", slog.Any("Error", err))
		view.shutdown()
		return err
	}

	return nil
}
