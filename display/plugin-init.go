//go:build !nomidi

package quakepulse

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	Qp "github.com/maroda/quakepulse/plugin"
	Qs "github.com/maroda/quakepulse/server"
)

func InitMIDIOutput(view *View, outputLocation string) error {
	midiPort := Qs.FillEnvVarInt("QUAKEPULSE_PLUGIN_MIDI_PORT", 0)
	midiRoot := uint8(Qs.FillEnvVarInt("QUAKEPULSE_PLUGIN_MIDI_ROOT", 60))
	midiHold := Qs.FillEnvVarDuration("QUAKEPULSE_PLUGIN_MIDI_HOLD", 500*time.Millisecond)
	midiScale := Qs.FillEnvVar("QUAKEPULSE_PLUGIN_MIDI_SCALE")

	slog.Info("Configuration found:",
		slog.Int("Port", midiPort),
		slog.Any("Root", midiRoot),
		slog.Duration("Hold", midiHold),
		slog.String("Scale", midiScale),
	)

	output, err := Qp.NewMIDIOutput(midiPort, midiRoot, ParseScale(midiScale), midiHold)
	if err != nil {
		slog.Error("Failed to create adapter",
			slog.String("output", outputLocation),
			slog.Any("error", err))
		return err
	}
	view.Output = output
	slog.Info("MIDI Adapter Enabled", slog.String("output", outputLocation))
	return nil
}

// ParseScale reads comma separated intervals, anything unreadable
// gives the default scale
func ParseScale(raw string) []uint8 {
	if raw == "" || raw == "ENOENT" {
		return Qp.DefaultScale
	}

	var scale []uint8
	for _, v := range strings.Split(raw, ",") {
		interval, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || interval < 0 || interval > 12 {
			slog.Error("Could not read MIDI_SCALE value, using default", slog.Any("error", err), slog.String("value", v))
			return Qp.DefaultScale
		}
		scale = append(scale, uint8(interval))
	}
	return scale
}
