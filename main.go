package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	Qd "github.com/maroda/quakepulse/display"
	Qo "github.com/maroda/quakepulse/obvy"
	Qs "github.com/maroda/quakepulse/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "quakepulse: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	// The terminal belongs to the map, so the TUI logs to a file
	var logOut io.Writer = os.Stdout
	if config.Display != "web" {
		logName := Qs.FillEnvVar("QUAKEPULSE_LOG_FILE")
		if logName == "ENOENT" {
			logName = "quakepulse.log"
		}
		logFile, err := Qo.OpenLogFile(logName)
		if err != nil {
			return fmt.Errorf("could not open log file: %w", err)
		}
		defer logFile.Close()
		logOut = logFile
	}
	slog.SetDefault(Qo.NewLogger(config.Env, logOut))

	shutdown, err := Qo.InitOTel(config.OTel)
	if err != nil {
		slog.Error("Could not start tracing, continuing without", slog.Any("Error", err))
	} else {
		defer shutdown()
	}

	slog.Info("QuakePulse starting",
		slog.String("version", Qd.Version),
		slog.String("display", config.Display),
		slog.String("feed", config.FeedURL),
		slog.Float64("speedFactor", config.SpeedFactor))

	switch config.Display {
	case "web":
		err = Qd.StartWebNoTUI(config)
	default:
		err = Qd.StartQuakeView(config)
	}
	if err != nil {
		slog.Error("QuakePulse stopped", slog.Any("Error", err))
	}
	return err
}

// loadConfig reads QUAKEPULSE_CONFIG when set, then the environment on top
func loadConfig() (Qs.Config, error) {
	config := Qs.DefaultConfig()
	if name := Qs.FillEnvVar("QUAKEPULSE_CONFIG"); name != "ENOENT" {
		loaded, err := Qs.LoadConfigFileName(name)
		if err != nil {
			return config, fmt.Errorf("config %s: %w", name, err)
		}
		config = loaded
	}
	config.ApplyEnv()
	return config, config.Validate()
}
