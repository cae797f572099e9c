package quakepulse

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// FillEnvVar returns the value of a runtime Environment Variable
func FillEnvVar(ev string) string {
	// If the EnvVar doesn't exist return a default string
	value := os.Getenv(ev)
	if value == "" {
		value = "ENOENT"
	}
	return value
}

// FillEnvVarInt returns the integer value of an Environment Variable,
// or the fallback when it is unset or not a number
func FillEnvVarInt(ev string, fallback int) int {
	value := os.Getenv(ev)
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("Env var is not an integer, using default",
			slog.String("var", ev),
			slog.String("value", value),
			slog.Int("default", fallback))
		return fallback
	}
	return i
}

// FillEnvVarFloat is FillEnvVarInt for floats
func FillEnvVarFloat(ev string, fallback float64) float64 {
	value := os.Getenv(ev)
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		slog.Warn("Env var is not a number, using default",
			slog.String("var", ev),
			slog.String("value", value),
			slog.Float64("default", fallback))
		return fallback
	}
	return f
}

// FillEnvVarDuration reads Go duration syntax, e.g. "24h" or "1500ms"
func FillEnvVarDuration(ev string, fallback time.Duration) time.Duration {
	value := os.Getenv(ev)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Env var is not a duration, using default",
			slog.String("var", ev),
			slog.String("value", value),
			slog.Duration("default", fallback))
		return fallback
	}
	return d
}

// UrlCat is variadic, concatenating any set of strings into a URL.
// It can be used to embed a dynamic string alongside static parts of a URI.
// /u/ is a slice of strings used to build completeURL
func UrlCat(u ...string) string {
	var completeURL string
	for _, p := range u {
		completeURL = completeURL + p
	}
	slog.Debug("New endpoint", slog.String("URL", completeURL))
	return completeURL
}
