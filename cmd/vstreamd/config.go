package main

import (
	"os"

	"github.com/joho/godotenv"
)

// config holds the daemon's environment-derived configuration. Values are
// loaded from a .env file when present (godotenv.Load never overwrites an
// already-set environment variable) and fall back to hardcoded defaults the
// way the teacher's envOr helper does.
type config struct {
	dataAddr   string
	ackAddr    string
	rtpAddr    string
	apiAddr    string
	sessionKey string
}

func loadConfig() config {
	_ = godotenv.Load()

	return config{
		dataAddr:   envOr("VSTREAMD_DATA_ADDR", ":5551"),
		ackAddr:    envOr("VSTREAMD_ACK_ADDR", "127.0.0.1:5552"),
		rtpAddr:    envOr("VSTREAMD_RTP_ADDR", ":5553"),
		apiAddr:    envOr("VSTREAMD_API_ADDR", ":8080"),
		sessionKey: envOr("VSTREAMD_SESSION_KEY", ""),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
