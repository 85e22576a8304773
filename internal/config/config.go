package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// TelephonyMode selects between real PSTN calls and the local sandbox
type TelephonyMode string

const (
	ModeLive    TelephonyMode = "live"
	ModeSandbox TelephonyMode = "sandbox"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string
	PublicBaseURL  string

	// WebSocket tuning
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration

	// Voice agent connection
	AgentURL      string
	AgentAPIKey   string
	AgentModel    string
	SystemPrompt  string
	Greeting      string
	AudioEncoding string
	SampleRate    int

	// Bridge timing
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	DrainTimeout     time.Duration

	// Admission control
	BurstLimit   int // per second
	MinuteLimit  int
	HourLimit    int
	KeyIdleEvict time.Duration

	// Telephony
	TelephonyMode TelephonyMode
	TwilioSID     string
	TwilioToken   string
	TwilioFrom    string

	// Clinic identity used in follow-up messages
	ClinicID    string
	ClinicName  string
	ClinicPhone string

	// Post-call workflow
	ReviewLink       string
	ReviewDelay      time.Duration
	QualityThreshold int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		AgentURL:       getEnv("AGENT_URL", "wss://agent.deepgram.com/agent"),
		AgentAPIKey:    getEnv("AGENT_API_KEY", ""),
		AgentModel:     getEnv("AGENT_MODEL", "gpt-4o-mini"),
		SystemPrompt:   getEnv("AGENT_SYSTEM_PROMPT", "You are a friendly receptionist for a medical clinic. Help callers book appointments."),
		Greeting:       getEnv("AGENT_GREETING", "Thank you for calling. How can I help you today?"),
		AudioEncoding:  getEnv("AUDIO_ENCODING", "mulaw"),
		ClinicID:       getEnv("CLINIC_ID", "default"),
		ClinicName:     getEnv("CLINIC_NAME", "the clinic"),
		ClinicPhone:    getEnv("CLINIC_PHONE", ""),
		ReviewLink:     getEnv("REVIEW_LINK", ""),
		TwilioSID:      getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioToken:    getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFrom:     getEnv("TWILIO_FROM_NUMBER", ""),
	}

	mode := TelephonyMode(getEnv("TELEPHONY_MODE", "sandbox"))
	if mode != ModeLive && mode != ModeSandbox {
		return nil, fmt.Errorf("invalid TELEPHONY_MODE: %s", mode)
	}
	config.TelephonyMode = mode

	var err error
	if config.SampleRate, err = getEnvInt("AUDIO_SAMPLE_RATE", 8000); err != nil {
		return nil, err
	}
	if config.BurstLimit, err = getEnvInt("RATE_BURST_LIMIT", 3); err != nil {
		return nil, err
	}
	if config.MinuteLimit, err = getEnvInt("RATE_MINUTE_LIMIT", 10); err != nil {
		return nil, err
	}
	if config.HourLimit, err = getEnvInt("RATE_HOUR_LIMIT", 60); err != nil {
		return nil, err
	}
	if config.QualityThreshold, err = getEnvInt("QUALITY_THRESHOLD", 60); err != nil {
		return nil, err
	}

	if config.HandshakeTimeout, err = getEnvSeconds("HANDSHAKE_TIMEOUT", 10); err != nil {
		return nil, err
	}
	if config.IdleTimeout, err = getEnvSeconds("IDLE_TIMEOUT", 45); err != nil {
		return nil, err
	}
	if config.DrainTimeout, err = getEnvSeconds("DRAIN_TIMEOUT", 5); err != nil {
		return nil, err
	}
	if config.KeyIdleEvict, err = getEnvSeconds("RATE_KEY_IDLE_EVICT", 7200); err != nil {
		return nil, err
	}
	if config.ReviewDelay, err = getEnvSeconds("REVIEW_DELAY", 86400); err != nil {
		return nil, err
	}

	if config.WSReadTimeout, err = getEnvSeconds("WS_READ_TIMEOUT", 60); err != nil {
		return nil, err
	}
	if config.WSWriteTimeout, err = getEnvSeconds("WS_WRITE_TIMEOUT", 10); err != nil {
		return nil, err
	}
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout

	if mode == ModeLive && (config.TwilioSID == "" || config.TwilioToken == "") {
		return nil, fmt.Errorf("TELEPHONY_MODE=live requires TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN")
	}

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return config, nil
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvSeconds(key string, defaultSecs int) (time.Duration, error) {
	secs, err := getEnvInt(key, defaultSecs)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}
