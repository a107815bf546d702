package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all runtime settings for the interview service.
type Config struct {
	BindAddr              string
	ShutdownTimeout       time.Duration
	RoomInactivityTimeout time.Duration
	MetricsNamespace      string
	LogLevel              string
	LogFormat             string

	AllowAnyOrigin bool

	OpenAIAPIKey             string
	OpenAIBaseURL            string
	RealtimeModel            string
	RealtimeVoice            string
	TranscriptionModel       string
	EvaluationModel          string
	ICEServers               []string
	EvaluationPassThreshold  int
	InterviewAutoEvaluate    bool
	ForwardAssistantAudio    bool
	InterviewSessionLimit    time.Duration
	InterviewConnectTimeout  time.Duration
	InterviewFinalizeGrace   time.Duration
	InterviewDrainTimeout    time.Duration
	InterviewPersistTimeout  time.Duration
	SubtitleTick             time.Duration
	SubtitleSlice            int
	ResumeMaxChars           int
	EvaluationRequestTimeout time.Duration

	DatabaseURL string
}

// Load reads environment variables (and an optional config file) and applies
// safe defaults.
func Load(configFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	if strings.TrimSpace(configFile) != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		BindAddr:                v.GetString("APP_BIND_ADDR"),
		MetricsNamespace:        v.GetString("APP_METRICS_NAMESPACE"),
		LogLevel:                strings.ToLower(trimmed(v, "APP_LOG_LEVEL")),
		LogFormat:               strings.ToLower(trimmed(v, "APP_LOG_FORMAT")),
		OpenAIAPIKey:            trimmed(v, "OPENAI_API_KEY"),
		OpenAIBaseURL:           strings.TrimRight(trimmed(v, "OPENAI_BASE_URL"), "/"),
		RealtimeModel:           trimmed(v, "OPENAI_REALTIME_MODEL"),
		RealtimeVoice:           trimmed(v, "OPENAI_REALTIME_VOICE"),
		TranscriptionModel:      trimmed(v, "OPENAI_TRANSCRIPTION_MODEL"),
		EvaluationModel:         trimmed(v, "OPENAI_EVALUATION_MODEL"),
		ICEServers:              splitList(trimmed(v, "WEBRTC_ICE_SERVERS")),
		DatabaseURL:             trimmed(v, "DATABASE_URL"),
		EvaluationPassThreshold: 80,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFrom(v, "APP_SHUTDOWN_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.RoomInactivityTimeout, err = durationFrom(v, "APP_ROOM_INACTIVITY_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.InterviewSessionLimit, err = durationFrom(v, "INTERVIEW_SESSION_LIMIT"); err != nil {
		return Config{}, err
	}
	if cfg.InterviewConnectTimeout, err = durationFrom(v, "INTERVIEW_CONNECT_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.InterviewFinalizeGrace, err = durationFrom(v, "INTERVIEW_FINALIZE_GRACE"); err != nil {
		return Config{}, err
	}
	if cfg.InterviewDrainTimeout, err = durationFrom(v, "INTERVIEW_DRAIN_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.InterviewPersistTimeout, err = durationFrom(v, "INTERVIEW_PERSIST_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.SubtitleTick, err = durationFrom(v, "SUBTITLE_TICK"); err != nil {
		return Config{}, err
	}
	if cfg.EvaluationRequestTimeout, err = durationFrom(v, "EVALUATION_REQUEST_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.SubtitleSlice, err = intFrom(v, "SUBTITLE_SLICE"); err != nil {
		return Config{}, err
	}
	if cfg.ResumeMaxChars, err = intFrom(v, "RESUME_MAX_CHARS"); err != nil {
		return Config{}, err
	}
	if cfg.EvaluationPassThreshold, err = intFrom(v, "EVALUATION_PASS_THRESHOLD"); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFrom(v, "APP_ALLOW_ANY_ORIGIN"); err != nil {
		return Config{}, err
	}
	if cfg.InterviewAutoEvaluate, err = boolFrom(v, "INTERVIEW_AUTO_EVALUATE"); err != nil {
		return Config{}, err
	}
	if cfg.ForwardAssistantAudio, err = boolFrom(v, "INTERVIEW_FORWARD_ASSISTANT_AUDIO"); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_BIND_ADDR", ":8080")
	v.SetDefault("APP_SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("APP_ROOM_INACTIVITY_TIMEOUT", "10m")
	v.SetDefault("APP_METRICS_NAMESPACE", "screener")
	v.SetDefault("APP_LOG_LEVEL", "info")
	v.SetDefault("APP_LOG_FORMAT", "json")
	v.SetDefault("APP_ALLOW_ANY_ORIGIN", "false")
	v.SetDefault("OPENAI_BASE_URL", "https://api.openai.com")
	v.SetDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-12-17")
	v.SetDefault("OPENAI_REALTIME_VOICE", "alloy")
	v.SetDefault("OPENAI_TRANSCRIPTION_MODEL", "whisper-1")
	v.SetDefault("OPENAI_EVALUATION_MODEL", "gpt-4o-2024-08-06")
	v.SetDefault("WEBRTC_ICE_SERVERS", "stun:stun.l.google.com:19302")
	v.SetDefault("INTERVIEW_SESSION_LIMIT", "30m")
	v.SetDefault("INTERVIEW_CONNECT_TIMEOUT", "20s")
	v.SetDefault("INTERVIEW_FINALIZE_GRACE", "1500ms")
	v.SetDefault("INTERVIEW_DRAIN_TIMEOUT", "15s")
	v.SetDefault("INTERVIEW_PERSIST_TIMEOUT", "10s")
	v.SetDefault("INTERVIEW_AUTO_EVALUATE", "true")
	v.SetDefault("INTERVIEW_FORWARD_ASSISTANT_AUDIO", "false")
	v.SetDefault("SUBTITLE_TICK", "30ms")
	v.SetDefault("SUBTITLE_SLICE", "2")
	v.SetDefault("RESUME_MAX_CHARS", "12000")
	v.SetDefault("EVALUATION_PASS_THRESHOLD", "80")
	v.SetDefault("EVALUATION_REQUEST_TIMEOUT", "90s")
	v.SetDefault("DATABASE_URL", "")
}

func (cfg Config) validate() error {
	if cfg.RoomInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_ROOM_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.InterviewSessionLimit < time.Minute {
		return fmt.Errorf("INTERVIEW_SESSION_LIMIT must be at least 1m")
	}
	if cfg.InterviewConnectTimeout <= 0 {
		return fmt.Errorf("INTERVIEW_CONNECT_TIMEOUT must be positive")
	}
	if cfg.InterviewFinalizeGrace < 0 {
		return fmt.Errorf("INTERVIEW_FINALIZE_GRACE must be >= 0")
	}
	if cfg.InterviewDrainTimeout <= 0 {
		return fmt.Errorf("INTERVIEW_DRAIN_TIMEOUT must be positive")
	}
	if cfg.SubtitleTick <= 0 {
		return fmt.Errorf("SUBTITLE_TICK must be positive")
	}
	if cfg.SubtitleSlice <= 0 {
		return fmt.Errorf("SUBTITLE_SLICE must be positive")
	}
	if cfg.ResumeMaxChars < 0 {
		return fmt.Errorf("RESUME_MAX_CHARS must be >= 0")
	}
	if cfg.EvaluationPassThreshold < 0 || cfg.EvaluationPassThreshold > 100 {
		return fmt.Errorf("EVALUATION_PASS_THRESHOLD must be within 0..100")
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("invalid APP_LOG_FORMAT: %q (expected json|console)", cfg.LogFormat)
	}
	return nil
}

func trimmed(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationFrom(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(trimmed(v, key))
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFrom(v *viper.Viper, key string) (int, error) {
	n, err := strconv.Atoi(trimmed(v, key))
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFrom(v *viper.Viper, key string) (bool, error) {
	switch strings.ToLower(trimmed(v, key)) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
