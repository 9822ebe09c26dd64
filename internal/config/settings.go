package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SettingsFile is looked up in the config directory.
const SettingsFile = "spacerama.settings.json"

// ConditionerSettings describes a simulated bad link.
type ConditionerSettings struct {
	LatencyMs  int     `json:"latencyMs" mapstructure:"latencyMs"`
	JitterMs   int     `json:"jitterMs" mapstructure:"jitterMs"`
	PacketLoss float64 `json:"packetLoss" mapstructure:"packetLoss"`
	Seed       int64   `json:"seed" mapstructure:"seed"`
}

func (c ConditionerSettings) Latency() time.Duration {
	return time.Duration(c.LatencyMs) * time.Millisecond
}

func (c ConditionerSettings) Jitter() time.Duration {
	return time.Duration(c.JitterMs) * time.Millisecond
}

type ClientSettings struct {
	ClientID              uint64              `json:"clientId" mapstructure:"clientId"`
	InputDelayTicks       int                 `json:"inputDelayTicks" mapstructure:"inputDelayTicks"`
	MaxPredictionTicks    int                 `json:"maxPredictionTicks" mapstructure:"maxPredictionTicks"`
	CorrectionTicksFactor float64             `json:"correctionTicksFactor" mapstructure:"correctionTicksFactor"`
	ServerAddr            string              `json:"serverAddr" mapstructure:"serverAddr"`
	ServerPort            int                 `json:"serverPort" mapstructure:"serverPort"`
	Conditioner           ConditionerSettings `json:"conditioner" mapstructure:"conditioner"`
}

type ServerSettings struct {
	Headless    bool                `json:"headless" mapstructure:"headless"`
	Port        int                 `json:"port" mapstructure:"port"`
	Conditioner ConditionerSettings `json:"conditioner" mapstructure:"conditioner"`
}

type SharedSettings struct {
	ProtocolID      uint64 `json:"protocolId" mapstructure:"protocolId"`
	TickRate        int    `json:"tickRate" mapstructure:"tickRate"`
	PlayerCount     int    `json:"playerCount" mapstructure:"playerCount"`
	InputRedundancy int    `json:"inputRedundancy" mapstructure:"inputRedundancy"`
}

type ReplaySettings struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// Settings is the full settings document.
type Settings struct {
	Client                        ClientSettings `json:"client" mapstructure:"client"`
	Server                        ServerSettings `json:"server" mapstructure:"server"`
	Shared                        SharedSettings `json:"shared" mapstructure:"shared"`
	Replay                        ReplaySettings `json:"replay" mapstructure:"replay"`
	PredictAll                    bool           `json:"predictAll" mapstructure:"predictAll"`
	ServerReplicationSendInterval int            `json:"serverReplicationSendInterval" mapstructure:"serverReplicationSendInterval"`
	LogLevel                      string         `json:"logLevel" mapstructure:"logLevel"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logLevel", "info")
	v.SetDefault("predictAll", true)
	v.SetDefault("serverReplicationSendInterval", DefaultReplicationInterval)

	v.SetDefault("client.clientId", 1)
	v.SetDefault("client.inputDelayTicks", DefaultInputDelayTicks)
	v.SetDefault("client.maxPredictionTicks", DefaultMaxPredictionTicks)
	v.SetDefault("client.correctionTicksFactor", DefaultCorrectionTicksFactor)
	v.SetDefault("client.serverAddr", "127.0.0.1")
	v.SetDefault("client.serverPort", 5000)
	v.SetDefault("client.conditioner.latencyMs", 0)
	v.SetDefault("client.conditioner.jitterMs", 0)
	v.SetDefault("client.conditioner.packetLoss", 0.0)
	v.SetDefault("client.conditioner.seed", 1)

	v.SetDefault("server.headless", true)
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.conditioner.latencyMs", 0)
	v.SetDefault("server.conditioner.jitterMs", 0)
	v.SetDefault("server.conditioner.packetLoss", 0.0)
	v.SetDefault("server.conditioner.seed", 2)

	v.SetDefault("shared.protocolId", DefaultProtocolID)
	v.SetDefault("shared.tickRate", DefaultTickRate)
	v.SetDefault("shared.playerCount", 2)
	v.SetDefault("shared.inputRedundancy", 8)

	v.SetDefault("replay.enabled", false)
	v.SetDefault("replay.path", "spacerama-replays.db")
}

// Load reads settings from configDir, falling back to defaults when the
// file does not exist. SPACERAMA_ prefixed environment variables override
// both, with dots replaced by underscores (SPACERAMA_CLIENT_INPUTDELAYTICKS).
func Load(configDir string) (Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("spacerama")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configDir != "" {
		v.SetConfigName(SettingsFile)
		v.SetConfigType("json")
		v.AddConfigPath(configDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Settings{}, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

// Session derives the immutable session tuning from the settings.
func (s Settings) Session() SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.InputDelayTicks = s.Client.InputDelayTicks
	cfg.MaxPredictionTicks = s.Client.MaxPredictionTicks
	cfg.CorrectionTicksFactor = s.Client.CorrectionTicksFactor
	cfg.PlayerCount = s.Shared.PlayerCount
	cfg.ProtocolID = s.Shared.ProtocolID
	cfg.TickRate = s.Shared.TickRate
	cfg.PredictAll = s.PredictAll
	cfg.ReplicationIntervalTicks = s.ServerReplicationSendInterval
	cfg.InputRedundancy = s.Shared.InputRedundancy
	return cfg
}

// ServerURL is the websocket relay endpoint a client dials.
func (s Settings) ServerURL() string {
	return fmt.Sprintf("ws://%s:%d/ws", s.Client.ServerAddr, s.Client.ServerPort)
}
