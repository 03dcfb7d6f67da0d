package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"learngraph/application/voice"
)

// DefaultInstructions tell the agent how to treat the learning graph
const DefaultInstructions = `You are a study coach. While the learner talks about what they want
to achieve, build their learning graph with the provided tools: add motivators, tasks,
challenges, ideas, classes, assignments, tests, projects and essays as nodes, connect each
task to what it serves, and keep titles short. The current graph is sent with every
request; refer to nodes by their ids.`

// AgentProfile is the YAML description of the agent's persona and the
// session settings that go with it
type AgentProfile struct {
	Name            string        `yaml:"name"`
	Model           string        `yaml:"model"`
	Voice           string        `yaml:"voice"`
	Instructions    string        `yaml:"instructions"`
	TentativeNodes  bool          `yaml:"tentative_nodes"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	Capture         CaptureConfig `yaml:"capture"`
}

// CaptureConfig is the YAML form of voice.CaptureTuning
type CaptureConfig struct {
	AmplitudeThreshold float64       `yaml:"amplitude_threshold"`
	FlushInterval      time.Duration `yaml:"flush_interval"`
	SilenceFrames      int           `yaml:"silence_frames"`
}

// DefaultAgentProfile is used when no profile file is configured
func DefaultAgentProfile() AgentProfile {
	t := voice.DefaultCaptureTuning()
	return AgentProfile{
		Name:            "coach",
		Voice:           "verse",
		Instructions:    DefaultInstructions,
		ResponseTimeout: voice.DefaultResponseTimeout,
		Capture: CaptureConfig{
			AmplitudeThreshold: t.AmplitudeThreshold,
			FlushInterval:      t.FlushInterval,
			SilenceFrames:      t.SilenceFrames,
		},
	}
}

// LoadAgentProfile reads a profile, filling omitted fields from the
// default profile
func LoadAgentProfile(path string) (AgentProfile, error) {
	profile := DefaultAgentProfile()
	data, err := os.ReadFile(path)
	if err != nil {
		return profile, fmt.Errorf("read agent profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return profile, fmt.Errorf("parse agent profile: %w", err)
	}
	profile.Instructions = strings.TrimSpace(profile.Instructions)
	if profile.Instructions == "" {
		return profile, fmt.Errorf("agent profile %q has no instructions", path)
	}
	if profile.ResponseTimeout <= 0 {
		return profile, fmt.Errorf("agent profile response_timeout must be positive")
	}
	if err := validateTuning(profile.Tuning()); err != nil {
		return profile, fmt.Errorf("agent profile capture: %w", err)
	}
	return profile, nil
}

// Tuning converts the capture section
func (p AgentProfile) Tuning() voice.CaptureTuning {
	return voice.CaptureTuning{
		AmplitudeThreshold: p.Capture.AmplitudeThreshold,
		FlushInterval:      p.Capture.FlushInterval,
		SilenceFrames:      p.Capture.SilenceFrames,
	}
}

// ApplyEnv lets explicit environment settings override the profile
func (p AgentProfile) ApplyEnv(cfg *Config) AgentProfile {
	if p.Model == "" {
		p.Model = cfg.AgentModel
	}
	if os.Getenv("AGENT_VOICE") != "" {
		p.Voice = cfg.AgentVoice
	}
	if cfg.TentativeNodes {
		p.TentativeNodes = true
	}
	if os.Getenv("RESPONSE_TIMEOUT") != "" {
		p.ResponseTimeout = cfg.ResponseTimeout
	}
	return p
}
