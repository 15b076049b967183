package executor

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"visa-automation-service/internal/entity"
)

// Config maps each stage to the external script that drives its portal.
//
//	stages:
//	  StageA:
//	    command: node
//	    args: ["bots/stage_a.js"]
//	    timeout: 20m
type Config struct {
	Stages map[string]StageConfig `yaml:"stages"`
}

type StageConfig struct {
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`
	Timeout   string   `yaml:"timeout"`
	KillDelay string   `yaml:"kill_delay"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stage config: %w", err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse stage config: %w", err)
	}
	if len(cfg.Stages) == 0 {
		return nil, fmt.Errorf("stage config defines no stages")
	}
	for name, sc := range cfg.Stages {
		if !entity.KnownStage(entity.Stage(name)) {
			return nil, fmt.Errorf("stage config: unknown stage %q", name)
		}
		if sc.Command == "" {
			return nil, fmt.Errorf("stage config: stage %q has no command", name)
		}
		if _, err := durationOr(sc.Timeout, 0); err != nil {
			return nil, fmt.Errorf("stage config: stage %q timeout: %w", name, err)
		}
		if _, err := durationOr(sc.KillDelay, 0); err != nil {
			return nil, fmt.Errorf("stage config: stage %q kill_delay: %w", name, err)
		}
	}
	return &cfg, nil
}

// BuildRegistry turns the config into script executors, one per stage.
func (c *Config) BuildRegistry() Registry {
	reg := Registry{}
	for name, sc := range c.Stages {
		timeout, _ := durationOr(sc.Timeout, 0)
		killDelay, _ := durationOr(sc.KillDelay, 0)
		reg[entity.Stage(name)] = NewScriptExecutor(sc.Command, sc.Args, timeout, killDelay)
	}
	return reg
}

func durationOr(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
