package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sovereign/internal/domain"
)

// Config models sovereign.yml.
type Config struct {
	LLM struct {
		Backend    string  `yaml:"backend"`
		Model      string  `yaml:"model"`
		OllamaHost string  `yaml:"ollama_host"`
		Attempts   int     `yaml:"attempts"`
		BackoffSec int     `yaml:"backoff_sec"`
		CostUSD    float64 `yaml:"cost_per_call_usd"`
	} `yaml:"llm"`

	DataDir string `yaml:"data_dir"`
	LogFile string `yaml:"log_file"`

	Agents map[string]AgentConfig `yaml:"agents"`

	Consumers      []domain.Consumer `yaml:"consumers"`
	IndustryTopics []string          `yaml:"industry_topics"`
	MaxTopics      int               `yaml:"max_topics"`

	Feeds struct {
		// URL templates with %s for the topic query.
		Template      string `yaml:"template"`
		VideoTemplate string `yaml:"video_template"`
		MaxItems      int    `yaml:"max_items"`
	} `yaml:"feeds"`

	Snapshots struct {
		// Sync commits the exported day snapshot to the deploy repo.
		Sync bool `yaml:"sync"`
	} `yaml:"snapshots"`

	Governance struct {
		// Daily cutoff after which pending proposals auto-approve, "HH:MM".
		Deadline string `yaml:"deadline"`
		Timezone string `yaml:"timezone"`
	} `yaml:"governance"`

	Deploy struct {
		RepoDir         string   `yaml:"repo_dir"`
		PrimaryArtifact string   `yaml:"primary_artifact"`
		MinLines        int      `yaml:"min_lines"`
		RequiredSymbols []string `yaml:"required_symbols"`
		BackupDir       string   `yaml:"backup_dir"`
		PushRemote      string   `yaml:"push_remote"`
	} `yaml:"deploy"`

	Mail struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		From     string `yaml:"from"`
		Admin    string `yaml:"admin"`
		Attempts int    `yaml:"attempts"`
	} `yaml:"mail"`
}

type AgentConfig struct {
	Instruction string `yaml:"instruction"`
	Model       string `yaml:"model"`
}

// Canonical agent roles. Instructions for these come from config and may be
// overwritten at runtime through approved proposals.
const (
	RoleBusiness   = "BA"
	RoleSecurities = "STOCK"
	RolePlanning   = "PM"
	RoleHR         = "HR"
	RoleSummary    = "SUMMARY"
	RoleCritic     = "CRITIC"
	RoleDeveloper  = "DEVELOPER"
)

// Load reads and validates the config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with workable defaults for everything that has one.
func Default() *Config {
	cfg := &Config{}
	cfg.LLM.Backend = "gemini"
	cfg.LLM.Attempts = 3
	cfg.LLM.BackoffSec = 2
	cfg.DataDir = "data"
	cfg.LogFile = "sovereign.log"
	cfg.MaxTopics = 5
	cfg.Feeds.Template = "https://news.google.com/rss/search?q=%s"
	cfg.Feeds.MaxItems = 10
	cfg.Governance.Deadline = "18:00"
	cfg.Governance.Timezone = "Asia/Seoul"
	cfg.Deploy.MinLines = 50
	cfg.Deploy.BackupDir = "backups"
	cfg.Deploy.PushRemote = "origin"
	cfg.Mail.Attempts = 3
	cfg.Agents = map[string]AgentConfig{
		RoleBusiness:   {Instruction: "You are a business analyst. Analyze revenue structure and competition."},
		RoleSecurities: {Instruction: "You are a securities analyst. Analyze market reaction and investment insight."},
		RolePlanning:   {Instruction: "You are a product planner. Produce a strategic service planning brief."},
		RoleHR:         {Instruction: "You are an HR strategist. Propose organizational implications."},
		RoleSummary:    {Instruction: "You summarize news items in one line each with a market impact estimate."},
		RoleCritic:     {Instruction: "You critique the engine's agent instructions and propose concrete improvements."},
		RoleDeveloper:  {Instruction: "You are a senior engineer. Rewrite the given artifact to satisfy the requirement. Output the complete file."},
	}
	return cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("config.agents is required")
	}
	for _, role := range []string{RoleBusiness, RoleSecurities, RolePlanning, RoleSummary, RoleCritic, RoleDeveloper} {
		if _, ok := c.Agents[role]; !ok {
			return fmt.Errorf("config.agents is missing role %s", role)
		}
	}
	if _, err := c.DeadlineFor(time.Now()); err != nil {
		return err
	}
	for i, consumer := range c.Consumers {
		if strings.TrimSpace(consumer.ID) == "" {
			return fmt.Errorf("config.consumers[%d].id is required", i)
		}
		if strings.TrimSpace(consumer.Email) == "" {
			return fmt.Errorf("config.consumers[%d].email is required", i)
		}
	}
	if c.MaxTopics <= 0 {
		return fmt.Errorf("config.max_topics must be positive")
	}
	return nil
}

// DeadlineFor resolves the governance cutoff on the same day as now,
// in the configured timezone.
func (c *Config) DeadlineFor(now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(c.Governance.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("config.governance.timezone: %w", err)
	}
	t, err := time.Parse("15:04", c.Governance.Deadline)
	if err != nil {
		return time.Time{}, fmt.Errorf("config.governance.deadline must be HH:MM: %w", err)
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}

// Topics returns the consumer's topics capped at MaxTopics, mirroring the
// briefing loop's keyword limit.
func (c *Config) Topics(consumer domain.Consumer) []string {
	if len(consumer.Topics) <= c.MaxTopics {
		return consumer.Topics
	}
	return consumer.Topics[:c.MaxTopics]
}
