package conf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"goa.design/clue/log"
	"gopkg.in/yaml.v3"
)

// PromptsConfig contains all prompt texts loaded from YAML
type PromptsConfig struct {
	Idle     IdlePrompts     `yaml:"idle"`
	Daily    DailyPrompts    `yaml:"daily"`
	Reminder ReminderPrompts `yaml:"reminder"`
	Persona  PersonaPrompts  `yaml:"persona"`
}

// IdlePrompts contains idle trigger templates, one is picked at random
type IdlePrompts struct {
	Templates []string `yaml:"templates"`
}

// DailyPrompts contains the default prompt of each daily slot
type DailyPrompts struct {
	Slot1 string `yaml:"slot1"`
	Slot2 string `yaml:"slot2"`
	Slot3 string `yaml:"slot3"`
}

// ReminderPrompts contains the reminder phrasing template
type ReminderPrompts struct {
	Template string `yaml:"template"`
}

// PersonaPrompts contains the global default persona
type PersonaPrompts struct {
	Name    string `yaml:"name"`
	Default string `yaml:"default"`
}

// LoadPromptsConfig loads prompts configuration from YAML file
func LoadPromptsConfig(ctx context.Context, configPath string) (*PromptsConfig, error) {
	// Try multiple paths
	paths := []string{configPath}
	if configPath == "" {
		paths = []string{
			"configs/prompts.yaml",
			"/etc/feishu-nudge/prompts.yaml",
		}
		// Add path relative to executable
		if execPath, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "prompts.yaml"))
		}
	}

	var data []byte
	var loadedPath string
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err == nil {
			data, loadedPath = b, p
			break
		}
	}

	if data == nil {
		log.Info(ctx, log.KV{K: "component", V: "config"}, log.KV{K: "msg", V: "no prompts.yaml found, using defaults"})
		return DefaultPromptsConfig(), nil
	}

	log.Info(ctx, log.KV{K: "component", V: "config"}, log.KV{K: "msg", V: "loading prompts"}, log.KV{K: "path", V: loadedPath})

	var config PromptsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse prompts.yaml: %w", err)
	}

	// Fill in defaults for empty values
	config.fillDefaults()

	return &config, nil
}

// fillDefaults fills in default values for empty fields
func (c *PromptsConfig) fillDefaults() {
	defaults := DefaultPromptsConfig()

	var templates []string
	for _, t := range c.Idle.Templates {
		if t != "" {
			templates = append(templates, t)
		}
	}
	if len(templates) == 0 {
		templates = defaults.Idle.Templates
	}
	c.Idle.Templates = templates

	if c.Daily.Slot1 == "" {
		c.Daily.Slot1 = defaults.Daily.Slot1
	}
	if c.Daily.Slot2 == "" {
		c.Daily.Slot2 = defaults.Daily.Slot2
	}
	if c.Daily.Slot3 == "" {
		c.Daily.Slot3 = defaults.Daily.Slot3
	}
	if c.Reminder.Template == "" {
		c.Reminder.Template = defaults.Reminder.Template
	}
	if c.Persona.Name == "" && c.Persona.Default != "" {
		c.Persona.Name = "default"
	}
}

// SlotPrompt returns the default prompt of a 1-based daily slot
func (c *PromptsConfig) SlotPrompt(index int) string {
	switch index {
	case 1:
		return c.Daily.Slot1
	case 2:
		return c.Daily.Slot2
	case 3:
		return c.Daily.Slot3
	}
	return ""
}

// DefaultPromptsConfig returns the default prompts configuration
func DefaultPromptsConfig() *PromptsConfig {
	return &PromptsConfig{
		Idle: IdlePrompts{
			Templates: []string{
				"It is {{now}}. The user has been quiet for a while. Their last message was: \"{{last_user}}\". Start a light, natural conversation that follows on from it.",
				"It is {{now}}. Check in on the user casually, as a friend would after some silence. Keep it to one or two sentences.",
			},
		},
		Daily: DailyPrompts{
			Slot1: "It is {{now}}. Send the user a short good-morning message.",
			Slot2: "It is {{now}}. Send the user a short midday check-in.",
			Slot3: "It is {{now}}. Send the user a short good-evening message.",
		},
		Reminder: ReminderPrompts{
			Template: "It is {{now}}. The user asked to be reminded: {{reminder}}. Deliver the reminder in your own voice.",
		},
	}
}
