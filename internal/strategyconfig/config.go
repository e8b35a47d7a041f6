package strategyconfig

import (
	"time"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

// Config는 청산 규칙 파일 전체
type Config struct {
	Meta Meta                      `yaml:"meta" json:"meta"`
	Exit contracts.ExitRulesConfig `yaml:"exit" json:"exit"`
}

// Meta 메타 정보
type Meta struct {
	RulesID     string `yaml:"rules_id" json:"rules_id"`
	Version     string `yaml:"version" json:"version"`
	Description string `yaml:"description" json:"description"`
}

// Default returns the built-in rule set used when no file is configured
func Default() *Config {
	return &Config{
		Meta: Meta{RulesID: "default", Version: "1"},
		Exit: *contracts.DefaultExitRulesConfig(),
	}
}

// RulesSnapshot 적용된 규칙 스냅샷 (재현성용)
type RulesSnapshot struct {
	ConfigHash string    `json:"config_hash"`
	ConfigYAML string    `json:"config_yaml,omitempty"`
	RulesID    string    `json:"rules_id"`
	Version    string    `json:"version"`
	LoadedAt   time.Time `json:"loaded_at"`
}
