package defense

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidRule = errors.New("invalid rule")
	ErrNoCatchAll  = errors.New("rate limit rules need a catch-all rule")
)

// DefaultSecurityRules returns the built-in signature table. Order is
// priority: the first matching block rule wins.
func DefaultSecurityRules() []SecurityRule {
	return []SecurityRule{
		{
			ID:          "sql_injection",
			Name:        "SQL Injection",
			Description: "SQL keywords and script handlers in request content",
			Pattern:     regexp.MustCompile(`(?i)\b(union|select|insert|update|delete|drop|create|alter|exec|execute|script|javascript|vbscript|onload|onerror)\b`),
			Action:      ActionBlock,
			Severity:    SeverityCritical,
			Enabled:     true,
		},
		{
			ID:          "xss",
			Name:        "Cross-Site Scripting",
			Description: "Script injection markers",
			Pattern:     regexp.MustCompile(`(?i)(<script|javascript:|data:text/html|eval\(|expression\()`),
			Action:      ActionBlock,
			Severity:    SeverityHigh,
			Enabled:     true,
		},
		{
			ID:          "path_traversal",
			Name:        "Path Traversal",
			Description: "Directory traversal sequences",
			Pattern:     regexp.MustCompile(`(\.\./|\.\.\\)`),
			Action:      ActionBlock,
			Severity:    SeverityHigh,
			Enabled:     true,
		},
		{
			ID:          "command_injection",
			Name:        "Command Injection",
			Description: "Shell metacharacters",
			Pattern:     regexp.MustCompile("[|&;`]|\\$\\(|\\$\\{"),
			Action:      ActionWarn,
			Severity:    SeverityHigh,
			Enabled:     true,
		},
		{
			ID:          "suspicious_user_agent",
			Name:        "Suspicious User Agent",
			Description: "Scanners, scripted clients and crawlers",
			Pattern:     regexp.MustCompile(`(?i)(sqlmap|nikto|nmap|masscan|curl|wget|python-requests|bot|crawler)`),
			Action:      ActionMonitor,
			Severity:    SeverityMedium,
			Enabled:     true,
		},
	}
}

// DefaultRateLimitRules returns the built-in limits for the site, most
// specific first and ending with the catch-all.
func DefaultRateLimitRules() []RateLimitRule {
	return []RateLimitRule{
		{ID: "auth", Path: "/api/auth/**", MaxRequests: 5, Window: 15 * time.Minute},
		{ID: "contact", Path: "/api/contact", MaxRequests: 5, Window: time.Hour},
		{ID: "careers_apply", Path: "/api/careers/apply", MaxRequests: 3, Window: time.Hour},
		{ID: "admin", Path: "/api/admin/**", MaxRequests: 100, Window: 15 * time.Minute},
		{ID: "api", Path: "/api/**", MaxRequests: 100, Window: 15 * time.Minute},
		{ID: "default", Path: "*", MaxRequests: 1000, Window: 15 * time.Minute},
	}
}

// IsCatchAll reports whether the rule matches every path.
func (r RateLimitRule) IsCatchAll() bool {
	switch r.Path {
	case "*", "/*", "/**":
		return true
	}
	return false
}

// Matches reports whether path falls under the rule.
func (r RateLimitRule) Matches(path string) bool {
	if r.IsCatchAll() {
		return true
	}
	for _, suffix := range []string{"/**", "/*"} {
		if strings.HasSuffix(r.Path, suffix) {
			prefix := strings.TrimSuffix(r.Path, suffix)
			return path == prefix || strings.HasPrefix(path, prefix+"/")
		}
	}
	return path == r.Path
}

// ValidateRateLimitRules checks rule fields and the catch-all requirement.
func ValidateRateLimitRules(rules []RateLimitRule) error {
	seen := make(map[string]struct{}, len(rules))
	catchAll := false
	for _, r := range rules {
		if r.ID == "" || r.Path == "" {
			return fmt.Errorf("%w: rate limit rule needs id and path", ErrInvalidRule)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: duplicate rate limit rule %q", ErrInvalidRule, r.ID)
		}
		seen[r.ID] = struct{}{}
		if r.MaxRequests <= 0 || r.Window <= 0 {
			return fmt.Errorf("%w: rate limit rule %q needs positive max_requests and window", ErrInvalidRule, r.ID)
		}
		if r.IsCatchAll() {
			catchAll = true
		}
	}
	if !catchAll {
		return ErrNoCatchAll
	}
	return nil
}

// ValidateSecurityRules checks that every rule is usable.
func ValidateSecurityRules(rules []SecurityRule) error {
	for _, r := range rules {
		if r.ID == "" || r.Pattern == nil {
			return fmt.Errorf("%w: security rule needs id and pattern", ErrInvalidRule)
		}
		switch r.Action {
		case ActionBlock, ActionWarn, ActionMonitor:
		default:
			return fmt.Errorf("%w: security rule %q has unknown action %q", ErrInvalidRule, r.ID, r.Action)
		}
		switch r.Severity {
		case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		default:
			return fmt.Errorf("%w: security rule %q has unknown severity %q", ErrInvalidRule, r.ID, r.Severity)
		}
	}
	return nil
}

// RuleSet is the immutable rule configuration handed to the engine.
type RuleSet struct {
	Security   []SecurityRule
	RateLimits []RateLimitRule
}

// DefaultRuleSet returns the built-in rules.
func DefaultRuleSet() RuleSet {
	return RuleSet{Security: DefaultSecurityRules(), RateLimits: DefaultRateLimitRules()}
}

type ruleFile struct {
	SecurityRules []securityRuleYAML  `yaml:"security_rules"`
	RateLimits    []rateLimitRuleYAML `yaml:"rate_limits"`
}

type securityRuleYAML struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Pattern     string `yaml:"pattern"`
	Action      string `yaml:"action"`
	Severity    string `yaml:"severity"`
	Enabled     *bool  `yaml:"enabled"`
}

type rateLimitRuleYAML struct {
	ID                     string        `yaml:"id"`
	Path                   string        `yaml:"path"`
	MaxRequests            int           `yaml:"max_requests"`
	Window                 time.Duration `yaml:"window"`
	SkipSuccessfulRequests bool          `yaml:"skip_successful_requests"`
	SkipFailedRequests     bool          `yaml:"skip_failed_requests"`
}

// LoadRulesFile reads a YAML rule file. A section that is absent falls back
// to the built-in rules. Bad patterns are reported, never skipped.
func LoadRulesFile(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates YAML rule content.
func ParseRules(data []byte) (RuleSet, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return RuleSet{}, fmt.Errorf("parse rules: %w", err)
	}

	set := DefaultRuleSet()

	if len(f.SecurityRules) > 0 {
		set.Security = make([]SecurityRule, 0, len(f.SecurityRules))
		for _, raw := range f.SecurityRules {
			pattern, err := regexp.Compile(raw.Pattern)
			if err != nil {
				return RuleSet{}, fmt.Errorf("%w: security rule %q: %v", ErrInvalidRule, raw.ID, err)
			}
			enabled := true
			if raw.Enabled != nil {
				enabled = *raw.Enabled
			}
			name := raw.Name
			if name == "" {
				name = raw.ID
			}
			set.Security = append(set.Security, SecurityRule{
				ID:          raw.ID,
				Name:        name,
				Description: raw.Description,
				Pattern:     pattern,
				Action:      Action(strings.ToLower(raw.Action)),
				Severity:    Severity(strings.ToLower(raw.Severity)),
				Enabled:     enabled,
			})
		}
	}

	if len(f.RateLimits) > 0 {
		set.RateLimits = make([]RateLimitRule, 0, len(f.RateLimits))
		for _, raw := range f.RateLimits {
			set.RateLimits = append(set.RateLimits, RateLimitRule{
				ID:                     raw.ID,
				Path:                   raw.Path,
				MaxRequests:            raw.MaxRequests,
				Window:                 raw.Window,
				SkipSuccessfulRequests: raw.SkipSuccessfulRequests,
				SkipFailedRequests:     raw.SkipFailedRequests,
			})
		}
	}

	if err := set.Validate(); err != nil {
		return RuleSet{}, err
	}
	return set, nil
}

// Validate checks both rule tables.
func (s RuleSet) Validate() error {
	if err := ValidateSecurityRules(s.Security); err != nil {
		return err
	}
	return ValidateRateLimitRules(s.RateLimits)
}
