package config

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/tribes-rights-management/tribesportal/internal/observability/metrics"
	"go.uber.org/zap"
)

// SessionPolicy controls the idle/absolute session timeout state machine.
type SessionPolicy struct {
	IdleTimeout      time.Duration
	WarningCountdown time.Duration
	AbsoluteLifetime time.Duration
	SignInGrace      time.Duration
	ActivityThrottle time.Duration
}

// EscalationRule maps a (notification type, priority) pair to an SLA and the
// role responsibility escalates to once the SLA is breached. SLAMinutes of
// zero escalates immediately at notification creation time.
type EscalationRule struct {
	NotificationType string `mapstructure:"notification_type"`
	Priority         string `mapstructure:"priority"`
	SLAMinutes       int    `mapstructure:"sla_minutes"`
	EscalateTo       string `mapstructure:"escalate_to"`
}

// Policy is the full hot-reloadable policy document.
type Policy struct {
	Session         SessionPolicy
	EscalationRules []EscalationRule
}

type sessionPolicyFile struct {
	IdleMinutes             int  `mapstructure:"idle_minutes"`
	WarningMinutes          int  `mapstructure:"warning_minutes"`
	AbsoluteHours           int  `mapstructure:"absolute_hours"`
	GraceSeconds            int  `mapstructure:"grace_seconds"`
	ActivityThrottleSeconds int  `mapstructure:"activity_throttle_seconds"`
	UseLegacyAbsoluteHours  bool `mapstructure:"use_legacy_absolute_hours"`
}

type policyFile struct {
	Session    sessionPolicyFile `mapstructure:"session"`
	Escalation []EscalationRule  `mapstructure:"escalation"`
}

// Two drafts of the absolute lifetime exist in the product policy history.
// The 12 hour value is canonical; the 8 hour value is kept selectable so a
// deployment pinned to the superseded draft keeps its behavior, with a
// warning at load time.
const (
	canonicalAbsoluteHours = 12
	legacyAbsoluteHours    = 8
)

// DefaultSessionPolicy returns the canonical session timeout policy.
func DefaultSessionPolicy() SessionPolicy {
	return SessionPolicy{
		IdleTimeout:      30 * time.Minute,
		WarningCountdown: 2 * time.Minute,
		AbsoluteLifetime: canonicalAbsoluteHours * time.Hour,
		SignInGrace:      60 * time.Second,
		ActivityThrottle: 5 * time.Second,
	}
}

// DefaultEscalationRules returns the canonical SLA table. The superseded
// draft carried flat 24h defaults for every type; the detailed table below
// replaces it.
func DefaultEscalationRules() []EscalationRule {
	return []EscalationRule{
		{NotificationType: "security_alert", Priority: "critical", SLAMinutes: 0, EscalateTo: "platform_admin"},
		{NotificationType: "approval_request", Priority: "high", SLAMinutes: 24 * 60, EscalateTo: "tenant_admin"},
		{NotificationType: "compliance_review", Priority: "standard", SLAMinutes: 48 * 60, EscalateTo: "tenant_admin"},
		{NotificationType: "license_request", Priority: "high", SLAMinutes: 24 * 60, EscalateTo: "tenant_admin"},
		{NotificationType: "royalty_statement", Priority: "standard", SLAMinutes: 48 * 60, EscalateTo: "tenant_admin"},
	}
}

// DefaultPolicy returns the compiled-in policy.
func DefaultPolicy() Policy {
	return Policy{
		Session:         DefaultSessionPolicy(),
		EscalationRules: DefaultEscalationRules(),
	}
}

// PolicyHolder exposes the current policy and reloads it when the backing
// file changes. Readers always see a consistent snapshot.
type PolicyHolder struct {
	current atomic.Value // holds Policy
	log     *zap.Logger
}

// NewPolicyHolder loads policy.yml and watches it for changes. A missing
// file is not an error; the compiled-in defaults apply.
func NewPolicyHolder(cfg Config, log *zap.Logger) (*PolicyHolder, error) {
	h := &PolicyHolder{log: log.Named("config.policy")}
	h.current.Store(DefaultPolicy())

	v := viper.New()
	v.SetConfigName("policy")
	v.SetConfigType("yml")
	if strings.TrimSpace(cfg.PolicyPath) != "" {
		v.AddConfigPath(cfg.PolicyPath)
	}
	v.AddConfigPath("/etc/tribesportal")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TRIBESPORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		return h, nil
	}

	h.apply(v)

	v.OnConfigChange(func(_ fsnotify.Event) {
		h.apply(v)
	})
	v.WatchConfig()

	return h, nil
}

// NewStaticPolicyHolder wraps a fixed policy; used by tests and tools
// that have no backing file.
func NewStaticPolicyHolder(policy Policy) *PolicyHolder {
	h := &PolicyHolder{log: zap.NewNop()}
	h.current.Store(policy)
	return h
}

// Current returns the active policy snapshot.
func (h *PolicyHolder) Current() Policy {
	return h.current.Load().(Policy)
}

// Session returns the session slice of the current policy.
func (h *PolicyHolder) Session() SessionPolicy {
	return h.Current().Session
}

// Escalation returns the escalation rule table of the current policy.
func (h *PolicyHolder) Escalation() []EscalationRule {
	return h.Current().EscalationRules
}

func (h *PolicyHolder) apply(v *viper.Viper) {
	var file policyFile
	if err := v.Unmarshal(&file); err != nil {
		h.log.Warn("invalid policy file, keeping previous policy", zap.Error(err))
		return
	}
	h.current.Store(h.merge(file))
	metrics.Default().IncPolicyReload()
	h.log.Info("policy loaded", zap.String("file", v.ConfigFileUsed()))
}

func (h *PolicyHolder) merge(file policyFile) Policy {
	policy := DefaultPolicy()

	s := file.Session
	if s.IdleMinutes > 0 {
		policy.Session.IdleTimeout = time.Duration(s.IdleMinutes) * time.Minute
	}
	if s.WarningMinutes > 0 {
		policy.Session.WarningCountdown = time.Duration(s.WarningMinutes) * time.Minute
	}
	switch {
	case s.UseLegacyAbsoluteHours:
		policy.Session.AbsoluteLifetime = legacyAbsoluteHours * time.Hour
		h.log.Warn("session policy pins the superseded 8h absolute lifetime draft; canonical value is 12h")
	case s.AbsoluteHours > 0:
		policy.Session.AbsoluteLifetime = time.Duration(s.AbsoluteHours) * time.Hour
		if s.AbsoluteHours == legacyAbsoluteHours {
			h.log.Warn("session policy configures the superseded 8h absolute lifetime; canonical value is 12h")
		}
	}
	if s.GraceSeconds > 0 {
		policy.Session.SignInGrace = time.Duration(s.GraceSeconds) * time.Second
	}
	if s.ActivityThrottleSeconds > 0 {
		policy.Session.ActivityThrottle = time.Duration(s.ActivityThrottleSeconds) * time.Second
	}

	if len(file.Escalation) > 0 {
		rules := make([]EscalationRule, 0, len(file.Escalation))
		for _, rule := range file.Escalation {
			rule.NotificationType = strings.TrimSpace(rule.NotificationType)
			rule.Priority = strings.TrimSpace(rule.Priority)
			if rule.NotificationType == "" || rule.Priority == "" || rule.SLAMinutes < 0 {
				h.log.Warn("skipping malformed escalation rule",
					zap.String("notification_type", rule.NotificationType),
					zap.String("priority", rule.Priority),
				)
				continue
			}
			rules = append(rules, rule)
		}
		if len(rules) > 0 {
			policy.EscalationRules = rules
		}
	}

	return policy
}
