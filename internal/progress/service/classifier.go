package service

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"achievement_engine/internal/progress/domain"
	"achievement_engine/platform/logger"
)

// Kind is the updater operation an action maps to.
type Kind string

const (
	KindIncrement       Kind = "increment"
	KindSubModuleUsage  Kind = "recompute_submodule_usage"
	KindAppUsageMinutes Kind = "recompute_app_usage"
)

// Rule maps one action name to an updater operation.
type Rule struct {
	Action string        `yaml:"action"`
	Kind   Kind          `yaml:"kind"`
	Metric domain.Metric `yaml:"metric,omitempty"`
}

// DefaultRules is the built-in action table.
var DefaultRules = []Rule{
	{Action: "home_visit", Kind: KindIncrement, Metric: domain.MetricAppOpenedCount},
	{Action: "chatbot_usage", Kind: KindIncrement, Metric: domain.MetricChatbotUsageCount},
	{Action: "kbase_completed", Kind: KindIncrement, Metric: domain.MetricKbaseCompletion},
	{Action: "submodule_usage", Kind: KindSubModuleUsage},
	{Action: "app_usage", Kind: KindAppUsageMinutes},
}

type ruleFile struct {
	Actions []Rule `yaml:"actions"`
}

// LoadRules reads additional rules from a YAML file of the form
//
//	actions:
//	  - action: quiz_opened
//	    kind: increment
//	    metric: appOpenedCount
func LoadRules(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read action table: %w", err)
	}
	var file ruleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse action table: %w", err)
	}
	for _, r := range file.Actions {
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("action table %s: %w", path, err)
		}
	}
	return file.Actions, nil
}

func (r Rule) validate() error {
	if r.Action == "" {
		return fmt.Errorf("rule without action name")
	}
	if _, ok := kindHandlers[r.Kind]; !ok {
		return fmt.Errorf("action %q: unknown kind %q", r.Action, r.Kind)
	}
	if r.Kind == KindIncrement && !r.Metric.Valid() {
		return fmt.Errorf("action %q: increment needs a valid metric, got %q", r.Action, r.Metric)
	}
	return nil
}

type handlerFunc func(ctx context.Context, c *Classifier, rule Rule, a domain.Activity) error

var kindHandlers = map[Kind]handlerFunc{
	KindIncrement: func(ctx context.Context, c *Classifier, rule Rule, a domain.Activity) error {
		_, err := c.updater.IncrementCounter(ctx, a.UserID, rule.Metric)
		return err
	},
	KindSubModuleUsage: func(ctx context.Context, c *Classifier, rule Rule, a domain.Activity) error {
		if !a.HasTimeFields() {
			return nil
		}
		_, err := c.updater.RecomputeSubModuleUsage(ctx, a.UserID, c.actionsByKind[KindSubModuleUsage])
		return err
	},
	KindAppUsageMinutes: func(ctx context.Context, c *Classifier, rule Rule, a domain.Activity) error {
		if a.SecondsSpent() <= 0 {
			return nil
		}
		_, err := c.updater.RecomputeAppUsageMinutes(ctx, a.UserID, c.actionsByKind[KindAppUsageMinutes])
		return err
	},
}

// Classifier routes activity rows to the updater through the action table.
type Classifier struct {
	updater       *Updater
	rules         map[string]Rule
	actionsByKind map[Kind][]string
	log           *logger.Logger
}

// NewClassifier builds the dispatch table. Later rules override earlier ones
// with the same action name.
func NewClassifier(updater *Updater, rules []Rule, log *logger.Logger) (*Classifier, error) {
	c := &Classifier{
		updater:       updater,
		rules:         make(map[string]Rule, len(rules)),
		actionsByKind: make(map[Kind][]string),
		log:           log,
	}
	for _, r := range rules {
		if err := r.validate(); err != nil {
			return nil, err
		}
		c.rules[r.Action] = r
	}
	for action, r := range c.rules {
		c.actionsByKind[r.Kind] = append(c.actionsByKind[r.Kind], action)
	}
	for kind := range c.actionsByKind {
		sort.Strings(c.actionsByKind[kind])
	}
	return c, nil
}

// Lookup returns the rule for an action name.
func (c *Classifier) Lookup(action string) (Rule, bool) {
	r, ok := c.rules[action]
	return r, ok
}

// Classify applies the rule for the activity's action. Unmapped actions are
// logged and dropped.
func (c *Classifier) Classify(ctx context.Context, a domain.Activity) error {
	rule, ok := c.rules[a.Action]
	if !ok {
		c.log.Debug("unmapped activity action", "action", a.Action, "userId", a.UserID)
		return nil
	}
	if err := kindHandlers[rule.Kind](ctx, c, rule, a); err != nil {
		return fmt.Errorf("classify %s: %w", a.Action, err)
	}
	return nil
}
