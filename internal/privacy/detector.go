package privacy

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/model"
	"go.uber.org/zap"
)

// PatternDetector matches block text against the structured PII rules.
// It holds no per-scan state; every call builds fresh match iterators.
type PatternDetector struct {
	mu      sync.RWMutex
	rules   []DetectionRule
	enabled map[model.PIIType]bool
	logger  *logger.Logger
}

// NewPatternDetector creates a detector with the named rules enabled.
// "all" enables every rule.
func NewPatternDetector(ruleNames []string, log *logger.Logger) (*PatternDetector, error) {
	detector := &PatternDetector{
		rules:   GetDefaultRules(),
		enabled: make(map[model.PIIType]bool),
		logger:  log.WithComponent("pattern_detector"),
	}

	if err := detector.Configure(ruleNames); err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	detector.logger.Info("Pattern detector initialized",
		zap.Int("total_rules", len(detector.rules)),
		zap.Int("enabled_rules", detector.countEnabledRules()),
	)

	return detector, nil
}

// Configure replaces the enabled rule set
func (d *PatternDetector) Configure(ruleNames []string) error {
	enabled := make(map[model.PIIType]bool, len(d.rules))
	for _, rule := range d.rules {
		enabled[rule.Type] = false
	}

	for _, name := range ruleNames {
		if name == "all" {
			for _, rule := range d.rules {
				enabled[rule.Type] = true
			}
			continue
		}

		if _, ok := enabled[model.PIIType(name)]; !ok {
			return fmt.Errorf("unknown detector: %s", name)
		}
		enabled[model.PIIType(name)] = true
	}

	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
	return nil
}

func (d *PatternDetector) Name() string { return string(model.SourcePattern) }

// Detect scans every block of every document. Tokens come from one counter
// shared by all rules and starting at 1 for each call.
func (d *PatternDetector) Detect(docs []*model.Document) []*model.PIIEntity {
	counter := model.NewTokenCounter(1)
	entities := make([]*model.PIIEntity, 0)

	for _, doc := range docs {
		for _, block := range doc.Blocks {
			for _, m := range d.Scan(block.Text) {
				entity := &model.PIIEntity{
					ID:           uuid.NewString(),
					Token:        counter.Next(m.Type),
					Type:         m.Type,
					DocumentID:   doc.ID,
					BlockID:      block.ID,
					Start:        m.Start,
					Length:       m.End - m.Start,
					TextOriginal: block.Text[m.Start:m.End],
					Confidence:   patternConfidence,
					Source:       model.SourcePattern,
					Status:       model.StatusApproved,
				}
				entities = append(entities, entity)
			}
		}
	}

	d.logger.Debug("Pattern detection finished",
		zap.Int("documents", len(docs)),
		zap.Int("entities", len(entities)),
	)

	return entities
}

// Scan returns all non-overlapping matches of every enabled rule, rule by
// rule in registration order, left to right within each rule.
func (d *PatternDetector) Scan(text string) []Match {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var matches []Match
	for _, rule := range d.rules {
		if !d.enabled[rule.Type] {
			continue
		}
		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			if loc[1] == loc[0] {
				continue
			}
			matches = append(matches, Match{Type: rule.Type, Start: loc[0], End: loc[1]})
		}
	}
	return matches
}

// countEnabledRules returns the number of enabled detection rules
func (d *PatternDetector) countEnabledRules() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	count := 0
	for _, enabled := range d.enabled {
		if enabled {
			count++
		}
	}
	return count
}

// GetEnabledRules returns enabled rule names in registration order
func (d *PatternDetector) GetEnabledRules() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var enabled []string
	for _, rule := range d.rules {
		if d.enabled[rule.Type] {
			enabled = append(enabled, string(rule.Type))
		}
	}
	return enabled
}

// EnableRule enables a specific detection rule
func (d *PatternDetector) EnableRule(ruleName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.enabled[model.PIIType(ruleName)]; !exists {
		return fmt.Errorf("unknown rule: %s", ruleName)
	}
	d.enabled[model.PIIType(ruleName)] = true
	d.logger.Info("Detection rule enabled", zap.String("rule", ruleName))
	return nil
}

// DisableRule disables a specific detection rule
func (d *PatternDetector) DisableRule(ruleName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.enabled[model.PIIType(ruleName)]; !exists {
		return fmt.Errorf("unknown rule: %s", ruleName)
	}
	d.enabled[model.PIIType(ruleName)] = false
	d.logger.Info("Detection rule disabled", zap.String("rule", ruleName))
	return nil
}
