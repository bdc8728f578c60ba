package rules

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrSourceRequired = errors.New("rules source is required")
	ErrNoRules        = errors.New("no rule source returned rules")
)

// Achievement is granted once per user when its criteria match an event.
type Achievement struct {
	Code     string         `yaml:"code" json:"code"`
	Name     string         `yaml:"name" json:"name"`
	Points   int            `yaml:"points" json:"points"`
	Criteria map[string]any `yaml:"criteria" json:"criteria"`
	Category string         `yaml:"category" json:"category"`
}

// Matches reports whether criteria.event names eventType.
func (a Achievement) Matches(eventType string) bool {
	want, ok := a.Criteria["event"].(string)
	if !ok {
		return false
	}

	return strings.TrimSpace(want) != "" && strings.TrimSpace(want) == eventType
}

// Set is one loaded snapshot of the rules.
type Set struct {
	Points       map[string]int
	Achievements []Achievement
	LoadedAt     time.Time
}

// Empty reports whether s holds no rules at all.
func (s Set) Empty() bool {
	return len(s.Points) == 0 && len(s.Achievements) == 0
}

// PointsFor returns the points awarded for eventType.
func (s Set) PointsFor(eventType string) (int, bool) {
	points, ok := s.Points[eventType]

	return points, ok
}

// AchievementsFor returns every achievement matching eventType.
func (s Set) AchievementsFor(eventType string) []Achievement {
	var out []Achievement

	for _, a := range s.Achievements {
		if a.Matches(eventType) {
			out = append(out, a)
		}
	}

	return out
}

// Source loads a fresh rule set.
type Source interface {
	Load(ctx context.Context) (Set, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Set, error)

// Load calls f.
func (f SourceFunc) Load(ctx context.Context) (Set, error) {
	return f(ctx)
}
