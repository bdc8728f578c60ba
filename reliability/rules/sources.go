package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
	libOpentelemetry "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/opentelemetry"
	libPostgres "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/postgres"
)

const (
	selectPointRules   = "SELECT event_type, points FROM point_rules WHERE is_active"
	selectAchievements = "SELECT code, name, points, criteria, category FROM achievements"
)

// PostgresSource reads active point_rules and all achievements through the
// replica side of the resolver.
type PostgresSource struct {
	db libPostgres.ResolverProvider
}

// NewPostgresSource creates a PostgresSource.
func NewPostgresSource(db libPostgres.ResolverProvider) (*PostgresSource, error) {
	if nilcheck.Interface(db) {
		return nil, libPostgres.ErrConnectionRequired
	}

	return &PostgresSource{db: db}, nil
}

// Load implements Source.
func (src *PostgresSource) Load(ctx context.Context) (Set, error) {
	_, tracer, _ := reliability.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "rules.load_postgres")
	defer span.End()

	db, err := src.db.Resolver(ctx)
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to get database", err)

		return Set{}, err
	}

	set := Set{Points: map[string]int{}}

	rows, err := db.QueryContext(ctx, selectPointRules)
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to query point rules", err)

		return Set{}, fmt.Errorf("querying point rules: %w", err)
	}

	for rows.Next() {
		var (
			eventType string
			points    int
		)

		if err := rows.Scan(&eventType, &points); err != nil {
			_ = rows.Close()

			return Set{}, fmt.Errorf("scanning point rule: %w", err)
		}

		set.Points[eventType] = points
	}

	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return Set{}, fmt.Errorf("reading point rules: %w", err)
	}

	rows, err = db.QueryContext(ctx, selectAchievements)
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to query achievements", err)

		return Set{}, fmt.Errorf("querying achievements: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a        Achievement
			criteria []byte
			category *string
		)

		if err := rows.Scan(&a.Code, &a.Name, &a.Points, &criteria, &category); err != nil {
			return Set{}, fmt.Errorf("scanning achievement: %w", err)
		}

		if len(criteria) > 0 {
			if err := json.Unmarshal(criteria, &a.Criteria); err != nil {
				return Set{}, fmt.Errorf("decoding criteria of %s: %w", a.Code, err)
			}
		}

		if category != nil {
			a.Category = *category
		}

		set.Achievements = append(set.Achievements, a)
	}

	if err := rows.Err(); err != nil {
		return Set{}, fmt.Errorf("reading achievements: %w", err)
	}

	return set, nil
}

type yamlDocument struct {
	PointRules []struct {
		EventType string `yaml:"event_type"`
		Points    int    `yaml:"points"`
		Active    *bool  `yaml:"is_active"`
	} `yaml:"point_rules"`
	Achievements []Achievement `yaml:"achievements"`
}

// ParseYAML decodes a rules document:
//
//	point_rules:
//	  - event_type: aas_created
//	    points: 10
//	achievements:
//	  - code: first_shell
//	    name: First shell
//	    criteria: {event: aas_created}
func ParseYAML(data []byte) (Set, error) {
	var doc yamlDocument

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Set{}, fmt.Errorf("decoding rules yaml: %w", err)
	}

	set := Set{Points: make(map[string]int, len(doc.PointRules))}

	for _, rule := range doc.PointRules {
		if rule.Active != nil && !*rule.Active {
			continue
		}

		if eventType := strings.TrimSpace(rule.EventType); eventType != "" {
			set.Points[eventType] = rule.Points
		}
	}

	for _, a := range doc.Achievements {
		if strings.TrimSpace(a.Code) != "" {
			set.Achievements = append(set.Achievements, a)
		}
	}

	return set, nil
}

// YAMLSource reads rules from a file on every Load.
type YAMLSource struct {
	Path string
}

// Load implements Source.
func (src YAMLSource) Load(_ context.Context) (Set, error) {
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return Set{}, fmt.Errorf("reading rules file: %w", err)
	}

	return ParseYAML(data)
}

// FallbackSource returns the first non-empty set among its sources. Errors
// are collected and only returned when no source produced rules.
type FallbackSource []Source

// Load implements Source.
func (sources FallbackSource) Load(ctx context.Context) (Set, error) {
	var errs []error

	for _, src := range sources {
		if nilcheck.Interface(src) {
			continue
		}

		set, err := src.Load(ctx)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		if !set.Empty() {
			return set, nil
		}
	}

	if len(errs) > 0 {
		return Set{}, errors.Join(append([]error{ErrNoRules}, errs...)...)
	}

	return Set{Points: map[string]int{}}, nil
}
