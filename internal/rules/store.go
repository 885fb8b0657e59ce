// Package rules owns per-document notification thresholds and the per-type
// default templates used to bootstrap documents that have none.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/fleetyard/backoffice/internal/faults"
	"github.com/fleetyard/backoffice/internal/models"
	"github.com/fleetyard/backoffice/pkg/repository"
)

// FallbackDays is used when no default row resolves for a type. Falling
// back is always accompanied by a warning, never silent.
var FallbackDays = []int{30, 15, 7, 1}

type Store struct {
	rules    repository.RuleRepo
	defaults repository.DefaultsRepo
	docs     repository.DocumentRepo
	logger   *slog.Logger
}

func NewStore(rules repository.RuleRepo, defaults repository.DefaultsRepo, docs repository.DocumentRepo, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{rules: rules, defaults: defaults, docs: docs, logger: logger}
}

// Configure replaces the document's full rule set. Clear-then-insert, never
// merge: calling it twice with the same list is a no-op.
func (s *Store) Configure(ctx context.Context, documentID int64, days []int) error {
	normalized, err := normalizeDays(days)
	if err != nil {
		return err
	}
	doc, err := s.docs.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return faults.NotFound("document", documentID)
	}
	if err := s.rules.ReplaceRules(ctx, documentID, normalized); err != nil {
		return err
	}
	s.logger.Info("notification rules configured",
		slog.Int64("document_id", documentID),
		slog.Any("days_before", normalized))
	return nil
}

// GetSettings returns the document's rule set.
func (s *Store) GetSettings(ctx context.Context, documentID int64) ([]models.NotificationRule, error) {
	doc, err := s.docs.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, faults.NotFound("document", documentID)
	}
	return s.rules.ListRules(ctx, documentID)
}

// GetDefaults lists default templates, optionally narrowed to one type.
func (s *Store) GetDefaults(ctx context.Context, documentType string) ([]models.NotificationDefault, error) {
	if documentType == "" {
		return s.defaults.ListDefaults(ctx)
	}
	if err := validateDefaultScope(documentType); err != nil {
		return nil, err
	}
	def, err := s.defaults.GetDefault(ctx, documentType)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return []models.NotificationDefault{}, nil
	}
	return []models.NotificationDefault{*def}, nil
}

// UpdateDefaults upserts the day-list template for a document type (or
// "ALL"), keyed on the type.
func (s *Store) UpdateDefaults(ctx context.Context, documentType string, days []int, actor string) error {
	if err := validateDefaultScope(documentType); err != nil {
		return err
	}
	normalized, err := normalizeDays(days)
	if err != nil {
		return err
	}
	return s.defaults.UpsertDefault(ctx, documentType, normalized, actor)
}

// ResolveDays is the configuration source for seeding: type-specific
// default first, then "ALL", then the built-in fallback with a warning.
func (s *Store) ResolveDays(ctx context.Context, documentType models.DocumentType) ([]int, error) {
	def, err := s.defaults.GetDefault(ctx, string(documentType))
	if err != nil {
		return nil, err
	}
	if def == nil {
		def, err = s.defaults.GetDefault(ctx, models.DefaultScopeAll)
		if err != nil {
			return nil, err
		}
	}
	if def == nil || len(def.Days) == 0 {
		s.logger.Warn("no usable notification default, falling back",
			slog.String("document_type", string(documentType)),
			slog.Any("fallback", FallbackDays))
		return FallbackDays, nil
	}
	return def.Days, nil
}

type ApplyResult struct {
	ConfiguredCount int `json:"configured_count"`
}

// ApplyDefaults seeds rules for every document of the type that currently
// has none. Documents with existing rules are untouched.
func (s *Store) ApplyDefaults(ctx context.Context, documentType string) (*ApplyResult, error) {
	docType := models.DocumentType(documentType)
	if !docType.Valid() {
		return nil, faults.Validation("document_type", fmt.Sprintf("unknown type %q", documentType))
	}
	days, err := s.ResolveDays(ctx, docType)
	if err != nil {
		return nil, err
	}
	docs, err := s.docs.ListWithoutRules(ctx, docType)
	if err != nil {
		return nil, err
	}

	res := &ApplyResult{}
	for _, doc := range docs {
		if err := s.rules.ReplaceRules(ctx, doc.ID, days); err != nil {
			s.logger.Warn("apply defaults failed for document",
				slog.Int64("document_id", doc.ID),
				slog.Any("err", err))
			continue
		}
		res.ConfiguredCount++
	}
	s.logger.Info("defaults applied",
		slog.String("document_type", documentType),
		slog.Int("configured", res.ConfiguredCount))
	return res, nil
}

// ParseDayList parses a comma-separated day list such as "30,7,1". Callers
// log the returned ConfigParseError as a warning when they fall back.
func ParseDayList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	days := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, &faults.ConfigParseError{Input: s, Reason: fmt.Sprintf("not a number: %q", p)}
		}
		days = append(days, n)
	}
	if len(days) == 0 {
		return nil, &faults.ConfigParseError{Input: s, Reason: "empty list"}
	}
	return days, nil
}

// normalizeDays dedupes and orders a day list, largest threshold first.
// Zero and negative thresholds are allowed: they are the only way to make
// an already-expired document fire.
func normalizeDays(days []int) ([]int, error) {
	if len(days) == 0 {
		return nil, faults.Validation("days_before", "empty day list")
	}
	seen := make(map[int]bool, len(days))
	out := make([]int, 0, len(days))
	for _, d := range days {
		if d < -365 || d > 3650 {
			return nil, faults.Validation("days_before", fmt.Sprintf("threshold %d out of range", d))
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out, nil
}

func validateDefaultScope(documentType string) error {
	if documentType == models.DefaultScopeAll {
		return nil
	}
	if !models.DocumentType(documentType).Valid() {
		return faults.Validation("document_type", fmt.Sprintf("unknown type %q", documentType))
	}
	return nil
}
