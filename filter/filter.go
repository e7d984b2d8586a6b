package filter

import (
	"strings"

	"scrapekit/config"
	"scrapekit/models"
	"scrapekit/storage"
)

// Filter applies filter criteria to records
type Filter struct {
	cfg *config.FilterConfig
}

// NewFilter creates a new Filter instance
func NewFilter(cfg *config.FilterConfig) *Filter {
	if cfg == nil {
		cfg = &config.FilterConfig{}
	}
	return &Filter{
		cfg: cfg,
	}
}

// Empty reports whether the filter keeps every record
func (f *Filter) Empty() bool {
	return len(f.cfg.Required) == 0 && len(f.cfg.Unique) == 0
}

// ApplyFilters drops records missing a required field, then keeps only the
// first record for each combination of the unique fields
func (f *Filter) ApplyFilters(records []models.Record) []models.Record {
	filtered := make([]models.Record, 0, len(records))
	seen := make(map[string]bool)

	for _, r := range records {
		if !f.matchesFilters(r) {
			continue
		}
		if len(f.cfg.Unique) > 0 {
			key := f.uniqueKey(r)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		filtered = append(filtered, r)
	}

	return filtered
}

// matchesFilters checks that every required field is present and non-empty
func (f *Filter) matchesFilters(r models.Record) bool {
	for _, k := range f.cfg.Required {
		v, ok := r[k]
		if !ok || storage.FormatValue(v) == "" {
			return false
		}
	}
	return true
}

func (f *Filter) uniqueKey(r models.Record) string {
	parts := make([]string, len(f.cfg.Unique))
	for i, k := range f.cfg.Unique {
		parts[i] = storage.FormatValue(r[k])
	}
	return strings.Join(parts, "\x1f")
}
