package filter

import (
	"path/filepath"
	"slices"
	"time"

	"github.com/dyluth/drey/pkg/objective"
)

// Criteria narrows a list of objectives. Every non-zero field must match.
type Criteria struct {
	Since    time.Time
	Until    time.Time
	Status   objective.Status
	Tag      string
	WhatGlob string // glob over the objective's What, e.g. "Launch*"
}

// Matches reports whether obj satisfies all criteria.
func (c *Criteria) Matches(obj *objective.Objective) bool {
	if !c.Since.IsZero() && obj.CreatedAt.Before(c.Since) {
		return false
	}
	if !c.Until.IsZero() && obj.CreatedAt.After(c.Until) {
		return false
	}
	if c.Status != "" && obj.Status != c.Status {
		return false
	}
	if c.Tag != "" && !slices.Contains(obj.Tags, c.Tag) {
		return false
	}
	if c.WhatGlob != "" {
		matched, err := filepath.Match(c.WhatGlob, obj.What)
		if err != nil || !matched {
			return false
		}
	}
	return true
}

// HasFilters reports whether any criterion is set.
func (c *Criteria) HasFilters() bool {
	return !c.Since.IsZero() || !c.Until.IsZero() || c.Status != "" || c.Tag != "" || c.WhatGlob != ""
}

// Apply returns the objectives matching c, preserving order.
func (c *Criteria) Apply(objs []*objective.Objective) []*objective.Objective {
	if !c.HasFilters() {
		return objs
	}
	out := make([]*objective.Objective, 0, len(objs))
	for _, o := range objs {
		if c.Matches(o) {
			out = append(out, o)
		}
	}
	return out
}
