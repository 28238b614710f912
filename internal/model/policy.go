// internal/model/policy.go
package model

import "sort"

// AlertPolicy decides which classified messages trigger an alert.
type AlertPolicy struct {
	AlertCategories map[Category]bool
	MinConfidence   float64
}

// NewAlertPolicy builds a policy from category names. Unknown names are skipped.
func NewAlertPolicy(categories []string, minConfidence float64) AlertPolicy {
	set := make(map[Category]bool, len(categories))
	for _, name := range categories {
		if c, ok := ParseCategory(name); ok {
			set[c] = true
		}
	}
	return AlertPolicy{AlertCategories: set, MinConfidence: minConfidence}
}

// Categories lists the alertable categories in a stable order.
func (p AlertPolicy) Categories() []Category {
	out := make([]Category, 0, len(p.AlertCategories))
	for c, ok := range p.AlertCategories {
		if ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
