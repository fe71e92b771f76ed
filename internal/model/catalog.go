package model

import "strings"

// EntityKind names a kind of record the workbook import can touch.
type EntityKind string

const (
	KindTelemetryValue     EntityKind = "telemetry_value"
	KindTelemetryAttribute EntityKind = "telemetry_attribute"
	KindLicense            EntityKind = "license"
	KindOutcome            EntityKind = "outcome"
	KindRelease            EntityKind = "release"
	KindTag                EntityKind = "tag"
	KindCustomAttribute    EntityKind = "custom_attribute"
)

// CatalogKinds lists the plan-scoped catalog kinds in write order.
var CatalogKinds = []EntityKind{KindLicense, KindOutcome, KindRelease, KindTag, KindCustomAttribute}

// IsCatalog reports whether k is stored as a CatalogItem.
func (k EntityKind) IsCatalog() bool {
	for _, c := range CatalogKinds {
		if c == k {
			return true
		}
	}
	return false
}

// CatalogItem is a named plan-scoped record managed through imports:
// licenses, outcomes, releases, tags and custom attributes. Which optional
// fields carry meaning depends on Kind (see DiffFields).
type CatalogItem struct {
	ID           string     `json:"id"`
	PlanID       string     `json:"plan_id"`
	Kind         EntityKind `json:"kind"`
	Name         string     `json:"name"`
	Level        int        `json:"level,omitempty"`
	Color        string     `json:"color,omitempty"`
	Description  string     `json:"description,omitempty"`
	Value        string     `json:"value,omitempty"`
	DisplayOrder int        `json:"display_order,omitempty"`
}

// MatchKey is the case-insensitive identity of the item within its plan and kind.
func (c CatalogItem) MatchKey() string {
	return strings.ToLower(strings.TrimSpace(c.Name))
}

// DiffFields returns the comparable fields for the item's kind, in a stable
// order. Fields a kind does not use are omitted.
func (c CatalogItem) DiffFields() []Field {
	switch c.Kind {
	case KindLicense, KindRelease:
		return []Field{{"name", c.Name}, {"level", c.Level}, {"description", c.Description}}
	case KindOutcome:
		return []Field{{"name", c.Name}, {"description", c.Description}}
	case KindTag:
		return []Field{{"name", c.Name}, {"color", c.Color}, {"description", c.Description}}
	case KindCustomAttribute:
		return []Field{{"key", c.Name}, {"value", c.Value}, {"display_order", c.DisplayOrder}}
	}
	return nil
}

// Field is a named value used for field-level diffs.
type Field struct {
	Name  string
	Value any
}
