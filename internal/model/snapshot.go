package model

import "strings"

// Snapshot is the persisted state of one adoption plan as loaded for
// validation, dry-run diffing and execution.
type Snapshot struct {
	PlanID  string
	Tasks   []Task
	Catalog []CatalogItem
}

// TaskByName finds a task by name, ignoring case and surrounding whitespace.
func (s *Snapshot) TaskByName(name string) *Task {
	key := strings.ToLower(strings.TrimSpace(name))
	for i := range s.Tasks {
		if strings.ToLower(strings.TrimSpace(s.Tasks[i].Name)) == key {
			return &s.Tasks[i]
		}
	}
	return nil
}

// TaskByID finds a task by id.
func (s *Snapshot) TaskByID(id string) *Task {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return &s.Tasks[i]
		}
	}
	return nil
}

// CatalogItem finds a catalog item by kind and case-insensitive name.
func (s *Snapshot) CatalogItem(kind EntityKind, name string) *CatalogItem {
	key := strings.ToLower(strings.TrimSpace(name))
	for i := range s.Catalog {
		if s.Catalog[i].Kind == kind && s.Catalog[i].MatchKey() == key {
			return &s.Catalog[i]
		}
	}
	return nil
}

// CatalogOf returns all items of one kind.
func (s *Snapshot) CatalogOf(kind EntityKind) []CatalogItem {
	var out []CatalogItem
	for _, c := range s.Catalog {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}
