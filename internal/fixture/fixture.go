// Package fixture loads plan definitions from YAML and seeds them into a
// store. It stands in for the CRUD layer that owns tasks in production.
package fixture

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/adoption-cli/internal/criteria"
	"github.com/sells-group/adoption-cli/internal/model"
	"github.com/sells-group/adoption-cli/internal/store"
)

// Plan is the top-level fixture document.
type Plan struct {
	PlanID  string       `yaml:"plan_id"`
	Tasks   []TaskDef    `yaml:"tasks"`
	Catalog []CatalogDef `yaml:"catalog"`
}

// TaskDef describes one task and its attributes.
type TaskDef struct {
	Name       string         `yaml:"name"`
	Status     string         `yaml:"status"`
	Source     string         `yaml:"source"`
	Weight     *float64       `yaml:"weight"`
	Attributes []AttributeDef `yaml:"attributes"`
}

// AttributeDef describes a telemetry attribute. Criteria is written as a
// YAML mapping in the same shape as the stored JSON.
type AttributeDef struct {
	Name     string         `yaml:"name"`
	DataType string         `yaml:"data_type"`
	Required bool           `yaml:"required"`
	Active   *bool          `yaml:"active"` // nil means active
	Order    int            `yaml:"order"`
	Criteria map[string]any `yaml:"criteria"`
	Values   []ValueDef     `yaml:"values"`
}

// ValueDef is one historical value, oldest first.
type ValueDef struct {
	Value  string `yaml:"value"`
	Source string `yaml:"source"`
	Notes  string `yaml:"notes"`
}

// CatalogDef is a plan-scoped catalog item.
type CatalogDef struct {
	Kind         string `yaml:"kind"`
	Name         string `yaml:"name"`
	Level        int    `yaml:"level"`
	Color        string `yaml:"color"`
	Description  string `yaml:"description"`
	Value        string `yaml:"value"`
	DisplayOrder int    `yaml:"display_order"`
}

// Load reads a plan fixture from fsys.
func Load(fsys afero.Fs, path string) (*Plan, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, eris.Wrapf(err, "fixture: read %s", path)
	}
	return Parse(data)
}

// Parse decodes and checks a plan fixture.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "fixture: parse")
	}
	if strings.TrimSpace(p.PlanID) == "" {
		return nil, eris.New("fixture: plan_id is required")
	}
	if _, err := p.Model(); err != nil {
		return nil, err
	}
	if _, err := p.CatalogItems(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Model converts the task definitions.
func (p *Plan) Model() ([]model.Task, error) {
	tasks := make([]model.Task, 0, len(p.Tasks))
	for _, td := range p.Tasks {
		if td.Name == "" {
			return nil, eris.New("fixture: task without a name")
		}
		task := model.Task{
			PlanID:             p.PlanID,
			Name:               td.Name,
			Status:             model.TaskStatus(strings.ToUpper(td.Status)),
			StatusUpdateSource: td.Source,
			Weight:             1,
		}
		if td.Status != "" && !task.Status.Valid() {
			return nil, eris.Errorf("fixture: task %q has unknown status %q", td.Name, td.Status)
		}
		if td.Weight != nil {
			task.Weight = *td.Weight
		}
		for i, ad := range td.Attributes {
			attr, err := ad.model()
			if err != nil {
				return nil, eris.Wrapf(err, "fixture: task %q attribute %d", td.Name, i)
			}
			task.Attributes = append(task.Attributes, attr)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (ad AttributeDef) model() (model.TelemetryAttribute, error) {
	dt, err := model.ParseDataType(ad.DataType)
	if err != nil {
		return model.TelemetryAttribute{}, err
	}
	attr := model.TelemetryAttribute{
		Name:       ad.Name,
		DataType:   dt,
		IsRequired: ad.Required,
		IsActive:   ad.Active == nil || *ad.Active,
		Order:      ad.Order,
	}
	if len(ad.Criteria) > 0 {
		raw, err := json.Marshal(ad.Criteria)
		if err != nil {
			return model.TelemetryAttribute{}, eris.Wrap(err, "encode criteria")
		}
		c, err := criteria.Parse(raw)
		if err != nil {
			return model.TelemetryAttribute{}, err
		}
		attr.Criteria = c
	}
	for _, vd := range ad.Values {
		attr.Values = append(attr.Values, model.TelemetryValue{Value: vd.Value, Source: vd.Source, Notes: vd.Notes})
	}
	return attr, nil
}

// CatalogItems converts the catalog definitions.
func (p *Plan) CatalogItems() ([]model.CatalogItem, error) {
	items := make([]model.CatalogItem, 0, len(p.Catalog))
	for _, cd := range p.Catalog {
		kind := model.EntityKind(strings.ToLower(strings.TrimSpace(cd.Kind)))
		if !kind.IsCatalog() {
			return nil, eris.Errorf("fixture: unknown catalog kind %q", cd.Kind)
		}
		items = append(items, model.CatalogItem{
			PlanID:       p.PlanID,
			Kind:         kind,
			Name:         cd.Name,
			Level:        cd.Level,
			Color:        cd.Color,
			Description:  cd.Description,
			Value:        cd.Value,
			DisplayOrder: cd.DisplayOrder,
		})
	}
	return items, nil
}

// Result counts what Seed wrote.
type Result struct {
	Tasks      int
	Attributes int
	Values     int
	Catalog    int
}

// Seed writes the plan into st. Each task commits on its own; the catalog
// commits in one transaction after the tasks.
func Seed(ctx context.Context, st store.Store, p *Plan) (Result, error) {
	var res Result
	tasks, err := p.Model()
	if err != nil {
		return res, err
	}
	items, err := p.CatalogItems()
	if err != nil {
		return res, err
	}

	for i := range tasks {
		if err := st.CreateTask(ctx, &tasks[i]); err != nil {
			return res, eris.Wrapf(err, "fixture: seed task %q", tasks[i].Name)
		}
		res.Tasks++
		for _, a := range tasks[i].Attributes {
			res.Attributes++
			res.Values += len(a.Values)
		}
	}

	err = st.InTx(ctx, func(tx store.Tx) error {
		for i := range items {
			if err := tx.InsertCatalogItem(ctx, &items[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, eris.Wrap(err, "fixture: seed catalog")
	}
	res.Catalog = len(items)
	return res, nil
}
