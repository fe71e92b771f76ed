package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/adoption-cli/internal/criteria"
)

// DataType is the declared type of a telemetry attribute's values.
type DataType string

const (
	DataTypeBoolean   DataType = "boolean"
	DataTypeNumber    DataType = "number"
	DataTypeString    DataType = "string"
	DataTypeTimestamp DataType = "timestamp"
)

// ParseDataType maps user-facing spellings ("BOOLEAN", "Date", "percentage")
// onto a DataType.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "boolean", "bool":
		return DataTypeBoolean, nil
	case "number", "numeric", "percentage", "integer", "float":
		return DataTypeNumber, nil
	case "string", "text":
		return DataTypeString, nil
	case "timestamp", "date", "datetime", "time":
		return DataTypeTimestamp, nil
	}
	return "", eris.Errorf("model: unknown data type %q", s)
}

// TelemetryAttribute is a named, typed signal on a task. Authors create and
// edit attributes; the evaluation path only appends values.
type TelemetryAttribute struct {
	ID            string            `json:"id"`
	TaskID        string            `json:"task_id"`
	Name          string            `json:"name"`
	DataType      DataType          `json:"data_type"`
	IsRequired    bool              `json:"is_required"`
	IsActive      bool              `json:"is_active"`
	Order         int               `json:"order"`
	Criteria      criteria.Criteria `json:"-"`
	IsMet         bool              `json:"is_met"`
	LastCheckedAt *time.Time        `json:"last_checked_at,omitempty"`
	Values        []TelemetryValue  `json:"values,omitempty"`
}

// Latest returns the most recently created value, or nil when none has been
// reported. Ties on creation time go to the higher ID.
func (a *TelemetryAttribute) Latest() *TelemetryValue {
	var latest *TelemetryValue
	for i := range a.Values {
		v := &a.Values[i]
		if latest == nil || v.CreatedAt.After(latest.CreatedAt) ||
			(v.CreatedAt.Equal(latest.CreatedAt) && v.ID > latest.ID) {
			latest = v
		}
	}
	return latest
}

// TelemetryValue is one immutable report of an attribute's state.
type TelemetryValue struct {
	ID          int64      `json:"id"`
	AttributeID string     `json:"attribute_id"`
	Value       string     `json:"value"`
	Source      string     `json:"source"`
	Notes       string     `json:"notes,omitempty"`
	BatchID     string     `json:"batch_id,omitempty"`
	ObservedAt  *time.Time `json:"observed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Raw returns a pointer to the raw value, or nil for a missing report.
func (v *TelemetryValue) Raw() *string {
	if v == nil {
		return nil
	}
	s := v.Value
	return &s
}

// MarshalJSON renders the attribute with its success criteria in the tagged
// wire shape.
func (a TelemetryAttribute) MarshalJSON() ([]byte, error) {
	type plain TelemetryAttribute
	out := struct {
		plain
		SuccessCriteria json.RawMessage `json:"success_criteria,omitempty"`
	}{plain: plain(a)}
	if a.Criteria != nil {
		raw, err := criteria.Marshal(a.Criteria)
		if err != nil {
			return nil, err
		}
		out.SuccessCriteria = raw
	}
	return json.Marshal(out)
}
