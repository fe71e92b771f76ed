package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/adoption-cli/internal/criteria"
)

func TestTaskStatus(t *testing.T) {
	tests := []struct {
		status        TaskStatus
		valid         bool
		authoritative bool
	}{
		{TaskStatusNotStarted, true, false},
		{TaskStatusInProgress, true, false},
		{TaskStatusDone, true, true},
		{TaskStatusNoLongerUsing, true, true},
		{TaskStatusNotApplicable, true, true},
		{"BLOCKED", false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.status.Valid())
			assert.Equal(t, tt.authoritative, tt.status.Authoritative())
		})
	}
}

func TestSources(t *testing.T) {
	assert.True(t, IsTelemetrySource("telemetry"))
	assert.True(t, IsTelemetrySource("  TELEMETRY "))
	assert.False(t, IsTelemetrySource("manual"))
	assert.False(t, IsTelemetrySource(""))

	assert.Equal(t, "telemetry", NormalizeSource(""))
	assert.Equal(t, "manual", NormalizeSource(" Manual"))
}

func TestParseDataType(t *testing.T) {
	tests := map[string]DataType{
		"BOOLEAN":    DataTypeBoolean,
		"bool":       DataTypeBoolean,
		"percentage": DataTypeNumber,
		" Number ":   DataTypeNumber,
		"text":       DataTypeString,
		"Date":       DataTypeTimestamp,
	}
	for in, want := range tests {
		got, err := ParseDataType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDataType("json")
	assert.Error(t, err)
}

func TestLatest(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := TelemetryAttribute{}
	assert.Nil(t, a.Latest())

	observed := base.Add(48 * time.Hour)
	a.Values = []TelemetryValue{
		{ID: 1, Value: "old", CreatedAt: base, ObservedAt: &observed},
		{ID: 3, Value: "tie-high", CreatedAt: base.Add(time.Hour)},
		{ID: 2, Value: "tie-low", CreatedAt: base.Add(time.Hour)},
	}
	require.NotNil(t, a.Latest())
	assert.Equal(t, "tie-high", a.Latest().Value)
}

func TestRaw(t *testing.T) {
	var missing *TelemetryValue
	assert.Nil(t, missing.Raw())

	v := &TelemetryValue{Value: ""}
	require.NotNil(t, v.Raw())
	assert.Equal(t, "", *v.Raw())
}

func TestTelemetryAttribute_MarshalJSON(t *testing.T) {
	a := TelemetryAttribute{ID: "a1", Name: "sso_enabled", DataType: DataTypeBoolean, Criteria: criteria.BooleanFlag{Expected: true}}
	raw, err := json.Marshal(a)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "sso_enabled", out["name"])
	sc, ok := out["success_criteria"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "boolean_flag", sc["type"])

	a.Criteria = nil
	raw, err = json.Marshal(a)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "success_criteria")
}

func TestTaskAttribute(t *testing.T) {
	task := Task{Attributes: []TelemetryAttribute{{Name: "SSO_Enabled"}}}
	assert.NotNil(t, task.Attribute(" sso_enabled"))
	assert.Nil(t, task.Attribute("missing"))
}

func TestCatalogItem(t *testing.T) {
	assert.True(t, KindTag.IsCatalog())
	assert.False(t, KindTelemetryValue.IsCatalog())

	tag := CatalogItem{Kind: KindTag, Name: " Beta ", Color: "#fff"}
	assert.Equal(t, "beta", tag.MatchKey())
	assert.Equal(t, []Field{{"name", " Beta "}, {"color", "#fff"}, {"description", ""}}, tag.DiffFields())

	ca := CatalogItem{Kind: KindCustomAttribute, Name: "region", Value: "emea", DisplayOrder: 2}
	assert.Equal(t, []Field{{"key", "region"}, {"value", "emea"}, {"display_order", 2}}, ca.DiffFields())

	assert.Nil(t, CatalogItem{Kind: KindTelemetryValue}.DiffFields())
}

func TestSnapshotLookups(t *testing.T) {
	s := &Snapshot{
		Tasks: []Task{{ID: "t1", Name: "Enable SSO"}},
		Catalog: []CatalogItem{
			{Kind: KindTag, Name: "Beta"},
			{Kind: KindLicense, Name: "Essential", Level: 1},
			{Kind: KindLicense, Name: "Beta"},
		},
	}
	assert.Equal(t, "t1", s.TaskByName(" enable sso ").ID)
	assert.Nil(t, s.TaskByName("other"))
	assert.Equal(t, "Enable SSO", s.TaskByID("t1").Name)
	assert.Nil(t, s.TaskByID("t2"))

	assert.Equal(t, KindTag, s.CatalogItem(KindTag, "beta").Kind)
	assert.Nil(t, s.CatalogItem(KindOutcome, "beta"))
	assert.Len(t, s.CatalogOf(KindLicense), 2)
}
