package importer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/adoption-cli/internal/criteria"
	"github.com/sells-group/adoption-cli/internal/model"
)

func testSnapshot() *model.Snapshot {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return &model.Snapshot{
		PlanID: "p1",
		Tasks: []model.Task{{
			ID: "t1", PlanID: "p1", Name: "Enable SSO", Status: model.TaskStatusNotStarted,
			Attributes: []model.TelemetryAttribute{
				{
					ID: "a1", TaskID: "t1", Name: "sso_enabled", DataType: model.DataTypeBoolean,
					IsRequired: true, IsActive: true, Order: 1, Criteria: criteria.BooleanFlag{Expected: true},
					Values: []model.TelemetryValue{{ID: 1, AttributeID: "a1", Value: "true", Source: "Telemetry", CreatedAt: t0}},
				},
				{ID: "a2", TaskID: "t1", Name: "legacy", DataType: model.DataTypeString, Order: 2},
			},
		}},
		Catalog: []model.CatalogItem{{ID: "c1", PlanID: "p1", Kind: model.KindTag, Name: "Beta", Color: "#00ff00"}},
	}
}

func TestBuildDryRun_Mixed(t *testing.T) {
	t.Parallel()

	parsed := parse(t,
		sheetData{"Telemetry Data", [][]string{
			telemetryHeader,
			{"Enable SSO", "sso_enabled", "boolean", "true", ""},
			{"Enable SSO", "legacy", "number", "hello", ""},
			{"enable sso", "NEW_ATTR", "", "42", "manual"},
			{"Enable SSO", "new_attr", "", "43", "manual"},
			{"Nope", "x", "", "1", ""},
			{"Enable SSO", "ghost", "", "1", ""},
			{"Enable SSO", "flag", "", "maybe", ""},
		}},
		sheetData{"Telemetry Attributes", [][]string{
			attributeHeader,
			{"Enable SSO", "new_attr", "number", `{"type":"number_threshold","operator":"gt","threshold":10}`, "no", "yes", ""},
			{"Enable SSO", "flag", "boolean", "", "no", "yes", "5"},
			{"Enable SSO", "sso_enabled", "boolean", `{"type":"boolean_flag","expectedValue":true}`, "no", "yes", "1"},
		}},
		sheetData{"Tags", [][]string{
			{"Tag Name", "Color", "Description"},
			{"beta", "#ff0000", ""},
		}},
	)

	dr := BuildDryRun(parsed, testSnapshot())
	assert.False(t, dr.Valid)
	assert.ElementsMatch(t, []Code{CodeTaskNotFound, CodeAttributeNotFound, CodeInvalidValue}, codesOf(dr.Errors))
	assert.ElementsMatch(t, []Code{CodeDataTypeMismatch, CodeAttributeInactive, CodeDuplicateWithinImport}, codesOf(dr.Warnings))

	values := recordsFor(dr, "Telemetry Data")
	assert.Equal(t, ActionUnchanged, values[2].Action)
	assert.Equal(t, ActionCreate, values[3].Action)
	assert.Equal(t, ActionSkip, values[4].Action)
	assert.Equal(t, "superseded by row 5", values[4].Reason)
	assert.Equal(t, ActionCreate, values[5].Action)
	assert.Equal(t, ActionSkip, values[6].Action)
	assert.Equal(t, ActionSkip, values[7].Action)
	assert.Equal(t, ActionSkip, values[8].Action)

	attrs := recordsFor(dr, "Telemetry Attributes")
	assert.Equal(t, ActionCreate, attrs[2].Action)
	assert.Equal(t, ActionCreate, attrs[3].Action)
	assert.Equal(t, ActionUpdate, attrs[4].Action)
	assert.Equal(t, []FieldDiff{{Field: "required", Old: "true", New: "false"}}, attrs[4].Diffs)
	assert.Equal(t, "a1", attrs[4].ExistingID)

	tags := recordsFor(dr, "Tags")
	assert.Equal(t, ActionUpdate, tags[2].Action)
	assert.Equal(t, []FieldDiff{
		{Field: "name", Old: "Beta", New: "beta"},
		{Field: "color", Old: "#00ff00", New: "#ff0000"},
	}, tags[2].Diffs)

	assert.Equal(t, Counts{Create: 2, Unchanged: 1, Skip: 4}, dr.Summary.PerEntity[model.KindTelemetryValue])
	assert.Equal(t, Counts{Create: 2, Update: 1}, dr.Summary.PerEntity[model.KindTelemetryAttribute])
	assert.Equal(t, Counts{Update: 1}, dr.Summary.PerEntity[model.KindTag])
	assert.Equal(t, 11, dr.Summary.TotalRecords)
	assert.Equal(t, 3, dr.Summary.ErrorCount)

	require.Len(t, dr.plan.attrCreates, 2)
	assert.Equal(t, 3, dr.plan.attrCreates[0].Order, "new attributes without an order go after existing ones")
	assert.Equal(t, 5, dr.plan.attrCreates[1].Order)
	require.Len(t, dr.plan.values, 2)
	assert.Equal(t, "a2", dr.plan.values[0].AttributeID)
	assert.Equal(t, dr.plan.attrCreates[0].ID, dr.plan.values[1].AttributeID, "values may target attributes created by the same import")
	assert.Equal(t, "43", dr.plan.values[1].Value)
	assert.Equal(t, []string{"t1"}, dr.plan.taskIDs)
}

func TestBuildDryRun_ValueIssuesCarryLocation(t *testing.T) {
	t.Parallel()

	parsed := parse(t, sheetData{"Telemetry Data", [][]string{
		telemetryHeader,
		{"Enable SSO", "sso_enabled", "", "perhaps", ""},
	}})

	errs := Validate(parsed, testSnapshot()).Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, Issue{
		Sheet: "Telemetry Data", Row: 2, Column: "D", Field: "value", Value: "perhaps",
		Message:  `"perhaps" is not a valid boolean value for attribute "sso_enabled"`,
		Code:     CodeInvalidValue,
		Severity: "error",
	}, errs[0])
}

func TestBuildDryRun_ChangedSourceIsAnAppend(t *testing.T) {
	t.Parallel()

	parsed := parse(t, sheetData{"Telemetry Data", [][]string{
		telemetryHeader,
		{"Enable SSO", "sso_enabled", "", "true", "Manual"},
	}})

	dr := BuildDryRun(parsed, testSnapshot())
	require.True(t, dr.Valid)
	rec := dr.Records[0]
	assert.Equal(t, ActionCreate, rec.Action)
	assert.Equal(t, []FieldDiff{{Field: "source", Old: "telemetry", New: "manual"}}, rec.Diffs)
}

func TestBuildDryRun_LicenseLevelReserved(t *testing.T) {
	t.Parallel()

	for _, key := range []string{"licenseLevel", "License Level", "license_level", "LICENSE-LEVEL"} {
		parsed := parse(t,
			sheetData{"Telemetry Data", [][]string{telemetryHeader}},
			sheetData{"Custom Attributes", [][]string{
				{"Attribute Key", "Attribute Value"},
				{key, "Signature"},
				{"region", "emea"},
			}},
		)
		dr := BuildDryRun(parsed, testSnapshot())
		assert.False(t, dr.Valid, key)
		require.Len(t, dr.Errors, 1, key)
		assert.Equal(t, CodeLicenseLevelReserved, dr.Errors[0].Code)
		assert.Equal(t, "A", dr.Errors[0].Column)
		assert.Equal(t, Counts{Create: 1, Skip: 1}, dr.Summary.PerEntity[model.KindCustomAttribute])
	}
}

func TestBuildDryRun_StructuralRejectsAreSkipped(t *testing.T) {
	t.Parallel()

	parsed := parse(t, sheetData{"Telemetry Data", [][]string{
		{"Task Name", "Attribute Name", "Current Value", "Date"},
		{"Enable SSO", "sso_enabled", "true", "someday"},
	}})

	dr := BuildDryRun(parsed, testSnapshot())
	assert.False(t, dr.Valid)
	assert.Equal(t, Counts{Skip: 1}, dr.Summary.PerEntity[model.KindTelemetryValue])
	assert.Empty(t, dr.plan.values)
}

func TestBuildDryRun_NilSnapshot(t *testing.T) {
	t.Parallel()

	parsed := parse(t, sheetData{"Telemetry Data", [][]string{
		telemetryHeader,
		{"Enable SSO", "sso_enabled", "", "true", ""},
	}})
	assert.Equal(t, []Code{CodeTaskNotFound}, codesOf(Validate(parsed, nil)))
}

func TestDiffFields(t *testing.T) {
	t.Parallel()

	got := diffFields(
		[]model.Field{{Name: "a", Value: nil}, {Name: "b", Value: 1}, {Name: "c", Value: true}},
		[]model.Field{{Name: "a", Value: ""}, {Name: "b", Value: "1"}, {Name: "c", Value: false}},
	)
	assert.Equal(t, []FieldDiff{{Field: "c", Old: "true", New: "false"}}, got)
}
