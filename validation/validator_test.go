package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablecore/data/orm"
	"tablecore/errors"
)

func table() *orm.Table {
	return &orm.Table{ID: "t", Name: "tasks", Columns: []*orm.Column{
		{ID: "c_id", Title: "Id", Name: "id", PrimaryKey: true, AutoIncrement: true, Required: true},
		{ID: "c_title", Title: "Title", Name: "title", Required: true, DataTypeLen: 5},
		{ID: "c_n", Title: "Qty", Name: "qty", Type: orm.TypeNumber},
		{ID: "c_done", Title: "Done", Name: "done", Type: orm.TypeCheckbox},
		{ID: "c_due", Title: "Due", Name: "due", Type: orm.TypeDateTime},
		{ID: "c_f", Title: "Calc", Type: orm.TypeFormula},
		{ID: "c_link", Title: "Owner", Type: orm.TypeLink, Link: &orm.LinkOptions{Kind: orm.BelongsTo}},
		{ID: "c_mod", Title: "UpdatedAt", Name: "updated_at", Type: orm.TypeLastModifiedTime},
	}}
}

func details(t *testing.T, err error) map[string]any {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.IsValidation(err))
	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	return appErr.Details()
}

func TestRowValidator_Accepts(t *testing.T) {
	v := RowValidator{}
	err := v.ValidateRow(orm.Row{
		"Title": "abc",
		"qty":   "12.5",
		"Done":  1,
		"c_due": time.Now(),
		"Owner": 3,
	}, table(), Options{})
	assert.NoError(t, err)

	assert.NoError(t, v.ValidateRow(orm.Row{"Qty": 1}, table(), Options{Partial: true}))
	assert.NoError(t, v.ValidateRow(orm.Row{"UpdatedAt": "2024-01-01"}, table(), Options{Partial: true, AllowSystemColumn: true}))
}

func TestRowValidator_Rejects(t *testing.T) {
	v := RowValidator{}
	d := details(t, v.ValidateRow(orm.Row{
		"nope":      1,
		"Qty":       "many",
		"Done":      "maybe",
		"Due":       "yesterday",
		"Calc":      "x",
		"UpdatedAt": "2024-01-01",
	}, table(), Options{}))

	for _, key := range []string{"nope", "Qty", "Done", "Due", "Calc", "UpdatedAt", "Title"} {
		assert.Contains(t, d, key)
	}
	assert.NotContains(t, d, "Id", "auto increment columns are never required")

	d = details(t, v.ValidateRow(orm.Row{"Title": "toolong"}, table(), Options{Partial: true}))
	assert.Contains(t, d["Title"], "长度")

	d = details(t, v.ValidateRow(orm.Row{"title": " "}, table(), Options{Partial: true}))
	assert.Equal(t, "不能为空", d["title"])
}

func TestNoopValidator(t *testing.T) {
	assert.NoError(t, NoopValidator{}.ValidateRow(orm.Row{"x": 1}, table(), Options{}))
}
