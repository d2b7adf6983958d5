package orm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablecore/data/db/dialect"
)

func sampleTable() *Table {
	return &Table{
		ID:   "t_orders",
		Name: "orders",
		Columns: []*Column{
			{ID: "c_id", Title: "Id", Name: "id", PrimaryKey: true, AutoIncrement: true},
			{ID: "c_region", Title: "Region", Name: "region", PrimaryKey: true},
			{ID: "c_title", Title: "Title", Name: "title"},
			{ID: "c_link", Title: "Items", Type: TypeLink, Link: &LinkOptions{Kind: HasMany}},
		},
	}
}

func TestTable_PrimaryKeysKeepColumnOrder(t *testing.T) {
	pks := sampleTable().PrimaryKeys()
	require.Len(t, pks, 2)
	assert.Equal(t, "id", pks[0].Name)
	assert.Equal(t, "region", pks[1].Name)
}

func TestTable_ColumnLookupPriority(t *testing.T) {
	table := sampleTable()
	table.Columns = append(table.Columns, &Column{ID: "title", Title: "Shadow", Name: "shadow"})

	assert.Equal(t, "c_title", table.Column("Title").ID)
	assert.Equal(t, "c_id", table.Column("id").ID, "physical name fallback")
	assert.Equal(t, "shadow", table.Column("title").Name, "id wins over physical name")
	assert.Nil(t, table.Column("missing"))
}

func TestColumnPredicates(t *testing.T) {
	assert.True(t, (&Column{Type: TypeLookup}).IsVirtual())
	assert.False(t, (&Column{Type: TypeForeignKey}).IsVirtual())
	assert.True(t, (&Column{DataType: "bytea"}).IsByteArray())
	assert.True(t, (&Column{DataType: "LONGBLOB"}).IsByteArray())
	assert.True(t, (&Column{DataType: "BINARY", DataTypeLen: 16}).IsBinary16())
	assert.False(t, (&Column{DataType: "binary", DataTypeLen: 8}).IsBinary16())
	assert.True(t, (&Column{Type: TypeLastModifiedBy}).IsSystemType())
	assert.Equal(t, HasMany, BelongsTo.Opposite())
	assert.Equal(t, ManyToMany, ManyToMany.Opposite())
}

func TestConditionAndOrderBy(t *testing.T) {
	q, args := Condition{Expr: "a = ? OR b = ?", Args: []any{1, 2}}.ToSQL(dialect.Of(dialect.SQLite))
	assert.Equal(t, "(a = ? OR b = ?)", q)
	assert.Equal(t, []any{1, 2}, args)

	q, _ = Condition{}.ToSQL(dialect.Of(dialect.SQLite))
	assert.Empty(t, q)

	orders := RenderOrderBy(dialect.Of(dialect.MySQL), []OrderBy{{Column: "t.title", Desc: true}, {Column: " "}, {Column: "id"}})
	assert.Equal(t, []string{"`t`.`title` DESC", "`id` ASC"}, orders)
}

func TestRecord_ComputedFieldsAreLazyAndMemoized(t *testing.T) {
	ctx := context.Background()
	calls := 0
	set := NewComputedFieldSet().
		Add("Total", func(ctx context.Context, row Row) (any, error) {
			calls++
			return row["qty"].(int) * row["price"].(int), nil
		}).
		Add("Broken", func(ctx context.Context, row Row) (any, error) {
			return nil, errors.New("lookup failed")
		})

	rec := set.Bind(Row{"qty": 2, "price": 5})
	assert.Equal(t, 0, calls)

	v, ok, err := rec.Get(ctx, "Total")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10, v)

	_, _, _ = rec.Get(ctx, "Total")
	assert.Equal(t, 1, calls)

	v, ok, err = rec.Get(ctx, "qty")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok, err = rec.Get(ctx, "unknown")
	assert.NoError(t, err)
	assert.False(t, ok)

	_, _, err = rec.Get(ctx, "Broken")
	assert.EqualError(t, err, "lookup failed")
	_, err = rec.Resolve(ctx)
	assert.Error(t, err)
}

func TestRecord_ResolveMergesComputed(t *testing.T) {
	set := NewComputedFieldSet().Add("Upper", func(ctx context.Context, row Row) (any, error) {
		return "X-" + row["title"].(string), nil
	})
	recs := set.BindAll([]Row{{"title": "a"}, {"title": "b"}})
	require.Len(t, recs, 2)

	out, err := recs[1].Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Row{"title": "b", "Upper": "X-b"}, out)
	assert.Equal(t, Row{"title": "b"}, recs[1].Row, "source row untouched")
	assert.Equal(t, []string{"Upper"}, set.Names())

	empty, err := NoComputedFields{}.ComputedFields(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Names())
}
