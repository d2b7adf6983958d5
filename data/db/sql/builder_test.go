package sql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablecore/data/db/dialect"
)

func TestSelectBuild_ArgOrder(t *testing.T) {
	s := NewWithDialect(nil, dialect.Of(dialect.Postgres))
	sub := s.Select(`"id"`).From("parents").Where(`"id" = ?`, 7)

	q, args := s.Select(`"children".*`).
		Column(`CAST(? AS TEXT) AS "__nc_group_id"`, "7").
		From("children").
		WhereIn(`"children"."parent_id"`, sub).
		Where(`"children"."title" <> ?`, "x").
		OrderBy(`"children"."id" ASC`).
		Limit(25).
		Build()

	assert.Equal(t,
		`SELECT "children".*, CAST(? AS TEXT) AS "__nc_group_id" FROM "children" WHERE "children"."parent_id" IN (SELECT "id" FROM "parents" WHERE "id" = ?) AND "children"."title" <> ? ORDER BY "children"."id" ASC LIMIT ?`,
		q)
	assert.Equal(t, []any{"7", 7, "x", 25}, args)
}

func TestSelectClone_IsIndependent(t *testing.T) {
	s := NewWithDialect(nil, dialect.Of(dialect.SQLite))
	shape := s.Select("*").From("items").OrderBy(`"id"`)

	a := shape.Clone().Where(`"id" = ?`, 1).Limit(5)
	b := shape.Clone().Where(`"id" = ?`, 2)

	qa, argsA := a.Build()
	qb, argsB := b.Build()
	qs, argsS := shape.Build()

	assert.Equal(t, `SELECT * FROM "items" WHERE "id" = ? ORDER BY "id" LIMIT ?`, qa)
	assert.Equal(t, []any{1, 5}, argsA)
	assert.Equal(t, `SELECT * FROM "items" WHERE "id" = ? ORDER BY "id"`, qb)
	assert.Equal(t, []any{2}, argsB)
	assert.Equal(t, `SELECT * FROM "items" ORDER BY "id"`, qs)
	assert.Empty(t, argsS)
}

func TestUnionAll_WrapsPerDialect(t *testing.T) {
	for _, tc := range []struct {
		kind dialect.Kind
		want string
	}{
		{dialect.SQLite, `SELECT * FROM (SELECT * FROM "t" WHERE a = ? LIMIT ?) AS "__nc_arm_0" UNION ALL SELECT * FROM (SELECT * FROM "t" WHERE a = ? LIMIT ?) AS "__nc_arm_1"`},
		{dialect.Postgres, `(SELECT * FROM "t" WHERE a = ? LIMIT ?) UNION ALL (SELECT * FROM "t" WHERE a = ? LIMIT ?)`},
	} {
		d := dialect.Of(tc.kind)
		s := NewWithDialect(nil, d)
		shape := s.Select("*").From("t").Limit(2)
		q, args := UnionAll(shape.Clone().Where("a = ?", 1), shape.Clone().Where("a = ?", 2)).ToSQL(d)
		assert.Equal(t, tc.want, q, tc.kind.String())
		assert.Equal(t, []any{1, 2, 2, 2}, args)
	}
}

func TestSelectFromExpr(t *testing.T) {
	d := dialect.Of(dialect.MySQL)
	s := NewWithDialect(nil, d)
	inner := s.Select("*").From("t").Where("a = ?", 1)
	q, args := s.Select("COUNT(*)").FromExpr(inner, "list").Build()
	assert.Equal(t, "SELECT COUNT(*) FROM (SELECT * FROM `t` WHERE a = ?) AS `list`", q)
	assert.Equal(t, []any{1}, args)
}

func TestUpdateSetCase(t *testing.T) {
	s := NewWithDialect(nil, dialect.Of(dialect.MySQL))
	q, args := s.Update("orders").
		SetCase("title", "id", []When{{Key: 1, Value: "x"}, {Key: 2, Value: "y"}}).
		Set("updated_at", "now").
		WhereIn("id", []any{1, 2}).
		Build()

	assert.Equal(t,
		"UPDATE `orders` SET `updated_at` = ?, `title` = CASE `id` WHEN ? THEN ? WHEN ? THEN ? ELSE `title` END WHERE `id` IN (?, ?)",
		q)
	assert.Equal(t, []any{"now", 1, "x", 2, "y", 1, 2}, args)
}

func TestUpdateWhereInEmpty(t *testing.T) {
	s := NewWithDialect(nil, dialect.Of(dialect.SQLite))
	q, args := s.Update("t").Set("a", 1).WhereIn("id", nil).Build()
	assert.Equal(t, `UPDATE "t" SET "a" = ? WHERE 1 = 0`, q)
	assert.Equal(t, []any{1}, args)
}

func TestUpdateUnsafeIdentifierPanics(t *testing.T) {
	s := NewWithDialect(nil, dialect.Of(dialect.SQLite))
	assert.Panics(t, func() {
		s.Update("t; DROP TABLE x").Set("a", 1).Build()
	})
}

func TestInsertAndDelete(t *testing.T) {
	s := NewWithDialect(nil, dialect.Of(dialect.SQLite))
	q, args := s.InsertInto("nc_m2m").Columns("a_id", "b_id").Values(1, 2).Values(1, 3).Build()
	assert.Equal(t, `INSERT INTO "nc_m2m" ("a_id", "b_id") VALUES (?, ?), (?, ?)`, q)
	assert.Equal(t, []any{1, 2, 1, 3}, args)

	q, args = s.DeleteFrom("nc_m2m").WhereExpr(And(Raw(`"a_id" = ?`, 1), Raw(`"b_id" = ?`, 2))).Build()
	assert.Equal(t, `DELETE FROM "nc_m2m" WHERE ("a_id" = ? AND "b_id" = ?)`, q)
	assert.Equal(t, []any{1, 2}, args)
}

func TestInsertBatches_SplitByParamLimit(t *testing.T) {
	s := NewWithDialect(nil, dialect.Of(dialect.Postgres))
	batches, err := s.InsertInto("nc_m2m").
		Columns("a_id", "b_id").
		Rows([]any{1, 2}, []any{1, 3}, []any{1, 4}).
		MaxParams(4).
		BuildBatches()
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, `INSERT INTO "nc_m2m" ("a_id", "b_id") VALUES (?, ?), (?, ?)`, batches[0].Query)
	assert.Equal(t, []any{1, 2, 1, 3}, batches[0].Args)
	assert.Equal(t, `INSERT INTO "nc_m2m" ("a_id", "b_id") VALUES (?, ?)`, batches[1].Query)
	assert.Equal(t, []any{1, 4}, batches[1].Args)

	whole, err := s.InsertInto("nc_m2m").Columns("a_id", "b_id").Rows([]any{1, 2}, []any{1, 3}).BuildBatches()
	require.NoError(t, err)
	assert.Len(t, whole, 1)
}

func TestInsertBatches_RejectsBadInput(t *testing.T) {
	s := NewWithDialect(nil, dialect.Of(dialect.SQLite))

	_, err := s.InsertInto("t").Columns("a", "b").Values(1).BuildBatches()
	assert.Error(t, err)
	_, err = s.InsertInto("t; drop").Columns("a").Values(1).BuildBatches()
	assert.Error(t, err)
	_, err = s.InsertInto("t").Columns("a").BuildBatches()
	assert.Error(t, err)

	_, err = s.InsertInto("t").Columns("a", "b").Values(1).Exec(context.Background())
	assert.Error(t, err)
	assert.Panics(t, func() { s.InsertInto("t").Columns("a", "b").Values(1).Build() })
}

func TestIsSafeIdentifier(t *testing.T) {
	assert.True(t, IsSafeIdentifier("public.users"))
	assert.True(t, IsSafeIdentifier("_nc_m2m_a"))
	assert.False(t, IsSafeIdentifier("1abc"))
	assert.False(t, IsSafeIdentifier("a b"))
	assert.False(t, IsSafeIdentifier(""))
}
