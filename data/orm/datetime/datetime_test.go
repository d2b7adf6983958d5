package datetime

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablecore/data/db/dialect"
	"tablecore/data/orm"
	"tablecore/schema"
)

var canonical = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}[+-]\d{2}:\d{2}$`)

var (
	formulaCol = &orm.Column{ID: "f", Title: "F", Name: "f", Type: orm.TypeFormula}
	dtCol      = &orm.Column{ID: "d", Title: "D", Name: "d", Type: orm.TypeDateTime}
	dtDefault  = &orm.Column{ID: "dd", Title: "DD", Name: "dd", Type: orm.TypeDateTime, Default: "CURRENT_TIMESTAMP"}
	dateCol    = &orm.Column{ID: "day", Title: "Day", Name: "day", Type: orm.TypeDate}
	plainCol   = &orm.Column{ID: "p", Title: "P", Name: "p"}
)

func hongKong(t *testing.T) *time.Location {
	t.Helper()
	return time.FixedZone("HKT", 8*3600)
}

func TestFormula_ISOMillisToCanonical(t *testing.T) {
	for _, kind := range []dialect.Kind{dialect.SQLite, dialect.Postgres, dialect.MySQL, dialect.MSSQL} {
		n := &Normalizer{Dialect: dialect.Of(kind), Location: hongKong(t)}
		row := n.Normalize(orm.Row{"f": "2023-04-27T10:00:00.000Z"}, FieldsOf([]*orm.Column{formulaCol}))
		assert.Equal(t, "2023-04-27 10:00:00+00:00", row["f"], kind.String())
		assert.Regexp(t, canonical, row["f"])
	}
}

func TestFormula_SpaceSeparated(t *testing.T) {
	fields := FieldsOf([]*orm.Column{formulaCol})

	sqlite := &Normalizer{Dialect: dialect.Of(dialect.SQLite), Location: hongKong(t)}
	row := sqlite.Normalize(orm.Row{"f": "due 2023-04-27 10:00:00 and 2023-04-27 10:00:00+05:30"}, fields)
	assert.Equal(t, "due 2023-04-27 02:00:00+00:00 and 2023-04-27 04:30:00+00:00", row["f"])

	pg := &Normalizer{Dialect: dialect.Of(dialect.Postgres), Location: hongKong(t)}
	row = pg.Normalize(orm.Row{"f": "2023-04-27 10:00:00"}, fields)
	assert.Equal(t, "2023-04-27 10:00:00+00:00", row["f"])

	mysql := &Normalizer{Dialect: dialect.Of(dialect.MySQL)}
	row = mysql.Normalize(orm.Row{"f": "2023-04-27 10:00:00.000000"}, fields)
	assert.Equal(t, "2023-04-27 10:00:00+00:00", row["f"])

	mssql := &Normalizer{Dialect: dialect.Of(dialect.MSSQL)}
	row = mssql.Normalize(orm.Row{"f": "2023-04-27 10:00:00.0000000 +00:00"}, fields)
	assert.Equal(t, "2023-04-27 10:00:00+00:00", row["f"])

	row = mssql.Normalize(orm.Row{"f": 42}, fields)
	assert.Equal(t, 42, row["f"], "non-string formula values are untouched")
}

func TestDateTime_PerDialect(t *testing.T) {
	fields := FieldsOf([]*orm.Column{dtCol, dtDefault, plainCol})

	sqlite := &Normalizer{Dialect: dialect.Of(dialect.SQLite), Location: hongKong(t)}
	row := sqlite.Normalize(orm.Row{
		"d":  "2023-04-27 10:00:00",
		"dd": "2023-04-27 10:00:00",
		"p":  "2023-04-27 10:00:00",
	}, fields)
	assert.Equal(t, "2023-04-27 02:00:00+00:00", row["d"], "naive value is server local time")
	assert.Equal(t, "2023-04-27 10:00:00+00:00", row["dd"], "default-backed value is already absolute")
	assert.Equal(t, "2023-04-27 10:00:00", row["p"])

	row = sqlite.Normalize(orm.Row{"d": "2023-04-27T10:00:00+05:30"}, fields)
	assert.Equal(t, "2023-04-27 04:30:00+00:00", row["d"])

	mysql := &Normalizer{Dialect: dialect.Of(dialect.MySQL), Location: hongKong(t)}
	row = mysql.Normalize(orm.Row{"d": "2023-05-09 11:41:49"}, fields)
	assert.Equal(t, "2023-05-09 11:41:49+00:00", row["d"])

	pg := &Normalizer{Dialect: dialect.Of(dialect.Postgres), Location: hongKong(t)}
	row = pg.Normalize(orm.Row{"d": "2023-05-11 16:16:51+08"}, fields)
	assert.Equal(t, "2023-05-11 08:16:51+00:00", row["d"])

	native := time.Date(2023, 5, 10, 17, 47, 46, 0, hongKong(t))
	row = mysql.Normalize(orm.Row{"d": native}, fields)
	assert.Equal(t, "2023-05-10 09:47:46+00:00", row["d"])

	row = mysql.Normalize(orm.Row{"d": "garbage", "dd": nil}, fields)
	assert.Equal(t, "garbage", row["d"])
	assert.Nil(t, row["dd"])
}

func TestDate_DropsTimeOfDay(t *testing.T) {
	n := &Normalizer{Dialect: dialect.Of(dialect.Postgres)}
	fields := FieldsOf([]*orm.Column{dateCol})

	row := n.Normalize(orm.Row{"day": "2023-04-27 10:00:00"}, fields)
	assert.Equal(t, "2023-04-27", row["day"])

	row = n.Normalize(orm.Row{"Day": time.Date(2023, 4, 27, 0, 0, 0, 0, time.UTC)}, fields)
	assert.Equal(t, "2023-04-27", row["Day"], "title-keyed rows are handled too")
}

func TestNormalize_Idempotent(t *testing.T) {
	fields := FieldsOf([]*orm.Column{formulaCol, dtCol, dtDefault, dateCol})
	for _, kind := range []dialect.Kind{dialect.SQLite, dialect.Postgres, dialect.MySQL, dialect.MSSQL} {
		n := &Normalizer{Dialect: dialect.Of(kind), Location: hongKong(t)}
		once := n.NormalizeAll([]orm.Row{{
			"f":   "at 2023-04-27T10:00:00.000Z",
			"d":   "2023-04-27 10:00:00",
			"dd":  "2023-04-27 10:00:00+02:00",
			"day": "2023-04-27",
		}}, fields)
		snapshot := orm.CloneRow(once[0])
		twice := n.NormalizeAll(once, fields)
		assert.Equal(t, snapshot, twice[0], kind.String())
		assert.Regexp(t, canonical, twice[0]["d"])
	}
}

func TestColumns_FollowsLookupChain(t *testing.T) {
	reg, err := schema.NewRegistry(
		&orm.Table{ID: "a", Name: "a", Columns: []*orm.Column{
			{ID: "a_id", Name: "id", PrimaryKey: true},
			{ID: "a_lk", Title: "Due", Type: orm.TypeLookup, Lookup: &orm.LookupOptions{TargetColumnID: "b_due"}},
			{ID: "a_title", Name: "title"},
		}},
		&orm.Table{ID: "b", Name: "b", Columns: []*orm.Column{
			{ID: "b_due", Name: "due", Type: orm.TypeDateTime, Default: "now()"},
		}},
	)
	require.NoError(t, err)
	tbl, _ := reg.GetTable(context.Background(), "a")

	fields, err := Columns(context.Background(), reg, tbl)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "a_lk", fields[0].Source.ID)
	assert.Equal(t, orm.TypeDateTime, fields[0].Type)
	assert.True(t, fields[0].HasDefault)
}

func TestNew_Zone(t *testing.T) {
	n, err := New(dialect.Of(dialect.SQLite), "UTC")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, n.location())

	n, err = New(dialect.Of(dialect.SQLite), "")
	require.NoError(t, err)
	assert.Equal(t, time.Local, n.location())

	_, err = New(dialect.Of(dialect.SQLite), "Mars/Olympus")
	assert.Error(t, err)
}
