package relation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"tablecore/config"
	core "tablecore/data/db"
	"tablecore/data/db/dialect"
	dbsql "tablecore/data/db/sql"
	"tablecore/data/orm"
	"tablecore/data/orm/datetime"
	"tablecore/data/orm/pk"
	"tablecore/errors"
	"tablecore/logging"
	"tablecore/schema"
)

// Deps 引擎依赖，零值字段使用默认实现
type Deps struct {
	DB         core.IDatabase
	Dialect    dialect.Dialect
	Accessor   schema.Accessor
	Compiler   ConditionCompiler
	Computed   orm.ComputedFieldProvider
	Normalizer *datetime.Normalizer
	Logger     logging.Logger
	Config     config.EngineConfig
}

// Engine 按关联列批量读取与统计关联记录
//
// 多个父记录的查询合并为一条 UNION ALL，每个分支独立分页并带上分组标签。
type Engine struct {
	db         core.IDatabase
	dialect    dialect.Dialect
	sql        dbsql.ISql
	accessor   schema.Accessor
	compiler   ConditionCompiler
	computed   orm.ComputedFieldProvider
	normalizer *datetime.Normalizer
	logger     logging.Logger
	cfg        config.EngineConfig
}

// NewEngine 创建引擎
func NewEngine(deps Deps) (*Engine, error) {
	if deps.DB == nil || deps.Accessor == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidInput, "relation engine 需要 DB 与 Accessor")
	}
	e := &Engine{
		db:         deps.DB,
		dialect:    deps.Dialect,
		accessor:   deps.Accessor,
		compiler:   deps.Compiler,
		computed:   deps.Computed,
		normalizer: deps.Normalizer,
		logger:     deps.Logger,
		cfg:        deps.Config.WithDefaults(),
	}
	if e.dialect.Kind() == dialect.Unknown {
		e.dialect = dialect.FromDatabase(deps.DB)
	}
	e.sql = dbsql.NewWithDialect(deps.DB, e.dialect)
	if e.compiler == nil {
		e.compiler = OptionCompiler{}
	}
	if e.computed == nil {
		e.computed = orm.NoComputedFields{}
	}
	if e.logger == nil {
		e.logger = logging.GetLogger().WithFields(logging.String("component", "relation"))
	}
	if e.normalizer == nil {
		n, err := datetime.New(e.dialect, e.cfg.ServerTimezone)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "无效的服务端时区 "+e.cfg.ServerTimezone)
		}
		e.normalizer = n
	}
	return e, nil
}

// side 关联的读取方向：ids 属于 source 表，结果来自 target 表
type side struct {
	column    *orm.Column
	source    *orm.Table
	sourceCol *orm.Column
	target    *orm.Table
	targetCol *orm.Column

	junction          *orm.Table
	junctionSourceCol *orm.Column
	junctionTargetCol *orm.Column
}

func (e *Engine) side(ctx context.Context, columnID string) (*side, error) {
	col, err := linkColumn(ctx, e.accessor, columnID)
	if err != nil {
		return nil, err
	}
	p, err := resolveTables(ctx, e.accessor, col)
	if err != nil {
		return nil, err
	}

	s := &side{column: col}
	switch {
	case p.ViaJunction():
		s.source, s.sourceCol = p.ChildTable, p.ChildColumn
		s.target, s.targetCol = p.ParentTable, p.ParentColumn
		s.junction = p.JunctionTable
		s.junctionSourceCol, s.junctionTargetCol = p.JunctionChildColumn, p.JunctionParentColumn
	case p.Kind == orm.HasMany || (p.Kind == orm.OneToOne && col.TableID == p.ParentTable.ID):
		s.source, s.sourceCol = p.ParentTable, p.ParentColumn
		s.target, s.targetCol = p.ChildTable, p.ChildColumn
	default:
		s.source, s.sourceCol = p.ChildTable, p.ChildColumn
		s.target, s.targetCol = p.ParentTable, p.ParentColumn
	}
	return s, nil
}

// groups 去重后的父记录：键为稳定主键键值，保持首次出现的顺序
type groups struct {
	keys []string
	ids  map[string]any
}

func (e *Engine) dedupe(s *side, parentIDs []any) (*groups, error) {
	g := &groups{ids: make(map[string]any, len(parentIDs))}
	pks := s.source.PrimaryKeys()
	for _, id := range parentIDs {
		key, err := pk.Key(pks, id)
		if err != nil {
			return nil, err
		}
		if _, dup := g.ids[key]; dup {
			continue
		}
		g.ids[key] = id
		g.keys = append(g.keys, key)
	}
	return g, nil
}

// base 构造目标表的查询形状，不含分组条件
func (e *Engine) base(s *side, cols []string) dbsql.ISelectBuilder {
	q := e.sql.Select(cols...).From(s.target.Name)
	if s.junction != nil {
		q = q.Join(s.junction.Name,
			e.quote(s.junction, s.junctionTargetCol)+" = "+e.quote(s.target, s.targetCol))
	}
	return q
}

// arm 从形状派生一个父记录的分支
func (e *Engine) arm(s *side, shape dbsql.ISelectBuilder, key string, id any) (dbsql.ISelectBuilder, error) {
	pred, err := pk.WherePk(s.source.PrimaryKeys(), id, false)
	if err != nil {
		return nil, err
	}
	sub := e.sql.Select(e.quote(s.source, s.sourceCol)).
		From(s.source.Name).
		WhereExpr(pred.Qualify(s.source.Name))

	tagExpr, tagArgs := GroupTag{Value: key}.Column(e.dialect)
	matchCol := e.quote(s.target, s.targetCol)
	if s.junction != nil {
		matchCol = e.quote(s.junction, s.junctionSourceCol)
	}
	return shape.Clone().Column(tagExpr, tagArgs...).WhereIn(matchCol, sub), nil
}

func (e *Engine) conditions(ctx context.Context, s *side, opts ListOptions) ([]orm.Condition, error) {
	return e.compiler.Where(ctx, s.target, opts)
}

// ListLinked 批量读取多个父记录的关联记录，结果按父记录主键键值分组，
// 每个请求的 id 都有对应条目
func (e *Engine) ListLinked(ctx context.Context, columnID string, parentIDs []any, opts ListOptions) (map[string][]*orm.Record, error) {
	s, err := e.side(ctx, columnID)
	if err != nil {
		return nil, err
	}
	g, err := e.dedupe(s, parentIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]*orm.Record, len(g.keys))
	for _, k := range g.keys {
		out[k] = []*orm.Record{}
	}
	if len(g.keys) == 0 {
		return out, nil
	}

	q, args, err := e.listQuery(ctx, s, g, opts)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := core.QueryMaps(ctx, e.db, q, args...)
	if err != nil {
		err = errors.AsDatabaseError(err, "list linked records")
		if opts.FailurePolicy == Propagate {
			e.logger.Warn(ctx, "读取关联记录失败",
				logging.String("column", columnID),
				logging.Error(err))
			return nil, err
		}
		e.logger.Error(ctx, "读取关联记录失败，按空结果处理",
			logging.String("column", columnID),
			logging.Int("parents", len(g.keys)),
			logging.Error(err))
		return out, nil
	}

	fields, err := datetime.Columns(ctx, e.accessor, s.target)
	if err != nil {
		return nil, err
	}
	set, err := e.computed.ComputedFields(ctx, s.target)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		tag := fmt.Sprint(row[GroupTagColumn])
		delete(row, GroupTagColumn)
		if _, ok := out[tag]; !ok {
			continue
		}
		e.normalizer.Normalize(row, fields)
		out[tag] = append(out[tag], set.Bind(row))
	}

	e.logger.Debug(ctx, "读取关联记录",
		logging.String("column", columnID),
		logging.Int("parents", len(g.keys)),
		logging.Int("rows", len(rows)),
		logging.Duration("elapsed", time.Since(start)))
	return out, nil
}

// listQuery 构造列表查询；这里的错误（条件编译、主键解析）总是返回给调用方
func (e *Engine) listQuery(ctx context.Context, s *side, g *groups, opts ListOptions) (string, []any, error) {
	conds, err := e.conditions(ctx, s, opts)
	if err != nil {
		return "", nil, err
	}
	orders, err := e.compiler.OrderBy(ctx, s.target, s.column.Link.TargetViewID, opts)
	if err != nil {
		return "", nil, err
	}

	limit := e.cfg.ClampLimit(opts.Limit)
	if opts.Nested {
		limit++
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	shape := e.base(s, e.selectColumns(s.target, opts.Fields)).
		OrderBy(orm.RenderOrderBy(e.dialect, orders)...).
		Limit(limit).
		Offset(offset)
	for _, c := range conds {
		shape = shape.WhereExpr(c)
	}

	return e.union(s, shape, g)
}

// CountLinked 批量统计多个父记录的关联记录数，失败总是返回错误
func (e *Engine) CountLinked(ctx context.Context, columnID string, parentIDs []any, opts ListOptions) (map[string]int64, error) {
	s, err := e.side(ctx, columnID)
	if err != nil {
		return nil, err
	}
	g, err := e.dedupe(s, parentIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(g.keys))
	for _, k := range g.keys {
		out[k] = 0
	}
	if len(g.keys) == 0 {
		return out, nil
	}

	conds, err := e.conditions(ctx, s, opts)
	if err != nil {
		return nil, err
	}
	shape := e.base(s, []string{"COUNT(*) AS " + e.dialect.QuoteIdentifier("count")})
	for _, c := range conds {
		shape = shape.WhereExpr(c)
	}

	q, args, err := e.union(s, shape, g)
	if err != nil {
		return nil, err
	}
	rows, err := core.QueryMaps(ctx, e.db, q, args...)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "count linked records")
	}
	for _, row := range rows {
		tag := fmt.Sprint(row[GroupTagColumn])
		if _, ok := out[tag]; !ok {
			continue
		}
		n, err := toInt64(row["count"])
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeDatabase, "无法解析计数结果")
		}
		out[tag] = n
	}
	return out, nil
}

// List 单个父记录的关联记录
func (e *Engine) List(ctx context.Context, columnID string, parentID any, opts ListOptions) ([]*orm.Record, error) {
	s, err := e.side(ctx, columnID)
	if err != nil {
		return nil, err
	}
	key, err := pk.Key(s.source.PrimaryKeys(), parentID)
	if err != nil {
		return nil, err
	}
	res, err := e.ListLinked(ctx, columnID, []any{parentID}, opts)
	if err != nil {
		return nil, err
	}
	return res[key], nil
}

// Count 单个父记录的关联记录数
func (e *Engine) Count(ctx context.Context, columnID string, parentID any, opts ListOptions) (int64, error) {
	s, err := e.side(ctx, columnID)
	if err != nil {
		return 0, err
	}
	key, err := pk.Key(s.source.PrimaryKeys(), parentID)
	if err != nil {
		return 0, err
	}
	res, err := e.CountLinked(ctx, columnID, []any{parentID}, opts)
	if err != nil {
		return 0, err
	}
	return res[key], nil
}

func (e *Engine) union(s *side, shape dbsql.ISelectBuilder, g *groups) (string, []any, error) {
	arms := make([]dbsql.ISelectBuilder, 0, len(g.keys))
	for _, k := range g.keys {
		a, err := e.arm(s, shape, k, g.ids[k])
		if err != nil {
			return "", nil, err
		}
		arms = append(arms, a)
	}
	if len(arms) == 1 {
		q, args := arms[0].Build()
		return q, args, nil
	}
	q, args := dbsql.UnionAll(arms...).ToSQL(e.dialect)
	return q, args, nil
}

// selectColumns 指定字段时总是带上主键；未指定时读取目标表全部物理列
func (e *Engine) selectColumns(t *orm.Table, fields []string) []string {
	if len(fields) == 0 {
		return []string{e.dialect.QuoteIdentifier(t.Name + ".*")}
	}
	seen := map[string]bool{}
	var cols []string
	add := func(c *orm.Column) {
		if c == nil || c.IsVirtual() || seen[c.ID] {
			return
		}
		seen[c.ID] = true
		cols = append(cols, e.quote(t, c))
	}
	for _, c := range t.PrimaryKeys() {
		add(c)
	}
	for _, f := range fields {
		add(t.Column(f))
	}
	return cols
}

func (e *Engine) quote(t *orm.Table, c *orm.Column) string {
	return e.dialect.QuoteIdentifier(t.Name + "." + c.Name)
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected count type %T", v)
	}
}
