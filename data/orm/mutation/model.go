// Package mutation 实现单表记录的批量更新。
//
// 一次 BulkUpdate 依次经过：校验、别名映射、分块读取旧值、系统字段、
// 事务内执行、（可选）关联写入、分块回读、缓存失效、钩子分发。
package mutation

import (
	"context"
	"strings"
	"time"

	"tablecore/cache"
	"tablecore/config"
	core "tablecore/data/db"
	"tablecore/data/db/dialect"
	dbsql "tablecore/data/db/sql"
	"tablecore/data/orm"
	"tablecore/data/orm/datetime"
	"tablecore/data/orm/pk"
	"tablecore/data/orm/relation"
	"tablecore/errors"
	"tablecore/hooks"
	"tablecore/logging"
	"tablecore/schema"
	"tablecore/validation"
)

// APIVersionV3 起，更新中的关联字段会同步写入关联
const APIVersionV3 = 3

// Deps 模型依赖，零值字段使用默认实现
type Deps struct {
	DB         core.IDatabase
	Dialect    dialect.Dialect
	Accessor   schema.Accessor
	Validator  validation.IRowValidator
	Hooks      hooks.Dispatcher
	Cache      cache.RecordCache
	Links      *relation.LinkWriter
	Normalizer *datetime.Normalizer
	Logger     logging.Logger
	Config     config.EngineConfig
	// Now 系统时间字段的时钟
	Now func() time.Time
}

// BulkOptions 批量更新参数
type BulkOptions struct {
	// Raw 跳过校验、别名映射、旧值读取、回读与钩子，键为物理列名
	Raw                      bool
	SkipHooks                bool
	ThrowExceptionIfNotExist bool
	IsSingleRecordUpdation   bool
	AllowSystemColumn        bool
	APIVersion               int
	Actor                    string
}

// UpdateOptions 单条更新参数
type UpdateOptions struct {
	SkipHooks         bool
	AllowSystemColumn bool
	APIVersion        int
	Actor             string
}

func (o BulkOptions) meta() hooks.Meta {
	return hooks.Meta{Actor: o.Actor, APIVersion: o.APIVersion}
}

// Model 绑定到一张表的更新引擎
type Model struct {
	db         core.IDatabase
	dialect    dialect.Dialect
	sql        dbsql.ISql
	table      *orm.Table
	pks        []*orm.Column
	accessor   schema.Accessor
	validator  validation.IRowValidator
	hooks      hooks.Dispatcher
	cache      cache.RecordCache
	links      *relation.LinkWriter
	normalizer *datetime.Normalizer
	dateFields []datetime.Field
	logger     logging.Logger
	cfg        config.EngineConfig
	now        func() time.Time
}

// NewModel 创建模型；表必须有主键
func NewModel(deps Deps, table *orm.Table) (*Model, error) {
	if deps.DB == nil || table == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidInput, "mutation model 需要 DB 与表结构")
	}
	pks := table.PrimaryKeys()
	if len(pks) == 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidInput, "表 "+table.Title+" 没有主键")
	}

	m := &Model{
		db:         deps.DB,
		dialect:    deps.Dialect,
		table:      table,
		pks:        pks,
		accessor:   deps.Accessor,
		validator:  deps.Validator,
		hooks:      deps.Hooks,
		cache:      deps.Cache,
		links:      deps.Links,
		normalizer: deps.Normalizer,
		logger:     deps.Logger,
		cfg:        deps.Config.WithDefaults(),
		now:        deps.Now,
	}
	if m.dialect.Kind() == dialect.Unknown {
		m.dialect = dialect.FromDatabase(deps.DB)
	}
	m.sql = dbsql.NewWithDialect(deps.DB, m.dialect)
	if m.validator == nil {
		m.validator = validation.RowValidator{}
	}
	if m.hooks == nil {
		m.hooks = hooks.Noop{}
	}
	if m.cache == nil {
		m.cache = cache.NopRecordCache{}
	}
	if m.logger == nil {
		m.logger = logging.GetLogger().WithFields(
			logging.String("component", "mutation"),
			logging.String("table", table.ID))
	}
	if m.links == nil && m.accessor != nil {
		m.links = relation.NewLinkWriter(deps.DB, m.accessor, m.hooks, m.logger)
	}
	if m.normalizer == nil {
		n, err := datetime.New(m.dialect, m.cfg.ServerTimezone)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "无效的服务端时区 "+m.cfg.ServerTimezone)
		}
		m.normalizer = n
	}
	m.dateFields = datetime.FieldsOf(table.Columns)
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// Table 返回模型绑定的表
func (m *Model) Table() *orm.Table {
	return m.table
}

// ReadByPks 分块读取多条记录，返回 主键键值 -> 行；不存在的记录不出现在结果中
func (m *Model) ReadByPks(ctx context.Context, ids []any) (map[string]orm.Row, error) {
	return m.readByPks(ctx, m.db, ids)
}

func (m *Model) readByPks(ctx context.Context, db core.IDatabase, ids []any) (map[string]orm.Row, error) {
	out := make(map[string]orm.Row, len(ids))
	s := m.sql.WithDB(db)
	size := m.cfg.ReadChunkSize
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		where, err := m.anyOf(ids[start:end])
		if err != nil {
			return nil, err
		}
		q, args := s.Select("*").From(m.table.Name).WhereExpr(where).Build()
		rows, err := core.QueryMaps(ctx, db, q, args...)
		if err != nil {
			return nil, errors.WrapDatabaseError(ctx, err, "read records by primary key")
		}
		for _, row := range rows {
			key, err := pk.RowKey(m.pks, row)
			if err != nil {
				return nil, err
			}
			out[key] = m.normalizer.Normalize(row, m.dateFields)
		}
	}
	return out, nil
}

// anyOf 单主键生成 IN 列表，复合主键或需要库端解码时以 OR 连接各条谓词
func (m *Model) anyOf(ids []any) (dbsql.Expr, error) {
	preds := make([]dbsql.Expr, len(ids))
	values := make([]any, len(ids))
	for i, id := range ids {
		p, err := pk.WherePk(m.pks, id, true)
		if err != nil {
			return nil, err
		}
		preds[i] = p
		if len(m.pks) == 1 {
			values[i] = p.Row()[m.pks[0].Name]
		}
	}
	if len(m.pks) > 1 || m.pks[0].IsByteArray() {
		return dbsql.Or(preds...), nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	return dbsql.Raw(m.dialect.QuoteIdentifier(m.pks[0].Name)+" IN ("+placeholders+")", values...), nil
}

// ReadByPk 读取单条记录，优先使用记录缓存；不存在时返回 nil
func (m *Model) ReadByPk(ctx context.Context, id any) (orm.Row, error) {
	key, err := pk.Key(m.pks, id)
	if err != nil {
		return nil, err
	}
	if row, ok, err := m.cache.Get(ctx, m.table.ID, key); err != nil {
		m.logger.Warn(ctx, "读取记录缓存失败", logging.String("id", key), logging.Error(err))
	} else if ok {
		return row, nil
	}

	rows, err := m.ReadByPks(ctx, []any{id})
	if err != nil {
		return nil, err
	}
	row := rows[key]
	if row == nil {
		return nil, nil
	}
	if err := m.cache.Set(ctx, m.table.ID, key, row); err != nil {
		m.logger.Warn(ctx, "写入记录缓存失败", logging.String("id", key), logging.Error(err))
	}
	return row, nil
}

func (m *Model) invalidate(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	if err := m.cache.Invalidate(ctx, m.table.ID, keys...); err != nil {
		m.logger.Warn(ctx, "记录缓存失效失败", logging.Int("count", len(keys)), logging.Error(err))
	}
}
