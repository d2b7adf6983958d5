package mutation

import (
	"context"
	"fmt"
	"sort"

	core "tablecore/data/db"
	dbsql "tablecore/data/db/sql"
	"tablecore/data/orm"
	"tablecore/data/orm/datetime"
	"tablecore/data/orm/pk"
	"tablecore/data/orm/relation"
	"tablecore/errors"
	"tablecore/hooks"
	"tablecore/logging"
	"tablecore/validation"
)

// stage 批量更新所处的阶段，出现在失败日志中
type stage string

const (
	stageValidate     stage = "validate"
	stageMapAliases   stage = "map_aliases"
	stageReadPrevious stage = "read_previous"
	stageBeforeHooks  stage = "before_hooks"
	stageExecute      stage = "execute"
	stageReRead       stage = "re_read"
)

// entry 批次中的一条记录
type entry struct {
	id  any
	key string
	// changes 以物理列名为键
	changes orm.Row
	// links 关联列 id -> 新的关联目标
	links map[string]any
	prev  orm.Row
}

// BulkUpdate 更新多条记录并返回更新后的行
//
// 任一阶段失败都会触发 ErrorUpdate 钩子并返回原始错误；执行阶段失败时整批回滚。
func (m *Model) BulkUpdate(ctx context.Context, rows []orm.Row, opts BulkOptions) ([]orm.Row, error) {
	out, st, err := m.bulkUpdate(ctx, rows, opts)
	if err != nil {
		m.fail(ctx, st, rows, err, opts.meta())
		return nil, err
	}
	return out, nil
}

func (m *Model) fail(ctx context.Context, st stage, changes []orm.Row, cause error, meta hooks.Meta) {
	m.logger.Warn(ctx, "记录更新失败",
		logging.String("stage", string(st)),
		logging.Int("rows", len(changes)),
		logging.Error(cause))
	if err := m.hooks.ErrorUpdate(ctx, m.table, changes, cause, meta); err != nil {
		m.logger.Warn(ctx, "ErrorUpdate 钩子失败", logging.Error(err))
	}
}

func (m *Model) bulkUpdate(ctx context.Context, rows []orm.Row, opts BulkOptions) ([]orm.Row, stage, error) {
	if !opts.Raw {
		vopts := validation.Options{Partial: true, AllowSystemColumn: opts.AllowSystemColumn}
		for _, row := range rows {
			if err := m.validator.ValidateRow(row, m.table, vopts); err != nil {
				return nil, stageValidate, err
			}
		}
	}

	entries, err := m.mapAliases(rows, opts)
	if err != nil {
		return nil, stageMapAliases, err
	}

	if !opts.Raw {
		if entries, err = m.readPrevious(ctx, entries, opts); err != nil {
			return nil, stageReadPrevious, err
		}
		m.prepareSystemFields(entries, opts)
	}
	for _, e := range entries {
		for _, c := range m.pks {
			delete(e.changes, c.Name)
		}
	}

	if !opts.Raw && !opts.SkipHooks && len(entries) > 0 {
		if err := m.before(ctx, entries, opts); err != nil {
			return nil, stageBeforeHooks, err
		}
	}

	if err := m.execute(ctx, entries); err != nil {
		return nil, stageExecute, err
	}

	if opts.APIVersion >= APIVersionV3 {
		m.propagateLinks(ctx, entries, opts.meta())
	}

	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.key
	}
	if opts.Raw {
		m.invalidate(ctx, keys)
		return []orm.Row{}, "", nil
	}

	ids := make([]any, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	current, err := m.ReadByPks(ctx, ids)
	if err != nil {
		return nil, stageReRead, err
	}
	m.invalidate(ctx, keys)

	prev := make([]orm.Row, 0, len(entries))
	next := make([]orm.Row, 0, len(entries))
	for _, e := range entries {
		row, ok := current[e.key]
		if !ok {
			continue
		}
		prev = append(prev, e.prev)
		next = append(next, row)
	}

	if !opts.SkipHooks && len(next) > 0 {
		m.after(ctx, prev, next, opts)
	}
	return next, "", nil
}

// mapAliases 把标题/id 键映射为物理列名，关联列单独收集；同一记录出现多次时合并
func (m *Model) mapAliases(rows []orm.Row, opts BulkOptions) ([]*entry, error) {
	entries := make([]*entry, 0, len(rows))
	byKey := make(map[string]*entry, len(rows))
	for _, row := range rows {
		e := &entry{changes: make(orm.Row, len(row)), links: map[string]any{}}
		for k, v := range row {
			if opts.Raw {
				e.changes[k] = v
				continue
			}
			col := m.table.Column(k)
			switch {
			case col == nil:
			case col.Type == orm.TypeLink:
				e.links[col.ID] = v
			case col.IsVirtual():
			default:
				e.changes[col.Name] = v
			}
		}

		id, err := pk.Extract(m.pks, e.changes)
		if err != nil {
			if opts.ThrowExceptionIfNotExist {
				return nil, errors.NewRecordNotFoundError(m.table.Title, nil)
			}
			continue
		}
		if e.key, err = pk.Key(m.pks, id); err != nil {
			return nil, err
		}
		e.id = id

		if first, dup := byKey[e.key]; dup {
			for k, v := range e.changes {
				first.changes[k] = v
			}
			for k, v := range e.links {
				first.links[k] = v
			}
			continue
		}
		byKey[e.key] = e
		entries = append(entries, e)
	}
	return entries, nil
}

func (m *Model) readPrevious(ctx context.Context, entries []*entry, opts BulkOptions) ([]*entry, error) {
	ids := make([]any, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	prev, err := m.ReadByPks(ctx, ids)
	if err != nil {
		return nil, err
	}
	kept := entries[:0]
	for _, e := range entries {
		e.prev = prev[e.key]
		if e.prev == nil {
			if opts.ThrowExceptionIfNotExist {
				return nil, errors.NewRecordNotFoundError(m.table.Title, e.id)
			}
			continue
		}
		kept = append(kept, e)
	}
	return kept, nil
}

// prepareSystemFields 只为实际发生变化的记录写入最后修改时间与修改人
func (m *Model) prepareSystemFields(entries []*entry, opts BulkOptions) {
	now := m.now().UTC().Format(datetime.Layout)
	for _, e := range entries {
		if !changed(e, m.pks) {
			continue
		}
		for _, c := range m.table.Columns {
			if _, explicit := e.changes[c.Name]; explicit && opts.AllowSystemColumn {
				continue
			}
			switch c.Type {
			case orm.TypeLastModifiedTime:
				e.changes[c.Name] = now
			case orm.TypeLastModifiedBy:
				if opts.Actor != "" {
					e.changes[c.Name] = opts.Actor
				}
			}
		}
	}
}

func changed(e *entry, pks []*orm.Column) bool {
	isPk := make(map[string]bool, len(pks))
	for _, c := range pks {
		isPk[c.Name] = true
	}
	for k, v := range e.changes {
		if isPk[k] {
			continue
		}
		old, ok := e.prev[k]
		if !ok || fmt.Sprint(old) != fmt.Sprint(v) {
			return true
		}
	}
	return len(e.links) > 0
}

func (m *Model) before(ctx context.Context, entries []*entry, opts BulkOptions) error {
	if opts.IsSingleRecordUpdation {
		return m.hooks.BeforeUpdate(ctx, m.table, entries[0].changes, opts.meta())
	}
	changes := make([]orm.Row, len(entries))
	for i, e := range entries {
		changes[i] = e.changes
	}
	return m.hooks.BeforeBulkUpdate(ctx, m.table, changes, opts.meta())
}

// after 钩子失败不影响已提交的数据
func (m *Model) after(ctx context.Context, prev, next []orm.Row, opts BulkOptions) {
	var err error
	if opts.IsSingleRecordUpdation {
		err = m.hooks.AfterUpdate(ctx, m.table, prev[0], next[0], opts.meta())
	} else {
		err = m.hooks.AfterBulkUpdate(ctx, m.table, prev, next, opts.meta())
	}
	if err != nil {
		m.logger.Warn(ctx, "更新后钩子失败", logging.Error(err))
	}
}

// execute 在一个事务内按块写入；单主键且方言支持时每列一条 CASE 更新，否则逐行更新
func (m *Model) execute(ctx context.Context, entries []*entry) error {
	work := make([]*entry, 0, len(entries))
	for _, e := range entries {
		if len(e.changes) > 0 {
			work = append(work, e)
		}
	}
	if len(work) == 0 {
		return nil
	}

	tx, err := m.db.Begin(ctx)
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "begin update transaction")
	}
	s := m.sql.WithDB(tx)
	batched := len(m.pks) == 1 && m.dialect.Caps().BatchedCaseUpdate && !m.pks[0].IsByteArray()

	size := m.cfg.UpdateChunkSize
	for start := 0; start < len(work); start += size {
		chunk := work[start:min(start+size, len(work))]
		if batched {
			err = m.updateCase(ctx, s, chunk)
		} else {
			err = m.updateEach(ctx, s, chunk)
		}
		if err != nil {
			m.rollback(ctx, tx)
			return m.executeError(ctx, err)
		}
	}
	if err := tx.Commit(); err != nil {
		m.rollback(ctx, tx)
		return errors.WrapDatabaseError(ctx, err, "commit update transaction")
	}
	return nil
}

func (m *Model) rollback(ctx context.Context, tx core.ITransaction) {
	if err := tx.Rollback(); err != nil {
		m.logger.Error(ctx, "回滚更新事务失败", logging.Error(err))
	}
}

func (m *Model) updateCase(ctx context.Context, s dbsql.ISql, chunk []*entry) error {
	pkName := m.pks[0].Name
	keys := make([]any, len(chunk))
	for i, e := range chunk {
		p, err := pk.WherePk(m.pks, e.id, true)
		if err != nil {
			return err
		}
		keys[i] = p.Row()[pkName]
	}

	columns := map[string]bool{}
	for _, e := range chunk {
		for col := range e.changes {
			columns[col] = true
		}
	}
	names := make([]string, 0, len(columns))
	for col := range columns {
		names = append(names, col)
	}
	sort.Strings(names)

	for _, col := range names {
		var (
			whens  []dbsql.When
			scoped []any
		)
		for i, e := range chunk {
			if v, ok := e.changes[col]; ok {
				whens = append(whens, dbsql.When{Key: keys[i], Value: v})
				scoped = append(scoped, keys[i])
			}
		}
		if _, err := s.Update(m.table.Name).SetCase(col, pkName, whens).WhereIn(pkName, scoped).Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Model) updateEach(ctx context.Context, s dbsql.ISql, chunk []*entry) error {
	for _, e := range chunk {
		p, err := pk.WherePk(m.pks, e.id, true)
		if err != nil {
			return err
		}
		if _, err := s.Update(m.table.Name).SetMap(e.changes).WhereExpr(p).Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// executeError 唯一约束冲突标记为 DUPLICATE，其余按数据库错误处理
func (m *Model) executeError(ctx context.Context, err error) error {
	if _, ok := err.(errors.IError); ok {
		return err
	}
	if m.dialect.IsUniqueViolation(err) {
		return errors.WrapError(err, errors.ErrCodeDuplicate, "记录违反唯一约束").
			WithDetails(map[string]any{"table": m.table.Title, "reason": "DUPLICATE"})
	}
	return errors.WrapDatabaseError(ctx, err, "bulk update")
}

// propagateLinks 把更新中的关联字段写入关联，失败只记录日志
func (m *Model) propagateLinks(ctx context.Context, entries []*entry, meta hooks.Meta) {
	for _, e := range entries {
		for columnID, value := range e.links {
			if m.links == nil {
				m.logger.Warn(ctx, "未配置关联写入器，跳过关联字段", logging.String("column", columnID))
				continue
			}
			err := m.links.SetLinks(ctx, columnID, e.id, linkTargets(value), relation.WriteOptions{Meta: meta})
			if err != nil {
				m.logger.Warn(ctx, "同步关联字段失败",
					logging.String("column", columnID),
					logging.String("id", e.key),
					logging.Error(err))
			}
		}
	}
}

// linkTargets 关联字段的取值可以是单个标识符、标识符数组或记录数组
func linkTargets(v any) []any {
	switch x := v.(type) {
	case nil:
		return []any{}
	case []any:
		return x
	case []map[string]any:
		out := make([]any, len(x))
		for i, r := range x {
			out[i] = r
		}
		return out
	default:
		return []any{x}
	}
}
