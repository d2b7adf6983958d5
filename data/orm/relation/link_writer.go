package relation

import (
	"context"
	"fmt"

	core "tablecore/data/db"
	dbsql "tablecore/data/db/sql"
	"tablecore/data/orm"
	"tablecore/data/orm/pk"
	"tablecore/errors"
	"tablecore/hooks"
	"tablecore/logging"
	"tablecore/schema"
)

// WriteOptions 关联写入参数
type WriteOptions struct {
	// OnlyAuditLogs 外键已由调用方写入，只记录关联事件；属于关联仍会写外键
	OnlyAuditLogs bool
	Meta          hooks.Meta
}

// LinkWriter 添加、解除、替换关联
type LinkWriter struct {
	db       core.IDatabase
	accessor schema.Accessor
	hooks    hooks.Dispatcher
	logger   logging.Logger
}

// NewLinkWriter 创建写入器，dispatcher 与 logger 可为 nil
func NewLinkWriter(db core.IDatabase, accessor schema.Accessor, dispatcher hooks.Dispatcher, logger logging.Logger) *LinkWriter {
	if dispatcher == nil {
		dispatcher = hooks.Noop{}
	}
	if logger == nil {
		logger = logging.GetLogger().WithFields(logging.String("component", "relation.writer"))
	}
	return &LinkWriter{db: db, accessor: accessor, hooks: dispatcher, logger: logger}
}

// WithDB 返回使用另一个执行器（通常是事务）的副本
func (w *LinkWriter) WithDB(db core.IDatabase) *LinkWriter {
	c := *w
	c.db = db
	return &c
}

// AddLink 关联 ids.RowID 与 ids.ChildID
func (w *LinkWriter) AddLink(ctx context.Context, columnID string, ids IDPair, opts WriteOptions) error {
	p, err := Resolve(ctx, w.accessor, columnID, ids)
	if err != nil {
		return err
	}
	if !opts.OnlyAuditLogs || p.Kind == orm.BelongsTo {
		if err := w.add(ctx, w.db, p); err != nil {
			return err
		}
	}
	w.dispatch(ctx, p, hooks.LinkEvent{RowID: ids.RowID, ChildIDs: []any{ids.ChildID}}, opts.Meta)
	return nil
}

// RemoveLink 解除 ids.RowID 与 ids.ChildID 的关联
func (w *LinkWriter) RemoveLink(ctx context.Context, columnID string, ids IDPair, opts WriteOptions) error {
	p, err := Resolve(ctx, w.accessor, columnID, ids)
	if err != nil {
		return err
	}
	if err := w.remove(ctx, w.db, p); err != nil {
		return err
	}
	w.dispatch(ctx, p, hooks.LinkEvent{RowID: ids.RowID, ChildIDs: []any{ids.ChildID}, Removed: true}, opts.Meta)
	return nil
}

// SetLinks 把 rowID 的关联整体替换为 childIDs，在一个事务内完成
//
// 属于与一对一关联最多只能有一个目标，childIDs 为空表示全部解除。
func (w *LinkWriter) SetLinks(ctx context.Context, columnID string, rowID any, childIDs []any, opts WriteOptions) error {
	p, err := Resolve(ctx, w.accessor, columnID, IDPair{RowID: rowID})
	if err != nil {
		return err
	}
	single := !p.ViaJunction() && (p.Kind == orm.BelongsTo || p.Kind == orm.OneToOne)
	if single && len(childIDs) > 1 {
		return errors.NewValidationError(fmt.Sprintf("关联列 %s 最多只能关联一条记录", columnID),
			map[string]string{columnID: "too many links"})
	}

	err = w.inTx(ctx, func(db core.IDatabase) error {
		if err := w.clear(ctx, db, p); err != nil {
			return err
		}
		if p.ViaJunction() && reversed(p.Column) {
			return w.insertJunction(ctx, db, p, childIDs)
		}
		for _, id := range childIDs {
			next := *p
			if reversed(p.Column) {
				next.ParentID = id
			} else {
				next.ChildID = id
			}
			if err := w.add(ctx, db, &next); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	w.dispatch(ctx, p, hooks.LinkEvent{RowID: rowID, ChildIDs: childIDs}, opts.Meta)
	return nil
}

// insertJunction 清空后的整体写入：重复目标只写一行，全部行合并为批量 INSERT
func (w *LinkWriter) insertJunction(ctx context.Context, db core.IDatabase, p *Plan, parentIDs []any) error {
	if len(parentIDs) == 0 {
		return nil
	}
	childVal, err := w.value(ctx, db, p.ChildTable, p.ChildColumn, p.ChildID)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(parentIDs))
	rows := make([][]any, 0, len(parentIDs))
	for _, id := range parentIDs {
		parentVal, err := w.value(ctx, db, p.ParentTable, p.ParentColumn, id)
		if err != nil {
			return err
		}
		key := fmt.Sprint(parentVal)
		if seen[key] {
			continue
		}
		seen[key] = true
		rows = append(rows, []any{parentVal, childVal})
	}

	s := dbsql.New(db)
	_, err = s.InsertInto(p.JunctionTable.Name).
		Columns(p.JunctionParentColumn.Name, p.JunctionChildColumn.Name).
		Rows(rows...).
		Exec(ctx)
	return errors.WrapDatabaseError(ctx, err, "insert junction rows")
}

func (w *LinkWriter) inTx(ctx context.Context, fn func(db core.IDatabase) error) error {
	if _, ok := w.db.(core.ITransaction); ok {
		return fn(w.db)
	}
	tx, err := w.db.Begin(ctx)
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "begin link transaction")
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			w.logger.Error(ctx, "回滚关联事务失败", logging.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapDatabaseError(ctx, err, "commit link transaction")
	}
	return nil
}

func (w *LinkWriter) add(ctx context.Context, db core.IDatabase, p *Plan) error {
	s := dbsql.New(db)
	parentVal, err := w.value(ctx, db, p.ParentTable, p.ParentColumn, p.ParentID)
	if err != nil {
		return err
	}

	if p.ViaJunction() {
		childVal, err := w.value(ctx, db, p.ChildTable, p.ChildColumn, p.ChildID)
		if err != nil {
			return err
		}
		match := dbsql.And(
			dbsql.Raw(s.Quote(p.JunctionParentColumn.Name)+" = ?", parentVal),
			dbsql.Raw(s.Quote(p.JunctionChildColumn.Name)+" = ?", childVal),
		)
		q, args := s.Select("1").From(p.JunctionTable.Name).WhereExpr(match).Limit(1).Build()
		existing, err := core.QueryFirst(ctx, db, q, args...)
		if err != nil {
			return errors.WrapDatabaseError(ctx, err, "check junction row")
		}
		if existing != nil {
			return nil
		}
		_, err = s.InsertInto(p.JunctionTable.Name).
			Columns(p.JunctionParentColumn.Name, p.JunctionChildColumn.Name).
			Values(parentVal, childVal).
			Exec(ctx)
		return errors.WrapDatabaseError(ctx, err, "insert junction row")
	}

	child, err := p.GetLinkedChildRow(ctx, db)
	if err != nil {
		return err
	}
	if child == nil {
		return errors.NewRecordNotFoundError(p.ChildTable.Title, p.ChildID)
	}
	if p.Kind == orm.OneToOne {
		if _, err := s.Update(p.ChildTable.Name).
			Set(p.ChildColumn.Name, nil).
			Where(s.Quote(p.ChildColumn.Name)+" = ?", parentVal).
			Exec(ctx); err != nil {
			return errors.WrapDatabaseError(ctx, err, "unlink previous one-to-one child")
		}
	}
	pred, err := pk.WherePk(p.ChildTable.PrimaryKeys(), p.ChildID, true)
	if err != nil {
		return err
	}
	_, err = s.Update(p.ChildTable.Name).
		Set(p.ChildColumn.Name, parentVal).
		WhereExpr(pred).
		Exec(ctx)
	return errors.WrapDatabaseError(ctx, err, "link child")
}

func (w *LinkWriter) remove(ctx context.Context, db core.IDatabase, p *Plan) error {
	s := dbsql.New(db)
	if p.ViaJunction() {
		parentVal, err := w.value(ctx, db, p.ParentTable, p.ParentColumn, p.ParentID)
		if err != nil {
			return err
		}
		childVal, err := w.value(ctx, db, p.ChildTable, p.ChildColumn, p.ChildID)
		if err != nil {
			return err
		}
		_, err = s.DeleteFrom(p.JunctionTable.Name).
			Where(s.Quote(p.JunctionParentColumn.Name)+" = ?", parentVal).
			Where(s.Quote(p.JunctionChildColumn.Name)+" = ?", childVal).
			Exec(ctx)
		return errors.WrapDatabaseError(ctx, err, "delete junction row")
	}

	pred, err := pk.WherePk(p.ChildTable.PrimaryKeys(), p.ChildID, true)
	if err != nil {
		return err
	}
	_, err = s.Update(p.ChildTable.Name).
		Set(p.ChildColumn.Name, nil).
		WhereExpr(pred).
		Exec(ctx)
	return errors.WrapDatabaseError(ctx, err, "unlink child")
}

// clear 解除 rowID 一侧的全部关联
func (w *LinkWriter) clear(ctx context.Context, db core.IDatabase, p *Plan) error {
	s := dbsql.New(db)
	switch {
	case p.ViaJunction():
		childVal, err := w.value(ctx, db, p.ChildTable, p.ChildColumn, p.ChildID)
		if err != nil {
			return err
		}
		_, err = s.DeleteFrom(p.JunctionTable.Name).
			Where(s.Quote(p.JunctionChildColumn.Name)+" = ?", childVal).
			Exec(ctx)
		return errors.WrapDatabaseError(ctx, err, "clear junction rows")
	case reversed(p.Column):
		return w.remove(ctx, db, p)
	default:
		parentVal, err := w.value(ctx, db, p.ParentTable, p.ParentColumn, p.ParentID)
		if err != nil {
			return err
		}
		_, err = s.Update(p.ChildTable.Name).
			Set(p.ChildColumn.Name, nil).
			Where(s.Quote(p.ChildColumn.Name)+" = ?", parentVal).
			Exec(ctx)
		return errors.WrapDatabaseError(ctx, err, "clear children")
	}
}

// value 读取记录的关联列取值，记录不存在时返回 RecordNotFound
func (w *LinkWriter) value(ctx context.Context, db core.IDatabase, table *orm.Table, col *orm.Column, id any) (any, error) {
	sub, err := valueQuery(dbsql.New(db), table, col, id)
	if err != nil {
		return nil, err
	}
	q, args := sub.Build()
	row, err := core.QueryFirst(ctx, db, q, args...)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "read link key")
	}
	if row == nil {
		return nil, errors.NewRecordNotFoundError(table.Title, id)
	}
	return row[col.Name], nil
}

func (w *LinkWriter) dispatch(ctx context.Context, p *Plan, event hooks.LinkEvent, meta hooks.Meta) {
	table, err := schema.TableOf(ctx, w.accessor, p.Column)
	if err != nil {
		w.logger.Warn(ctx, "关联事件缺少表信息", logging.String("column", p.Column.ID), logging.Error(err))
		return
	}
	event.ColumnID = p.Column.ID
	event.Kind = p.Kind
	if err := w.hooks.AfterLink(ctx, table, event, meta); err != nil {
		w.logger.Warn(ctx, "关联事件分发失败", logging.String("column", p.Column.ID), logging.Error(err))
	}
}
