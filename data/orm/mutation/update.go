package mutation

import (
	"context"

	core "tablecore/data/db"
	"tablecore/data/orm"
	"tablecore/data/orm/pk"
	"tablecore/data/orm/relation"
	"tablecore/errors"
	"tablecore/hooks"
)

// UpdateByPk 按主键更新一条记录并返回更新后的行
//
// 仅修改一个属于关联外键时改走关联写入，发出 AfterLink 而不是 AfterUpdate。
func (m *Model) UpdateByPk(ctx context.Context, id any, changes orm.Row, opts UpdateOptions) (orm.Row, error) {
	meta := hooks.Meta{Actor: opts.Actor, APIVersion: opts.APIVersion}

	if link, key, ok := m.belongsToShortcut(changes); ok {
		row, err := m.updateBelongsTo(ctx, id, link, changes[key], meta)
		if err != nil {
			m.fail(ctx, stageExecute, []orm.Row{changes}, err, meta)
			return nil, err
		}
		return row, nil
	}

	values, err := m.pkValues(id)
	if err != nil {
		m.fail(ctx, stageValidate, []orm.Row{changes}, err, meta)
		return nil, err
	}
	row := make(orm.Row, len(changes)+len(m.pks))
	for k, v := range changes {
		if col := m.table.Column(k); col != nil && col.PrimaryKey {
			continue
		}
		row[k] = v
	}
	for i, c := range m.pks {
		row[c.Name] = values[i]
	}

	rows, err := m.BulkUpdate(ctx, []orm.Row{row}, BulkOptions{
		SkipHooks:                opts.SkipHooks,
		ThrowExceptionIfNotExist: true,
		IsSingleRecordUpdation:   true,
		AllowSystemColumn:        opts.AllowSystemColumn,
		APIVersion:               opts.APIVersion,
		Actor:                    opts.Actor,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (m *Model) pkValues(id any) ([]any, error) {
	if _, err := pk.WherePk(m.pks, id, false); err != nil {
		return nil, err
	}
	return pk.Values(m.pks, id)
}

// belongsToShortcut 变更只包含一个字段，且该字段是某个属于关联的外键列
func (m *Model) belongsToShortcut(changes orm.Row) (*orm.Column, string, bool) {
	if len(changes) != 1 || m.links == nil {
		return nil, "", false
	}
	for key := range changes {
		col := m.table.Column(key)
		if col == nil || col.Type != orm.TypeForeignKey {
			return nil, "", false
		}
		for _, c := range m.table.Columns {
			if c.Type == orm.TypeLink && c.Link != nil && c.Link.Kind == orm.BelongsTo && c.Link.ChildColumnID == col.ID {
				return c, key, true
			}
		}
	}
	return nil, "", false
}

func (m *Model) updateBelongsTo(ctx context.Context, id any, link *orm.Column, value any, meta hooks.Meta) (orm.Row, error) {
	if _, err := pk.WherePk(m.pks, id, false); err != nil {
		return nil, err
	}
	key, err := pk.Key(m.pks, id)
	if err != nil {
		return nil, err
	}
	prev, err := m.ReadByPks(ctx, []any{id})
	if err != nil {
		return nil, err
	}
	if prev[key] == nil {
		return nil, errors.NewRecordNotFoundError(m.table.Title, id)
	}

	wopts := relation.WriteOptions{OnlyAuditLogs: true, Meta: meta}
	if value == nil {
		err = m.links.RemoveLink(ctx, link.ID, relation.IDPair{RowID: id}, wopts)
	} else {
		var parentID any
		if parentID, err = m.parentID(ctx, link, value); err == nil {
			err = m.links.AddLink(ctx, link.ID, relation.IDPair{RowID: id, ChildID: parentID}, wopts)
		}
	}
	if err != nil {
		return nil, err
	}

	m.invalidate(ctx, []string{key})
	next, err := m.ReadByPks(ctx, []any{id})
	if err != nil {
		return nil, err
	}
	return next[key], nil
}

// parentID 由外键取值找到父记录主键；被引用列就是父表唯一主键时直接使用
func (m *Model) parentID(ctx context.Context, link *orm.Column, value any) (any, error) {
	p, err := relation.Resolve(ctx, m.accessor, link.ID, relation.IDPair{})
	if err != nil {
		return nil, err
	}
	parentPks := p.ParentTable.PrimaryKeys()
	if len(parentPks) == 1 && parentPks[0].ID == p.ParentColumn.ID {
		return value, nil
	}

	cols := make([]string, len(parentPks))
	for i, c := range parentPks {
		cols[i] = m.sql.Quote(c.Name)
	}
	q, args := m.sql.Select(cols...).
		From(p.ParentTable.Name).
		Where(m.sql.Quote(p.ParentColumn.Name)+" = ?", value).
		Limit(1).
		Build()
	row, err := core.QueryFirst(ctx, m.db, q, args...)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "resolve parent record")
	}
	if row == nil {
		return nil, errors.NewRecordNotFoundError(p.ParentTable.Title, value)
	}
	return pk.Extract(parentPks, row)
}
