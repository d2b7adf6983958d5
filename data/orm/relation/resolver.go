// Package relation 解析关联列并按关联读取、统计、写入记录。
//
// 所有关联在构造查询前都先归一为 (子表, 子表列) -> (父表, 父表列)：
// 子表列保存外键，父表列是被引用的列。多对多关联的“子表”是关联列所在的表，
// 中间表的两个外键分别引用子表列和父表列。
package relation

import (
	"context"

	core "tablecore/data/db"
	dbsql "tablecore/data/db/sql"
	"tablecore/data/orm"
	"tablecore/data/orm/pk"
	"tablecore/errors"
	"tablecore/schema"
)

// IDPair 调用方视角的一对记录：RowID 是关联列所在表的记录，ChildID 是被关联的记录
type IDPair struct {
	RowID   any
	ChildID any
}

// Plan 归一化后的关联
type Plan struct {
	Column *orm.Column
	Kind   orm.RelationKind

	ChildTable   *orm.Table
	ChildColumn  *orm.Column
	ParentTable  *orm.Table
	ParentColumn *orm.Column

	// 仅多对多
	JunctionTable        *orm.Table
	JunctionChildColumn  *orm.Column
	JunctionParentColumn *orm.Column

	ChildID  any
	ParentID any
}

// Resolve 解析关联列并把调用方的 id 对映射到子/父两侧
//
// 属于（bt）、多对多以及中间表存储的关联，子/父与调用方的 row/child 相反，需要交换。
func Resolve(ctx context.Context, accessor schema.Accessor, columnID string, ids IDPair) (*Plan, error) {
	col, err := linkColumn(ctx, accessor, columnID)
	if err != nil {
		return nil, err
	}
	p, err := resolveTables(ctx, accessor, col)
	if err != nil {
		return nil, err
	}
	if reversed(col) {
		p.ChildID, p.ParentID = ids.RowID, ids.ChildID
	} else {
		p.ChildID, p.ParentID = ids.ChildID, ids.RowID
	}
	return p, nil
}

func reversed(col *orm.Column) bool {
	return col.Link.Kind == orm.BelongsTo || col.Link.Kind == orm.ManyToMany || col.Link.Version >= 2
}

func linkColumn(ctx context.Context, accessor schema.Accessor, columnID string) (*orm.Column, error) {
	col, err := accessor.GetColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}
	if col.Type != orm.TypeLink || col.Link == nil {
		return nil, errors.NewNotALinkColumnError(columnID)
	}
	return col, nil
}

func resolveTables(ctx context.Context, accessor schema.Accessor, col *orm.Column) (*Plan, error) {
	opts := col.Link
	p := &Plan{Column: col, Kind: opts.Kind}

	var err error
	if p.ChildColumn, p.ChildTable, err = columnAndTable(ctx, accessor, opts.ChildColumnID); err != nil {
		return nil, err
	}
	if p.ParentColumn, p.ParentTable, err = columnAndTable(ctx, accessor, opts.ParentColumnID); err != nil {
		return nil, err
	}
	if opts.JunctionTableID == "" {
		if opts.Kind == orm.ManyToMany {
			return nil, errors.NewError(errors.ErrCodeInvalidInput, "多对多关联列 "+col.ID+" 缺少中间表")
		}
		return p, nil
	}

	if p.JunctionTable, err = accessor.GetTable(ctx, opts.JunctionTableID); err != nil {
		return nil, err
	}
	if p.JunctionChildColumn, err = accessor.GetColumn(ctx, opts.JunctionChildColumnID); err != nil {
		return nil, err
	}
	if p.JunctionParentColumn, err = accessor.GetColumn(ctx, opts.JunctionParentColumnID); err != nil {
		return nil, err
	}
	return p, nil
}

func columnAndTable(ctx context.Context, accessor schema.Accessor, columnID string) (*orm.Column, *orm.Table, error) {
	col, err := accessor.GetColumn(ctx, columnID)
	if err != nil {
		return nil, nil, err
	}
	table, err := schema.TableOf(ctx, accessor, col)
	if err != nil {
		return nil, nil, err
	}
	return col, table, nil
}

// ViaJunction 是否通过中间表存储
func (p *Plan) ViaJunction() bool {
	return p.JunctionTable != nil
}

// GetLinkedChildRow 读取子记录的外键列和主键，子记录不存在时返回 nil
func (p *Plan) GetLinkedChildRow(ctx context.Context, db core.IDatabase) (orm.Row, error) {
	s := dbsql.New(db)
	pred, err := pk.WherePk(p.ChildTable.PrimaryKeys(), p.ChildID, true)
	if err != nil {
		return nil, err
	}

	cols := []string{qualified(s, p.ChildTable, p.ChildColumn)}
	for _, c := range p.ChildTable.PrimaryKeys() {
		if c.ID != p.ChildColumn.ID {
			cols = append(cols, qualified(s, p.ChildTable, c))
		}
	}
	q, args := s.Select(cols...).
		From(p.ChildTable.Name).
		WhereExpr(pred.Qualify(p.ChildTable.Name)).
		Limit(1).
		Build()
	row, err := core.QueryFirst(ctx, db, q, args...)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "read linked child")
	}
	return row, nil
}

// GetChildLinkedWithParent 读取当前关联到父记录的子记录（第一条）
func (p *Plan) GetChildLinkedWithParent(ctx context.Context, db core.IDatabase) (orm.Row, error) {
	s := dbsql.New(db)
	sub, err := p.parentValueQuery(s, p.ParentID)
	if err != nil {
		return nil, err
	}
	subSQL, subArgs := sub.Build()
	q, args := s.Select(s.Quote(p.ChildTable.Name)+".*").
		From(p.ChildTable.Name).
		Where(qualified(s, p.ChildTable, p.ChildColumn)+" = ("+subSQL+")", subArgs...).
		Limit(1).
		Build()
	row, err := core.QueryFirst(ctx, db, q, args...)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "read child linked with parent")
	}
	return row, nil
}

// GetLinkV2RelatedRows 通过中间表读取与子记录关联的全部父表记录
func (p *Plan) GetLinkV2RelatedRows(ctx context.Context, db core.IDatabase) ([]orm.Row, error) {
	if !p.ViaJunction() {
		return nil, errors.NewError(errors.ErrCodeInvalidInput, "关联列 "+p.Column.ID+" 不经过中间表")
	}
	s := dbsql.New(db)
	sub, err := p.childValueQuery(s, p.ChildID)
	if err != nil {
		return nil, err
	}
	subSQL, subArgs := sub.Build()
	q, args := s.Select(s.Quote(p.ParentTable.Name)+".*").
		From(p.ParentTable.Name).
		Join(p.JunctionTable.Name, qualified(s, p.JunctionTable, p.JunctionParentColumn)+" = "+qualified(s, p.ParentTable, p.ParentColumn)).
		Where(qualified(s, p.JunctionTable, p.JunctionChildColumn)+" = ("+subSQL+")", subArgs...).
		Build()
	rows, err := core.QueryMaps(ctx, db, q, args...)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "read related rows")
	}
	return rows, nil
}

// parentValueQuery SELECT 父表列 FROM 父表 WHERE pk = id
func (p *Plan) parentValueQuery(s dbsql.ISql, id any) (dbsql.ISelectBuilder, error) {
	return valueQuery(s, p.ParentTable, p.ParentColumn, id)
}

// childValueQuery SELECT 子表列 FROM 子表 WHERE pk = id
func (p *Plan) childValueQuery(s dbsql.ISql, id any) (dbsql.ISelectBuilder, error) {
	return valueQuery(s, p.ChildTable, p.ChildColumn, id)
}

func valueQuery(s dbsql.ISql, table *orm.Table, col *orm.Column, id any) (dbsql.ISelectBuilder, error) {
	pred, err := pk.WherePk(table.PrimaryKeys(), id, true)
	if err != nil {
		return nil, err
	}
	return s.Select(qualified(s, table, col)).
		From(table.Name).
		WhereExpr(pred.Qualify(table.Name)).
		Limit(1), nil
}

func qualified(s dbsql.ISql, table *orm.Table, col *orm.Column) string {
	return s.Quote(table.Name + "." + col.Name)
}
