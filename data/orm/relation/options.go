package relation

import (
	"context"

	"tablecore/data/db/dialect"
	"tablecore/data/orm"
)

// GroupTagColumn UNION 各分支携带的分组标签列名
const GroupTagColumn = "__nc_group_id"

// GroupTag 一个 UNION 分支的分组标签，取值为父记录的主键键值
type GroupTag struct {
	Value string
}

// Column 渲染为带参数的选择列：CAST(? AS TEXT) AS "__nc_group_id"
func (g GroupTag) Column(d dialect.Dialect) (string, []any) {
	return d.CastText("?") + " AS " + d.QuoteIdentifier(GroupTagColumn), []any{g.Value}
}

// FailurePolicy 批量读取失败时的处理方式
type FailurePolicy int

const (
	// Degrade 记录日志并返回空结果
	Degrade FailurePolicy = iota
	// Propagate 返回错误
	Propagate
)

// ListOptions 关联读取参数
type ListOptions struct {
	Limit  int
	Offset int
	// Fields 需要读取的列（id、标题或物理名），为空读取全部物理列
	Fields []string
	Where  []orm.Condition
	Sort   []orm.OrderBy
	// Nested 嵌套读取多取一条，用于判断是否还有下一页
	Nested        bool
	FailurePolicy FailurePolicy
}

// ConditionCompiler 外部过滤/排序编译器
type ConditionCompiler interface {
	Where(ctx context.Context, table *orm.Table, opts ListOptions) ([]orm.Condition, error)
	OrderBy(ctx context.Context, table *orm.Table, viewID string, opts ListOptions) ([]orm.OrderBy, error)
}

// OptionCompiler 默认编译器：直接使用 ListOptions 中的条件与排序，
// 没有排序时按主键升序
type OptionCompiler struct{}

var _ ConditionCompiler = OptionCompiler{}

func (OptionCompiler) Where(_ context.Context, _ *orm.Table, opts ListOptions) ([]orm.Condition, error) {
	return opts.Where, nil
}

func (OptionCompiler) OrderBy(_ context.Context, table *orm.Table, _ string, opts ListOptions) ([]orm.OrderBy, error) {
	if len(opts.Sort) > 0 {
		out := make([]orm.OrderBy, len(opts.Sort))
		for i, o := range opts.Sort {
			out[i] = o
			if c := table.Column(o.Column); c != nil && !c.IsVirtual() {
				out[i].Column = table.Name + "." + c.Name
			}
		}
		return out, nil
	}
	pks := table.PrimaryKeys()
	out := make([]orm.OrderBy, len(pks))
	for i, c := range pks {
		out[i] = orm.OrderBy{Column: table.Name + "." + c.Name}
	}
	return out, nil
}
