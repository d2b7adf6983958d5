package dialect

import (
	stdErrors "errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	core "tablecore/data/db"
)

// Kind 封闭的数据库方言枚举
type Kind int

const (
	Unknown Kind = iota
	MySQL
	SQLite
	Postgres
	MSSQL
)

// String 返回标准化方言名
func (k Kind) String() string {
	switch k {
	case MySQL:
		return "mysql"
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	case MSSQL:
		return "mssql"
	default:
		return ""
	}
}

// Capabilities 方言能力表中的一行
//
// 新增方言时只需要在 capabilityTable 中追加一行，
// 调用方通过能力位判断行为，不直接比较方言名。
type Capabilities struct {
	// BatchedCaseUpdate 单主键表可用 CASE pk WHEN ... 合并为一条 UPDATE
	BatchedCaseUpdate bool
	// UnionArmWrapping UNION ALL 的每个分支需要包成 SELECT * FROM (arm)
	UnionArmWrapping bool
	// NativeTimezone 日期时间列原生保存时区/偏移信息
	NativeTimezone bool
	// ServerLocalTime 不带时区的日期时间按服务进程所在时区写入
	ServerLocalTime bool
	// OffsetFetch 使用 OFFSET n ROWS FETCH NEXT m ROWS ONLY 分页
	OffsetFetch bool
	// DeleteLimit 支持 DELETE ... LIMIT
	DeleteLimit bool
	// ByteaDecode 二进制主键需在库端 decode(?, format)
	ByteaDecode bool
}

var capabilityTable = map[Kind]Capabilities{
	MySQL: {
		BatchedCaseUpdate: true,
		DeleteLimit:       true,
	},
	SQLite: {
		BatchedCaseUpdate: true,
		UnionArmWrapping:  true,
		ServerLocalTime:   true,
		DeleteLimit:       true,
	},
	Postgres: {
		BatchedCaseUpdate: true,
		NativeTimezone:    true,
		ByteaDecode:       true,
	},
	MSSQL: {
		BatchedCaseUpdate: true,
		UnionArmWrapping:  true,
		OffsetFetch:       true,
	},
	Unknown: {},
}

// Dialect 表示当前数据库的方言能力
type Dialect struct {
	kind Kind
}

// New 根据 driver 名构造方言（大小写不敏感）
func New(name string) Dialect {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "mariadb":
		return Dialect{kind: MySQL}
	case "sqlite", "sqlite3":
		return Dialect{kind: SQLite}
	case "postgres", "postgresql", "pg", "pgx":
		return Dialect{kind: Postgres}
	case "mssql", "sqlserver":
		return Dialect{kind: MSSQL}
	default:
		return Dialect{kind: Unknown}
	}
}

// Of 直接由枚举构造
func Of(kind Kind) Dialect {
	return Dialect{kind: kind}
}

// FromDatabase 从 IDatabase 实例推断方言
//
// 需要 IDatabase 可选实现 IDialectNameProvider 接口；否则返回 Unknown。
func FromDatabase(db core.IDatabase) Dialect {
	if db == nil {
		return Dialect{kind: Unknown}
	}
	if p, ok := db.(core.IDialectNameProvider); ok {
		return New(p.GetDialectName())
	}
	return Dialect{kind: Unknown}
}

// Kind 返回方言枚举
func (d Dialect) Kind() Kind {
	return d.kind
}

// Name 返回标准化方言名
func (d Dialect) Name() string {
	return d.kind.String()
}

// Is 判断是否为指定方言
func (d Dialect) Is(kind Kind) bool {
	return d.kind == kind
}

// Caps 返回该方言的能力位
func (d Dialect) Caps() Capabilities {
	return capabilityTable[d.kind]
}

// QuoteIdentifier 根据方言对标识符进行转义（如表名/列名）。
//
// 支持 schema.table、table.column 等带点形式，会对每一段分别加引号；
// MySQL 使用反引号，MSSQL 使用方括号，Postgres/SQLite 使用双引号，
// Unknown 方言返回原始字符串。
func (d Dialect) QuoteIdentifier(name string) string {
	if name == "" {
		return ""
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p == "" || p == "*" {
			continue
		}
		switch d.kind {
		case MySQL:
			parts[i] = "`" + strings.ReplaceAll(p, "`", "``") + "`"
		case MSSQL:
			parts[i] = "[" + strings.ReplaceAll(p, "]", "]]") + "]"
		case SQLite, Postgres:
			parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
		}
	}
	return strings.Join(parts, ".")
}

// Rebind 将通用占位符 ? 转换为方言特定形式。
//
// Postgres 替换为 $1、$2...，MSSQL 替换为 @p1、@p2...，其他方言保持原样。
// 单引号字符串字面量中的 ? 不会被替换。
func (d Dialect) Rebind(query string) string {
	var prefix string
	switch d.kind {
	case Postgres:
		prefix = "$"
	case MSSQL:
		prefix = "@p"
	default:
		return query
	}
	if query == "" {
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 8)
	argIndex := 1
	inQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			inQuote = !inQuote
			sb.WriteByte(ch)
		case ch == '?' && !inQuote:
			sb.WriteString(prefix)
			sb.WriteString(strconv.Itoa(argIndex))
			argIndex++
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}

// Paginate 返回分页子句及其参数；limit <= 0 表示不限制
// hasOrder 为 false 时 MSSQL 需要补一个占位排序
func (d Dialect) Paginate(limit, offset int, hasOrder bool) (string, []any) {
	if d.Caps().OffsetFetch {
		if limit <= 0 && offset <= 0 {
			return "", nil
		}
		clause := ""
		if !hasOrder {
			clause = "ORDER BY (SELECT NULL) "
		}
		clause += "OFFSET ? ROWS"
		args := []any{offset}
		if limit > 0 {
			clause += " FETCH NEXT ? ROWS ONLY"
			args = append(args, limit)
		}
		return clause, args
	}

	var (
		clause string
		args   []any
	)
	if limit > 0 {
		clause = "LIMIT ?"
		args = append(args, limit)
	} else if offset > 0 {
		// MySQL/SQLite 的 OFFSET 必须跟在 LIMIT 之后
		switch d.kind {
		case MySQL:
			clause = "LIMIT 18446744073709551615"
		case SQLite:
			clause = "LIMIT -1"
		}
	}
	if offset > 0 {
		if clause != "" {
			clause += " "
		}
		clause += "OFFSET ?"
		args = append(args, offset)
	}
	return clause, args
}

// CastText 把绑定参数强制为文本，用于 UNION 分支中的分组标签列
func (d Dialect) CastText(expr string) string {
	switch d.kind {
	case Postgres, SQLite:
		return "CAST(" + expr + " AS TEXT)"
	case MySQL:
		return "CAST(" + expr + " AS CHAR)"
	case MSSQL:
		return "CAST(" + expr + " AS NVARCHAR(255))"
	default:
		return expr
	}
}

// DecodeBinary 返回在库端把字面量解码成字节的表达式
// format 取值 hex 或 escape；不支持库端解码的方言直接返回占位符
func (d Dialect) DecodeBinary(format string) string {
	if !d.Caps().ByteaDecode {
		return "?"
	}
	if format != "escape" {
		format = "hex"
	}
	return "decode(?, '" + format + "')"
}

// SupportsDeleteLimit 当前方言是否支持 DELETE ... LIMIT 语法
func (d Dialect) SupportsDeleteLimit() bool {
	return d.Caps().DeleteLimit
}

// sqlStateError 由 lib/pq、pgx 等驱动的错误类型实现
type sqlStateError interface {
	SQLState() string
}

func sqlState(err error) (string, bool) {
	var se sqlStateError
	if stdErrors.As(err, &se) {
		return se.SQLState(), true
	}
	return "", false
}

// IsUniqueViolation 判断错误是否为唯一键/主键冲突
//
// MySQL 使用驱动错误号（1062），Postgres 使用 SQLSTATE（23505），
// SQLite 与 MSSQL 退化为错误消息关键字匹配。
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var myErr *mysql.MySQLError
	if stdErrors.As(err, &myErr) {
		return myErr.Number == 1062 || myErr.Number == 1586
	}
	if state, ok := sqlState(err); ok {
		return state == "23505"
	}

	msg := strings.ToLower(err.Error())
	switch d.kind {
	case SQLite:
		return strings.Contains(msg, "unique constraint failed")
	case MSSQL:
		return strings.Contains(msg, "violation of unique key") ||
			strings.Contains(msg, "violation of primary key") ||
			strings.Contains(msg, "cannot insert duplicate key")
	default:
		return strings.Contains(msg, "duplicate key") ||
			strings.Contains(msg, "duplicate entry") ||
			strings.Contains(msg, "unique constraint")
	}
}

// IsForeignKeyViolation 判断错误是否为外键约束冲突
func (d Dialect) IsForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if stdErrors.As(err, &myErr) {
		return myErr.Number == 1451 || myErr.Number == 1452
	}
	if state, ok := sqlState(err); ok {
		return state == "23503"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "foreign key constraint")
}
