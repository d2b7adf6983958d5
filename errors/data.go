package errors

import "fmt"

// NewMissingPrimaryKeyError 标识符中缺少某个主键列
func NewMissingPrimaryKeyError(column string) IError {
	return NewError(ErrCodeMissingPrimaryKey, fmt.Sprintf("缺少主键列 %s 的值", column)).
		WithContext("column", column)
}

// NewInvalidPrimaryKeyError 主键值格式不合法
func NewInvalidPrimaryKeyError(column string, value any) IError {
	return NewError(ErrCodeInvalidPrimaryKey, fmt.Sprintf("主键列 %s 的值 %v 不合法", column, value)).
		WithDetails(map[string]any{"column": column, "value": value})
}

// NewRecordNotFoundError 记录不存在
func NewRecordNotFoundError(table string, id any) IError {
	return NewError(ErrCodeRecordNotFound, fmt.Sprintf("表 %s 中不存在记录 %v", table, id)).
		WithDetails(map[string]any{"table": table, "id": id})
}

// NewColumnNotFoundError 列不存在
func NewColumnNotFoundError(columnID string) IError {
	return NewError(ErrCodeColumnNotFound, fmt.Sprintf("列 %s 不存在", columnID)).
		WithContext("column", columnID)
}

// NewTableNotFoundError 表不存在
func NewTableNotFoundError(tableID string) IError {
	return NewError(ErrCodeTableNotFound, fmt.Sprintf("表 %s 不存在", tableID)).
		WithContext("table", tableID)
}

// NewNotALinkColumnError 列不是关联列
func NewNotALinkColumnError(columnID string) IError {
	return NewError(ErrCodeNotALinkColumn, fmt.Sprintf("列 %s 不是关联列", columnID)).
		WithContext("column", columnID)
}

// NewValidationError 创建验证错误，fields 为列名到原因的映射
func NewValidationError(msg string, fields map[string]string) IError {
	err := NewError(ErrCodeValidation, msg)
	if len(fields) == 0 {
		return err
	}
	details := make(map[string]any, len(fields))
	for k, v := range fields {
		details[k] = v
	}
	return err.WithDetails(details)
}
