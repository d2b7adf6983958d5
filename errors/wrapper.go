package errors

import (
	"context"
	"fmt"
	"runtime"

	"tablecore/logging"
)

// WrapWithLog 包装错误并记录警告日志
func WrapWithLog(ctx context.Context, err error, code ErrorCode, msg string, fields ...logging.Field) error {
	if err == nil {
		return nil
	}

	_, file, line, _ := runtime.Caller(1)

	wrapped := WrapError(err, code, msg)

	allFields := append([]logging.Field{
		logging.Error(err),
		logging.String("error_code", string(code)),
		logging.String("location", fmt.Sprintf("%s:%d", file, line)),
	}, fields...)

	logging.GetLogger().Warn(ctx, msg, allFields...)

	return wrapped
}

// WrapDatabaseError 包装数据库错误
// 已是 AppError 的错误原样返回，其余按服务端错误记录日志
func WrapDatabaseError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	if _, ok := err.(IError); ok {
		return err
	}

	normalized := Normalize(err)
	if normalized != err {
		return normalized
	}

	return WrapWithLog(ctx, err, ErrCodeDatabase,
		fmt.Sprintf("数据库操作失败: %s", operation),
		logging.String("operation", operation),
	)
}

// AsDatabaseError 与 WrapDatabaseError 的转换相同，但不写日志，
// 供自带日志器的组件使用
func AsDatabaseError(err error, operation string) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(IError); ok {
		return err
	}
	if normalized := Normalize(err); normalized != err {
		return normalized
	}
	return WrapError(err, ErrCodeDatabase, fmt.Sprintf("数据库操作失败: %s", operation))
}
