package errors

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		code ErrorCode
	}{
		{NewMissingPrimaryKeyError("id"), ErrCodeMissingPrimaryKey},
		{NewInvalidPrimaryKeyError("id", "abc"), ErrCodeInvalidPrimaryKey},
		{NewRecordNotFoundError("orders", 999), ErrCodeRecordNotFound},
		{NewColumnNotFoundError("c1"), ErrCodeColumnNotFound},
		{NewNotALinkColumnError("c2"), ErrCodeNotALinkColumn},
		{NewValidationError("invalid row", map[string]string{"title": "required"}), ErrCodeValidation},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, GetErrorCode(tc.err))
		assert.True(t, IsClientError(tc.err), tc.code)
		assert.NotEqual(t, PublicMessage(ErrInternal), PublicMessage(tc.err))
	}
}

func TestServerErrorsHideDetail(t *testing.T) {
	cause := stdErrors.New("dial tcp 10.0.0.1:5432: connection refused")
	err := WrapError(cause, ErrCodeDatabase, "commit failed")

	assert.False(t, IsClientError(err))
	assert.NotContains(t, PublicMessage(err), "10.0.0.1")
	assert.True(t, stdErrors.Is(err, cause))
	assert.False(t, IsClientError(stdErrors.New("plain")))
}

func TestIsNotFoundCoversRecordAndColumn(t *testing.T) {
	assert.True(t, IsNotFound(NewRecordNotFoundError("t", 1)))
	assert.True(t, IsNotFound(NewColumnNotFoundError("c")))
	assert.False(t, IsNotFound(NewNotALinkColumnError("c")))
}

func TestWithDetailsDoesNotMutate(t *testing.T) {
	base := NewError(ErrCodeValidation, "bad")
	extended := base.WithDetails(map[string]any{"title": "required"})

	assert.Empty(t, base.Details())
	assert.Equal(t, "required", extended.Details()["title"])
	assert.True(t, stdErrors.Is(extended, ErrValidation))
}

func TestNormalize(t *testing.T) {
	err := Normalize(sql.ErrNoRows)
	assert.Equal(t, ErrCodeNotFound, GetErrorCode(err))

	err = Normalize(context.DeadlineExceeded)
	assert.Equal(t, ErrCodeTimeout, GetErrorCode(err))

	plain := stdErrors.New("x")
	assert.Same(t, plain, Normalize(plain))
	assert.Nil(t, Normalize(nil))
}

func TestWrapDatabaseError(t *testing.T) {
	ctx := context.Background()
	require.Nil(t, WrapDatabaseError(ctx, nil, "select"))

	notFound := NewRecordNotFoundError("t", 1)
	assert.Same(t, notFound, WrapDatabaseError(ctx, notFound, "select"))

	wrapped := WrapDatabaseError(ctx, stdErrors.New("disk full"), "update")
	assert.Equal(t, ErrCodeDatabase, GetErrorCode(wrapped))
}

func TestAsDatabaseError(t *testing.T) {
	require.Nil(t, AsDatabaseError(nil, "select"))

	notFound := NewRecordNotFoundError("t", 1)
	assert.Same(t, notFound, AsDatabaseError(notFound, "select"))
	assert.True(t, IsErrorCode(AsDatabaseError(sql.ErrNoRows, "select"), ErrCodeNotFound))

	wrapped := AsDatabaseError(stdErrors.New("disk full"), "update")
	assert.Equal(t, ErrCodeDatabase, GetErrorCode(wrapped))
	assert.False(t, IsClientError(wrapped))
}
