package errs

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	Title  string `json:"title" validate:"required"`
	Impact string `json:"impact" validate:"omitempty,oneof=LOW MODERATE IMPORTANT CRITICAL"`
}

func TestCheck(t *testing.T) {
	t.Parallel()

	require.NoError(t, Check(request{Title: "x"}))

	err := Check(request{Impact: "HUGE"})
	var fe FieldErrors
	require.ErrorAs(t, err, &fe)

	fields := fe.Fields()
	assert.Equal(t, "title is a required field", fields["title"])
	assert.Contains(t, fields["impact"], "impact must be one of")
}

func TestError_Encode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    *Error
		status int
		fields bool
	}{
		{name: "invalid argument", err: New(InvalidArgument, errors.New("bad")), status: http.StatusBadRequest},
		{name: "unauthenticated", err: New(Unauthenticated, errors.New("token")), status: http.StatusUnauthorized},
		{name: "permission", err: New(PermissionDenied, errors.New("no")), status: http.StatusForbidden},
		{name: "not found", err: Newf(NotFound, "flaw %s", "x"), status: http.StatusNotFound},
		{name: "unknown code", err: &Error{Code: ErrCode{"odd"}, Message: "odd"}, status: http.StatusInternalServerError},
		{
			name:   "field errors",
			err:    New(InvalidArgument, Check(request{})),
			status: http.StatusBadRequest,
			fields: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.status, tt.err.HTTPStatus())

			data, contentType, err := tt.err.Encode()
			require.NoError(t, err)
			assert.Equal(t, "application/json", contentType)

			var body map[string]any
			require.NoError(t, json.Unmarshal(data, &body))
			assert.Equal(t, tt.err.Code.String(), body["code"])
			_, hasFields := body["fields"]
			assert.Equal(t, tt.fields, hasFields)
		})
	}
}

func TestGetError(t *testing.T) {
	t.Parallel()

	inner := New(NotFound, errors.New("gone"))
	wrapped := errors.Join(errors.New("outer"), inner)

	assert.True(t, IsError(wrapped))
	assert.Same(t, inner, GetError(wrapped))
	assert.Nil(t, GetError(errors.New("plain")))
}
