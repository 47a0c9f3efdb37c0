package respond

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/solace-be/internal/apperror"
)

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusCreated, map[string]any{"success": true})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
}

func TestErrorHidesDetailsUnlessAsked(t *testing.T) {
	appErr := apperror.NewInternal(errors.New("pool exhausted"))

	rec := httptest.NewRecorder()
	Error(rec, appErr, false)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Internal server error","code":"internal_error"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	Error(rec, appErr, true)
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "pool exhausted", body.Details)
	assert.False(t, body.Success)
}
