package respond

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSON(t *testing.T) {
	tests := []struct {
		name         string
		code         int
		data         any
		expectedBody string
	}{
		{"map", http.StatusOK, map[string]string{"message": "success"}, `{"message":"success"}`},
		{"struct", http.StatusCreated, struct{ ID int }{ID: 123}, `{"ID":123}`},
		{"nil", http.StatusNoContent, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			JSON(w, tt.code, tt.data)

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, tt.expectedBody, strings.TrimSpace(w.Body.String()))
		})
	}
}

func TestJSON_EncodingError(t *testing.T) {
	w := httptest.NewRecorder()
	assert.NotPanics(t, func() { JSON(w, http.StatusOK, make(chan int)) })
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestError_SanitizesKeys(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusBadRequest, errors.New("invalid key sk-ant-api03-abcdef"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid key sk-ant-****"}`, w.Body.String())
}

func TestSafeError(t *testing.T) {
	tests := []struct {
		name         string
		code         int
		err          error
		expectedCode int
		expectedBody string
	}{
		{
			name:         "client error passes through",
			code:         http.StatusBadRequest,
			err:          errors.New("prompt cannot be empty"),
			expectedCode: http.StatusBadRequest,
			expectedBody: `{"error":"prompt cannot be empty"}`,
		},
		{
			name:         "server error is hidden",
			code:         http.StatusInternalServerError,
			err:          errors.New("dial tcp 10.0.0.1:443: connection refused"),
			expectedCode: http.StatusInternalServerError,
			expectedBody: `{"error":"internal server error"}`,
		},
		{
			name:         "app error supplies status, message and category",
			code:         http.StatusInternalServerError,
			err:          fmt.Errorf("wrapped: %w", &AppError{Code: http.StatusTooManyRequests, UserMsg: "queue full", Category: "RATE_LIMIT"}),
			expectedCode: http.StatusTooManyRequests,
			expectedBody: `{"error":"queue full","category":"RATE_LIMIT"}`,
		},
		{
			name:         "app error hides internal cause",
			code:         http.StatusInternalServerError,
			err:          NewAppError(http.StatusBadGateway, "upstream failed", errors.New("sk-secretsecretsecret leaked")),
			expectedCode: http.StatusBadGateway,
			expectedBody: `{"error":"upstream failed"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			SafeError(w, tt.code, tt.err)
			assert.Equal(t, tt.expectedCode, w.Code)
			assert.JSONEq(t, tt.expectedBody, w.Body.String())
		})
	}
}

func TestSafeError_Nil(t *testing.T) {
	w := httptest.NewRecorder()
	SafeError(w, http.StatusInternalServerError, nil)
	assert.Empty(t, w.Body.String())
}

func TestAppError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	err := NewAppError(http.StatusBadGateway, "upstream failed", inner)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "inner", err.Error())
	assert.Equal(t, "msg", (&AppError{UserMsg: "msg"}).Error())
}
