package utils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLimits struct {
	MaxCost float64 `json:"max_cost_usd" validate:"gte=0"`
}

type testRequest struct {
	Prompt      string      `json:"prompt" validate:"required"`
	Temperature float64     `json:"temperature" validate:"gte=0,lte=2"`
	CallerID    string      `json:"caller_id,omitempty" validate:"max=8"`
	Mode        string      `json:"mode" validate:"omitempty,oneof=fast slow"`
	Untagged    int         `validate:"gte=0"`
	Limits      *testLimits `json:"limits,omitempty"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name    string
		req     testRequest
		field   string
		message string
	}{
		{name: "valid", req: testRequest{Prompt: "hi", Temperature: 1, Mode: "fast"}},
		{name: "missing prompt", req: testRequest{}, field: "prompt", message: "prompt is required"},
		{name: "temperature too high", req: testRequest{Prompt: "hi", Temperature: 2.5}, field: "temperature", message: "temperature must be less than or equal to 2"},
		{name: "negative temperature", req: testRequest{Prompt: "hi", Temperature: -1}, field: "temperature", message: "temperature must be greater than or equal to 0"},
		{name: "caller too long", req: testRequest{Prompt: "hi", CallerID: "much-too-long"}, field: "caller_id", message: "caller_id must be at most 8"},
		{name: "unknown mode", req: testRequest{Prompt: "hi", Mode: "medium"}, field: "mode", message: "mode must be one of: fast, slow"},
		{name: "untagged field keeps go name", req: testRequest{Prompt: "hi", Untagged: -1}, field: "Untagged"},
		{name: "nested struct", req: testRequest{Prompt: "hi", Limits: &testLimits{MaxCost: -1}}, field: "max_cost_usd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.req)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsValidationError(err))

			fields := GetValidationFields(err)
			require.Contains(t, fields, tt.field)
			if tt.message != "" {
				assert.Equal(t, tt.message, fields[tt.field])
			}
		})
	}
}

func TestNewValidationError(t *testing.T) {
	err := ValidateStruct(&testRequest{Temperature: 3})
	require.Error(t, err)

	validationErr, ok := err.(*ValidationError)
	require.True(t, ok)

	assert.Equal(t, "Validation failed", validationErr.Message)
	assert.Len(t, validationErr.Fields, 2)
	assert.Contains(t, validationErr.Fields, "prompt")
	assert.Contains(t, validationErr.Fields, "temperature")
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Message: "Test validation error",
		Fields: map[string]string{
			"field1": "error1",
		},
	}

	assert.Equal(t, "Test validation error", err.Error())
}

func TestIsValidationError(t *testing.T) {
	t.Run("is validation error", func(t *testing.T) {
		assert.True(t, IsValidationError(&ValidationError{Message: "test"}))
	})

	t.Run("wrapped validation error", func(t *testing.T) {
		assert.True(t, IsValidationError(fmt.Errorf("dispatch: %w", &ValidationError{Message: "test"})))
	})

	t.Run("is not validation error", func(t *testing.T) {
		assert.False(t, IsValidationError(assert.AnError))
	})
}

func TestGetValidationFields(t *testing.T) {
	t.Run("gets fields from validation error", func(t *testing.T) {
		fields := map[string]string{
			"field1": "error1",
			"field2": "error2",
		}
		err := &ValidationError{
			Message: "test",
			Fields:  fields,
		}

		assert.Equal(t, fields, GetValidationFields(err))
	})

	t.Run("returns nil for non-validation error", func(t *testing.T) {
		assert.Nil(t, GetValidationFields(assert.AnError))
	})
}
