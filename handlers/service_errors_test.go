package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ScientiaCapital/sales-agent-sub004/services"
	"github.com/ScientiaCapital/sales-agent-sub004/services/budget"
	"github.com/ScientiaCapital/sales-agent-sub004/services/routing"
	"github.com/ScientiaCapital/sales-agent-sub004/utils"
)

func TestHandleServiceError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "validation error",
			err:            &utils.ValidationError{Message: "Validation failed", Fields: map[string]string{"prompt": "prompt is required"}},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "bad_request",
		},
		{
			name:           "unauthorized error",
			err:            services.ErrUnauthorized,
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "unauthorized",
		},
		{
			name:           "forbidden error",
			err:            services.ErrForbidden,
			expectedStatus: http.StatusForbidden,
			expectedError:  "forbidden",
		},
		{
			name:           "budget error",
			err:            &routing.BudgetExceededError{Status: budget.Status{Period: budget.PeriodMonthly}},
			expectedStatus: http.StatusTooManyRequests,
			expectedError:  "rate_limit_exceeded",
		},
		{
			name:           "no eligible provider",
			err:            &routing.NoEligibleProviderError{Strategy: routing.StrategyBalanced},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedError:  "unprocessable",
		},
		{
			name:           "deadline exceeded",
			err:            &routing.AllProvidersFailedError{Attempted: []string{"a"}, Last: context.DeadlineExceeded},
			expectedStatus: http.StatusGatewayTimeout,
			expectedError:  "gateway_timeout",
		},
		{
			name:           "internal error",
			err:            errors.New("something broke"),
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			HandleServiceError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response utils.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.expectedError, response.Error)
		})
	}
}

func TestHandleServiceError_HidesInternalDetails(t *testing.T) {
	w := httptest.NewRecorder()

	HandleServiceError(w, errors.New("pq: password authentication failed"), zap.NewNop())

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestHandleServiceError_Nil(t *testing.T) {
	w := httptest.NewRecorder()
	HandleServiceError(w, nil, zap.NewNop())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}
