package webhook_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/marcelsud/webhook-guard/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   webhook.ErrorKind
	}{
		{200, webhook.NoError},
		{202, webhook.NoError},
		{299, webhook.NoError},
		{400, webhook.ClientError},
		{401, webhook.ClientError},
		{404, webhook.ClientError},
		{408, webhook.ServerError},
		{429, webhook.ServerError},
		{500, webhook.ServerError},
		{503, webhook.ServerError},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("status %d", tc.status), func(t *testing.T) {
			assert.Equal(t, tc.want, webhook.ClassifyStatus(tc.status))
		})
	}
}

func TestErrorKind_Retryable(t *testing.T) {
	assert.True(t, webhook.NetworkError.Retryable())
	assert.True(t, webhook.TimeoutError.Retryable())
	assert.True(t, webhook.ServerError.Retryable())
	assert.False(t, webhook.ClientError.Retryable())
	assert.False(t, webhook.SignatureError.Retryable())
	assert.False(t, webhook.Canceled.Retryable())
}

func TestDeliveryError(t *testing.T) {
	t.Run("matches kind sentinel", func(t *testing.T) {
		var err error = &webhook.DeliveryError{Kind: webhook.TimeoutError, Attempts: 3}
		wrapped := fmt.Errorf("notifying automation engine: %w", err)

		assert.True(t, errors.Is(wrapped, webhook.ErrTimeout))
		assert.False(t, errors.Is(wrapped, webhook.ErrServer))

		de, ok := webhook.AsDeliveryError(wrapped)
		require.True(t, ok)
		assert.Equal(t, 3, de.Attempts)
		assert.True(t, de.Retryable())
	})

	t.Run("message carries status", func(t *testing.T) {
		err := &webhook.DeliveryError{Kind: webhook.ClientError, StatusCode: 400, Attempts: 1, Message: "bad request"}
		assert.Equal(t, "delivery failed after 1 attempt(s): client_error (status 400): bad request", err.Error())
	})
}
