package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/marcelsud/webhook-guard/webhook/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendCmd(t *testing.T) {
	t.Run("success - retried then delivered", func(t *testing.T) {
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		var out bytes.Buffer
		cmd := sendCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{srv.URL, "--base-delay", "1ms", "--event-id", "evt-1"})

		require.NoError(t, cmd.Execute())
		assert.Equal(t, 2, calls)
		assert.Contains(t, out.String(), "attempt 1: status=503 result=server_error")
		assert.Contains(t, out.String(), "delivered: status=200 attempts=2")
	})

	t.Run("error - invalid data", func(t *testing.T) {
		cmd := sendCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"http://localhost", "--data", "{"})

		assert.Error(t, cmd.Execute())
	})
}

func TestGenSecretCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := genSecretCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--bytes", "24"})

	require.NoError(t, cmd.Execute())
	assert.Len(t, strings.TrimSpace(out.String()), 48)
}

func TestSignCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := signCmd()
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("hello"))
	cmd.SetArgs([]string{"--secret", "s3cret"})

	require.NoError(t, cmd.Execute())
	want := signature.Sign([]byte("s3cret"), []byte("hello")).String()
	assert.Equal(t, signature.HeaderName+": "+want+"\n", out.String())
}

func TestVerifyCmd(t *testing.T) {
	header := signature.Sign([]byte("s3cret"), []byte("hello")).String()

	t.Run("success - matching signature", func(t *testing.T) {
		var out bytes.Buffer
		cmd := verifyCmd()
		cmd.SetOut(&out)
		cmd.SetIn(strings.NewReader("hello"))
		cmd.SetArgs([]string{"--secret", "s3cret", "--signature", header})

		require.NoError(t, cmd.Execute())
		assert.Equal(t, "signature OK\n", out.String())
	})

	t.Run("error - other secret", func(t *testing.T) {
		cmd := verifyCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetIn(strings.NewReader("hello"))
		cmd.SetArgs([]string{"--secret", "other", "--signature", header})

		err := cmd.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not match")
	})

	t.Run("error - missing secret", func(t *testing.T) {
		cmd := verifyCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetIn(strings.NewReader("hello"))
		cmd.SetArgs([]string{"--signature", header})

		require.Error(t, cmd.Execute())
	})
}
