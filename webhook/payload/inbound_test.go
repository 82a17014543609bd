package payload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInbound_Evolution(t *testing.T) {
	t.Run("success - messages.upsert", func(t *testing.T) {
		body := []byte(`{
			"event": "messages.upsert",
			"instance": "inst-1",
			"data": {
				"key": {"remoteJid": "5511999999999@s.whatsapp.net", "fromMe": false, "id": "msg123"},
				"pushName": "Ana",
				"message": {"conversation": "oi"},
				"messageTimestamp": 1700000000
			}
		}`)

		in, err := ParseInbound(body)
		require.NoError(t, err)
		assert.Equal(t, SourceEvolution, in.Source)
		assert.Equal(t, "inst-1", in.Instance)
		require.True(t, in.IsMessage())
		require.Len(t, in.Messages, 1)

		msg := in.Messages[0]
		assert.Equal(t, "msg123", msg.MessageID)
		assert.Equal(t, "5511999999999@s.whatsapp.net", msg.ConversationID)
		assert.Equal(t, "oi", msg.Text)
		assert.Equal(t, "Ana", msg.PushName)
		assert.False(t, msg.FromMe)
		assert.Equal(t, time.Unix(1700000000, 0).UTC(), msg.Timestamp)
	})

	t.Run("success - upper case event name and extended text", func(t *testing.T) {
		body := []byte(`{
			"event": "MESSAGES_UPSERT",
			"instance": "inst-1",
			"data": {
				"key": {"remoteJid": "123@s.whatsapp.net", "fromMe": true, "id": "abc"},
				"message": {"extendedTextMessage": {"text": "hello"}}
			}
		}`)

		in, err := ParseInbound(body)
		require.NoError(t, err)
		assert.Equal(t, "messages.upsert", in.Event)
		require.Len(t, in.Messages, 1)
		assert.Equal(t, "hello", in.Messages[0].Text)
		assert.True(t, in.Messages[0].FromMe)
		assert.True(t, in.Messages[0].Timestamp.IsZero())
	})

	t.Run("success - non message event", func(t *testing.T) {
		in, err := ParseInbound([]byte(`{"event":"connection.update","instance":"inst-1","data":{"state":"open"}}`))
		require.NoError(t, err)
		assert.Equal(t, "connection.update", in.Event)
		assert.False(t, in.IsMessage())
	})

	t.Run("success - missing message id is kept", func(t *testing.T) {
		in, err := ParseInbound([]byte(`{"event":"messages.upsert","instance":"i","data":{"key":{"remoteJid":"r"}}}`))
		require.NoError(t, err)
		require.Len(t, in.Messages, 1)
		assert.Empty(t, in.Messages[0].MessageID)
		assert.Equal(t, "r", in.Messages[0].ConversationID)
	})
}

func TestParseInbound_CloudAPI(t *testing.T) {
	t.Run("success - text message", func(t *testing.T) {
		body := []byte(`{
			"object": "whatsapp_business_account",
			"entry": [{
				"id": "waba-1",
				"changes": [{
					"field": "messages",
					"value": {
						"messaging_product": "whatsapp",
						"metadata": {"phone_number_id": "pn-1"},
						"contacts": [{"profile": {"name": "Bruno"}}],
						"messages": [
							{"from": "5511888888888", "id": "wamid.1", "timestamp": "1700000001", "type": "text", "text": {"body": "hi"}},
							{"from": "5511888888888", "id": "wamid.2", "timestamp": "1700000002", "type": "text", "text": {"body": "again"}}
						]
					}
				}]
			}]
		}`)

		in, err := ParseInbound(body)
		require.NoError(t, err)
		assert.Equal(t, SourceCloudAPI, in.Source)
		assert.Equal(t, "pn-1", in.Instance)
		require.Len(t, in.Messages, 2)
		assert.Equal(t, "wamid.1", in.Messages[0].MessageID)
		assert.Equal(t, "5511888888888", in.Messages[0].ConversationID)
		assert.Equal(t, "Bruno", in.Messages[0].PushName)
		assert.Equal(t, "again", in.Messages[1].Text)
		assert.Equal(t, time.Unix(1700000002, 0).UTC(), in.Messages[1].Timestamp)
	})

	t.Run("success - status updates carry no messages", func(t *testing.T) {
		body := []byte(`{
			"object": "whatsapp_business_account",
			"entry": [{"changes": [{"field": "messages", "value": {"metadata": {"phone_number_id": "pn-1"}, "statuses": [{"id": "wamid.1", "status": "read"}]}}]}]
		}`)

		in, err := ParseInbound(body)
		require.NoError(t, err)
		assert.False(t, in.IsMessage())
	})
}

func TestParseInbound_Errors(t *testing.T) {
	t.Run("error - invalid json", func(t *testing.T) {
		_, err := ParseInbound([]byte(`{`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unmarshaling inbound body")
	})

	t.Run("error - unknown envelope", func(t *testing.T) {
		_, err := ParseInbound([]byte(`{"hello":"world"}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unrecognized inbound envelope")
	})
}

func TestSource_String(t *testing.T) {
	assert.Equal(t, "evolution", SourceEvolution.String())
	assert.Equal(t, "cloud_api", SourceCloudAPI.String())
	assert.Equal(t, "unknown", Source(0).String())
}
