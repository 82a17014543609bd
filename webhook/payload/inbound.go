package payload

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Source identifies which gateway produced an inbound envelope
type Source int

const (
	SourceEvolution Source = iota + 1
	SourceCloudAPI
)

func (s Source) String() string {
	switch s {
	case SourceEvolution:
		return "evolution"
	case SourceCloudAPI:
		return "cloud_api"
	default:
		return "unknown"
	}
}

// evolutionMessageEvent is the Evolution API event carrying new messages,
// normalized from both "messages.upsert" and "MESSAGES_UPSERT"
const evolutionMessageEvent = "messages.upsert"

// Message is one inbound message with the stable identifiers used for fingerprinting
type Message struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Instance       string    `json:"instance"`
	Text           string    `json:"text,omitempty"`
	PushName       string    `json:"push_name,omitempty"`
	FromMe         bool      `json:"from_me"`
	Timestamp      time.Time `json:"timestamp"`
}

// Inbound is a parsed inbound webhook envelope
type Inbound struct {
	Source   Source
	Event    string
	Instance string
	Messages []Message
}

// IsMessage reports whether the envelope carries at least one message
func (in Inbound) IsMessage() bool {
	return len(in.Messages) > 0
}

type evolutionEnvelope struct {
	Event    string `json:"event"`
	Instance string `json:"instance"`
	Data     struct {
		Key struct {
			RemoteJid string `json:"remoteJid"`
			FromMe    bool   `json:"fromMe"`
			ID        string `json:"id"`
		} `json:"key"`
		PushName string `json:"pushName"`
		Message  struct {
			Conversation        string `json:"conversation"`
			ExtendedTextMessage struct {
				Text string `json:"text"`
			} `json:"extendedTextMessage"`
		} `json:"message"`
		MessageTimestamp json.Number `json:"messageTimestamp"`
	} `json:"data"`
}

type cloudEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseInbound decodes a raw inbound body as either a Cloud API envelope
// (object + entry) or an Evolution API event (event + data.key).
func ParseInbound(body []byte) (Inbound, error) {
	var head struct {
		Object string          `json:"object"`
		Entry  json.RawMessage `json:"entry"`
		Event  string          `json:"event"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return Inbound{}, fmt.Errorf("unmarshaling inbound body: %w", err)
	}

	switch {
	case head.Object != "" || len(head.Entry) > 0:
		return parseCloud(body)
	case head.Event != "":
		return parseEvolution(body)
	default:
		return Inbound{}, fmt.Errorf("unrecognized inbound envelope")
	}
}

func parseEvolution(body []byte) (Inbound, error) {
	var env evolutionEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Inbound{}, fmt.Errorf("unmarshaling evolution event: %w", err)
	}

	in := Inbound{
		Source:   SourceEvolution,
		Event:    NormalizeEvent(env.Event),
		Instance: env.Instance,
	}
	if in.Event != evolutionMessageEvent {
		return in, nil
	}

	text := env.Data.Message.Conversation
	if text == "" {
		text = env.Data.Message.ExtendedTextMessage.Text
	}

	in.Messages = []Message{{
		MessageID:      env.Data.Key.ID,
		ConversationID: env.Data.Key.RemoteJid,
		Instance:       env.Instance,
		Text:           text,
		PushName:       env.Data.PushName,
		FromMe:         env.Data.Key.FromMe,
		Timestamp:      unixTime(env.Data.MessageTimestamp.String()),
	}}

	return in, nil
}

func parseCloud(body []byte) (Inbound, error) {
	var env cloudEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Inbound{}, fmt.Errorf("unmarshaling cloud api envelope: %w", err)
	}

	in := Inbound{Source: SourceCloudAPI, Event: env.Object}
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			instance := change.Value.Metadata.PhoneNumberID
			if in.Instance == "" {
				in.Instance = instance
			}

			var pushName string
			if len(change.Value.Contacts) > 0 {
				pushName = change.Value.Contacts[0].Profile.Name
			}

			for _, m := range change.Value.Messages {
				in.Messages = append(in.Messages, Message{
					MessageID:      m.ID,
					ConversationID: m.From,
					Instance:       instance,
					Text:           m.Text.Body,
					PushName:       pushName,
					Timestamp:      unixTime(m.Timestamp),
				})
			}
		}
	}

	return in, nil
}

// NormalizeEvent maps "MESSAGES_UPSERT" style names to "messages.upsert"
func NormalizeEvent(event string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(event)), "_", ".")
}

func unixTime(raw string) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
