package notify

import (
	"fmt"
	"sort"

	"github.com/slack-go/slack"
)

type SlackSink struct {
	client  *slack.Client
	channel string
}

func NewSlackSink(token, channel string) *SlackSink {
	return &SlackSink{
		client:  slack.New(token),
		channel: channel,
	}
}

func (s *SlackSink) Send(event Event) error {
	fields := make([]slack.AttachmentField, 0, len(event.Payload))
	keys := make([]string, 0, len(event.Payload))
	for k := range event.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, slack.AttachmentField{
			Title: k,
			Value: fmt.Sprintf("%v", event.Payload[k]),
			Short: true,
		})
	}

	attachment := slack.Attachment{
		Color:  eventColor(event.Type),
		Title:  event.Type,
		Fields: fields,
		Footer: "Dealflow Recurring Billing",
	}

	_, _, err := s.client.PostMessage(s.channel, slack.MsgOptionAttachments(attachment))
	return err
}

func eventColor(eventType string) string {
	switch eventType {
	case EventSeriesStarted:
		return "#36a64f"
	case EventSeriesCompleted:
		return "#439fe0"
	default:
		return "#808080"
	}
}
