package notify

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/gomail.v2"
)

type EmailSink struct {
	dialer    *gomail.Dialer
	from      string
	receivers []string
}

func NewEmailSink(smtpHost string, smtpPort int, from, password string, receivers []string) *EmailSink {
	return &EmailSink{
		dialer:    gomail.NewDialer(smtpHost, smtpPort, from, password),
		from:      from,
		receivers: receivers,
	}
}

func (e *EmailSink) Send(event Event) error {
	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", e.receivers...)
	m.SetHeader("Subject", fmt.Sprintf("Dealflow: %s (team %d)", event.Type, event.TeamID))

	var body strings.Builder
	keys := make([]string, 0, len(event.Payload))
	for k := range event.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&body, "%s: %v\n", k, event.Payload[k])
	}
	m.SetBody("text/plain", body.String())

	return e.dialer.DialAndSend(m)
}
