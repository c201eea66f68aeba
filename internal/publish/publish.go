// Package publish sends the final run summary to a NATS subject so alerting
// can react without scraping console output.
package publish

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/signalnine/stopprobe/internal/result"
)

// Publisher is connected to a single NATS server.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

func Connect(url, subject string) (*Publisher, error) {
	if subject == "" {
		return nil, fmt.Errorf("publish subject is required")
	}
	nc, err := nats.Connect(url,
		nats.Name("stopprobe"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(0))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}
	return &Publisher{nc: nc, subject: subject}, nil
}

// Subject returns the subject for a summary: the base subject, then
// ".reproduced" or ".clean".
func Subject(base string, s *result.Summary) string {
	base = strings.TrimSuffix(base, ".")
	if s.BugReproduced() {
		return base + ".reproduced"
	}
	return base + ".clean"
}

// Encode builds the message for s. The run id travels as a header so
// consumers can deduplicate.
func Encode(subject string, s *result.Summary) (*nats.Msg, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling summary: %w", err)
	}
	msg := nats.NewMsg(Subject(subject, s))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, s.RunID)
	msg.Header.Set("Stopprobe-Model", s.Model)
	return msg, nil
}

func (p *Publisher) PublishSummary(s *result.Summary) error {
	msg, err := Encode(p.subject, s)
	if err != nil {
		return err
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing summary: %w", err)
	}
	if err := p.nc.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("flushing summary: %w", err)
	}
	return nil
}

func (p *Publisher) Close() {
	p.nc.Close()
}
