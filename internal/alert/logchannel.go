package alert

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// LogChannel is a stand-in alert channel for deployments without an SMS
// gateway. Every send is logged and acknowledged with a synthetic ref so
// the dispatch pipeline behaves the same as in production.
type LogChannel struct {
	logger log.Logger
}

// NewLogChannel creates a channel that only logs.
func NewLogChannel(logger log.Logger) *LogChannel {
	if logger == nil {
		logger = log.Nop()
	}
	return &LogChannel{logger: logger}
}

func (c *LogChannel) SendSMS(ctx context.Context, to, body string) (string, error) {
	ref := fmt.Sprintf("log-sms-%s", ulid.Make())
	c.logger.Info(ctx, "sms suppressed, no gateway configured", "to", to, "body", body, "ref", ref)
	return ref, nil
}

func (c *LogChannel) PlaceCall(ctx context.Context, to, spokenMessage string) (string, error) {
	ref := fmt.Sprintf("log-call-%s", ulid.Make())
	c.logger.Info(ctx, "call suppressed, no gateway configured", "to", to, "message", spokenMessage, "ref", ref)
	return ref, nil
}
