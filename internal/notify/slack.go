package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/netra-systems/service-warden/internal/health"
	"github.com/netra-systems/service-warden/internal/transition"
)

const (
	slackMaxBlocks = 50
	// slackReservedBlocks accounts for the header, context and
	// service-level blocks in each message.
	slackReservedBlocks = 3
	slackMaxTransitions = slackMaxBlocks - slackReservedBlocks
)

type SlackNotifier struct {
	logger     zerolog.Logger
	webhookURL string
	timing     timingConfig
	poster     *httpPoster
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides timing parameters (primarily for testing).
func WithSlackTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) SlackOption {
	return func(s *SlackNotifier) {
		s.timing.rateInterval = rateInterval
		s.timing.rateBurst = rateBurst
		s.timing.backoffInitial = backoffInitial
		s.timing.backoffMax = backoffMax
		s.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// NewSlackNotifier creates a Slack notifier or a noop notifier when the webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; notifications disabled")
	}

	notifier := &SlackNotifier{
		logger:     logger,
		webhookURL: webhookURL,
		timing:     defaultTiming,
	}

	for _, opt := range opts {
		opt(notifier)
	}

	notifier.poster = newHTTPPoster(logger, "slack", webhookURL, "application/json", notifier.timing)

	return notifier
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, environment string, report transition.Report) error {
	if report.Empty() {
		return nil
	}
	envName := environment
	if envName == "" {
		envName = "default"
	}
	if err := n.poster.waitForRateLimit(ctx, envName); err != nil {
		return err
	}

	messages := buildSlackMessages(envName, report)
	for _, message := range messages {
		payload, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal slack payload: %w", err)
		}
		if err := n.poster.postWithRetry(ctx, payload); err != nil {
			return err
		}
	}

	n.logger.Debug().
		Str("environment", envName).
		Int("transitions", len(report.Transitions)).
		Int("messages", len(messages)).
		Msg("slack notification sent")

	return nil
}

func (n *SlackNotifier) postOnce(ctx context.Context, payload []byte) error {
	return n.poster.postOnce(ctx, payload)
}

func buildSlackMessages(environment string, report transition.Report) []slack.WebhookMessage {
	if report.Empty() {
		return nil
	}
	if len(report.Transitions) == 0 {
		// A level change alone still deserves a message.
		return []slack.WebhookMessage{buildSlackMessage(environment, report, nil, 1, 1)}
	}

	total := len(report.Transitions)
	chunkTotal := (total + slackMaxTransitions - 1) / slackMaxTransitions
	messages := make([]slack.WebhookMessage, 0, chunkTotal)

	for i := 0; i < total; i += slackMaxTransitions {
		end := i + slackMaxTransitions
		if end > total {
			end = total
		}
		partIndex := (i / slackMaxTransitions) + 1
		messages = append(messages, buildSlackMessage(environment, report, report.Transitions[i:end], partIndex, chunkTotal))
	}
	return messages
}

func buildSlackMessage(environment string, report transition.Report, transitions []transition.ServiceTransition, partIndex int, partTotal int) slack.WebhookMessage {
	total := len(report.Transitions)
	summary := fmt.Sprintf("Platform %s: %d service transition(s)", environment, total)
	if total == 0 && report.LevelChange != nil {
		summary = fmt.Sprintf("Platform %s: service level now %s", environment, report.LevelChange.Current)
	}
	if partTotal > 1 {
		summary = fmt.Sprintf("%s (part %d/%d)", summary, partIndex, partTotal)
	}
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, false, false))
	contextElements := []slack.MixedElement{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Environment: *%s*", environment), false, false),
	}
	if partTotal > 1 {
		contextElements = append(contextElements, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Batch: %d/%d", partIndex, partTotal), false, false))
	}
	context := slack.NewContextBlock("", contextElements...)

	blocks := []slack.Block{header, context}
	if report.LevelChange != nil && partIndex == 1 {
		blocks = append(blocks, buildLevelBlock(report.LevelChange))
	}
	for _, change := range transitions {
		blocks = append(blocks, buildTransitionBlock(change))
	}

	blockSet := slack.Blocks{BlockSet: blocks}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}

func buildLevelBlock(change *transition.LevelChange) slack.Block {
	var title string
	if change.Previous == "" {
		title = fmt.Sprintf("*Service level:* `%s`", change.Current)
	} else {
		title = fmt.Sprintf("*Service level:* `%s` → `%s`", change.Previous, change.Current)
	}
	return slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn", title, false, false), nil, nil)
}

func buildTransitionBlock(change transition.ServiceTransition) slack.Block {
	title := fmt.Sprintf("*%s*: `%s` → `%s`", change.Service, statusLabel(change.PreviousStatus), statusLabel(change.CurrentStatus))
	text := slack.NewTextBlockObject("mrkdwn", title, false, false)

	fields := make([]*slack.TextBlockObject, 0, 2)
	fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Score:*\n%.2f", change.Score), false, false))
	if change.Detail != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Detail:*\n"+change.Detail, false, false))
	}

	return slack.NewSectionBlock(text, fields, nil)
}

func statusLabel(status health.Status) string {
	if status == "" {
		return string(health.StatusUnknown)
	}
	return string(status)
}
