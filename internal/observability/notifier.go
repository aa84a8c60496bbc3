package observability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/valter-silva-au/tasksync/pkg/models"
)

// AlertNotifier sends alert summaries to external channels.
type AlertNotifier interface {
	NotifyAlerts(alerts []Alert) error
}

// SlackNotifier posts notification intents and alert summaries to a Slack
// incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier creates a SlackNotifier for the given webhook URL.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Notify posts a single notification as one section block.
func (s *SlackNotifier) Notify(n models.Notification) error {
	icon := "✅"
	if n.Kind == models.NotifyError {
		icon = "❌"
	}
	text := fmt.Sprintf("%s %s", icon, n.Message)
	if n.Detail != "" {
		text += fmt.Sprintf("\n_%s_", n.Detail)
	}
	return s.post(slackMessage{Blocks: []slackBlock{{
		Type: "section",
		Text: &slackText{Type: "mrkdwn", Text: text},
	}}})
}

// NotifyAlerts sends the given alerts as one summary message. It returns nil
// without making a request if there are no alerts.
func (s *SlackNotifier) NotifyAlerts(alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	return s.post(s.buildAlertMessage(alerts))
}

func (s *SlackNotifier) post(msg slackMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling slack message: %w", err)
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("posting to slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *SlackNotifier) buildAlertMessage(alerts []Alert) slackMessage {
	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: "tsync Alert Summary"},
		},
	}

	for i, alert := range alerts {
		if i > 0 {
			blocks = append(blocks, slackBlock{Type: "divider"})
		}
		text := fmt.Sprintf("%s *[%s]* %s\n_%s_",
			severityEmoji(alert.Severity),
			strings.ToUpper(string(alert.Severity)),
			alert.Message,
			alert.TriggeredAt.Format("2006-01-02 15:04 UTC"),
		)
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: text},
		})
	}

	return slackMessage{Blocks: blocks}
}

func severityEmoji(severity AlertSeverity) string {
	switch severity {
	case SeverityHigh:
		return "\U0001f534"
	case SeverityMedium:
		return "\U0001f7e1"
	case SeverityLow:
		return "\U0001f535"
	default:
		return "❓"
	}
}
