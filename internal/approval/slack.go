package approval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/slack-go/slack"
)

// SlackAdapter posts approval questions to a channel and polls the message
// thread for "approve" or "reject" replies.
type SlackAdapter struct {
	api       *slack.Client
	channelID string

	mu      sync.Mutex
	threads map[string]string // request id -> message timestamp
}

// NewSlackAdapter builds an adapter posting to one channel.
func NewSlackAdapter(token, channelID string) *SlackAdapter {
	return &SlackAdapter{
		api:       slack.New(token),
		channelID: channelID,
		threads:   make(map[string]string),
	}
}

// Name returns the channel name.
func (a *SlackAdapter) Name() string { return "slack" }

// SendNotification posts the question and remembers the thread timestamp
// for response polling.
func (a *SlackAdapter) SendNotification(ctx context.Context, req *Request) error {
	text := fmt.Sprintf(":raised_hand: *FABER approval required* (`%s`)\nWorkflow `%s`, phase `%s`:\n> %s\nReply in thread with `approve` or `reject`.",
		req.ID, req.WorkflowID, req.Phase, req.Question)

	_, ts, err := a.api.PostMessageContext(ctx, a.channelID, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("post slack message: %w", err)
	}
	a.mu.Lock()
	a.threads[req.ID] = ts
	a.mu.Unlock()
	return nil
}

// PollResponse reads the message thread for a decision reply.
func (a *SlackAdapter) PollResponse(ctx context.Context, req *Request) (*Response, error) {
	a.mu.Lock()
	ts, ok := a.threads[req.ID]
	a.mu.Unlock()
	if !ok {
		return nil, nil
	}

	msgs, _, _, err := a.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: a.channelID,
		Timestamp: ts,
	})
	if err != nil {
		return nil, fmt.Errorf("read slack thread: %w", err)
	}
	for _, msg := range msgs {
		if msg.Timestamp == ts {
			continue // the notification itself
		}
		text := strings.ToLower(strings.TrimSpace(msg.Text))
		switch text {
		case "approve", "yes", "y":
			return &Response{RequestID: req.ID, Decision: DecisionApprove, Responder: msg.User, Channel: "slack"}, nil
		case "reject", "no", "n":
			return &Response{RequestID: req.ID, Decision: DecisionReject, Responder: msg.User, Channel: "slack"}, nil
		}
	}
	return nil, nil
}
