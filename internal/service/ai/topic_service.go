// Package ai suggests chat topics with an LLM chain.
package ai

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/supportdesk/backend/internal/config"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
)

const (
	historyLimit  = 20
	maxTopicRunes = 60
)

// TopicService summarizes a finished conversation into a short topic.
type TopicService struct {
	prompts *TopicPromptManager
	chain   compose.Runnable[map[string]any, *schema.Message]
}

// NewTopicServiceFromConfig creates the Ark chat model described by cfg and
// wraps it in a TopicService.
func NewTopicServiceFromConfig(ctx context.Context, cfg config.AIConfig) (*TopicService, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewTopicService(ctx, chatModel)
}

// NewTopicService compiles the summarization chain over chatModel.
func NewTopicService(ctx context.Context, chatModel model.BaseChatModel) (*TopicService, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile topic chain: %w", err)
	}

	return &TopicService{
		prompts: NewTopicPromptManager(),
		chain:   runnable,
	}, nil
}

// SuggestTopic returns a topic for the conversation, or "" when there is
// nothing to summarize.
func (s *TopicService) SuggestTopic(ctx context.Context, messages []chat.Message) (string, error) {
	history := buildHistoryMessages(messages)
	if len(history) == 0 {
		return "", nil
	}

	lang := DetectLanguage(transcript(messages))
	input := map[string]any{
		"system":  s.prompts.BuildSystemPrompt(lang),
		"history": history,
		"query":   topicQuery(lang),
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run topic chain: %w", err)
	}

	topic := NormalizeTopic(response.Content)
	log.WithFields(log.Fields{"lang": lang, "topic": topic}).Debug("topic suggested")
	return topic, nil
}

// buildHistoryMessages maps the tail of a transcript onto chat roles: the
// client is the user and the operator the assistant.
func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.SenderType {
		case chat.SenderClient:
			history = append(history, schema.UserMessage(msg.Text))
		case chat.SenderOperator:
			history = append(history, schema.AssistantMessage(msg.Text, nil))
		}
	}
	return history
}

func transcript(messages []chat.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		b.WriteString(msg.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

func topicQuery(lang string) string {
	if lang == "ru" {
		return "Назови тему этого обращения."
	}
	return "Name the topic of this request."
}

// NormalizeTopic keeps the first line of a model answer without quotes,
// labels or trailing punctuation, capped to a short length.
func NormalizeTopic(raw string) string {
	topic := strings.TrimSpace(raw)
	if i := strings.IndexByte(topic, '\n'); i >= 0 {
		topic = topic[:i]
	}
	for _, prefix := range []string{"Topic:", "topic:", "Тема:", "тема:"} {
		topic = strings.TrimPrefix(topic, prefix)
	}
	topic = strings.TrimSpace(topic)
	topic = strings.Trim(topic, "\"'«»“”`")
	topic = strings.TrimRightFunc(topic, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})

	runes := []rune(topic)
	if len(runes) > maxTopicRunes {
		topic = strings.TrimSpace(string(runes[:maxTopicRunes]))
	}
	return topic
}
