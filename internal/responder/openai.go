package responder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const supportSystemPrompt = `You are a support assistant for an online fan platform.
Answer the user's question helpfully and concisely in the user's language.

Return the response as a JSON object with this structure:
{
    "response": "your_answer",
    "confidence": 0.0,
    "fallback": false
}

Set "confidence" between 0 and 1 to how certain you are the answer is correct.
Set "fallback" to true if you cannot answer the question at all.`

type OpenAIResponder struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	logger      *zap.Logger
}

func NewOpenAIResponder(apiKey, model string, maxTokens int, temperature float64, timeout time.Duration, logger *zap.Logger) *OpenAIResponder {
	return &OpenAIResponder{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
		logger:      logger,
	}
}

func (r *OpenAIResponder) Generate(ctx context.Context, req Request) (Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: supportSystemPrompt,
	})
	for _, turn := range req.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: turn.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserMessage,
	})

	resp, err := r.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       r.model,
			Messages:    messages,
			MaxTokens:   r.maxTokens,
			Temperature: float32(r.temperature),
		},
	)
	if err != nil {
		r.logger.Error("Failed to get generative response",
			zap.Error(err),
			zap.String("conversation_id", req.ConversationID))
		return Reply{}, fmt.Errorf("generative call failed: %w", err)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	var reply Reply
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		r.logger.Error("Failed to parse generative response",
			zap.Error(err),
			zap.String("response", content))
		return Reply{}, fmt.Errorf("malformed generative response: %w", err)
	}
	if strings.TrimSpace(reply.Response) == "" {
		reply.Fallback = true
	}
	return reply, nil
}
