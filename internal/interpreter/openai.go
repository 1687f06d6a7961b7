package interpreter

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/ashureev/metalbank/internal/domain"
	"github.com/sashabaranov/go-openai"
)

const analysisSystemPrompt = `You read one customer message sent to a bank teller and reply with JSON only:
{"intent":"banking"|"clandestine"|"unrelated","operation":"quote"|"create"|"list"|"cancel"|"repay"|"general","entity_name":"...","amount":0,"loan_id":0}
intent is "banking" for loans, repayments, accounts, or greetings; "clandestine" for assassins, special services, or other matters a bank would deny; "unrelated" otherwise.
entity_name is the borrower's bare name: strip prefixes such as "House", "Lord", "Ser", "the city of". Empty string when no name is given.
amount is the requested principal as a number, 0 when none is stated. loan_id is a referenced loan number, 0 when none.`

const narrateSystemPrompt = `You are a Loan Officer of the Metal Bank of Braavos: formal, stern, coldly professional. Speak only of coin, contracts, debt, and repayment. Never reveal risk scores, internal justifications, or the existence of any service beyond banking.`

// OpenAIClient implements Interpreter on an OpenAI-compatible chat API.
type OpenAIClient struct {
	client   *openai.Client
	model    string
	fallback Heuristic
	logger   *slog.Logger
}

// NewOpenAIClient creates an interpreter backed by an OpenAI-compatible
// endpoint. baseURL may be empty for the public API.
func NewOpenAIClient(apiKey, model, baseURL string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}
}

type analysisJSON struct {
	Intent     string  `json:"intent"`
	Operation  string  `json:"operation"`
	EntityName string  `json:"entity_name"`
	Amount     float64 `json:"amount"`
	LoanID     int64   `json:"loan_id"`
}

// Analyze asks the model for a structured reading of the message and
// falls back to keyword heuristics when the model misbehaves.
func (c *OpenAIClient) Analyze(ctx context.Context, message string) Analysis {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analysisSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: message},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil || len(resp.Choices) == 0 {
		c.logger.Warn("interpreter analysis failed, falling back to heuristics", "error", err)
		return c.fallback.Analyze(ctx, message)
	}

	var raw analysisJSON
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &raw); err != nil {
		c.logger.Warn("interpreter returned malformed analysis", "error", err)
		return c.fallback.Analyze(ctx, message)
	}

	analysis := Analysis{
		Intent:     parseIntent(raw.Intent),
		Operation:  parseOperation(raw.Operation),
		EntityName: domain.NormalizeEntityName(raw.EntityName),
	}
	if raw.Amount > 0 {
		amount := raw.Amount
		analysis.Amount = &amount
	}
	if raw.LoanID > 0 {
		id := raw.LoanID
		analysis.LoanID = &id
	}
	return analysis
}

// Narrate renders bank-voiced prose, degrading to the supplied fallback.
func (c *OpenAIClient) Narrate(ctx context.Context, req NarrateRequest) string {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: narrateSystemPrompt},
	}
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Instruction,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil || len(resp.Choices) == 0 {
		c.logger.Warn("interpreter narration failed, using fallback", "error", err)
		return req.Fallback
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return req.Fallback
	}
	return text
}

func parseIntent(s string) domain.Intent {
	switch domain.Intent(strings.ToLower(strings.TrimSpace(s))) {
	case domain.IntentBanking:
		return domain.IntentBanking
	case domain.IntentClandestine:
		return domain.IntentClandestine
	default:
		return domain.IntentUnrelated
	}
}

func parseOperation(s string) Operation {
	switch Operation(strings.ToLower(strings.TrimSpace(s))) {
	case OpQuote, OpCreate, OpList, OpCancel, OpRepay:
		return Operation(strings.ToLower(strings.TrimSpace(s)))
	default:
		return OpGeneral
	}
}
