package openai_provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mohammad-safakhou/docqa/config"
	"github.com/mohammad-safakhou/docqa/models"
)

// ragPrompt is the fixed template used for retrieval-augmented answers.
// Context spans are joined with newlines in retrieval order.
const ragPrompt = `You are an assistant for question-answering tasks. Use the following pieces of retrieved context to answer the question. If you don't know the answer, just say that you don't know. Keep the answer concise.

Context:
%s

Question: %s`

// Client implements embeddings and generation against the OpenAI API.
type Client struct {
	api             *openai.Client
	completionModel string
	embeddingModel  string
	temperature     float32
	maxTokens       int
}

// NewClient creates an OpenAI-backed provider from configuration.
func NewClient(cfg config.OpenAIConfig) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		api:             openai.NewClientWithConfig(clientCfg),
		completionModel: cfg.CompletionModel,
		embeddingModel:  cfg.EmbeddingModel,
		temperature:     cfg.Temperature,
		maxTokens:       cfg.MaxTokens,
	}
}

// ModelID identifies the embedding model; it is persisted alongside the
// vector index so model drift is detected at query time.
func (c *Client) ModelID() string { return "openai/" + c.embeddingModel }

// CreateEmbedding generates embeddings for the given texts in one batch.
func (c *Client) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("create embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	vecs := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("create embeddings: index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

// Answer produces a complete answer to the question conditioned on the
// retrieved context spans. Failures (timeout, quota, empty response)
// surface as errors; there is never a truncated silent result.
func (c *Client) Answer(ctx context.Context, question string, contexts []string) (models.Answer, error) {
	prompt := fmt.Sprintf(ragPrompt, strings.Join(contexts, "\n"), question)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.completionModel,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return models.Answer{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.Answer{}, errors.New("chat completion: no choices in response")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonLength {
		return models.Answer{}, errors.New("chat completion: answer truncated by token limit")
	}
	return models.Answer{
		Text:       choice.Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}
