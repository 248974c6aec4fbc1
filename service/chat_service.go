package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"

	"github.com/ggawoos-bot/chat5M/models"
)

// Canned replies for when no model answer can be produced. The user always
// gets a Korean sentence, never a raw error.
const (
	quotaExceededReply = "답변 요청 한도를 초과했습니다. 잠시 후 다시 시도해 주세요."
	noServiceReply     = "현재 서비스 이용이 불가능합니다. 관리자에게 문의해 주세요."
	genericFailReply   = "죄송합니다. 현재 서비스에 일시적인 문제가 발생했습니다. 잠시 후 다시 시도해 주세요."
)

const systemInstructionTemplate = `당신은 금연 관련 법령과 지방자치단체 업무지침을 안내하는 전문 상담 챗봇입니다.

아래 제공된 문서 내용만을 근거로 답변하세요.
- 문서에 없는 내용은 추측하지 말고 해당 내용을 찾을 수 없다고 답하세요.
- 답변은 한국어로 정확하고 간결하게 작성하세요.
- 근거가 되는 문서 제목과 페이지 번호를 함께 안내하세요. 본문의 [PAGE_N] 표시가 페이지 번호입니다.

제공된 문서:
{sourceText}`

// ChatService answers user questions over the regulation corpus. Each
// request runs question analysis, context selection, and a Gemini chat call
// with key rotation and retry behind it.
type ChatService struct {
	keyring    *KeyringService
	analyzer   *AnalyzerService
	selector   *ContextService
	model      string
	maxRetries int
	retryDelay time.Duration
}

// ChatOption customizes a ChatService
type ChatOption func(*ChatService)

// ChatWithModel overrides the Gemini model name
func ChatWithModel(model string) ChatOption {
	return func(s *ChatService) { s.model = model }
}

// ChatWithRetryPolicy overrides the retry count and base backoff delay
func ChatWithRetryPolicy(maxRetries int, retryDelay time.Duration) ChatOption {
	return func(s *ChatService) {
		s.maxRetries = maxRetries
		s.retryDelay = retryDelay
	}
}

// NewChatService creates the chat orchestrator
func NewChatService(keyring *KeyringService, analyzer *AnalyzerService, selector *ContextService, opts ...ChatOption) *ChatService {
	s := &ChatService{
		keyring:    keyring,
		analyzer:   analyzer,
		selector:   selector,
		model:      "gemini-2.5-flash",
		maxRetries: 3,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Respond produces one complete answer. It never returns an error to the
// caller; failures degrade to a canned Korean reply.
func (s *ChatService) Respond(ctx context.Context, message string, history []models.ChatMessage) string {
	analysis := s.analyzer.Analyze(ctx, message)
	instruction := s.buildInstruction(analysis, false)

	op := func(ctx context.Context) (string, error) {
		issued, err := s.keyring.NextKey(ctx)
		if err != nil {
			return "", err
		}

		client, err := newGeminiClient(ctx, issued.Key)
		if err != nil {
			return "", err
		}
		defer client.Close()

		cs := s.startChat(client, instruction, history)
		resp, err := cs.SendMessage(ctx, genai.Text(message))
		if err != nil {
			s.keyring.RecordFailure(ctx, issued, err)
			return "", err
		}

		allowed, err := s.keyring.RecordUsage(ctx, issued)
		if err != nil {
			return "", err
		}
		if !allowed {
			return "", ErrNoCapacity
		}

		answer := responseText(resp)
		if answer == "" {
			return "", errors.New("empty model response")
		}
		return answer, nil
	}

	answer, err := ExecuteWithRetry(ctx, op, s.maxRetries, s.retryDelay, s.failover)
	if err != nil {
		log.Printf("Chat request failed: %v", err)
		return failureReply(err)
	}
	return answer
}

// RespondStream produces the answer as a channel of text deltas. The channel
// is closed when the answer is complete; a failed request yields a single
// canned reply on the channel.
func (s *ChatService) RespondStream(ctx context.Context, message string, history []models.ChatMessage) <-chan string {
	out := make(chan string)

	analysis := s.analyzer.Analyze(ctx, message)
	instruction := s.buildInstruction(analysis, true)

	type streamHandle struct {
		client *genai.Client
		iter   *genai.GenerateContentResponseIterator
		first  *genai.GenerateContentResponse
	}

	op := func(ctx context.Context) (*streamHandle, error) {
		issued, err := s.keyring.NextKey(ctx)
		if err != nil {
			return nil, err
		}

		client, err := newGeminiClient(ctx, issued.Key)
		if err != nil {
			return nil, err
		}

		cs := s.startChat(client, instruction, history)
		iter := cs.SendMessageStream(ctx, genai.Text(message))

		// The first chunk proves the call was dispatched; quota is
		// counted here, not per chunk.
		first, err := iter.Next()
		if err != nil {
			client.Close()
			s.keyring.RecordFailure(ctx, issued, err)
			return nil, err
		}

		allowed, err := s.keyring.RecordUsage(ctx, issued)
		if err != nil {
			client.Close()
			return nil, err
		}
		if !allowed {
			client.Close()
			return nil, ErrNoCapacity
		}

		return &streamHandle{client: client, iter: iter, first: first}, nil
	}

	go func() {
		defer close(out)

		handle, err := ExecuteWithRetry(ctx, op, s.maxRetries, s.retryDelay, s.failover)
		if err != nil {
			log.Printf("Streaming chat request failed: %v", err)
			select {
			case out <- failureReply(err):
			case <-ctx.Done():
			}
			return
		}
		defer handle.client.Close()

		emit := func(resp *genai.GenerateContentResponse) bool {
			text := responseText(resp)
			if text == "" {
				return true
			}
			select {
			case out <- text:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit(handle.first) {
			return
		}
		for {
			resp, err := handle.iter.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				log.Printf("Stream interrupted: %v", err)
				return
			}
			if !emit(resp) {
				return
			}
		}
	}()

	return out
}

// failover decides whether rotating to another key can still help
func (s *ChatService) failover(err error) bool {
	return !errors.Is(err, ErrNoCredentials) && !errors.Is(err, ErrNoCapacity)
}

func failureReply(err error) string {
	switch {
	case errors.Is(err, ErrNoCredentials):
		return noServiceReply
	case errors.Is(err, ErrNoCapacity) || IsQuotaExhausted(err) || IsRateLimited(err):
		return quotaExceededReply
	default:
		return genericFailReply
	}
}

func (s *ChatService) startChat(client *genai.Client, instruction string, history []models.ChatMessage) *genai.ChatSession {
	model := client.GenerativeModel(s.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(instruction)},
	}

	cs := model.StartChat()
	for _, msg := range history {
		role := msg.Role
		if role != "model" {
			role = "user"
		}
		cs.History = append(cs.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	return cs
}

// buildInstruction renders the system instruction with the selected context
// substituted in. Streaming mode includes each chunk's relevance score so
// the model can weight its citations.
func (s *ChatService) buildInstruction(analysis models.QuestionAnalysis, streaming bool) string {
	scored := s.selector.SelectScored(analysis)

	sourceText := "관련 문서를 찾을 수 없습니다."
	if len(scored) > 0 {
		blocks := make([]string, len(scored))
		for i, sc := range scored {
			header := fmt.Sprintf("[문서 %d: %s", i+1, sc.Metadata.Title)
			if sc.Location.Section != "" {
				header += " - " + sc.Location.Section
			}
			header += "]"

			lines := []string{header}
			if streaming {
				lines = append(lines, fmt.Sprintf("관련도: %.2f", sc.RelevanceScore))
			}
			lines = append(lines, sc.Content)
			blocks[i] = strings.Join(lines, "\n")
		}
		sourceText = strings.Join(blocks, "\n---\n")
	}

	return strings.ReplaceAll(systemInstructionTemplate, "{sourceText}", sourceText)
}
