package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ansontyyeung/AnonymousChatPOC/internal/errs"
)

// Input 是发送给内容分类器的请求。
type Input struct {
	Text           string `json:"message"`
	RoomID         string `json:"chatRoomId"`
	ReporterID     string `json:"reporterId"`
	ReportedUserID string `json:"reportedUserId"`
}

// Verdict 是分类结果。
type Verdict struct {
	IsToxic bool   `json:"isToxic"`
	Reason  string `json:"reason"`
}

// Classifier 判断一条被举报的消息是否违规。实现应当尊重 ctx 的截止时间。
type Classifier interface {
	Classify(ctx context.Context, in Input) (Verdict, error)
}

// ClassifierFunc 让普通函数满足 Classifier。
type ClassifierFunc func(ctx context.Context, in Input) (Verdict, error)

func (f ClassifierFunc) Classify(ctx context.Context, in Input) (Verdict, error) {
	return f(ctx, in)
}

// HTTPClassifier 调用 OpenAI 兼容的 chat completions 接口做分类。
type HTTPClassifier struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

func NewHTTPClassifier(url, apiKey, model string, timeout time.Duration) *HTTPClassifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClassifier{
		url:    url,
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

type llmMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type llmRequest struct {
	Model       string       `json:"model"`
	Messages    []llmMessage `json:"messages"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens"`
}

type llmResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const systemPrompt = `You are an assistant specializing in detecting toxic behavior in chat messages.
Determine if the reported message is toxic, hateful, harassing or otherwise inappropriate. If it is, explain why in one sentence.
Return ONLY valid JSON, no markdown or explanation, in this format:
{"isToxic": true/false, "reason": "explanation here"}`

func userPrompt(in Input) string {
	return fmt.Sprintf(`A user has reported the following message as inappropriate:
"%s"
The message was sent by user %s in chat room %s.
The message was reported by user %s.`, in.Text, in.ReportedUserID, in.RoomID, in.ReporterID)
}

func (c *HTTPClassifier) Classify(ctx context.Context, in Input) (Verdict, error) {
	body, err := json.Marshal(llmRequest{
		Model: c.model,
		Messages: []llmMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(in)},
		},
		Temperature: 0,
		MaxTokens:   256,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", errs.ErrClassifierFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", errs.ErrClassifierFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return Verdict{}, fmt.Errorf("%w: %v", errs.ErrClassifierTimeout, err)
		}
		return Verdict{}, fmt.Errorf("%w: %v", errs.ErrClassifierFailure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: read body: %v", errs.ErrClassifierFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("%w: API returned %d: %s", errs.ErrClassifierFailure, resp.StatusCode, truncate(string(raw), 200))
	}

	var llmResp llmResponse
	if err := json.Unmarshal(raw, &llmResp); err != nil {
		return Verdict{}, fmt.Errorf("%w: decode response: %v", errs.ErrClassifierFailure, err)
	}
	if len(llmResp.Choices) == 0 {
		return Verdict{}, fmt.Errorf("%w: empty response from API", errs.ErrClassifierFailure)
	}
	return parseVerdict(llmResp.Choices[0].Message.Content)
}

// parseVerdict 解析模型输出，容忍 markdown 代码块包裹。
func parseVerdict(content string) (Verdict, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var v struct {
		IsToxic *bool  `json:"isToxic"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return Verdict{}, fmt.Errorf("%w: verdict is not json: %v", errs.ErrClassifierFailure, err)
	}
	if v.IsToxic == nil {
		return Verdict{}, fmt.Errorf("%w: verdict missing isToxic", errs.ErrClassifierFailure)
	}
	return Verdict{IsToxic: *v.IsToxic, Reason: strings.TrimSpace(v.Reason)}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
