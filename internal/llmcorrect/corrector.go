// Package llmcorrect implements transcript post-correction through a
// chat-completion model.
//
// The [Corrector] sends raw recognizer output to an [llm.Provider] with a
// fixed prompt that asks for three candidate corrections plus a best pick,
// returned as a JSON object. When the response parses, the best pick (or
// one of its alias keys) becomes the corrected text. On transport or parse
// failures the corrector degrades to the input text, appending a closing
// full stop when none is present, so segment emission never depends on the
// correction backend being up.
package llmcorrect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/pkg/provider/llm"
)

const (
	defaultTemperature = 0.6
	defaultMaxTokens   = 4096

	// logContentLimit bounds how much of an unparseable model reply is
	// echoed into the log.
	logContentLimit = 200
)

// promptTemplate is the correction instruction sent as the user message,
// with the transcript interpolated. The response keys it prescribes are
// fixed; parseResponse looks them up by name.
const promptTemplate = `角色：
你是一名专业的ASR（自动语音识别）后处理专家。

核心原则：
1. 专注修正，而非改写：你的唯一任务是修正ASR系统因发音相似、口音、语速过快等因素导致的识别错误。对于原文中语义通顺、语法正确的部分，必须保持原样，不得进行任何同义词替换、语序调整或句式改写。
2. 上下文感知与逻辑判断：当一个词语在当前语境下显得突兀、不合逻辑时（例如，在技术讨论中出现一个毫不相关的日常词汇），应优先判断它是一个由发音相似词语造成的识别错误。
3. 保留原始结构：修正应在最小范围内进行，仅替换被错误识别的词语，并完整保留原始句子的结构和所有正确的词汇。

任务：
我将提供一段由ASR系统识别出的原始文本。请严格遵循以下步骤，不要包含任何额外的解释或开场白。

输入文本：%s

操作流程：
1. 生成三个修正备选句：
   - 基于上述核心原则，识别出原始文本中的可疑错误词语
   - 生成三个仅在错误词语修正上有所不同的候选句子
   - 如果只有一个明显的正确答案，可以围绕该答案提供微小但合理的变体（例如，标点符号或个别语气词的差异），或者重复最佳答案
   - 关键：这三个句子必须保持与原文一致的句子结构

2. 选择最佳句子：
   - 从你生成的三个备选句中，选出最符合逻辑、最能还原说话者原始意图的一句
   - 以"最佳选择："作为固定开头，直接给出该句子

具体要求：
1. 识别并修正同音字错误（保持韵母一致）
2. 修正因口音或语速导致的识别错误
3. 添加合适的标点符号（。，！？、等）
4. 修正大小写（英文）和语种混用问题
5. 规范数字、日期、时间的表达方式
6. 保持原始句子结构，不进行句式改写

输出格式（严格按照以下JSON格式）：
{
  "候选1": "第一个修正方案",
  "候选2": "第二个修正方案",
  "候选3": "第三个修正方案",
  "最佳选择": "从上述三个候选中选出的最佳方案"
}`

// bestKeys are the response keys tried in order when extracting the
// model's pick. Models sometimes translate or shorten the prescribed key,
// so a few aliases are accepted; the first candidate is the last resort.
var bestKeys = []string{"最佳选择", "best", "Best", "最佳", "best_choice", "候选1"}

// sentenceEnders are the terminal marks the punctuation fallback respects.
var sentenceEnders = []string{"。", "！", "？", ".", "!", "?"}

// Result describes one correction round trip.
type Result struct {
	// Text is the corrected transcript, or the fallback when the model
	// output could not be used. Always usable.
	Text string

	// Corrected reports whether Text came from the model rather than a
	// fallback.
	Corrected bool

	// Similarity is the Jaro-Winkler similarity between input and output,
	// 1.0 when identical. Recorded as a correction quality signal.
	Similarity float64

	// Elapsed is the provider round-trip time. Zero when no call was made.
	Elapsed time.Duration

	// Usage is the provider token accounting, when reported.
	Usage llm.Usage
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithTemperature sets the sampling temperature. Default: 0.6.
func WithTemperature(temp float64) Option {
	return func(c *Corrector) {
		c.temperature = temp
	}
}

// WithMaxTokens caps the completion length. Default: 4096.
func WithMaxTokens(n int) Option {
	return func(c *Corrector) {
		c.maxTokens = n
	}
}

// Corrector corrects recognizer output through an [llm.Provider]. It is
// safe for concurrent use.
type Corrector struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
}

// New returns a [Corrector] backed by the given provider.
func New(provider llm.Provider, opts ...Option) *Corrector {
	c := &Corrector{
		llm:         provider,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct runs one correction round trip. The returned Result always
// carries usable text: the model's pick on success, the input (with a
// closing mark appended) on failure. A non-nil error reports a provider
// failure for the caller's logs and metrics; the Result remains valid
// alongside it.
func (c *Corrector) Correct(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{Text: text, Similarity: 1}, nil
	}

	start := time.Now()
	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		Prompt:      fmt.Sprintf(promptTemplate, text),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	elapsed := time.Since(start)
	if err != nil {
		fallback := punctuate(text)
		return Result{Text: fallback, Similarity: similarity(text, fallback), Elapsed: elapsed},
			fmt.Errorf("llmcorrect: complete: %w", err)
	}

	best, found, parseErr := parseResponse(resp.Content)
	if parseErr != nil {
		observe.Logger(ctx).Warn("corrector returned unparseable response",
			slog.String("provider", c.llm.Name()),
			slog.String("content", truncate(resp.Content, logContentLimit)))
		fallback := punctuate(text)
		return Result{
			Text:       fallback,
			Similarity: similarity(text, fallback),
			Elapsed:    elapsed,
			Usage:      resp.Usage,
		}, nil
	}
	if !found {
		// Parseable JSON without any known key: trust nothing, change
		// nothing.
		return Result{Text: text, Similarity: 1, Elapsed: elapsed, Usage: resp.Usage}, nil
	}

	return Result{
		Text:       best,
		Corrected:  true,
		Similarity: similarity(text, best),
		Elapsed:    elapsed,
		Usage:      resp.Usage,
	}, nil
}

// ---- helpers ----------------------------------------------------------------

// parseResponse extracts the model's pick from its reply. The bool reports
// whether any known key was present; a malformed reply returns an error.
func parseResponse(content string) (string, bool, error) {
	raw, ok := extractJSON(content)
	if !ok {
		return "", false, fmt.Errorf("llmcorrect: no JSON object in response")
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return "", false, fmt.Errorf("llmcorrect: parse response: %w", err)
	}

	for _, key := range bestKeys {
		if v, ok := fields[key]; ok {
			if s, ok := v.(string); ok {
				return s, true, nil
			}
		}
	}
	return "", false, nil
}

// extractJSON returns the substring between the first '{' and the last
// '}', tolerating prose the model wraps around its JSON.
func extractJSON(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// punctuate appends a closing full stop unless text is empty or already
// ends in a terminal mark.
func punctuate(text string) string {
	if text == "" {
		return text
	}
	for _, p := range sentenceEnders {
		if strings.HasSuffix(text, p) {
			return text
		}
	}
	return text + "。"
}

// similarity scores how much the corrector changed the text, 1.0 for
// identical strings.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	return matchr.JaroWinkler(a, b, false)
}

// truncate shortens s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
