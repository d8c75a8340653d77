// Package usecases contains application business rules.
// Clean Architecture: Usecases orchestrate entities and depend on port interfaces.
package usecases

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/logsage/logsage/internal/domain/entities"
	"github.com/logsage/logsage/internal/domain/ports"
)

// analysisKeywords score one point per occurrence. Bilingual because log
// corpora and operators here use both English and Chinese.
var analysisKeywords = []string{
	"日志", "错误", "异常", "故障", "分析", "排查", "定位", "性能", "瓶颈",
	"log", "error", "exception", "bug", "failure", "failing", "crash",
	"analyze", "analyse", "timeout", "diagnose", "stacktrace", "traceback",
}

// analysisPhrases score two points; they signal investigation intent more
// strongly than a single keyword.
var analysisPhrases = []string{
	"分析日志", "查看日志", "检查错误", "为什么报错", "错误统计",
	"why is", "why are", "what went wrong", "root cause", "look at the logs",
	"check the logs",
}

// keywordConfidenceFloor is returned when no keyword matches at all.
const keywordConfidenceFloor = 0.5

// highConfidence is the score at which the keyword tier decides alone,
// skipping the model call.
const highConfidence = 0.8

const classifyPrompt = `Classify the intent of the user input below as exactly one of:

1. analysis - the user wants log analysis, error diagnosis, or troubleshooting
   examples: analyze this error log, why are requests failing, 分析这个错误日志

2. general_chat - anything else: greetings, small talk, general questions
   examples: hello, what is AI, 你好

User input: "%s"

Answer with only the label and a confidence between 0 and 1, comma separated.
Example: analysis,0.95`

// Classifier decides whether a user turn asks for log analysis or general
// conversation. Keyword matching runs first; the model is only consulted
// when keywords are inconclusive, and any model failure falls back to the
// keyword verdict. Classify never returns an error.
type Classifier struct {
	backend ports.ChatBackend
	logger  *slog.Logger
}

// NewClassifier creates a classifier backed by the given chat backend.
func NewClassifier(backend ports.ChatBackend, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{backend: backend, logger: logger}
}

// Classify resolves the intent of a user input. The result always carries
// one of the two intents, for any input including the empty string.
func (c *Classifier) Classify(ctx context.Context, text string) entities.ClassificationResult {
	text = strings.TrimSpace(text)
	if text == "" {
		return entities.ClassificationResult{
			Intent:     entities.IntentGeneralChat,
			Source:     entities.SourceKeyword,
			Confidence: keywordConfidenceFloor,
		}
	}

	keyword := c.keywordVerdict(text)
	if keyword.Intent == entities.IntentAnalysis && keyword.Confidence >= highConfidence {
		return keyword
	}

	refined, err := c.modelVerdict(ctx, text)
	if err != nil {
		c.logger.Debug("intent model unavailable, using keyword verdict", "error", err)
		return keyword
	}
	return refined
}

// keywordVerdict scores the fixed analysis vocabulary against the input.
// Keywords count one point, phrases two, normalized against a five-point
// ceiling.
func (c *Classifier) keywordVerdict(text string) entities.ClassificationResult {
	lower := strings.ToLower(text)

	score := 0
	for _, kw := range analysisKeywords {
		if strings.Contains(lower, kw) {
			score++
		}
	}
	for _, phrase := range analysisPhrases {
		if strings.Contains(lower, phrase) {
			score += 2
		}
	}

	if score == 0 {
		return entities.ClassificationResult{
			Intent:     entities.IntentGeneralChat,
			Source:     entities.SourceKeyword,
			Confidence: keywordConfidenceFloor,
		}
	}

	confidence := float64(score) / 5.0
	if confidence > 1.0 {
		confidence = 1.0
	}
	return entities.ClassificationResult{
		Intent:     entities.IntentAnalysis,
		Source:     entities.SourceKeyword,
		Confidence: confidence,
	}
}

func (c *Classifier) modelVerdict(ctx context.Context, text string) (entities.ClassificationResult, error) {
	prompt := strings.Replace(classifyPrompt, "%s", text, 1)
	output, err := c.backend.Complete(ctx, prompt, ports.CompleteOptions{
		Temperature: 0.1,
		MaxTokens:   20,
	})
	if err != nil {
		return entities.ClassificationResult{}, err
	}

	intent, confidence := parseModelOutput(output)
	return entities.ClassificationResult{
		Intent:     intent,
		Source:     entities.SourceModel,
		Confidence: confidence,
	}, nil
}

// parseModelOutput handles both the requested "label,confidence" format and
// sloppy model output that merely mentions a label somewhere.
func parseModelOutput(output string) (entities.Intent, float64) {
	output = strings.TrimSpace(strings.ToLower(output))

	if label, confStr, ok := strings.Cut(output, ","); ok {
		intent := labelToIntent(strings.TrimSpace(label))
		confidence := 0.5
		if v, err := strconv.ParseFloat(strings.TrimSpace(confStr), 64); err == nil {
			confidence = clamp01(v)
		}
		return intent, confidence
	}

	if strings.Contains(output, "analysis") {
		return entities.IntentAnalysis, 0.7
	}
	if strings.Contains(output, "general_chat") || strings.Contains(output, "general chat") {
		return entities.IntentGeneralChat, 0.7
	}
	return entities.IntentGeneralChat, 0.3
}

func labelToIntent(label string) entities.Intent {
	if strings.Contains(label, "analysis") {
		return entities.IntentAnalysis
	}
	return entities.IntentGeneralChat
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
