// Package tokenizer counts tokens for context budgeting.
//
// Tiktoken 编码表在首次使用时加载（可能需要下载），加载失败时退回字符估算。
package tokenizer

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// DefaultEncoding is the encoding used for context budgets.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens in text.
type Counter interface {
	CountTokens(text string) int
	Name() string
}

// =============================================================================
// 字符估算
// =============================================================================

// Estimator approximates token counts from character classes: CJK runes at
// ~1.5 per token, everything else at ~4 per token.
type Estimator struct{}

// NewEstimator 创建估算器
func NewEstimator() *Estimator { return &Estimator{} }

func (Estimator) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		}
	}
	n := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if n == 0 {
		n = 1
	}
	return n
}

func (Estimator) Name() string { return "estimator" }

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // Extension A
		(r >= 0x3040 && r <= 0x30FF) || // Hiragana / Katakana
		(r >= 0xAC00 && r <= 0xD7AF) // Hangul
}

// =============================================================================
// Tiktoken
// =============================================================================

// Tiktoken counts with a tiktoken encoding, loaded lazily.
type Tiktoken struct {
	encoding string
	logger   *zap.Logger
	fallback Estimator

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTiktoken 创建 tiktoken 计数器；encoding 为空时使用 cl100k_base。
func NewTiktoken(encoding string, logger *zap.Logger) *Tiktoken {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tiktoken{encoding: encoding, logger: logger.With(zap.String("component", "tokenizer"))}
}

func (t *Tiktoken) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			t.logger.Warn("tiktoken unavailable, using estimator", zap.Error(t.initErr))
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens counts with tiktoken, or the estimator if the encoding failed to load.
func (t *Tiktoken) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if err := t.init(); err != nil {
		return t.fallback.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Ready reports whether the real encoding is in use.
func (t *Tiktoken) Ready() bool {
	return t.init() == nil
}

func (t *Tiktoken) Name() string {
	if t.init() != nil {
		return "estimator"
	}
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}

// New returns the counter named by kind: "tiktoken" (default) or "estimator".
func New(kind, encoding string, logger *zap.Logger) Counter {
	if kind == "estimator" {
		return NewEstimator()
	}
	return NewTiktoken(encoding, logger)
}
