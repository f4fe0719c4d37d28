// Package report turns a topic title and memo into a rendered report body.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	// ErrUpstream marks failures of the text model. Callers treat the
	// topic as not created.
	ErrUpstream   = errors.New("report generation failed")
	ErrEmptyTitle = errors.New("title is required")
)

// Model produces markdown for a prompt.
type Model interface {
	GenerateMarkdown(ctx context.Context, prompt string) (string, error)
}

type Recorder interface {
	RecordReportGeneration(duration time.Duration, err error)
}

type Generator struct {
	model    Model
	timeout  time.Duration
	recorder Recorder
	markdown goldmark.Markdown
}

func NewGenerator(model Model, timeout time.Duration, recorder Recorder) *Generator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Generator{
		model:    model,
		timeout:  timeout,
		recorder: recorder,
		// Raw HTML in model output is escaped, not passed through.
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Generate asks the model for a report and returns it rendered as HTML.
// The call is bounded by the generator timeout.
func (g *Generator) Generate(ctx context.Context, title, memo string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", ErrEmptyTitle
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	started := time.Now()
	markdown, err := g.model.GenerateMarkdown(ctx, BuildPrompt(title, strings.TrimSpace(memo)))
	if err == nil && strings.TrimSpace(markdown) == "" {
		err = errors.New("model returned an empty report")
	}
	if g.recorder != nil {
		g.recorder.RecordReportGeneration(time.Since(started), err)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	html, err := g.Render(markdown)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return html, nil
}

// Render converts report markdown to an HTML fragment.
func (g *Generator) Render(markdown string) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(`<div class="report">`)
	if err := g.markdown.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	buf.WriteString(`</div>`)
	return buf.String(), nil
}

// BuildPrompt fills the fixed report template: overview, three to four key
// points, summary, grayscale only.
func BuildPrompt(title, memo string) string {
	return fmt.Sprintf(`以下のトピックに関する論点をまとめたレポートをマークダウン形式で生成してください。
デザインはグレーと黒のみを使用し、青、紫、緑などの色は使わないでください。
シンプルで読みやすい構造にしてください。

タイトル: %s
メモ: %s

以下の構成でレポートを作成してください：
1. 概要
2. 主要な論点（3-4個）
3. まとめ

マークダウン形式で出力してください。`, title, memo)
}

// Unconfigured is the model used when no API key is set.
type Unconfigured struct{}

func (Unconfigured) GenerateMarkdown(context.Context, string) (string, error) {
	return "", errors.New("no report model configured")
}
