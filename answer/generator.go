// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
)

// NotFoundText is the reply given when no passage of the document matched.
const NotFoundText = "I couldn't find relevant information in this document to answer that question. " +
	"Try rephrasing it or asking about a specific section."

// DefaultMaxExcerptRunes bounds how much of each reference goes into the prompt.
const DefaultMaxExcerptRunes = 1500

var (
	ErrCompleterRequired = errors.New("completer is required")
	ErrEmptyAnswer       = errors.New("completion returned an empty answer")
)

// Exchange is one completed question and its answer, used as prompt history.
type Exchange struct {
	Question string
	Answer   string
}

// Request carries everything needed to answer one question.
type Request struct {
	Question   string
	References []core.Reference
	History    []Exchange
}

// Result is a generated reply.
type Result struct {
	Text          string
	FormattedText string
	ContentType   string
	References    []core.Reference
	// Found is false when the not-found reply was used.
	Found bool
}

// Generator produces answers with a completion model.
type Generator struct {
	completer       ai.Completer
	maxExcerptRunes int
	logger          *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) error {
		if logger == nil {
			logger = slog.Default()
		}
		g.logger = logger
		return nil
	}
}

// WithMaxExcerptRunes sets how many runes of each reference are shown to the model.
func WithMaxExcerptRunes(n int) Option {
	return func(g *Generator) error {
		if n <= 0 {
			return fmt.Errorf("max excerpt runes must be greater than 0, got %d", n)
		}
		g.maxExcerptRunes = n
		return nil
	}
}

// NewGenerator creates a generator backed by completer.
func NewGenerator(completer ai.Completer, opts ...Option) (*Generator, error) {
	if completer == nil {
		return nil, ErrCompleterRequired
	}
	g := &Generator{
		completer:       completer,
		maxExcerptRunes: DefaultMaxExcerptRunes,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	g.logger = g.logger.With("component", "answer-generator")
	return g, nil
}

// NotFound returns the reply used when there is nothing to cite.
func NotFound() *Result {
	return &Result{
		Text:          NotFoundText,
		FormattedText: NotFoundText,
		ContentType:   core.ContentTypeText,
	}
}

// Generate answers req.Question from req.References.
// Completion errors are returned to the caller.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	if len(req.References) == 0 {
		g.logger.Debug("no references, using not-found answer")
		return NotFound(), nil
	}

	messages := []ai.ChatMessage{
		{Role: ai.ChatRoleSystem, Content: systemPrompt},
		{Role: ai.ChatRoleUser, Content: buildUserPrompt(req, g.maxExcerptRunes)},
	}
	text, err := g.completer.Complete(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyAnswer
	}

	g.logger.Debug("generated answer", "references", len(req.References), "length", len(text))
	return &Result{
		Text:          text,
		FormattedText: formatWithSources(text, req.References),
		ContentType:   core.ContentTypeMarkdown,
		References:    req.References,
		Found:         true,
	}, nil
}
