// Package query orchestrates the answer path: response cache, conversation
// history, retrieval, prompt assembly, completion, and write-backs.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sitesage/sitesage/internal/cache"
	"github.com/sitesage/sitesage/internal/clock"
	"github.com/sitesage/sitesage/internal/convo"
	"github.com/sitesage/sitesage/internal/llm"
	"github.com/sitesage/sitesage/internal/metrics"
	"github.com/sitesage/sitesage/internal/retrieve"
	"github.com/sitesage/sitesage/internal/vector"
)

// ErrUpstreamUnavailable indicates the embedding, vector, or completion
// provider could not serve the request.
var ErrUpstreamUnavailable = errors.New("query: upstream provider unavailable")

// DefaultSystemPrompt constrains answers to the retrieved context.
const DefaultSystemPrompt = "You are a helpful assistant answering questions about a website. " +
	"Answer using only the provided documents. If the documents do not contain " +
	"the answer, say you don't know. Be concise."

// Source identifies a page that contributed to an answer.
type Source struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Answer is the orchestrator's result.
type Answer struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
	Cached  bool     `json:"cached"`
}

// Config tunes the orchestrator.
type Config struct {
	TopK           int
	MaxHistory     int
	MaxPromptChars int
	SystemPrompt   string
}

// Orchestrator answers questions against an indexed namespace.
type Orchestrator struct {
	cache     *cache.Cache
	convo     *convo.Store
	retriever *retrieve.Retriever
	completer llm.Completer
	cfg       Config
	clock     clock.Clock
	logger    *zap.Logger
}

// New wires an Orchestrator.
func New(
	responseCache *cache.Cache,
	conversations *convo.Store,
	retriever *retrieve.Retriever,
	completer llm.Completer,
	cfg Config,
	clk clock.Clock,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 10
	}
	if cfg.MaxPromptChars <= 0 {
		cfg.MaxPromptChars = 24000
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &Orchestrator{
		cache:     responseCache,
		convo:     conversations,
		retriever: retriever,
		completer: completer,
		cfg:       cfg,
		clock:     clk,
		logger:    logger,
	}
}

// Answer resolves one question. The cache is consulted first; on a miss the
// question is answered from retrieved fragments and recent history, then the
// conversation and cache are updated. History and cache failures degrade;
// provider failures surface as ErrUpstreamUnavailable.
func (o *Orchestrator) Answer(ctx context.Context, namespace, sessionID, question string) (Answer, error) {
	start := o.clock.Now()
	key := cache.Key("query", namespace, sessionID, question)
	if raw, ok := o.cache.Get(ctx, key); ok {
		var cached Answer
		if err := json.Unmarshal(raw, &cached); err == nil {
			cached.Cached = true
			metrics.ObserveQuery("cache", o.clock.Now().Sub(start))
			return cached, nil
		}
	}

	history, err := o.convo.History(ctx, sessionID)
	if err != nil {
		o.logger.Warn("history unavailable, answering without it",
			zap.String("session_id", sessionID), zap.Error(err))
		history = nil
	}

	matches, err := o.retriever.Retrieve(ctx, namespace, question, o.cfg.TopK)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	prompt, used := o.buildPrompt(history, matches, question)
	text, err := o.completer.Complete(ctx, o.cfg.SystemPrompt, prompt)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	answer := Answer{Text: text, Sources: sourcesOf(used)}

	now := o.clock.Now()
	if err := o.convo.Append(ctx, sessionID,
		convo.Message{Role: convo.RoleUser, Content: question, Timestamp: now},
		convo.Message{Role: convo.RoleAssistant, Content: text, Timestamp: now},
	); err != nil {
		o.logger.Warn("conversation append failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	if raw, err := json.Marshal(answer); err == nil {
		o.cache.Put(ctx, key, raw)
	}

	metrics.ObserveQuery("model", o.clock.Now().Sub(start))
	return answer, nil
}

// buildPrompt assembles documents, recent history, and the question within
// the character budget. Documents win over history; history drops oldest
// first; it returns the matches that actually made it into the prompt.
func (o *Orchestrator) buildPrompt(history []convo.Message, matches []vector.Match, question string) (string, []vector.Match) {
	budget := o.cfg.MaxPromptChars - len(question) - 256

	var docs strings.Builder
	var used []vector.Match
	docs.WriteString("<documents>\n")
	for _, m := range matches {
		block := fmt.Sprintf("<document url=%q>\n%s\n</document>\n", m.URL, m.Text)
		if docs.Len()+len(block) > budget {
			break
		}
		docs.WriteString(block)
		used = append(used, m)
	}
	docs.WriteString("</documents>\n")
	budget -= docs.Len()

	if len(history) > o.cfg.MaxHistory {
		history = history[len(history)-o.cfg.MaxHistory:]
	}
	var turns []string
	total := 0
	for i := len(history) - 1; i >= 0; i-- {
		turn := historyLine(history[i])
		if total+len(turn) > budget {
			break
		}
		turns = append([]string{turn}, turns...)
		total += len(turn)
	}

	var sb strings.Builder
	sb.WriteString(docs.String())
	if len(turns) > 0 {
		sb.WriteString("\nConversation so far:\n")
		for _, turn := range turns {
			sb.WriteString(turn)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	return sb.String(), used
}

func historyLine(msg convo.Message) string {
	role := "User"
	if msg.Role == convo.RoleAssistant {
		role = "Assistant"
	}
	return role + ": " + msg.Content
}

// sourcesOf deduplicates the contributing pages, preserving rank order.
func sourcesOf(matches []vector.Match) []Source {
	var sources []Source
	seen := make(map[string]struct{})
	for _, m := range matches {
		if _, dup := seen[m.URL]; dup {
			continue
		}
		seen[m.URL] = struct{}{}
		sources = append(sources, Source{URL: m.URL, Title: m.Title})
	}
	return sources
}
