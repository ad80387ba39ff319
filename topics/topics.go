// Package topics ordnet Paper anhand eines festen Vokabulars Themen-Tags zu.
package topics

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Topic ist ein Tag mit seinen Trigger-Phrasen.
type Topic struct {
	Tag      string   `yaml:"tag" json:"tag"`
	Name     string   `yaml:"name" json:"name"`
	Triggers []string `yaml:"triggers" json:"triggers"`
}

// Vocabulary ist die Liste aller erlaubten Topics.
type Vocabulary struct {
	Topics []Topic `yaml:"topics"`
	// Kurze Akronyme, die nur als ganzes Wort zählen
	Acronyms []string `yaml:"acronyms"`
}

// DefaultVocabulary liefert das eingebaute Vokabular.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Topics: []Topic{
			{Tag: "Pretraining", Name: "LLM pre-training", Triggers: []string{"mid-training", "pretraining", "pre-training"}},
			{Tag: "RL", Name: "Reinforcement learning", Triggers: []string{"reinforcement learning", "RLHF", "DPO", "GRPO"}},
			{Tag: "Reasoning", Name: "Reasoning", Triggers: []string{"reasoning", "planning"}},
			{Tag: "Factuality", Name: "Factuality, Hallucination", Triggers: []string{"factuality", "hallucination"}},
			{Tag: "RAG", Name: "Retrieval-Augmented Generation", Triggers: []string{"RAG", "retrieval-augmented", "retrieval augmented"}},
			{Tag: "Agent", Name: "Agentic AI", Triggers: []string{"agent", "agentic", "tool use"}},
			{Tag: "P13N", Name: "Personalization", Triggers: []string{"personalization", "personalized"}},
			{Tag: "Memory", Name: "Memory", Triggers: []string{"memory"}},
			{Tag: "KG", Name: "Knowledge Graph", Triggers: []string{"KG", "knowledge graph"}},
			{Tag: "QA", Name: "Question Answering", Triggers: []string{"QA", "question answering"}},
			{Tag: "Recommendation", Name: "Recommendation", Triggers: []string{"recommendation", "recommender"}},
			{Tag: "MM", Name: "Multi-Modal", Triggers: []string{"multi-modal", "multimodal", "vision-language"}},
			{Tag: "Speech", Name: "Speech", Triggers: []string{"speech", "spoken"}},
			{Tag: "Benchmark", Name: "Benchmark", Triggers: []string{"benchmark"}},
		},
		Acronyms: []string{"RL", "RAG", "KG", "QA", "MM"},
	}
}

// LoadFile liest ein Vokabular aus einer YAML-Datei.
func LoadFile(path string) (Vocabulary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("read topics file: %w", err)
	}
	var v Vocabulary
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return Vocabulary{}, fmt.Errorf("parse topics file: %w", err)
	}
	if len(v.Topics) == 0 {
		return Vocabulary{}, fmt.Errorf("topics file %s defines no topics", path)
	}
	for _, t := range v.Topics {
		if strings.TrimSpace(t.Tag) == "" || len(t.Triggers) == 0 {
			return Vocabulary{}, fmt.Errorf("topics file %s: topic %q needs a tag and triggers", path, t.Tag)
		}
	}
	return v, nil
}

type matcher struct {
	pattern *regexp.Regexp
	needle  string
}

func (m matcher) match(text, lower string) bool {
	if m.pattern != nil {
		return m.pattern.MatchString(text)
	}
	return strings.Contains(lower, m.needle)
}

// Classifier wendet ein Vokabular auf Titel und Abstract an.
type Classifier struct {
	vocab    Vocabulary
	matchers map[string][]matcher
	known    map[string]struct{}
}

// NewClassifier kompiliert die Trigger eines Vokabulars.
// Trigger mit höchstens drei Zeichen und Akronyme werden als ganzes Wort gesucht,
// längere Trigger als Teilstring ohne Groß-/Kleinschreibung.
func NewClassifier(v Vocabulary) *Classifier {
	acronyms := make(map[string]struct{}, len(v.Acronyms))
	for _, a := range v.Acronyms {
		acronyms[strings.ToUpper(a)] = struct{}{}
	}

	c := &Classifier{
		vocab:    v,
		matchers: make(map[string][]matcher, len(v.Topics)),
		known:    make(map[string]struct{}, len(v.Topics)),
	}
	for _, t := range v.Topics {
		c.known[t.Tag] = struct{}{}
		for _, trig := range t.Triggers {
			_, isAcronym := acronyms[strings.ToUpper(trig)]
			if len([]rune(trig)) <= 3 || isAcronym {
				c.matchers[t.Tag] = append(c.matchers[t.Tag], matcher{
					pattern: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(trig) + `\b`),
				})
				continue
			}
			c.matchers[t.Tag] = append(c.matchers[t.Tag], matcher{needle: strings.ToLower(trig)})
		}
	}
	return c
}

// Default liefert einen Classifier über das eingebaute Vokabular.
func Default() *Classifier {
	return NewClassifier(DefaultVocabulary())
}

// Classify liefert die sortierte Menge aller Tags, deren Trigger im Text vorkommen.
func (c *Classifier) Classify(text string) []string {
	lower := strings.ToLower(text)
	tags := []string{}
	for _, t := range c.vocab.Topics {
		for _, m := range c.matchers[t.Tag] {
			if m.match(text, lower) {
				tags = append(tags, t.Tag)
				break
			}
		}
	}
	sort.Strings(tags)
	return tags
}

// ClassifyPaper klassifiziert Titel und Abstract zusammen.
func (c *Classifier) ClassifyPaper(title, abstract string) []string {
	return c.Classify(title + " " + abstract)
}

// Matches meldet, ob ein einzelner Tag auf den Text zutrifft.
func (c *Classifier) Matches(tag, text string) bool {
	lower := strings.ToLower(text)
	for _, m := range c.matchers[tag] {
		if m.match(text, lower) {
			return true
		}
	}
	return false
}

// Known meldet, ob ein Tag zum Vokabular gehört.
func (c *Classifier) Known(tag string) bool {
	_, ok := c.known[tag]
	return ok
}

// Sanitize entfernt unbekannte Tags und Duplikate.
func (c *Classifier) Sanitize(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := []string{}
	for _, t := range tags {
		if !c.Known(t) {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Tags gibt alle Tags in Vokabular-Reihenfolge zurück.
func (c *Classifier) Tags() []string {
	out := make([]string, 0, len(c.vocab.Topics))
	for _, t := range c.vocab.Topics {
		out = append(out, t.Tag)
	}
	return out
}

// Topics gibt das Vokabular zurück.
func (c *Classifier) Topics() []Topic {
	return c.vocab.Topics
}
