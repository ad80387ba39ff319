package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	neturl "net/url"
	"sort"
	"strings"
	"time"

	anthropicclient "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaiclient "github.com/openai/openai-go/v2"
	openaioption "github.com/openai/openai-go/v2/option"
	jetai "go.jetify.com/ai"
	jetapi "go.jetify.com/ai/api"
	jetanthropic "go.jetify.com/ai/provider/anthropic"
	jetopenai "go.jetify.com/ai/provider/openai"
	"go.uber.org/zap"

	"paper-alerts/models"
	"paper-alerts/store"
)

// ErrSummaryUnavailable: kein Modell konfiguriert oder die Antwort war unbrauchbar.
var ErrSummaryUnavailable = errors.New("summary unavailable")

// Summarizer erzeugt eine strukturierte Zusammenfassung zu einem Paper.
type Summarizer interface {
	Summarize(ctx context.Context, p *models.Paper) (models.PaperSummary, error)
}

// LLMConfig beschreibt das Sprachmodell für Zusammenfassungen.
type LLMConfig struct {
	Provider string // openai | anthropic
	APIKey   string
	Model    string
	Endpoint string
	Timeout  time.Duration
	// MaxOutputTokens begrenzt die Antwortlänge
	MaxOutputTokens int
}

// LLMSummarizer fragt ein Sprachmodell über jetify ai an.
type LLMSummarizer struct {
	model     jetapi.LanguageModel
	timeout   time.Duration
	maxTokens int
}

const summarySystemPrompt = `You summarize academic papers for a researcher's reading list.
Answer with a single JSON object and nothing else. Use exactly these keys:
"basics" (what the paper is about, in two sentences),
"core" (the main contribution and result),
"methods_and_evidence" (method, data and how the claims are supported),
"figures" (the key numbers or figures worth looking at; empty string if unknown).
Each value is plain text. Do not invent details that are not in the input.`

// NewLLMSummarizer baut das Modell; ohne API-Key gibt es ErrSummaryUnavailable.
func NewLLMSummarizer(cfg LLMConfig) (*LLMSummarizer, error) {
	model, err := buildLanguageModel(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 1200
	}
	return &LLMSummarizer{model: model, timeout: cfg.Timeout, maxTokens: cfg.MaxOutputTokens}, nil
}

// Summarize schickt Titel, Autoren, Venue und Abstract an das Modell.
func (s *LLMSummarizer) Summarize(ctx context.Context, p *models.Paper) (models.PaperSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := jetai.GenerateText(
		ctx,
		buildPromptMessages(summarySystemPrompt, summaryPrompt(p)),
		jetai.WithModel(s.model),
		jetai.WithMaxOutputTokens(s.maxTokens),
	)
	if err != nil {
		return models.PaperSummary{}, fmt.Errorf("%w: %v", ErrSummaryUnavailable, err)
	}
	text, err := textFromResponse(resp)
	if err != nil {
		return models.PaperSummary{}, fmt.Errorf("%w: %v", ErrSummaryUnavailable, err)
	}
	return ParseSummary(text)
}

func summaryPrompt(p *models.Paper) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", p.Title)
	if p.Authors != "" {
		fmt.Fprintf(&b, "Authors: %s\n", p.Authors)
	}
	if p.Venue != "" {
		fmt.Fprintf(&b, "Venue: %s\n", p.Venue)
	}
	if p.Year != "" {
		fmt.Fprintf(&b, "Year: %s\n", p.Year)
	}
	if p.Link != "" {
		fmt.Fprintf(&b, "Link: %s\n", p.Link)
	}
	abstract := p.Abstract
	if abstract == "" {
		abstract = "(no abstract available)"
	}
	fmt.Fprintf(&b, "\nAbstract:\n%s\n", abstract)
	return b.String()
}

// ParseSummary liest die Modellantwort. Code-Fences und Text um das JSON-Objekt
// werden toleriert; Sektionen dürfen auch verschachtelte Objekte sein.
func ParseSummary(raw string) (models.PaperSummary, error) {
	var fields map[string]json.RawMessage
	if err := unmarshalAIJSON(raw, &fields); err != nil {
		return models.PaperSummary{}, fmt.Errorf("%w: %v", ErrSummaryUnavailable, err)
	}
	get := func(names ...string) string {
		for k, v := range fields {
			key := strings.ToLower(strings.ReplaceAll(k, " ", "_"))
			for _, n := range names {
				if key == n {
					return flattenSection(v)
				}
			}
		}
		return ""
	}
	s := models.PaperSummary{
		Basics:             get("basics"),
		Core:               get("core"),
		MethodsAndEvidence: get("methods_and_evidence", "methods"),
		Figures:            get("figures"),
	}
	if s.Empty() {
		return s, fmt.Errorf("%w: summary is empty in AI response", ErrSummaryUnavailable)
	}
	return s, nil
}

// flattenSection macht aus Strings, Listen und Objekten lesbaren Text.
func flattenSection(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return strings.TrimSpace(flattenValue(v))
}

func flattenValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		var parts []string
		for _, e := range t {
			if s := flattenValue(e); s != "" {
				parts = append(parts, "- "+s)
			}
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			if s := flattenValue(t[k]); s != "" {
				parts = append(parts, k+": "+s)
			}
		}
		return strings.Join(parts, "\n")
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func unmarshalAIJSON(raw string, out any) error {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```JSON")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if err := json.Unmarshal([]byte(cleaned), out); err == nil {
		return nil
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), out); err == nil {
			return nil
		}
	}
	return errors.New("invalid JSON response from AI")
}

func buildPromptMessages(systemPrompt, prompt string) []jetapi.Message {
	messages := make([]jetapi.Message, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, &jetapi.SystemMessage{Content: systemPrompt})
	}
	messages = append(messages, &jetapi.UserMessage{Content: jetapi.ContentFromText(prompt)})
	return messages
}

func textFromResponse(resp *jetapi.Response) (string, error) {
	if resp == nil {
		return "", errors.New("empty response from AI")
	}
	var full strings.Builder
	for _, block := range resp.Content {
		tb, ok := block.(*jetapi.TextBlock)
		if !ok || tb.Text == "" {
			continue
		}
		full.WriteString(tb.Text)
	}
	if strings.TrimSpace(full.String()) == "" {
		return "", errors.New("empty response from AI")
	}
	return full.String(), nil
}

func buildLanguageModel(cfg LLMConfig) (jetapi.LanguageModel, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: api key is empty", ErrSummaryUnavailable)
	}
	modelID := strings.TrimSpace(cfg.Model)
	endpoint := strings.TrimSpace(cfg.Endpoint)

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "anthropic":
		if modelID == "" {
			modelID = "claude-haiku-4-5-20251001"
		}
		opts := []anthropicoption.RequestOption{
			anthropicoption.WithAPIKey(apiKey),
			anthropicoption.WithMaxRetries(1),
		}
		if endpoint != "" {
			opts = append(opts, anthropicoption.WithBaseURL(strings.TrimRight(endpoint, "/")))
		}
		client := anthropicclient.NewClient(opts...)
		return jetanthropic.NewLanguageModel(modelID, jetanthropic.WithClient(client)), nil
	case "", "openai":
		if modelID == "" {
			modelID = "gpt-4o-mini"
		}
		opts := []openaioption.RequestOption{
			openaioption.WithAPIKey(apiKey),
			openaioption.WithMaxRetries(1),
		}
		if normalized := normalizeOpenAIBaseURL(endpoint); normalized != "" {
			opts = append(opts, openaioption.WithBaseURL(normalized))
		}
		client := openaiclient.NewClient(opts...)
		return jetopenai.NewLanguageModel(modelID, jetopenai.WithClient(client)), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrSummaryUnavailable, cfg.Provider)
	}
}

// normalizeOpenAIBaseURL hängt /v1 an, falls der Endpoint ohne Versionspfad angegeben ist.
func normalizeOpenAIBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return ""
	}
	parsed, err := neturl.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.TrimRight(base, "/")
	}
	path := strings.TrimRight(parsed.Path, "/")
	if !strings.HasSuffix(path, "/v1") {
		path += "/v1"
	}
	parsed.Path = path
	return strings.TrimRight(parsed.String(), "/")
}

// SummaryService erzeugt und speichert Zusammenfassungen.
type SummaryService struct {
	store      store.Store
	summarizer Summarizer
	logger     *zap.Logger
	now        func() time.Time
}

// NewSummaryService erstellt den Dienst; summarizer darf nil sein.
func NewSummaryService(s store.Store, summarizer Summarizer, logger *zap.Logger) *SummaryService {
	return &SummaryService{store: s, summarizer: summarizer, logger: logger, now: time.Now}
}

// SummaryStats zählt das Ergebnis eines Laufs.
type SummaryStats struct {
	Attempted int `json:"attempted"`
	Generated int `json:"generated"`
	Failed    int `json:"failed"`
}

// SummarizeOne erzeugt die Zusammenfassung für ein Paper und speichert sie.
func (s *SummaryService) SummarizeOne(ctx context.Context, id uint) (*models.Paper, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.summarize(ctx, p); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// Run fasst bis zu limit Paper ohne Zusammenfassung zusammen, neueste zuerst.
// Modellfehler werden gezählt; Speicherfehler brechen ab.
func (s *SummaryService) Run(ctx context.Context, limit int) (SummaryStats, error) {
	var stats SummaryStats
	if s.summarizer == nil {
		return stats, ErrSummaryUnavailable
	}
	papers, err := s.store.WithoutSummary(ctx, limit)
	if err != nil {
		return stats, err
	}
	for i := range papers {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Attempted++
		err := s.summarize(ctx, &papers[i])
		switch {
		case err == nil:
			stats.Generated++
		case errors.Is(err, ErrSummaryUnavailable):
			stats.Failed++
		default:
			return stats, err
		}
	}
	s.logger.Info("Zusammenfassungen erzeugt",
		zap.Int("attempted", stats.Attempted), zap.Int("generated", stats.Generated), zap.Int("failed", stats.Failed))
	return stats, nil
}

func (s *SummaryService) summarize(ctx context.Context, p *models.Paper) error {
	if s.summarizer == nil {
		return ErrSummaryUnavailable
	}
	sum, err := s.summarizer.Summarize(ctx, p)
	if err != nil {
		s.logger.Warn("Zusammenfassung fehlgeschlagen", zap.Uint("paper_id", p.ID), zap.Error(err))
		if !errors.Is(err, ErrSummaryUnavailable) {
			err = fmt.Errorf("%w: %v", ErrSummaryUnavailable, err)
		}
		return err
	}
	if err := s.store.SetSummary(ctx, p.ID, sum, s.now()); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}
