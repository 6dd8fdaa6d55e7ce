package summary

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/genai"

	"tremorwatch/models"
)

const DefaultModel = "gemini-2.5-flash"

const systemPrompt = `You write short plain-language summaries of wrist motion monitoring sessions.
The numbers come from an automated tremor-likeness detector, not from a clinician.
Never diagnose, never name a disease, never suggest a treatment or a medication change.
Describe what was measured, mention that the figures are informational only,
and suggest discussing any concern with a healthcare professional.
Keep the summary under 120 words.`

// Narrator turns a session summary into prose.
type Narrator interface {
	Narrate(ctx context.Context, summary models.SessionSummary) (string, error)
}

// GeminiSummarizer narrates sessions with the Gemini API.
type GeminiSummarizer struct {
	client *genai.Client
	model  string
}

func NewGeminiSummarizer(ctx context.Context, apiKey, model string) (*GeminiSummarizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiSummarizer{client: client, model: model}, nil
}

func (g *GeminiSummarizer) Narrate(ctx context.Context, summary models.SessionSummary) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleModel),
		Temperature:       genai.Ptr(float32(0.3)),
		TopP:              genai.Ptr(float32(0.8)),
		MaxOutputTokens:   int32(256),
	}

	resp, err := g.client.Models.GenerateContent(
		ctx,
		g.model,
		[]*genai.Content{genai.NewContentFromText(BuildPrompt(summary), genai.RoleUser)},
		config,
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := strings.TrimSpace(strings.ReplaceAll(resp.Text(), "*", ""))
	if text == "" {
		return FallbackNarrative(summary), nil
	}
	return text, nil
}

// BuildPrompt lays the session figures out for the model.
func BuildPrompt(s models.SessionSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s\n", s.SessionID)
	fmt.Fprintf(&b, "Samples analysed: %d\n", s.Records)
	fmt.Fprintf(&b, "Samples flagged as tremor-like: %d\n", s.TremorRecords)
	fmt.Fprintf(&b, "Episodes: %d (longest %.1f s)\n", s.Episodes, s.LongestEpisodeSec)
	if s.TremorRecords > 0 {
		fmt.Fprintf(&b, "Mean severity score: %.2f of 10 (max %.2f)\n", s.MeanSeverity, s.MaxSeverity)
		fmt.Fprintf(&b, "Mean dominant frequency: %.1f Hz\n", s.MeanFrequencyHz)
		fmt.Fprintf(&b, "Pattern labels: %s\n", formatCounts(s.TypeCounts))
		fmt.Fprintf(&b, "Severity categories: %s\n", formatCounts(s.CategoryCounts))
	}
	return b.String()
}

// FallbackNarrative is a deterministic summary used without a model.
func FallbackNarrative(s models.SessionSummary) string {
	if s.TremorRecords == 0 {
		return fmt.Sprintf("No tremor-like motion was flagged across %d analysed samples. "+
			"These figures are informational only.", s.Records)
	}
	return fmt.Sprintf("Tremor-like motion was flagged in %d of %d samples across %d episode(s), "+
		"the longest lasting %.1f s. The mean severity score was %.1f of 10 at around %.1f Hz. "+
		"These figures are informational only; discuss any concern with a healthcare professional.",
		s.TremorRecords, s.Records, s.Episodes, s.LongestEpisodeSec, s.MeanSeverity, s.MeanFrequencyHz)
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, ", ")
}
