package summary

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"tremorwatch/models"
)

func TestBuildPromptListsFigures(t *testing.T) {
	s := models.SessionSummary{
		SessionID:         "abc",
		Records:           250,
		TremorRecords:     200,
		Episodes:          1,
		LongestEpisodeSec: 4.5,
		MeanSeverity:      3.4,
		MaxSeverity:       3.9,
		MeanFrequencyHz:   4.8,
		TypeCounts:        map[string]int{"resting": 190, "mixed": 10},
		CategoryCounts:    map[string]int{"moderate": 200},
	}
	prompt := BuildPrompt(s)
	require.Contains(t, prompt, "Session abc")
	require.Contains(t, prompt, "Episodes: 1 (longest 4.5 s)")
	require.Contains(t, prompt, "Pattern labels: mixed=10, resting=190")
	require.Contains(t, prompt, "4.8 Hz")
}

func TestBuildPromptOmitsEmptyStats(t *testing.T) {
	prompt := BuildPrompt(models.SessionSummary{SessionID: "q", Records: 10})
	require.NotContains(t, prompt, "severity")
}

func TestFallbackNarrativeNeverDiagnoses(t *testing.T) {
	quiet := FallbackNarrative(models.SessionSummary{Records: 40})
	require.Contains(t, quiet, "No tremor-like motion")

	active := FallbackNarrative(models.SessionSummary{Records: 40, TremorRecords: 30, Episodes: 2, MeanSeverity: 2})
	require.Contains(t, active, "informational only")
	require.NotContains(t, active, "Parkinson")
}

func TestNewGeminiSummarizerRequiresKey(t *testing.T) {
	_, err := NewGeminiSummarizer(context.Background(), "", "")
	require.Error(t, err)
}
