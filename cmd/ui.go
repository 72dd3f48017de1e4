package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/hrrag/internal/models"
)

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
	)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// confidenceColor is green from 0.7, yellow from 0.4, red below.
func confidenceColor(confidence float64) *color.Color {
	switch {
	case confidence >= 0.7:
		return color.New(color.FgGreen)
	case confidence >= 0.4:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func printAnswer(w io.Writer, answer models.Answer) {
	color.New(color.FgCyan).Fprintf(w, "\nAssistant: %s\n", answer.Answer)
	printSources(w, answer.Sources)
	confidenceColor(answer.Confidence).Fprintf(w, "Confidence: %.2f\n", answer.Confidence)
}

func printSources(w io.Writer, sources []string) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintf(w, "Sources: %s\n", strings.Join(sources, ", "))
}

func printHits(w io.Writer, hits []models.SearchHit) {
	if len(hits) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}
	for i, hit := range hits {
		color.New(color.FgBlue).Fprintf(w, "[%d] %s\n", i+1, hit.Source)
		fmt.Fprintf(w, "    %s\n\n", strings.ReplaceAll(strings.TrimSpace(hit.Text), "\n", "\n    "))
	}
}

func printAnalytics(w io.Writer, a models.Analytics) {
	fmt.Fprintf(w, "Total queries:      %d\n", a.TotalQueries)
	fmt.Fprintf(w, "Average confidence: %.2f\n", a.AvgConfidence)
	printRanked(w, "Top questions", a.TopQuestions)
	printRanked(w, "Top sources", a.TopSources)
}

func printRanked(w io.Writer, title string, counts []models.FrequencyCount) {
	color.New(color.FgBlue).Fprintf(w, "\n%s:\n", title)
	if len(counts) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	for _, c := range counts {
		fmt.Fprintf(w, "  %4d  %s\n", c.Count, c.Value)
	}
}

func printChunks(w io.Writer, file string, records []models.ChunkRecord) {
	if len(records) == 0 {
		fmt.Fprintf(w, "No chunks recorded for %s.\n", file)
		return
	}
	for _, r := range records {
		fmt.Fprintf(w, "%4d  %s  %s  %s\n", r.SequenceIndex, r.ID, r.Collection, r.IngestedAt.Format("2006-01-02 15:04:05"))
	}
}
