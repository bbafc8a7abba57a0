// Package main simulates a visitor population against a set of
// experiments. Each synthetic visitor gets its own fingerprint, segment
// and conversion draw, so assignment spread and significance behavior
// can be checked end to end without a browser.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"time"

	"abtest-engine/internal/domain"
	"abtest-engine/internal/engine"
	"abtest-engine/internal/idhash"
	"abtest-engine/internal/keyvalue/memory"
	"abtest-engine/internal/reporting"
	"abtest-engine/internal/stats"
)

var agents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/126.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) Mobile/15E148",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) Mobile Chrome/126.0",
	"Mozilla/5.0 (iPad; CPU OS 17_5 like Mac OS X) Tablet Safari/605.1.15",
}

var referrers = []string{
	"",
	"https://www.google.com/search?q=pricing",
	"https://duckduckgo.com/?q=signup",
	"https://twitter.com/somepost",
	"https://news.example.com/article/42",
}

var languages = []string{"en-US", "de-DE", "fr-FR", "pt-BR", "ja-JP"}

func main() {
	// Parse flags
	experimentsFile := flag.String("experiments", "", "JSON file with experiment definitions (required)")
	visitors := flag.Int("visitors", 2000, "Number of simulated visitors")
	baseRate := flag.Float64("base-rate", 0.10, "Control conversion probability")
	lift := flag.Float64("lift", 0.25, "Relative conversion lift of non-control variants")
	metric := flag.String("metric", "click", "Conversion metric to simulate")
	seed := flag.Int64("seed", 42, "Random seed for the population")
	minSampleSize := flag.Int("min-sample-size", 100, "Participants per variant before a verdict")
	flag.Parse()

	if *experimentsFile == "" {
		fmt.Fprintln(os.Stderr, "Error: --experiments is required")
		os.Exit(1)
	}

	ctx := context.Background()

	eng := engine.New(engine.Options{
		Store: memory.NewStore(),
		StatsConfig: stats.Config{
			MinSampleSize:   *minSampleSize,
			ConfidenceLevel: 0.95,
		},
		Logger: log.New(io.Discard, "", 0),
	})
	defer eng.Close()

	experiments, err := loadExperiments(ctx, eng, *experimentsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading experiments: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Simulating %d visitors against %d experiments (seed %d)\n\n",
		*visitors, experiments, *seed)

	rng := rand.New(rand.NewSource(*seed))
	start := time.Now()

	for i := 0; i < *visitors; i++ {
		eng.NewSession()
		result := eng.Visit(ctx, randomSignals(rng, i), rng.Intn(2) == 0)

		for _, a := range result.Assignments {
			exp, err := eng.Experiment(a.ExperimentID)
			if err != nil {
				continue
			}
			if rng.Float64() < conversionRate(exp, a.VariantID, *baseRate, *lift) {
				eng.RecordConversion(ctx, *metric)
			}
		}
	}

	eng.EvaluateSignificance(ctx)

	fmt.Printf("Simulation finished in %v\n\n", time.Since(start))
	fmt.Print(reporting.RenderMarkdown(eng.GenerateReport()))
}

// loadExperiments registers definitions from a JSON file.
func loadExperiments(ctx context.Context, eng *engine.Engine, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	var experiments []*domain.Experiment
	if err := json.Unmarshal(data, &experiments); err != nil {
		return 0, fmt.Errorf("decode experiments: %w", err)
	}

	for _, e := range experiments {
		if err := eng.AddExperiment(ctx, e); err != nil {
			return 0, fmt.Errorf("register experiment %s: %w", e.ID, err)
		}
	}
	return len(experiments), nil
}

// randomSignals builds one visitor's browser signals. The visitor index
// lands in the language field so every visitor hashes to its own
// fingerprint.
func randomSignals(rng *rand.Rand, visitor int) idhash.Signals {
	widths := []int{1920, 1440, 1366, 390, 414, 820}
	w := widths[rng.Intn(len(widths))]

	return idhash.Signals{
		Agent:        agents[rng.Intn(len(agents))],
		ScreenWidth:  w,
		ScreenHeight: w * 9 / 16,
		Timezone:     "UTC",
		Language:     fmt.Sprintf("%s;v=%d", languages[rng.Intn(len(languages))], visitor),
		Referrer:     referrers[rng.Intn(len(referrers))],
		CapturedAt:   time.Now().UnixMilli(),
	}
}

// conversionRate returns the true conversion probability of a variant.
// The first variant is the control; every other variant carries the lift.
func conversionRate(exp *domain.Experiment, variantID string, baseRate, lift float64) float64 {
	if len(exp.Variants) > 0 && exp.Variants[0].ID == variantID {
		return baseRate
	}
	return baseRate * (1 + lift)
}
