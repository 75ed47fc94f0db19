package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/mocap-ai/go-skelfit/benchmark"
	"github.com/mocap-ai/go-skelfit/benchmark/engines"
)

func main() {
	var (
		configFile      = flag.String("config", "", "Path to benchmark configuration file")
		scenarioFile    = flag.String("scenarios", "", "Path to scenario configuration file")
		outputDir       = flag.String("output", "./benchmark_results", "Output directory for results")
		modelPath       = flag.String("model", "", "Path to ONNX source model (default: synthetic runner)")
		sourceArtifacts = flag.String("source-artifacts", "", "Path to source artifact container for -model")
		skelArtifacts   = flag.String("skel-artifacts", "", "Path to skeleton artifact container for -model")
		quick           = flag.Bool("quick", false, "Run quick benchmark scenarios")
		comprehensive   = flag.Bool("comprehensive", false, "Run comprehensive benchmark scenarios")
		batches         = flag.Bool("batches", false, "Compare batch sizes")
		budgets         = flag.Bool("budgets", false, "Compare optimization budgets")
		frames          = flag.Int("frames", 60, "Sequence length for comparison scenario sets")
		timeout         = flag.Duration("timeout", 30*time.Minute, "Benchmark timeout duration")
	)
	flag.Parse()

	config := benchmark.DefaultConfig()
	if *configFile != "" {
		var err error
		config, err = benchmark.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	config.OutputDir = *outputDir
	if *modelPath != "" {
		config.ModelPath = *modelPath
		config.SourceArtifactsPath = *sourceArtifacts
		config.SkelArtifactsPath = *skelArtifacts
	}

	runner, err := buildRunner(config)
	if err != nil {
		log.Fatalf("Failed to create runner: %v", err)
	}
	defer runner.Close()

	suite := benchmark.NewSuite(runner, config.OutputDir)

	predefined := &benchmark.PredefinedScenarios{}
	if *scenarioFile != "" {
		scenarioSet, err := benchmark.LoadScenarioSet(*scenarioFile)
		if err != nil {
			log.Fatalf("Failed to load scenario file: %v", err)
		}
		for _, scenario := range scenarioSet.Scenarios {
			suite.AddScenario(scenario)
		}
		fmt.Printf("Loaded %d scenarios from %s\n", len(scenarioSet.Scenarios), *scenarioFile)
	} else {
		if *quick {
			addSet(suite, predefined.GetQuickScenarios())
		}
		if *comprehensive {
			addSet(suite, predefined.GetComprehensiveScenarios())
		}
		if *batches {
			addSet(suite, predefined.GetBatchSizeComparisonScenarios(*frames))
		}
		if *budgets {
			addSet(suite, predefined.GetBudgetComparisonScenarios(*frames, 20))
		}

		// If no specific scenarios requested, use quick by default.
		if !*quick && !*comprehensive && !*batches && !*budgets {
			addSet(suite, predefined.GetQuickScenarios())
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Println("Starting benchmark execution...")
	start := time.Now()

	if err := suite.RunAllScenarios(ctx); err != nil {
		log.Fatalf("Benchmark execution failed: %v", err)
	}

	fmt.Printf("Benchmark completed in %v\n", time.Since(start))

	results := suite.GetResults()
	fmt.Printf("\n=== BENCHMARK RESULTS SUMMARY ===\n")
	fmt.Printf("Total scenarios: %d\n", len(results))
	fmt.Printf("Results saved to: %s\n", config.OutputDir)

	var bestFPS float64
	var bestScenario string
	for _, result := range results {
		if result.FramesPerSecond > bestFPS {
			bestFPS = result.FramesPerSecond
			bestScenario = result.Scenario.Name
		}
		fmt.Printf("  %s: %.2f frames/s, final loss %.6f (%.2f MB memory)\n",
			result.Scenario.Name,
			result.FramesPerSecond,
			result.FinalLoss,
			float64(result.MemoryStats.AllocBytes)/(1024*1024))
	}

	if bestScenario != "" {
		fmt.Printf("\nBest performing scenario: %s (%.2f frames/s)\n", bestScenario, bestFPS)
	}
}

func buildRunner(config *benchmark.Config) (benchmark.Runner, error) {
	if config.ModelPath == "" {
		fmt.Println("Using synthetic fitting runner")
		return engines.NewSyntheticEngine()
	}
	fmt.Printf("Using ONNX fitting runner with model %s\n", config.ModelPath)
	return engines.NewONNXEngine(config.ModelPath, config.SourceArtifactsPath, config.SkelArtifactsPath)
}

func addSet(suite *benchmark.Suite, set *benchmark.ScenarioSet) {
	for _, scenario := range set.Scenarios {
		suite.AddScenario(scenario)
	}
	fmt.Printf("Added %d scenarios from %s\n", len(set.Scenarios), set.Name)
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", filepath.Base(os.Args[0]))
		fmt.Fprintf(os.Stderr, "Benchmark tool for body fitting performance testing.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(
			os.Stderr,
			"  %s -quick\n",
			filepath.Base(os.Args[0]),
		)
		fmt.Fprintf(
			os.Stderr,
			"  %s -config ./benchmark_config.json -scenarios ./scenarios.json\n",
			filepath.Base(os.Args[0]),
		)
		fmt.Fprintf(
			os.Stderr,
			"  %s -batches -budgets -frames 120\n",
			filepath.Base(os.Args[0]),
		)
	}
}
