package main

import (
	"fmt"
	"log"

	"github.com/mocap-ai/go-skelfit/benchmark"
)

// Example program to create and save benchmark scenario files.
func main() {
	predefined := &benchmark.PredefinedScenarios{}

	comprehensive := predefined.GetComprehensiveScenarios()
	if err := benchmark.SaveScenarioSet(comprehensive, "comprehensive_scenarios.json"); err != nil {
		log.Fatalf("Failed to save comprehensive scenarios: %v", err)
	}
	fmt.Printf("Saved %d comprehensive scenarios\n", len(comprehensive.Scenarios))

	quick := predefined.GetQuickScenarios()
	if err := benchmark.SaveScenarioSet(quick, "quick_scenarios.json"); err != nil {
		log.Fatalf("Failed to save quick scenarios: %v", err)
	}
	fmt.Printf("Saved %d quick scenarios\n", len(quick.Scenarios))

	batches := predefined.GetBatchSizeComparisonScenarios(60)
	if err := benchmark.SaveScenarioSet(batches, "batch_size_scenarios.json"); err != nil {
		log.Fatalf("Failed to save batch size scenarios: %v", err)
	}
	fmt.Printf("Saved %d batch size scenarios\n", len(batches.Scenarios))

	budgets := predefined.GetBudgetComparisonScenarios(60, 20)
	if err := benchmark.SaveScenarioSet(budgets, "budget_scenarios.json"); err != nil {
		log.Fatalf("Failed to save budget scenarios: %v", err)
	}
	fmt.Printf("Saved %d budget scenarios\n", len(budgets.Scenarios))

	custom := benchmark.NewScenarioBuilder("custom_long_sequence").
		WithFrames(240).
		WithBatchSize(20).
		WithBudget(25, 10).
		WithMeshExport().
		WithIterations(3).
		WithWarmupRuns(1).
		Build()

	customSet := &benchmark.ScenarioSet{
		Name:        "Custom Long Sequence Test",
		Description: "Fits a long sequence at the default preset budget with mesh export",
		Scenarios:   []benchmark.Scenario{custom},
	}
	if err := benchmark.SaveScenarioSet(customSet, "custom_scenarios.json"); err != nil {
		log.Fatalf("Failed to save custom scenarios: %v", err)
	}
	fmt.Printf("Saved %d custom scenarios\n", len(customSet.Scenarios))

	fmt.Println("All scenario files created successfully!")
}
