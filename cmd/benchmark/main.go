// Benchmark tool comparing the hand-rolled big.Rat expression compiler
// (internal/expr) against a CEL-based equivalent (internal/legacyrules) on
// the same set of rule conditions.
//
// Usage:
//   go run cmd/benchmark/main.go -iterations 100000 -workers 10
package main

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smartunderwrite/smartunderwrite/internal/domain"
	"github.com/smartunderwrite/smartunderwrite/internal/expr"
	"github.com/smartunderwrite/smartunderwrite/internal/legacyrules"
)

// sampleConditions mirrors the clause conditions a real rule set would use,
// drawn from the field catalog both compilers share.
var sampleConditions = []string{
	`CreditScore < 500`,
	`Amount > 50000`,
	`EmploymentType == "salaried" && IncomeMonthly > 3000`,
	`ProductType == "mortgage" || ProductType == "auto"`,
	`Amount > 10000 && CreditScore < 650`,
}

// sampleContexts is the pool of evaluation contexts each worker cycles
// through, varied enough to exercise both branches of every condition.
var sampleContexts = buildSampleContexts()

func buildSampleContexts() []*domain.EvaluationContext {
	scores := []int64{450, 600, 720, 810}
	contexts := make([]*domain.EvaluationContext, 0, len(scores)*2)
	for _, score := range scores {
		s := score
		contexts = append(contexts,
			&domain.EvaluationContext{
				Amount:          domain.DecimalFromInt(15000),
				IncomeMonthly:   domain.DecimalFromInt(4500),
				CreditScore:     &s,
				EmploymentType:  "salaried",
				ProductType:     "personal",
				ApplicationDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			},
			&domain.EvaluationContext{
				Amount:          domain.DecimalFromInt(75000),
				IncomeMonthly:   domain.DecimalFromInt(9000),
				CreditScore:     &s,
				EmploymentType:  "self-employed",
				ProductType:     "mortgage",
				ApplicationDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			},
		)
	}
	return contexts
}

// engineMetrics tracks one engine's throughput over a benchmark run.
type engineMetrics struct {
	name       string
	evalCount  int64
	errorCount int64
	elapsed    time.Duration
}

func main() {
	iterations := flag.Int("iterations", 100000, "Evaluations to run per condition, per engine")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	flag.Parse()

	fmt.Println("================================================================")
	fmt.Println("   EXPRESSION COMPILER BENCHMARK: internal/expr vs legacyrules")
	fmt.Println("================================================================")
	fmt.Printf("\nConditions:  %d\n", len(sampleConditions))
	fmt.Printf("Iterations:  %d (per condition, per engine)\n", *iterations)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	nativePredicates := make([]expr.Predicate, 0, len(sampleConditions))
	for _, cond := range sampleConditions {
		pred, err := expr.Compile(cond)
		if err != nil {
			fmt.Printf("ERROR: failed to compile %q with internal/expr: %v\n", cond, err)
			os.Exit(1)
		}
		nativePredicates = append(nativePredicates, pred)
	}

	legacyPredicates := make([]*legacyrules.Predicate, 0, len(sampleConditions))
	for _, cond := range sampleConditions {
		pred, err := legacyrules.Compile(cond)
		if err != nil {
			fmt.Printf("ERROR: failed to compile %q with legacyrules: %v\n", cond, err)
			os.Exit(1)
		}
		legacyPredicates = append(legacyPredicates, pred)
	}

	fmt.Println("Running internal/expr...")
	nativeResult := runEngine("internal/expr", *iterations, *workers, func(ctx *domain.EvaluationContext) error {
		for _, pred := range nativePredicates {
			pred(ctx)
		}
		return nil
	})

	fmt.Println("Running legacyrules (CEL)...")
	legacyResult := runEngine("legacyrules", *iterations, *workers, func(ctx *domain.EvaluationContext) error {
		for _, pred := range legacyPredicates {
			if _, err := pred.Eval(ctx); err != nil {
				return err
			}
		}
		return nil
	})

	printResults(nativeResult, legacyResult)
}

// runEngine fans evaluation work for one engine across workers concurrent
// goroutines, cycling through sampleContexts, and reports throughput.
func runEngine(name string, iterations, workers int, evaluate func(*domain.EvaluationContext) error) *engineMetrics {
	m := &engineMetrics{name: name}

	work := make(chan int, 100)
	var wg sync.WaitGroup

	start := time.Now()
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				ctx := sampleContexts[idx%len(sampleContexts)]
				if err := evaluate(ctx); err != nil {
					atomic.AddInt64(&m.errorCount, 1)
					continue
				}
				atomic.AddInt64(&m.evalCount, 1)
			}
		}()
	}

	for i := 0; i < iterations; i++ {
		work <- i
	}
	close(work)
	wg.Wait()
	m.elapsed = time.Since(start)

	return m
}

func printResults(native, legacy *engineMetrics) {
	fmt.Println("\n================================================================")
	fmt.Println("                      BENCHMARK RESULTS")
	fmt.Println("================================================================")

	for _, m := range []*engineMetrics{native, legacy} {
		throughput := float64(m.evalCount*int64(len(sampleConditions))) / m.elapsed.Seconds()
		fmt.Printf("\n%s\n", m.name)
		fmt.Printf("   Duration:    %v\n", m.elapsed.Round(time.Microsecond))
		fmt.Printf("   Iterations:  %d\n", m.evalCount)
		fmt.Printf("   Errors:      %d\n", m.errorCount)
		fmt.Printf("   Throughput:  %.0f predicate evaluations/sec\n", throughput)
	}

	if native.elapsed > 0 && legacy.elapsed > 0 {
		ratio := legacy.elapsed.Seconds() / native.elapsed.Seconds()
		fmt.Printf("\nlegacyrules took %.2fx the time of internal/expr\n", ratio)
	}
	fmt.Println()
}
