package file

import (
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/artic/cmd/util"
	"github.com/ValentinKolb/artic/lib/cache"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf [handle]",
		Short:   "Performance testing tool for cached file reads",
		Args:    cobra.ExactArgs(1),
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfNumThreads = 10
	perfSmallRead  = 512
	perfBigRead    = 64 * 1024
	perfSkip       = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. sequential,random-big)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "small-read"
	perfTestCmd.Flags().Int(key, 512, util.WrapString("Size of the small reads (in bytes)"))
	key = "big-read"
	perfTestCmd.Flags().Int(key, 64, util.WrapString("Size of the big reads (in KB)"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfNumThreads = viper.GetInt("threads")
	perfSmallRead = viper.GetInt("small-read")
	perfBigRead = viper.GetInt("big-read") * 1024
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfSmallRead <= 0 || perfBigRead <= 0 {
		return fmt.Errorf("read sizes must be positive")
	}
	return nil
}

func run(_ *cobra.Command, args []string) error {
	handle, err := parseHandle(args[0])
	if err != nil {
		return err
	}

	c := fileCache(handle)
	size, err := c.GetSize(handle)
	if err != nil {
		return err
	}
	if size < uint64(perfBigRead) {
		return fmt.Errorf("file too small for the benchmark: %d bytes, need at least %d", size, perfBigRead)
	}

	fmt.Println("Performance testing tool for cached file reads")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	config := util.GetClientConfig()
	cacheConfig := util.GetCacheConfig()
	fmt.Println(config.String())
	fmt.Println(cacheConfig.String())
	fmt.Printf("Threads: %d, File size: %d bytes\n", perfNumThreads, size)
	fmt.Println()

	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)

	// randomOffset returns an offset so that a read of length bytes stays inside the file
	randomOffset := func(rng *rand.Rand, length int) uint64 {
		return uint64(rng.Int63n(int64(size) - int64(length) + 1))
	}

	benchmark := func(name string, length int, offsets func(rng *rand.Rand, counter int) uint64) {
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(name) {
				return
			}

			c.Clear()
			b.SetParallelism(perfNumThreads)
			b.SetBytes(int64(length))
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				rng := rand.New(rand.NewSource(time.Now().UnixNano()))
				buf := make([]byte, length)
				counter := 0
				for pb.Next() {
					if _, err := c.Read(handle, offsets(rng, counter), buf); err != nil {
						util.Logger.Errorf("(%s) - error reading: %v", name, err)
					}
					counter++
				}
			})
		})

		results[name] = result
		printResult(name, result)
	}

	benchmark("sequential", perfSmallRead, func(_ *rand.Rand, counter int) uint64 {
		return uint64(counter*perfSmallRead) % (size - uint64(perfSmallRead) + 1)
	})
	benchmark("random-small", perfSmallRead, func(rng *rand.Rand, _ int) uint64 {
		return randomOffset(rng, perfSmallRead)
	})
	benchmark("hot-small", perfSmallRead, func(_ *rand.Rand, counter int) uint64 {
		return uint64(counter%4) * uint64(perfSmallRead)
	})
	benchmark("random-big", perfBigRead, func(rng *rand.Rand, _ int) uint64 {
		return randomOffset(rng, perfBigRead)
	})
	benchmark("hot-big", perfBigRead, func(_ *rand.Rand, _ int) uint64 {
		return 0
	})

	printStats(c.Stats())

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\t%s\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec, result.MemString())
}

// printStats prints the cache occupancy and the observed read sizes
func printStats(stats cache.Stats) {
	fmt.Println()
	fmt.Println("CACHE")
	fmt.Printf("  %-22s: %d\n", "Resident Pages", stats.Pages)
	fmt.Printf("  %-22s: %d / %d\n", "Big / Very Big Entries", stats.BigEntries, stats.VeryBigEntries)
	fmt.Printf("  %-22s: %d\n", "Reads", stats.Reads)
	fmt.Printf("  %-22s: avg %d, median ~%d, p90 ~%d bytes\n", "Read Size", stats.AverageRead, stats.MedianRead, stats.P90Read)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	config := util.GetClientConfig()
	cacheConfig := util.GetCacheConfig()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoint", "RateLimit", "Threads", "SmallRead", "BigRead",
		"PageSize", "PageCount", "MaxSplitSize", "BigThreshold", "VeryBigThreshold",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		skipped := "true"

		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			config.Endpoint(),
			strconv.FormatFloat(config.RequestsPerSecond, 'f', -1, 64),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfSmallRead),
			strconv.Itoa(perfBigRead),
			strconv.Itoa(cacheConfig.PageSize),
			strconv.Itoa(cacheConfig.PageCount),
			strconv.Itoa(cacheConfig.MaxSplitSize),
			strconv.Itoa(cacheConfig.BigThreshold),
			strconv.Itoa(cacheConfig.VeryBigThreshold),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
