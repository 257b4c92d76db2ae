package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/opencontainers/go-digest"

	"github.com/imilosk/blobstore/configuration"
	"github.com/imilosk/blobstore/storage"
	"github.com/imilosk/blobstore/storage/s3"
)

const (
	defaultPrefix     = "benchmark"
	defaultSizes      = "64MB,256MB"
	defaultIterations = 3
	defaultOutput     = "text"
	benchContentType  = "application/octet-stream"
)

// BenchmarkResult holds the results of a single benchmark run
type BenchmarkResult struct {
	Size       int64         `json:"size_bytes"`
	Duration   time.Duration `json:"duration_ns"`
	Throughput float64       `json:"throughput_mbps"`
}

// SizeResults holds aggregated results for a specific size
type SizeResults struct {
	SizeBytes        int64   `json:"size_bytes"`
	SizeHuman        string  `json:"size_human"`
	Iterations       int     `json:"iterations"`
	MeanThroughput   float64 `json:"mean_throughput_mbps"`
	StdDevThroughput float64 `json:"std_dev_mbps"`
	MinThroughput    float64 `json:"min_throughput_mbps"`
	MaxThroughput    float64 `json:"max_throughput_mbps"`
	Durations        []int64 `json:"durations_ms"`
}

// BenchmarkOutput is the full output structure for JSON
type BenchmarkOutput struct {
	Endpoint    string        `json:"endpoint"`
	Bucket      string        `json:"bucket"`
	Prefix      string        `json:"prefix"`
	Timestamp   string        `json:"timestamp"`
	PushResults []SizeResults `json:"push_results"`
	PullResults []SizeResults `json:"pull_results"`
}

func main() {
	configPath := flag.String("config", os.Getenv("BLOBCTL_CONFIG"), "Path to the blobstore configuration file")
	bucket := flag.String("bucket", "", "Bucket to write test objects to")
	prefix := flag.String("prefix", defaultPrefix, "Key prefix for test objects")
	sizes := flag.String("sizes", defaultSizes, "Comma-separated object sizes to test (e.g., 64MB,1GB)")
	iterations := flag.Int("iterations", defaultIterations, "Number of iterations per size")
	output := flag.String("output", defaultOutput, "Output format: text or json")
	flag.Parse()

	if *bucket == "" {
		fmt.Fprintf(os.Stderr, "A bucket is required\n")
		os.Exit(1)
	}

	sizeList, err := parseSizes(*sizes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing sizes: %v\n", err)
		os.Exit(1)
	}

	if *output != "text" && *output != "json" {
		fmt.Fprintf(os.Stderr, "Invalid output format: %s (must be 'text' or 'json')\n", *output)
		os.Exit(1)
	}

	settings, st, err := openStorage(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening storage: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	benchmarkOutput := BenchmarkOutput{
		Endpoint:  settings.Endpoint,
		Bucket:    *bucket,
		Prefix:    *prefix,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	fmt.Fprintf(os.Stderr, "Blob Storage Benchmark\n")
	fmt.Fprintf(os.Stderr, "======================\n")
	fmt.Fprintf(os.Stderr, "Endpoint: %s\n", settings.Endpoint)
	fmt.Fprintf(os.Stderr, "Bucket: %s\n", *bucket)
	fmt.Fprintf(os.Stderr, "Sizes: %v\n", sizeList)
	fmt.Fprintf(os.Stderr, "Iterations: %d\n\n", *iterations)

	for _, size := range sizeList {
		sizeHuman := humanizeBytes(size)
		fmt.Fprintf(os.Stderr, "Testing %s objects...\n", sizeHuman)

		fmt.Fprintf(os.Stderr, "  Generating %s random object...\n", sizeHuman)
		data, dgst := generateBlob(size)
		fmt.Fprintf(os.Stderr, "  Object digest: %s\n", dgst)

		// Every push writes the same key, the last one is read back by the
		// pull benchmarks.
		key := objectKey(*prefix, dgst)

		fmt.Fprintf(os.Stderr, "  Running push benchmarks...\n")
		pushResults := make([]BenchmarkResult, 0, *iterations)
		for i := 0; i < *iterations; i++ {
			result, err := benchmarkPush(ctx, st, *bucket, key, data)
			if err != nil {
				fmt.Fprintf(os.Stderr, "    Push iteration %d failed: %v\n", i+1, err)
				continue
			}
			pushResults = append(pushResults, result)
			fmt.Fprintf(os.Stderr, "    Push %d: %.2f MB/s (%.2fs)\n", i+1, result.Throughput, result.Duration.Seconds())
		}

		fmt.Fprintf(os.Stderr, "  Running pull benchmarks...\n")
		pullResults := make([]BenchmarkResult, 0, *iterations)
		if len(pushResults) > 0 {
			for i := 0; i < *iterations; i++ {
				result, err := benchmarkPull(ctx, st, *bucket, key, dgst)
				if err != nil {
					fmt.Fprintf(os.Stderr, "    Pull iteration %d failed: %v\n", i+1, err)
					continue
				}
				pullResults = append(pullResults, result)
				fmt.Fprintf(os.Stderr, "    Pull %d: %.2f MB/s (%.2fs)\n", i+1, result.Throughput, result.Duration.Seconds())
			}
		}

		if len(pushResults) > 0 {
			benchmarkOutput.PushResults = append(benchmarkOutput.PushResults, aggregateResults(size, pushResults))
		}
		if len(pullResults) > 0 {
			benchmarkOutput.PullResults = append(benchmarkOutput.PullResults, aggregateResults(size, pullResults))
		}

		fmt.Fprintf(os.Stderr, "\n")
	}

	if *output == "json" {
		err = outputJSON(os.Stdout, benchmarkOutput)
	} else {
		err = outputText(os.Stdout, benchmarkOutput)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error writing results: %v\n", err)
		os.Exit(1)
	}
}

func openStorage(configPath string) (configuration.BlobStorage, *s3.Storage, error) {
	if configPath == "" {
		return configuration.BlobStorage{}, nil, fmt.Errorf("configuration path unspecified")
	}

	fp, err := os.Open(configPath)
	if err != nil {
		return configuration.BlobStorage{}, nil, err
	}
	defer fp.Close()

	config, err := configuration.Parse(fp)
	if err != nil {
		return configuration.BlobStorage{}, nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}

	st, err := s3.New(config.Storage, s3.WithDoer(s3.NewExecutor(config.HTTP)))
	if err != nil {
		return configuration.BlobStorage{}, nil, err
	}

	return config.Storage, st, nil
}

// objectKey names the test object of a digest under prefix.
func objectKey(prefix string, dgst digest.Digest) string {
	return path.Join(prefix, dgst.Algorithm().String(), dgst.Encoded())
}

// parseSizes parses a comma-separated list of sizes like "1GB,2GB" into bytes
func parseSizes(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	sizes := make([]int64, 0, len(parts))

	for _, part := range parts {
		part = strings.ToUpper(strings.TrimSpace(part))

		var multiplier int64 = 1
		numStr := part

		for _, unit := range []struct {
			suffix string
			factor int64
		}{
			{"GB", 1 << 30},
			{"MB", 1 << 20},
			{"KB", 1 << 10},
		} {
			if strings.HasSuffix(part, unit.suffix) {
				multiplier = unit.factor
				numStr = strings.TrimSuffix(part, unit.suffix)
				break
			}
		}

		num, err := strconv.ParseInt(numStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid size '%s': %w", part, err)
		}
		if num <= 0 {
			return nil, fmt.Errorf("invalid size '%s': must be positive", part)
		}

		sizes = append(sizes, num*multiplier)
	}

	return sizes, nil
}

// humanizeBytes converts bytes to human-readable format
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.0f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// generateBlob generates a random object of the specified size using ChaCha8 RNG
func generateBlob(size int64) ([]byte, digest.Digest) {
	seed := [32]byte{}
	seedVal := time.Now().UnixNano()
	for i := 0; i < 8; i++ {
		seed[i] = byte(seedVal >> (i * 8))
	}

	rng := rand.NewChaCha8(seed)
	data := make([]byte, size)
	_, _ = rng.Read(data)

	return data, digest.FromBytes(data)
}

func throughput(n int64, d time.Duration) float64 {
	return float64(n) / d.Seconds() / (1024 * 1024)
}

// benchmarkPush times a single streamed upload of data.
func benchmarkPush(ctx context.Context, st storage.BlobStorage, bucket, key string, data []byte) (BenchmarkResult, error) {
	start := time.Now()

	result, err := st.UploadStream(ctx, bucket, key, benchContentType, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return BenchmarkResult{}, err
	}
	if !result.Success {
		return BenchmarkResult{}, fmt.Errorf("upload of %s was not stored", storage.NewAddress(bucket, key))
	}

	duration := time.Since(start)

	return BenchmarkResult{
		Size:       result.Size,
		Duration:   duration,
		Throughput: throughput(result.Size, duration),
	}, nil
}

// benchmarkPull times a single download of key, verifying its content
// against dgst.
func benchmarkPull(ctx context.Context, st storage.BlobStorage, bucket, key string, dgst digest.Digest) (BenchmarkResult, error) {
	start := time.Now()

	result, err := st.OpenDownload(ctx, storage.NewDownloadRequest(storage.NewAddress(bucket, key)))
	if err != nil {
		return BenchmarkResult{}, err
	}
	defer result.Body.Close()

	verifier := dgst.Verifier()
	written, err := io.Copy(verifier, result.Body)
	if err != nil {
		return BenchmarkResult{}, fmt.Errorf("reading body: %w", err)
	}

	duration := time.Since(start)

	if !verifier.Verified() {
		return BenchmarkResult{}, fmt.Errorf("content of %s does not match %s", storage.NewAddress(bucket, key), dgst)
	}

	return BenchmarkResult{
		Size:       written,
		Duration:   duration,
		Throughput: throughput(written, duration),
	}, nil
}

// aggregateResults aggregates multiple benchmark results into statistics
func aggregateResults(size int64, results []BenchmarkResult) SizeResults {
	if len(results) == 0 {
		return SizeResults{SizeBytes: size, SizeHuman: humanizeBytes(size)}
	}

	durations := make([]int64, len(results))
	var sum float64
	minT := results[0].Throughput
	maxT := results[0].Throughput

	for i, r := range results {
		durations[i] = r.Duration.Milliseconds()
		sum += r.Throughput
		minT = math.Min(minT, r.Throughput)
		maxT = math.Max(maxT, r.Throughput)
	}

	mean := sum / float64(len(results))

	var variance float64
	for _, r := range results {
		variance += (r.Throughput - mean) * (r.Throughput - mean)
	}
	variance /= float64(len(results))

	return SizeResults{
		SizeBytes:        size,
		SizeHuman:        humanizeBytes(size),
		Iterations:       len(results),
		MeanThroughput:   mean,
		StdDevThroughput: math.Sqrt(variance),
		MinThroughput:    minT,
		MaxThroughput:    maxT,
		Durations:        durations,
	}
}

func outputJSON(w io.Writer, output BenchmarkOutput) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

func outputText(w io.Writer, output BenchmarkOutput) error {
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Blob Storage Benchmark Results")
	_, _ = fmt.Fprintln(w, "==============================")
	_, _ = fmt.Fprintf(w, "Endpoint: %s\n", output.Endpoint)
	_, _ = fmt.Fprintf(w, "Bucket: %s\n", output.Bucket)
	_, _ = fmt.Fprintf(w, "Timestamp: %s\n", output.Timestamp)
	_, _ = fmt.Fprintln(w)

	for _, section := range []struct {
		title   string
		results []SizeResults
	}{
		{"PUSH RESULTS", output.PushResults},
		{"PULL RESULTS", output.PullResults},
	} {
		if len(section.results) == 0 {
			continue
		}

		_, _ = fmt.Fprintln(w, section.title)

		table := tablewriter.NewWriter(w)
		table.Header([]string{"Size", "Iterations", "Throughput", "Std Dev", "Min", "Max"})
		for _, r := range section.results {
			if err := table.Append([]string{
				r.SizeHuman,
				strconv.Itoa(r.Iterations),
				fmt.Sprintf("%.2f MB/s", r.MeanThroughput),
				fmt.Sprintf("%.2f MB/s", r.StdDevThroughput),
				fmt.Sprintf("%.2f MB/s", r.MinThroughput),
				fmt.Sprintf("%.2f MB/s", r.MaxThroughput),
			}); err != nil {
				return fmt.Errorf("failed to append row: %w", err)
			}
		}
		if err := table.Render(); err != nil {
			return fmt.Errorf("failed to render table: %w", err)
		}

		_, _ = fmt.Fprintln(w)
	}

	return nil
}
