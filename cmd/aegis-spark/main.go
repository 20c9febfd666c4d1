package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ghalamif/AegisSpark"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:], os.Stdout)
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return
	default:
		printUsage(os.Stderr)
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil && !errors.Is(err, pflag.ErrHelp) {
		log.Fatalf("aegis-spark %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	cfgPath := fs.StringP("config", "c", "./data/config.yaml", "path to gateway configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := aegisspark.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Run(ctx)
}

func validateCommand(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("validate", pflag.ContinueOnError)
	cfgPath := fs.StringP("config", "c", "./data/config.yaml", "path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := aegisspark.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "config %s looks good: node %s/%s, %d tags, %s transport, %s buffer\n",
		*cfgPath, cfg.Node.Group, cfg.Node.Node, len(cfg.Tags), cfg.Transport.Kind, cfg.Buffer.Kind)
	return nil
}

func statsCommand(args []string) error {
	fs := pflag.NewFlagSet("stats", pflag.ContinueOnError)
	base := fs.StringP("url", "u", "http://localhost:9100", "admin server base URL")
	interval := fs.DurationP("interval", "i", 2*time.Second, "refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	client := &http.Client{Timeout: 5 * time.Second}
	fmt.Printf("Streaming gateway stats from %s (Ctrl+C to stop)\n", *base)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			line, err := snapshot(ctx, client, strings.TrimRight(*base, "/"))
			if err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
				continue
			}
			fmt.Println(line)
		}
	}
}

type bufferView struct {
	aegisspark.BufferMetrics
	OldestAgeSeconds float64 `json:"oldest_age_seconds"`
}

// snapshot renders one status line from the session, buffer and metrics endpoints.
func snapshot(ctx context.Context, client *http.Client, base string) (string, error) {
	var sess aegisspark.SessionStats
	if err := getJSON(ctx, client, base+"/api/session", &sess); err != nil {
		return "", err
	}
	var buf bufferView
	if err := getJSON(ctx, client, base+"/api/buffer/metrics", &buf); err != nil {
		return "", err
	}
	counters, err := scrape(ctx, client, base+"/metrics",
		"aegis_spark_samples_accepted_total",
		"aegis_spark_samples_suppressed_total",
		"aegis_spark_send_failures_total",
	)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("[%s] state=%s bd_seq=%d next_seq=%d sent=%d historical=%d accepted=%.0f suppressed=%.0f send_failures=%.0f buffered=%d bytes=%d dropped=%d oldest_age=%.1fs",
		time.Now().Format(time.RFC3339),
		sess.State, sess.BdSeq, sess.NextSeq, sess.MessagesSent, sess.HistoricalSent,
		counters["aegis_spark_samples_accepted_total"],
		counters["aegis_spark_samples_suppressed_total"],
		counters["aegis_spark_send_failures_total"],
		buf.MessageCount, buf.SizeBytes, buf.DroppedCount, buf.OldestAgeSeconds,
	), nil
}

func get(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%s: unexpected status %s", url, resp.Status)
	}
	return resp, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	resp, err := get(ctx, client, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

// scrape reads unlabelled samples for the named series from a Prometheus
// text exposition.
func scrape(ctx context.Context, client *http.Client, url string, names ...string) (map[string]float64, error) {
	resp, err := get(ctx, client, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	targets := make(map[string]float64, len(names))
	for _, n := range names {
		targets[n] = 0
	}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for key := range targets {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %g", &value); err == nil {
					targets[key] = value
				}
			}
		}
	}
	return targets, scanner.Err()
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `AegisSpark CLI

Usage:
  aegis-spark <command> [flags]

Commands:
  run        Start the gateway using the provided config
  validate   Load and validate a config file without starting the gateway
  stats      Poll the admin server and print session and buffer state

Examples:
  aegis-spark run --config ./data/config.yaml
  aegis-spark validate -c ./data/config.yaml
  aegis-spark stats --url http://localhost:9100 --interval 1s
`)
}
