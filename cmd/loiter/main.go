// Command loiter analyses one video or replay file and prints the report.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/loiter.report/internal/alertpub"
	"github.com/banshee-data/loiter.report/internal/api"
	"github.com/banshee-data/loiter.report/internal/config"
	"github.com/banshee-data/loiter.report/internal/db"
	"github.com/banshee-data/loiter.report/internal/detect/cvsource"
	"github.com/banshee-data/loiter.report/internal/loiter"
	"github.com/banshee-data/loiter.report/internal/pipeline"
	"github.com/banshee-data/loiter.report/internal/render"
	"github.com/banshee-data/loiter.report/internal/version"
)

type options struct {
	configPath  string
	dbPath      string
	noPersist   bool
	server      string
	mqttBroker  string
	mqttTopic   string
	chartPath   string
	plotPath    string
	xlsxPath    string
	showVersion bool
	input       string
}

func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("loiter", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.configPath, "config", "", "Tuning config JSON (built-in defaults when empty)")
	fs.StringVar(&opts.dbPath, "db", "loiter.db", "SQLite database path")
	fs.BoolVar(&opts.noPersist, "no-persist", false, "Do not store the session and alert document")
	fs.StringVar(&opts.server, "server", "", "Submit the file to a running loiterd at this URL instead of analysing locally")
	fs.StringVar(&opts.mqttBroker, "mqtt-broker", "", "MQTT broker URL for the alert document")
	fs.StringVar(&opts.mqttTopic, "mqtt-topic", alertpub.DefaultTopic, "MQTT topic for the alert document")
	fs.StringVar(&opts.chartPath, "chart", "", "Write an HTML dwell chart to this path")
	fs.StringVar(&opts.plotPath, "plot", "", "Write a PNG dwell plot to this path")
	fs.StringVar(&opts.xlsxPath, "xlsx", "", "Write an xlsx workbook to this path")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: loiter [flags] <video-or-replay-file>\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.showVersion {
		return opts, nil
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return opts, errors.New("exactly one input file is required")
	}
	opts.input = fs.Arg(0)
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("loiter: %v", err)
	}
	if opts.showVersion {
		fmt.Println(version.String("loiter"))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout, cvsource.OpenVideo); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("loiter: interrupted")
			os.Exit(130)
		}
		log.Fatalf("loiter: %v", err)
	}
}

// run analyses opts.input and emits the report. An interrupted local
// analysis still emits, stores and publishes the partial report, then
// returns the context error.
func run(ctx context.Context, opts options, stdout io.Writer, openVideo pipeline.VideoOpener) error {
	report, runErr := analyze(ctx, opts, openVideo)
	partial := errors.Is(runErr, context.Canceled) && report.SessionID != ""
	if runErr != nil && !partial {
		return runErr
	}
	if partial {
		log.Printf("Interrupted after %d frames; emitting partial report", report.FramesProcessed)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "    ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	log.Printf("Assessment: %s", report.Assessment)
	log.Printf("Loitering detected: %t (resolution %s, roi %v, threshold %.1fs, %d objects)",
		report.LoiteringDetected, report.Resolution, report.ROI, report.ThresholdSec, len(report.Entries))

	if err := writeOutputs(opts, &report); err != nil {
		return err
	}

	// A remote loiterd persists and publishes on its own.
	if opts.server != "" {
		return runErr
	}

	var alertID string
	if !opts.noPersist {
		database, err := db.NewDB(opts.dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer database.Close()
		alert, err := database.RecordSession(&report)
		if err != nil {
			return fmt.Errorf("persist session: %w", err)
		}
		alertID = alert.AlertID
		log.Printf("Stored session %s (alert %s) in %s", report.SessionID, alertID, opts.dbPath)
	}

	if opts.mqttBroker != "" {
		pub, err := alertpub.Connect(alertpub.Config{
			Broker:   opts.mqttBroker,
			ClientID: "loiter-" + report.SessionID,
			Topic:    opts.mqttTopic,
			QoS:      1,
			Timeout:  10 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("connect mqtt: %w", err)
		}
		defer pub.Close()
		if err := pub.Publish(context.WithoutCancel(ctx), alertpub.MessageFromReport(report, alertID)); err != nil {
			return fmt.Errorf("publish alert: %w", err)
		}
		log.Printf("Alert published to %s", pub.Topic())
	}
	return runErr
}

func analyze(ctx context.Context, opts options, openVideo pipeline.VideoOpener) (loiter.Report, error) {
	if opts.server != "" {
		return api.NewClient(opts.server, nil).AnalyzeFile(ctx, opts.input)
	}

	tuning, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		return loiter.Report{}, fmt.Errorf("load config: %w", err)
	}
	analyzer := pipeline.NewAnalyzer(tuning, openVideo)
	return analyzer.AnalyzeFile(ctx, opts.input, "", pipeline.AlertTransitions(log.Printf))
}

func writeOutputs(opts options, report *loiter.Report) error {
	if opts.chartPath != "" {
		html, err := render.DwellChartHTML(report)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.chartPath, html, 0o644); err != nil {
			return fmt.Errorf("write chart: %w", err)
		}
	}
	if opts.plotPath != "" {
		f, err := os.Create(opts.plotPath)
		if err != nil {
			return fmt.Errorf("create plot: %w", err)
		}
		if err := render.DwellPlotPNG(f, report); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("write plot: %w", err)
		}
	}
	if opts.xlsxPath != "" {
		data, err := render.ReportWorkbook(report)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.xlsxPath, data, 0o644); err != nil {
			return fmt.Errorf("write workbook: %w", err)
		}
	}
	return nil
}
