// Command loiterd serves loitering analysis over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
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
	"github.com/banshee-data/loiter.report/internal/metrics"
	"github.com/banshee-data/loiter.report/internal/pipeline"
	"github.com/banshee-data/loiter.report/internal/version"
)

type options struct {
	listen         string
	dbPath         string
	configPath     string
	uploadDir      string
	maxUploadBytes int64
	mqttBroker     string
	mqttTopic      string
	mqttClientID   string
	mqttUsername   string
	mqttPassword   string
	showVersion    bool
}

func newFlagSet(opts *options) *flag.FlagSet {
	fs := flag.NewFlagSet("loiterd", flag.ContinueOnError)
	fs.StringVar(&opts.listen, "listen", ":8000", "Listen address")
	fs.StringVar(&opts.dbPath, "db", "loiter.db", "SQLite database path")
	fs.StringVar(&opts.configPath, "config", "", "Tuning config JSON (built-in defaults when empty)")
	fs.StringVar(&opts.uploadDir, "uploads", "uploaded_videos", "Directory for in-flight uploads")
	fs.Int64Var(&opts.maxUploadBytes, "max-upload-bytes", api.DefaultMaxUploadBytes, "Maximum upload size")
	fs.StringVar(&opts.mqttBroker, "mqtt-broker", "", "MQTT broker URL for alert documents (disabled when empty)")
	fs.StringVar(&opts.mqttTopic, "mqtt-topic", alertpub.DefaultTopic, "MQTT topic for alert documents")
	fs.StringVar(&opts.mqttClientID, "mqtt-client-id", "loiterd", "MQTT client id")
	fs.StringVar(&opts.mqttUsername, "mqtt-username", "", "MQTT username")
	fs.StringVar(&opts.mqttPassword, "mqtt-password", "", "MQTT password")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: loiterd [flags]\n       loiterd migrate <command> [-db path]\n\n")
		fs.PrintDefaults()
	}
	return fs
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(os.Args[2:]); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	var opts options
	if err := newFlagSet(&opts).Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Println(version.String("loiterd"))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Fatalf("loiterd: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// runMigrate handles "loiterd migrate [-db path] <command> [args]".
func runMigrate(args []string) error {
	fs := flag.NewFlagSet("loiterd migrate", flag.ContinueOnError)
	dbPath := fs.String("db", "loiter.db", "SQLite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return db.RunMigrateCommand(fs.Args(), *dbPath, os.Stdout)
}

func run(ctx context.Context, opts options) error {
	if opts.listen == "" {
		return fmt.Errorf("listen address is required")
	}

	tuning, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(opts.uploadDir, 0o750); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	database, err := db.NewDB(opts.dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	srvOpts := api.Options{
		Analyzer:       pipeline.NewAnalyzer(tuning, cvsource.OpenVideo),
		DB:             database,
		Metrics:        metrics.New(),
		UploadDir:      opts.uploadDir,
		MaxUploadBytes: opts.maxUploadBytes,
	}

	if opts.mqttBroker != "" {
		pub, err := alertpub.Connect(alertpub.Config{
			Broker:   opts.mqttBroker,
			ClientID: opts.mqttClientID,
			Username: opts.mqttUsername,
			Password: opts.mqttPassword,
			Topic:    opts.mqttTopic,
			QoS:      1,
			Timeout:  10 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("connect mqtt: %w", err)
		}
		defer pub.Close()
		log.Printf("publishing alerts to %s topic %s", opts.mqttBroker, pub.Topic())
		srvOpts.Publisher = pub
	}

	log.Printf("%s: db=%s uploads=%s threshold=%.1fs", version.String("loiterd"),
		opts.dbPath, opts.uploadDir, tuning.GetLoiteringTimeThresholdSecs())
	return api.NewServer(srvOpts).Start(ctx, opts.listen)
}
