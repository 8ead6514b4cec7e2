package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailera/acertaia-api/internal/config"
	"github.com/kailera/acertaia-api/internal/jetstream"
	"github.com/kailera/acertaia-api/internal/model"
	"github.com/kailera/acertaia-api/internal/observer"
	"github.com/kailera/acertaia-api/pkg/logger"
	"github.com/kailera/acertaia-api/pkg/utils"
)

// webhookTask is one generated delivery.
type webhookTask struct {
	Instance string
	Contact  string
}

// publisher sends one webhook body for an instance.
type publisher interface {
	Send(ctx context.Context, instance string, body []byte) error
	Name() string
}

type httpPublisher struct {
	url    string
	client *http.Client
}

func (p *httpPublisher) Name() string { return "http" }

func (p *httpPublisher) Send(ctx context.Context, instance string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"?instance="+instance, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

type natsPublisher struct {
	client  jetstream.ClientInterface
	subject string
}

func (p *natsPublisher) Name() string { return "nats" }

func (p *natsPublisher) Send(ctx context.Context, instance string, body []byte) error {
	return p.client.Publish(ctx, p.subject+"."+instance, body, nil)
}

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	target := flag.String("target", "http", "Where to send webhooks: http or nats")
	webhookURL := flag.String("url", fmt.Sprintf("http://localhost:%d/api/wa/webhook", cfg.Server.Port), "Webhook endpoint for the http target")
	natsURL := flag.String("nats-url", cfg.NATS.URL, "NATS server URL for the nats target")
	subject := flag.String("subject", "v1.wa.webhook", "Base subject for the nats target, the instance is appended")
	instancesStr := flag.String("instances", "loja", "Comma-separated list of gateway instances")
	contacts := flag.Int("contacts", 50, "Distinct contacts per instance")
	rate := flag.Int("rate", 20, "Target webhooks per second (total)")
	duration := flag.Duration("duration", time.Minute, "Load test duration")
	concurrency := flag.Int("concurrency", 10, "Number of concurrent workers")
	metricsPort := flag.Int("metrics-port", 9091, "Port for Prometheus metrics endpoint")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Webhook Load Generator\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Sends fake WhatsApp gateway deliveries to the API or to JetStream.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *rate <= 0 || *concurrency <= 0 || *contacts <= 0 {
		fmt.Println("rate, concurrency and contacts must be positive")
		os.Exit(1)
	}

	if err := logger.Initialize(logger.Options{Level: *logLevel, Service: "acertaia-tester", Console: true}); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsServer := startMetricsServer(*metricsPort)

	instances := strings.Split(*instancesStr, ",")
	if len(instances) == 0 || instances[0] == "" {
		logger.Log.Fatal("No instances provided")
	}

	var pub publisher
	switch *target {
	case "http":
		pub = &httpPublisher{url: *webhookURL, client: &http.Client{Timeout: 90 * time.Second}}
	case "nats":
		natsClient, err := jetstream.NewClient(*natsURL, "acertaia-loadgen", jetstream.WithLogger(logger.Log.Named("nats")))
		if err != nil {
			logger.Log.Fatal("Failed to connect to NATS", zap.String("url", *natsURL), zap.Error(err))
		}
		defer natsClient.Close()
		pub = &natsPublisher{client: natsClient, subject: *subject}
	default:
		logger.Log.Fatal("Unknown target", zap.String("target", *target))
	}

	logger.Log.Info("Starting webhook load generator",
		zap.String("target", pub.Name()),
		zap.Strings("instances", instances),
		zap.Int("rate_per_sec", *rate),
		zap.Duration("duration", *duration),
		zap.Int("concurrency", *concurrency),
		zap.Int("metrics_port", *metricsPort),
	)

	// A fixed contact set per instance makes later deliveries hit existing bindings
	jids := make([]string, *contacts)
	for i := range jids {
		jids[i] = model.FakeJID()
	}

	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(*concurrency, func(data interface{}) {
		defer wg.Done()
		task := data.(webhookTask)
		send(ctx, pub, task)
	})
	if err != nil {
		logger.Log.Fatal("Failed to create worker pool", zap.Error(err))
	}
	defer pool.Release()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		runLoadLoop(ctx, *rate, *duration, instances, jids, pool, &wg)
	}()

	select {
	case sig := <-sigChan:
		logger.Log.Info("Received termination signal, shutting down...", zap.String("signal", sig.String()))
		cancel()
	case <-done:
		logger.Log.Info("Load generation duration finished")
	}

	<-done
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Metrics server shutdown error", zap.Error(err))
	}

	logger.Log.Info("Load generator shutdown complete.")
}

func send(ctx context.Context, pub publisher, task webhookTask) {
	msg := model.NewWebhookMessage(task.Contact, gofakeit.UUID(), gofakeit.Sentence(6), utils.Now())
	body := model.NewWebhookBody(task.Instance, msg)

	err := pub.Send(ctx, task.Instance, body)
	observer.IncLoadgenRequest(pub.Name(), err)
	if err != nil {
		logger.Log.Warn("Failed to send webhook",
			zap.String("instance", task.Instance),
			zap.String("contact", task.Contact),
			zap.Error(err))
	}
}

func startMetricsServer(port int) *http.Server {
	logger.Log.Info("Starting Prometheus metrics server", zap.Int("port", port))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Error("Failed to start Prometheus metrics server", zap.Error(err))
		}
	}()

	return server
}

// runLoadLoop submits one task per tick until ctx is done or duration elapses.
func runLoadLoop(ctx context.Context, rate int, duration time.Duration, instances, jids []string, pool *ants.PoolWithFunc, wg *sync.WaitGroup) {
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	durationTimer := time.NewTimer(duration)
	defer durationTimer.Stop()

	counter := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-durationTimer.C:
			return
		case <-ticker.C:
			task := webhookTask{
				Instance: instances[counter%len(instances)],
				Contact:  jids[gofakeit.Number(0, len(jids)-1)],
			}
			counter++

			wg.Add(1)
			if err := pool.Invoke(task); err != nil {
				wg.Done()
				logger.Log.Warn("Failed to invoke worker pool", zap.Error(err))
				observer.IncLoadgenRequest("submit", err)
			}
		}
	}
}
