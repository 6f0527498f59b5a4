package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/OneBusAway/go-gtfs"
	"golang.org/x/time/rate"

	"github.com/mlcsinaga/ttc-transit-punctuality/internal/clock"
	"github.com/mlcsinaga/ttc-transit-punctuality/internal/logging"
	"github.com/mlcsinaga/ttc-transit-punctuality/internal/metrics"
	"github.com/mlcsinaga/ttc-transit-punctuality/internal/otp"
)

// realtimeHTTPClient is a dedicated HTTP client for GTFS-RT feed fetching,
// configured with explicit timeouts and transport limits to avoid the pitfalls
// of http.DefaultClient (no timeout, shared global state).
// The transport is cloned from http.DefaultTransport to preserve important
// defaults (ProxyFromEnvironment, DialContext, HTTP/2, keepalives).
var realtimeHTTPClient = newRealtimeHTTPClient()

func newRealtimeHTTPClient() *http.Client {
	var transport *http.Transport
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = t.Clone()
	} else {
		transport = &http.Transport{}
	}
	transport.MaxIdleConns = 50
	transport.MaxIdleConnsPerHost = 10
	transport.IdleConnTimeout = 90 * time.Second
	transport.TLSHandshakeTimeout = 10 * time.Second
	transport.ExpectContinueTimeout = 1 * time.Second

	return &http.Client{
		// Timeout is an absolute safety net per request; the poll loop also
		// sets a 15s context timeout and the stricter of the two wins.
		Timeout:   10 * time.Second,
		Transport: transport,
	}
}

// PositionWriter appends position observations to the log.
type PositionWriter interface {
	RecordVehiclePositions(ctx context.Context, observations []otp.PositionObservation) error
}

// PollerConfig configures a vehicle position poller.
type PollerConfig struct {
	// VehiclePositionsURL is the GTFS-RT vehicle positions feed.
	VehiclePositionsURL string
	// Interval between polls. Defaults to 30 seconds.
	Interval time.Duration
	// Archiver, when set, also writes each raw feed snapshot to disk.
	Archiver *Archiver
	// Metrics, when set, counts ingested observations.
	Metrics *metrics.Metrics
	// Clock supplies fetch timestamps. Defaults to the real clock.
	Clock clock.Clock
}

// Poller periodically fetches a GTFS-RT vehicle positions feed and records
// the observations. Polls are rate limited independently of the ticker so a
// misconfigured interval can never hammer the feed.
type Poller struct {
	config  PollerConfig
	writer  PositionWriter
	limiter *rate.Limiter
	clock   clock.Clock

	shutdownChan chan struct{}
	wg           sync.WaitGroup
}

// Feeds are public endpoints; never poll more than once per 5 seconds.
const minPollSpacing = 5 * time.Second

func NewPoller(config PollerConfig, writer PositionWriter) *Poller {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}

	spacing := config.Interval
	if spacing < minPollSpacing {
		spacing = minPollSpacing
	}

	return &Poller{
		config:       config,
		writer:       writer,
		limiter:      rate.NewLimiter(rate.Every(spacing), 1),
		clock:        config.Clock,
		shutdownChan: make(chan struct{}),
	}
}

// Start launches the poll loop. Call Stop to shut it down.
func (p *Poller) Start() {
	p.wg.Add(1)
	go p.pollPeriodically()
}

// Stop terminates the poll loop and waits for it to exit.
func (p *Poller) Stop() {
	close(p.shutdownChan)
	p.wg.Wait()
}

func (p *Poller) pollPeriodically() {
	defer p.wg.Done()

	logger := slog.Default().With(slog.String("component", "position_poller"))

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			ctx = logging.WithLogger(ctx, logger)

			count, err := p.PollOnce(ctx)
			if err != nil {
				logging.LogError(logger, "Error polling vehicle positions", err,
					slog.String("url", p.config.VehiclePositionsURL))
			} else {
				logging.LogOperation(logger, "vehicle_positions_polled",
					slog.Int("observations", count))
			}
			cancel()
		case <-p.shutdownChan:
			logging.LogOperation(logger, "shutting_down_position_polling")
			return
		}
	}
}

// PollOnce fetches the feed a single time and records the observations it
// yields. Returns the number of observations recorded.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	raw, realtime, err := loadVehiclePositions(ctx, p.config.VehiclePositionsURL)
	if err != nil {
		return 0, err
	}

	fetchedAt := p.clock.Now()

	if p.config.Archiver != nil {
		if _, err := p.config.Archiver.Archive(raw, fetchedAt); err != nil {
			// Archiving is best effort; the observations still get recorded.
			logging.LogError(logging.FromContext(ctx), "Error archiving feed snapshot", err)
		}
	}

	observations := observationsFromVehicles(realtime.Vehicles, fetchedAt)
	if len(observations) == 0 {
		return 0, nil
	}

	if err := p.writer.RecordVehiclePositions(ctx, observations); err != nil {
		return 0, fmt.Errorf("recording vehicle positions: %w", err)
	}

	if p.config.Metrics != nil {
		p.config.Metrics.PositionsIngestedTotal.Add(float64(len(observations)))
	}

	return len(observations), nil
}

func loadVehiclePositions(ctx context.Context, source string) ([]byte, *gtfs.Realtime, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", source, nil)
	if err != nil {
		return nil, nil, err
	}

	resp, err := realtimeHTTPClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to execute GTFS-RT request: %w", err)
	}
	defer logging.SafeCloseWithLogging(resp.Body,
		slog.Default().With(slog.String("component", "position_poller")),
		"http_response_body")

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("gtfs-rt fetch failed: %s returned %s", source, resp.Status)
	}

	const maxBodySize = 25 * 1024 * 1024
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > maxBodySize {
		return nil, nil, fmt.Errorf("GTFS-RT response exceeds size limit of %d bytes", maxBodySize)
	}

	realtime, err := gtfs.ParseRealtime(body, &gtfs.ParseRealtimeOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse GTFS-RT feed: %w", err)
	}

	return body, realtime, nil
}
