package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/poolbridge/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	// Used when the configured batch settings are not positive.
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second

	// sourceTag marks every point so one bucket can hold several bridges.
	sourceTag = "poolbridge"
)

// pointWriter is the part of api.WriteAPI the client writes through.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Client records pool history in InfluxDB.
//
// Every new snapshot becomes one pool_status point and one channel_state
// point per reported channel, timestamped with the time it was fetched
// rather than the time it was written, so history lines up with what the
// controller reported even when batches are delayed.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Writes are non-blocking and batched by the library.
type Client struct {
	client   influxdb2.Client
	writeAPI pointWriter

	connected atomic.Bool
	written   atomic.Uint64
	failed    atomic.Uint64

	mu      sync.RWMutex
	onError func(err error)
}

// Connect pings the server and returns a client with a batching writer.
//
// Parameters:
//   - cfg: The influxdb config section
//
// Returns:
//   - *Client: Connected client
//   - error: ErrDisabled, or ErrConnectionFailed if the ping fails
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batchSize = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	// #nosec G115 -- flush is positive and far below the uint range
	opts := influxdb2.DefaultOptions().
		SetBatchSize(batchSize).
		SetFlushInterval(uint(flush.Milliseconds())).
		AddDefaultTag("source", sourceTag)
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	switch {
	case err != nil:
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	case !healthy:
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	c := newClient(writeAPI)
	c.client = client
	go c.drainErrors(writeAPI.Errors())
	return c, nil
}

// newClient wraps a writer. Tests use it with an in-memory writer.
func newClient(w pointWriter) *Client {
	c := &Client{writeAPI: w}
	c.connected.Store(true)
	return c
}

// drainErrors forwards asynchronous batch failures until the writer closes.
func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.failed.Add(1)
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

func (c *Client) write(p *write.Point) {
	c.writeAPI.WritePoint(p)
	c.written.Add(1)
}

// Close flushes pending points and closes the connection. It is safe to
// call more than once and on a nil client.
func (c *Client) Close() error {
	if c == nil || c.writeAPI == nil || !c.connected.CompareAndSwap(true, false) {
		return nil
	}
	c.writeAPI.Flush()
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() || c.client == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	healthy, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}

// IsConnected reports whether the client accepts writes. It does not ping.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Stats returns the number of points queued and the number of batch
// failures reported so far.
func (c *Client) Stats() (written, failed uint64) {
	return c.written.Load(), c.failed.Load()
}

// SetOnError sets the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	c.onError = callback
	c.mu.Unlock()
}

// Flush blocks until buffered points are sent. No-op after Close.
func (c *Client) Flush() {
	if c.writeAPI == nil || !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}
