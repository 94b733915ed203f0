package docasync

import (
	"log/slog"
	"time"

	"github.com/kartikbazzad/bunbase/docasync/query"
	"github.com/kartikbazzad/bunbase/docasync/workerpool"
)

// Recorder receives task telemetry. internal/metrics provides the
// Prometheus implementation.
type Recorder interface {
	TaskSubmitted(op string)
	TaskFinished(op string, err error, elapsed time.Duration)
	BatchEntryFailed(action string)
}

type nopRecorder struct{}

func (nopRecorder) TaskSubmitted(string)                      {}
func (nopRecorder) TaskFinished(string, error, time.Duration) {}
func (nopRecorder) BatchEntryFailed(string)                   {}

// Option configures a Client.
type Option func(*Client)

// WithPool runs tasks on p instead of workerpool.Shared.
func WithPool(p *workerpool.Pool) Option {
	return func(c *Client) { c.pool = p }
}

// WithDispatcher delivers sink callbacks through d. Without it the client
// runs its own Loop on a dedicated goroutine.
func WithDispatcher(d Dispatcher) Option {
	return func(c *Client) { c.dispatcher = d }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func WithMetrics(r Recorder) Option {
	return func(c *Client) { c.metrics = r }
}

// WithCompiler compiles Database.Query selects with qc instead of query.Default.
func WithCompiler(qc *query.Compiler) Option {
	return func(c *Client) { c.compiler = qc }
}
