package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/repairdesk/repairdesk/internal/billing"
	jobmetrics "github.com/repairdesk/repairdesk/internal/jobs"
	"github.com/repairdesk/repairdesk/internal/shared"
)

// Enqueuer is the subset of asynq.Client used by Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client submits tasks to the queue. It implements billing.Compensator and
// procurement.Reindexer.
type Client struct {
	client   Enqueuer
	maxRetry int
	metrics  *jobmetrics.Metrics
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithMaxRetry sets the retry budget of compensation tasks.
func WithMaxRetry(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxRetry = n
		}
	}
}

// WithMetrics records enqueue outcomes.
func WithMetrics(m *jobmetrics.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt, opts ...ClientOption) *Client {
	return NewClientWith(asynq.NewClient(redisOpts), opts...)
}

// NewClientWith wraps an existing enqueuer.
func NewClientWith(enqueuer Enqueuer, opts ...ClientOption) *Client {
	c := &Client{client: enqueuer, maxRetry: 8}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (string, error) {
	info, err := c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
		c.metrics.Enqueued(task.Type(), nil)
		return "", nil
	}
	c.metrics.Enqueued(task.Type(), err)
	if err != nil {
		return "", shared.Transient(fmt.Errorf("enqueue %s: %w", task.Type(), err))
	}
	return info.ID, nil
}

// restoreRetention keeps finished restore tasks around so a repeated
// enqueue for the same line is still rejected by task id.
const restoreRetention = 24 * time.Hour

// RestoreStockTaskID is the task id of the restore for one bill line.
func RestoreStockTaskID(lineID string) string {
	return TaskStockRestore + ":" + lineID
}

// RestoreStock queues a stock:restore task for a removed bill line. A line
// is restored at most once: a second enqueue for it returns an empty id.
func (c *Client) RestoreStock(ctx context.Context, actor shared.Actor, item billing.LineItem) (string, error) {
	task, err := NewStockRestoreTask(actor, item)
	if err != nil {
		return "", err
	}
	return c.enqueue(ctx, task,
		asynq.MaxRetry(c.maxRetry),
		asynq.TaskID(RestoreStockTaskID(item.ID)),
		asynq.Retention(restoreRetention),
	)
}

// CloseJob queues a repair:close_by_bill task.
func (c *Client) CloseJob(ctx context.Context, actor shared.Actor, jobRef, billNumber string) (string, error) {
	task, err := NewJobCloseTask(actor, jobRef, billNumber)
	if err != nil {
		return "", err
	}
	return c.enqueue(ctx, task, asynq.MaxRetry(c.maxRetry))
}

// EnqueueSupplierReindex queues a refresh of the supplier totals.
func (c *Client) EnqueueSupplierReindex(ctx context.Context, supplier string) (string, error) {
	task, err := NewProcurementReindexTask(supplier)
	if err != nil {
		return "", err
	}
	return c.enqueue(ctx, task)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

var _ billing.Compensator = (*Client)(nil)
