package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ecodeclub/ekit/retry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errRetriesExhausted = errors.New("notification retries exhausted")

// Directory определяет адрес электронной почты пользователя.
type Directory interface {
	Email(ctx context.Context, userID int64) (string, error)
}

// DirectoryFunc адаптирует функцию к интерфейсу Directory.
type DirectoryFunc func(ctx context.Context, userID int64) (string, error)

// Email вызывает f.
func (f DirectoryFunc) Email(ctx context.Context, userID int64) (string, error) {
	return f(ctx, userID)
}

// DropCounter учитывает уведомления, отброшенные из-за переполнения очереди.
type DropCounter interface {
	NotificationDropped()
}

// Options задаёт параметры диспетчера.
type Options struct {
	QueueSize       int
	Workers         int
	SendTimeout     time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      int32
	Directory       Directory
	Drops           DropCounter
}

func (o *Options) applyDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 500 * time.Millisecond
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 10 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
}

// Dispatcher принимает уведомления без блокировки и доставляет их фоновыми обработчиками.
type Dispatcher struct {
	sink   Sink
	logger *zap.Logger
	opts   Options
	queue  chan Message
}

// NewDispatcher создаёт диспетчер поверх указанного sink.
func NewDispatcher(sink Sink, logger *zap.Logger, opts Options) *Dispatcher {
	opts.applyDefaults()
	return &Dispatcher{
		sink:   sink,
		logger: logger,
		opts:   opts,
		queue:  make(chan Message, opts.QueueSize),
	}
}

// Notify ставит уведомление в очередь. При переполнении очереди уведомление отбрасывается.
func (d *Dispatcher) Notify(msg Message) bool {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	select {
	case d.queue <- msg:
		return true
	default:
		d.logger.Warn("notification queue is full, dropping message",
			zap.String("id", msg.ID),
			zap.String("subject", msg.Subject),
		)
		if d.opts.Drops != nil {
			d.opts.Drops.NotificationDropped()
		}
		return false
	}
}

// Run запускает обработчики и блокируется до отмены ctx. После отмены оставшиеся в очереди
// уведомления доставляются с ограничением по времени.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx)
		}()
	}
	wg.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), d.opts.SendTimeout)
	defer cancel()
	for {
		select {
		case msg := <-d.queue:
			d.deliver(drainCtx, msg)
		default:
			return nil
		}
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.queue:
			d.deliver(ctx, msg)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout*time.Duration(d.opts.MaxRetries+1))
	defer cancel()

	if msg.To == "" && msg.UserID != 0 && d.opts.Directory != nil {
		email, err := d.opts.Directory.Email(ctx, msg.UserID)
		if err != nil {
			d.logger.Warn("resolve notification recipient", zap.Int64("user_id", msg.UserID), zap.Error(err))
			return
		}
		msg.To = email
	}
	if msg.To == "" {
		d.logger.Debug("notification without recipient skipped", zap.String("id", msg.ID))
		return
	}

	if err := d.sendWithRetry(ctx, msg); err != nil {
		d.logger.Warn("notification delivery failed",
			zap.String("id", msg.ID),
			zap.String("to", msg.To),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, msg Message) error {
	strategy, err := retry.NewExponentialBackoffRetryStrategy(d.opts.InitialInterval, d.opts.MaxInterval, d.opts.MaxRetries)
	if err != nil {
		return fmt.Errorf("create retry strategy: %w", err)
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
		err := d.sink.Send(sendCtx, msg)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return err
		}

		interval, ok := strategy.Next()
		if !ok {
			return fmt.Errorf("%w: %w", errRetriesExhausted, err)
		}
		if timer == nil {
			timer = time.NewTimer(interval)
		} else {
			timer.Reset(interval)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}
