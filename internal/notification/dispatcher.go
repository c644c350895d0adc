package notification

import (
	"context"
	"sync"
	"time"

	"github.com/dermascan/dermascan/internal/conf"
	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/logger"
)

const (
	defaultQueueSize   = 32
	defaultSendTimeout = 30 * time.Second
)

// Dispatcher delivers notifications on a background worker so the
// examination workflow never waits on an external service.
type Dispatcher struct {
	providers []Provider
	queue     chan *Notification
	timeout   time.Duration
	observer  Observer
	logger    logger.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts a worker delivering to providers.
func NewDispatcher(providers []Provider, queueSize int, timeout time.Duration, log logger.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	if log == nil {
		log = logger.Global().Module("notification")
	}

	d := &Dispatcher{
		providers: providers,
		queue:     make(chan *Notification, queueSize),
		timeout:   timeout,
		logger:    log,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// NewFromSettings returns nil when notifications are disabled.
func NewFromSettings(settings *conf.NotificationSettings, log logger.Logger) (*Dispatcher, error) {
	if settings == nil || !settings.Enabled {
		return nil, nil
	}
	provider, err := NewShoutrrrProvider(settings.URLs, settings.Timeout)
	if err != nil {
		return nil, err
	}
	return NewDispatcher([]Provider{provider}, defaultQueueSize, settings.Timeout, log), nil
}

// SetObserver attaches a delivery observer. Call before the first Enqueue.
func (d *Dispatcher) SetObserver(o Observer) {
	d.observer = o
}

// Enqueue schedules n for delivery. It never blocks; when the queue is
// full the notification is dropped and false is returned.
func (d *Dispatcher) Enqueue(n *Notification) bool {
	if d == nil || n == nil {
		return false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.queue <- n:
		return true
	default:
		d.logger.Warn("notification queue full, dropping alert",
			logger.String("title", n.Title))
		if d.observer != nil {
			d.observer.RecordDropped()
		}
		return false
	}
}

// Close stops accepting notifications and waits for queued ones to be sent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n *Notification) {
	for _, p := range d.providers {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := p.Send(ctx, n)
		cancel()

		if d.observer != nil {
			d.observer.RecordDelivery(p.Name(), err)
		}
		if err != nil {
			wrapped := errors.New(err).
				Component("notification").
				Category(errors.CategoryNotification).
				Context("provider", p.Name()).
				Build()
			d.logger.Error("notification delivery failed",
				logger.String("provider", p.Name()),
				logger.Error(wrapped))
			continue
		}
		d.logger.Debug("notification delivered",
			logger.String("provider", p.Name()),
			logger.String("title", n.Title))
	}
}
