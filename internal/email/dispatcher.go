// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package email

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/fitdojo/fitdojo/internal/auth"
	"github.com/fitdojo/fitdojo/pkg/errutil"
)

// Default dispatcher settings.
const (
	DefaultQueueSize   = 256
	DefaultWorkers     = 2
	DefaultSendTimeout = 30 * time.Second
)

// EmailsTotal counts emails by result: sent, failed, or dropped when the
// queue is full.
var EmailsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fitdojo_emails_total",
		Help: "Total number of transactional emails by result",
	},
	[]string{"result"},
)

// RegisterMetrics registers email metrics with the given Prometheus registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(EmailsTotal)
}

// DispatcherConfig configures a Dispatcher. Zero values use the defaults.
type DispatcherConfig struct {
	QueueSize   int
	Workers     int
	SendTimeout time.Duration
	Logger      *slog.Logger
}

// Dispatcher implements auth.Mailer by queueing messages for background
// workers. Callers never wait for SMTP; a full queue drops the message.
type Dispatcher struct {
	sender  Sender
	queue   chan Message
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts the worker goroutines. Close stops them.
func NewDispatcher(sender Sender, cfg DispatcherConfig) (*Dispatcher, error) {
	if sender == nil {
		return nil, oops.Code("EMAIL_INVALID_CONFIG").Errorf("sender is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	d := &Dispatcher{
		sender:  sender,
		queue:   make(chan Message, cfg.QueueSize),
		timeout: cfg.SendTimeout,
		logger:  cfg.Logger,
	}
	for range cfg.Workers {
		d.wg.Add(1)
		go d.work()
	}
	return d, nil
}

// SendVerification queues a verification email.
func (d *Dispatcher) SendVerification(_ context.Context, to, link string) error {
	msg, err := VerificationMessage(to, link)
	if err != nil {
		return err
	}
	return d.enqueue(msg)
}

// SendPasswordReset queues a password reset email.
func (d *Dispatcher) SendPasswordReset(_ context.Context, to, link string) error {
	msg, err := PasswordResetMessage(to, link)
	if err != nil {
		return err
	}
	return d.enqueue(msg)
}

func (d *Dispatcher) enqueue(msg Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return oops.Code("EMAIL_DISPATCHER_CLOSED").Errorf("dispatcher is closed")
	}
	select {
	case d.queue <- msg:
		return nil
	default:
		EmailsTotal.WithLabelValues("dropped").Inc()
		return oops.Code("EMAIL_QUEUE_FULL").With("subject", msg.Subject).Errorf("email queue is full")
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for msg := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.sender.Send(ctx, msg)
		cancel()
		if err != nil {
			EmailsTotal.WithLabelValues("failed").Inc()
			errutil.LogErrorContext(ctx, d.logger, "email delivery failed", err, "subject", msg.Subject)
			continue
		}
		EmailsTotal.WithLabelValues("sent").Inc()
	}
}

// Close stops accepting messages and waits for queued ones to be sent or
// for ctx to end, whichever comes first.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return oops.Code("EMAIL_DRAIN_TIMEOUT").Wrap(ctx.Err())
	}
}

// Compile-time interface check.
var _ auth.Mailer = (*Dispatcher)(nil)
