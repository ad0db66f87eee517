package alert

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type Kind string

const (
	KindOrder     Kind = "order"
	KindError     Kind = "error"
	KindImportant Kind = "important"
)

type Message struct {
	Kind    Kind
	Subject string
	Body    string
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Alerter is the narrow view handed to components that only raise
// operational alerts, such as the exchange client.
type Alerter interface {
	Important(event string, fields map[string]string)
}

const (
	defaultAlertQueueSize     = 128
	defaultDropReportInterval = time.Minute
	notifyTimeout             = 20 * time.Second
)

type ManagerOptions struct {
	QueueSize          int
	DropReportInterval time.Duration
	// ErrorThrottle limits Error and Important alerts to one per event within
	// the window.
	ErrorThrottle time.Duration
	Logger        *zap.Logger
}

type Manager struct {
	mode                 string
	notifier             Notifier
	logger               *zap.Logger
	throttle             *Throttle
	queue                chan Message
	stop                 chan struct{}
	done                 chan struct{}
	dropReportInterval   time.Duration
	droppedTotal         uint64
	droppedSinceReported uint64
	wg                   sync.WaitGroup
	mu                   sync.RWMutex
	closed               bool
	now                  func() time.Time
}

func NewManager(mode string, notifier Notifier) *Manager {
	return NewManagerWithOptions(mode, notifier, ManagerOptions{
		QueueSize:          defaultAlertQueueSize,
		DropReportInterval: defaultDropReportInterval,
	})
}

// NewManagerWithOptions returns nil when notifier is nil; a nil Manager
// accepts and discards every alert.
func NewManagerWithOptions(mode string, notifier Notifier, opts ManagerOptions) *Manager {
	if notifier == nil {
		return nil
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultAlertQueueSize
	}
	reportInterval := opts.DropReportInterval
	if reportInterval < 0 {
		reportInterval = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		mode:               mode,
		notifier:           notifier,
		logger:             logger.Named("alert"),
		throttle:           NewThrottle(opts.ErrorThrottle),
		queue:              make(chan Message, queueSize),
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
		dropReportInterval: reportInterval,
		now:                time.Now,
	}
	m.wg.Add(1)
	go m.loop()
	if m.dropReportInterval > 0 {
		m.wg.Add(1)
		go m.dropReportLoop()
	}
	go func() {
		m.wg.Wait()
		close(m.done)
	}()
	return m
}

// Important reports an operational event to the error recipients. It shares
// the Error throttle, so a flapping component sends one report per event per
// window.
func (m *Manager) Important(event string, fields map[string]string) {
	if m == nil {
		return
	}
	if !m.throttle.Allow(event) {
		m.logger.Debug("alert_throttled", zap.String("target_event", event))
		return
	}
	m.enqueue(m.buildMessage(KindImportant, event, fields))
}

// Order reports an accepted order to the order recipients. Orders are never
// throttled.
func (m *Manager) Order(event string, fields map[string]string) {
	if m == nil {
		return
	}
	m.enqueue(m.buildMessage(KindOrder, event, fields))
}

// Error reports an unexpected failure. Repeats of the same event inside the
// throttle window are dropped and Error reports false.
func (m *Manager) Error(event string, err error, fields map[string]string) bool {
	if m == nil {
		return false
	}
	if !m.throttle.Allow(event) {
		m.logger.Debug("alert_throttled", zap.String("target_event", event))
		return false
	}
	merged := cloneFields(fields)
	if err != nil {
		if merged == nil {
			merged = make(map[string]string, 1)
		}
		merged["error"] = err.Error()
	}
	m.enqueue(m.buildMessage(KindError, event, merged))
	return true
}

func (m *Manager) enqueue(msg Message) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return
	}
	select {
	case m.queue <- msg:
		m.mu.RUnlock()
		return
	default:
		droppedTotal := atomic.AddUint64(&m.droppedTotal, 1)
		droppedInWindow := atomic.AddUint64(&m.droppedSinceReported, 1)
		m.mu.RUnlock()
		// The first drop in a window is reported at once; the summary loop covers the rest.
		if droppedInWindow == 1 {
			m.logger.Warn("alert_queue_dropped",
				zap.String("subject", msg.Subject),
				zap.String("reason", "queue_full"),
				zap.Uint64("dropped_total", droppedTotal),
				zap.Int("queue_len", len(m.queue)),
				zap.Int("queue_cap", cap(m.queue)),
			)
		}
	}
}

func (m *Manager) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) loop() {
	defer m.wg.Done()
	for {
		select {
		case msg := <-m.queue:
			m.send(msg)
		case <-m.stop:
			for {
				select {
				case msg := <-m.queue:
					m.send(msg)
				default:
					m.reportDroppedSummary()
					return
				}
			}
		}
	}
}

func (m *Manager) dropReportLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.dropReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.reportDroppedSummary()
		case <-m.stop:
			m.reportDroppedSummary()
			return
		}
	}
}

func (m *Manager) reportDroppedSummary() {
	dropped := atomic.SwapUint64(&m.droppedSinceReported, 0)
	if dropped == 0 {
		return
	}
	m.logger.Warn("alert_queue_dropped_report",
		zap.Uint64("dropped_since_last", dropped),
		zap.Uint64("dropped_total", atomic.LoadUint64(&m.droppedTotal)),
		zap.Duration("report_interval", m.dropReportInterval),
		zap.Int("queue_len", len(m.queue)),
		zap.Int("queue_cap", cap(m.queue)),
	)
}

func (m *Manager) droppedStats() (uint64, uint64) {
	if m == nil {
		return 0, 0
	}
	return atomic.LoadUint64(&m.droppedTotal), atomic.LoadUint64(&m.droppedSinceReported)
}

func (m *Manager) send(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := m.notifier.Notify(ctx, msg); err != nil {
		m.logger.Error("alert_notify_failed",
			zap.String("kind", string(msg.Kind)),
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
	}
}

func (m *Manager) buildMessage(kind Kind, event string, fields map[string]string) Message {
	lines := []string{
		"time: " + m.now().UTC().Format(time.RFC3339),
		"mode: " + m.mode,
		"event: " + event,
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, k+": "+fields[k])
	}
	return Message{
		Kind:    kind,
		Subject: "[pattern-trader] " + string(kind) + ": " + event,
		Body:    strings.Join(lines, "\n"),
	}
}

func cloneFields(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
