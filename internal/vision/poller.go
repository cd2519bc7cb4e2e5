// Package vision polls an external vision service for coordinate frames and
// posts the readings back into the kernel as messages. It never touches
// parts directly: the kernel goroutine applies the messages.
package vision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/simpletalk/kernel/internal/core/message"
	"go.uber.org/zap"
)

// MinPollTime is the floor applied to requested poll intervals.
const MinPollTime = 60 * time.Millisecond

// Sink receives poller output. It must be safe to call from any goroutine.
type Sink func(msg message.Message)

// Config tunes a Poller.
type Config struct {
	MinPollTime    time.Duration
	RequestTimeout time.Duration
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Poller runs one polling loop per target part.
type Poller struct {
	client *http.Client
	sink   Sink
	cfg    Config
	log    *zap.Logger

	mu    sync.Mutex
	loops map[string]*loop
}

func NewPoller(client *http.Client, cfg Config, sink Sink, log *zap.Logger) *Poller {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.MinPollTime <= 0 {
		cfg.MinPollTime = MinPollTime
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	return &Poller{
		client: client,
		sink:   sink,
		cfg:    cfg,
		log:    log,
		loops:  make(map[string]*loop),
	}
}

// Handle accepts the worker protocol: start{url, pollTime} and stop.
// Anything else is answered with doesNotUnderstand.
func (p *Poller) Handle(targetID string, msg message.Message) {
	switch msg.Type {
	case message.TypeStart:
		p.Start(targetID, msg.URL, time.Duration(msg.PollTime)*time.Millisecond)
	case message.TypeStop:
		p.Stop(targetID)
	default:
		p.sink(message.DoesNotUnderstand(msg).To(targetID))
	}
}

// Start (re)starts polling url for targetID. A running loop for the same
// target is replaced.
func (p *Poller) Start(targetID, url string, pollTime time.Duration) {
	if url == "" {
		p.sink(message.Error("InvalidURL", "no valid URL set for the vision poller").To(targetID))
		return
	}
	if pollTime < p.cfg.MinPollTime {
		pollTime = p.cfg.MinPollTime
	}

	p.mu.Lock()
	if old, ok := p.loops[targetID]; ok {
		old.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{cancel: cancel, done: make(chan struct{})}
	p.loops[targetID] = l
	p.mu.Unlock()

	p.log.Info("vision polling started",
		zap.String("target", targetID),
		zap.String("url", url),
		zap.Duration("poll_time", pollTime),
	)
	go p.run(ctx, l, targetID, url, pollTime)
}

// Stop halts polling for targetID and reports stopped.
func (p *Poller) Stop(targetID string) {
	p.mu.Lock()
	l, ok := p.loops[targetID]
	if ok {
		delete(p.loops, targetID)
	}
	p.mu.Unlock()
	if ok {
		l.cancel()
		<-l.done
		p.log.Info("vision polling stopped", zap.String("target", targetID))
	}
	p.sink(message.Stopped().To(targetID))
}

// Running reports whether a loop is active for targetID.
func (p *Poller) Running(targetID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.loops[targetID]
	return ok
}

// Close stops every loop without reporting.
func (p *Poller) Close() {
	p.mu.Lock()
	loops := p.loops
	p.loops = make(map[string]*loop)
	p.mu.Unlock()
	for _, l := range loops {
		l.cancel()
		<-l.done
	}
}

func (p *Poller) run(ctx context.Context, l *loop, targetID, url string, pollTime time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(pollTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			points, err := p.fetch(ctx, url)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				p.fail(l, targetID, err)
				return
			}
			p.sink(Aggregate(points).To(targetID))
		}
	}
}

// fail ends the loop after a fetch error, which is reported once.
func (p *Poller) fail(l *loop, targetID string, err error) {
	p.mu.Lock()
	if p.loops[targetID] == l {
		delete(p.loops, targetID)
	}
	p.mu.Unlock()

	name := "FetchError"
	var fe *fetchError
	if errors.As(err, &fe) {
		name = fe.name
	}
	p.log.Warn("vision polling failed", zap.String("target", targetID), zap.Error(err))
	p.sink(message.Error(name, err.Error()).To(targetID))
}

type fetchError struct {
	name string
	err  error
}

func (e *fetchError) Error() string { return e.err.Error() }
func (e *fetchError) Unwrap() error { return e.err }

func (p *Poller) fetch(ctx context.Context, url string) ([][]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &fetchError{"InvalidURL", err}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &fetchError{"FetchError", err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &fetchError{"HTTPError", fmt.Errorf("vision service returned %s", resp.Status)}
	}

	var points [][]float64
	if err := json.NewDecoder(resp.Body).Decode(&points); err != nil {
		return nil, &fetchError{"DecodeError", fmt.Errorf("decode vision frame: %w", err)}
	}
	return points, nil
}

// Aggregate folds one frame into a single reading: the mean centre and the
// largest radius. Points with fewer than three values are skipped; a frame
// with no usable points is empty.
func Aggregate(points [][]float64) message.Message {
	var sumX, sumY, maxR float64
	n := 0
	for _, pt := range points {
		if len(pt) < 3 {
			continue
		}
		sumX += pt[0]
		sumY += pt[1]
		if pt[2] > maxR {
			maxR = pt[2]
		}
		n++
	}
	if n == 0 {
		return message.Empty()
	}
	return message.Coordinate(sumX/float64(n), sumY/float64(n), maxR, points)
}
