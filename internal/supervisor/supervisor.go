package supervisor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/bloxchat/bloxchat/internal/store"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

const (
	connectInitialDelay = time.Second
	connectMultiplier   = 5
	connectMaxRetries   = 3
	breakerOpenTimeout  = 60 * time.Second
	pingTimeout         = 5 * time.Second
	monitorInterval     = 15 * time.Second
)

// Health is the store connectivity snapshot reported by the health
// endpoint.
type Health struct {
	Connected      bool   `json:"connected"`
	CircuitBreaker string `json:"circuitBreaker"`
}

// Supervisor owns the store connection. Connects are retried with
// exponential backoff behind a circuit breaker, so a dead database
// fails fast instead of stalling every caller for the full retry
// schedule.
type Supervisor struct {
	log     *log.Logger
	connect func(ctx context.Context) (store.Store, error)
	breaker *gobreaker.CircuitBreaker

	// retryDelay is the first backoff interval, shortened in tests
	retryDelay time.Duration

	mu sync.Mutex
	st store.Store

	stop chan struct{}
	once sync.Once
}

func New(logger *log.Logger, connect func(ctx context.Context) (store.Store, error)) *Supervisor {
	s := &Supervisor{
		log:        logger,
		connect:    connect,
		retryDelay: connectInitialDelay,
		stop:       make(chan struct{}),
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "store",
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logger.Printf("store breaker %s -> %s", from, to)
		},
	})

	return s
}

// Connect establishes the store connection, retrying with backoff
// (1s, 5s, 25s) before giving up. A failed run opens the breaker;
// while open, calls return immediately with gobreaker.ErrOpenState.
func (s *Supervisor) Connect(ctx context.Context) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		st, err := s.connectWithRetry(ctx)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.st = st
		s.mu.Unlock()
		return st, nil
	})

	return err
}

func (s *Supervisor) connectWithRetry(ctx context.Context) (store.Store, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryDelay
	bo.Multiplier = connectMultiplier
	bo.RandomizationFactor = 0
	bo.MaxInterval = s.retryDelay * connectMultiplier * connectMultiplier
	bo.MaxElapsedTime = 0

	var st store.Store
	op := func() error {
		var err error
		st, err = s.connect(ctx)
		if err != nil {
			s.log.Printf("store connect: %v", err)
		}
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, connectMaxRetries), ctx))
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Store returns the current store, or nil before the first successful
// connect.
func (s *Supervisor) Store() store.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

// Health pings the store and reports connectivity plus the breaker
// state.
func (s *Supervisor) Health(ctx context.Context) Health {
	h := Health{CircuitBreaker: s.breaker.State().String()}

	st := s.Store()
	if st == nil {
		return h
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	h.Connected = st.Ping(pingCtx) == nil
	return h
}

// Run monitors the connection and reconnects through the breaker when
// a ping fails. Blocks until Stop.
func (s *Supervisor) Run() {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.check()
		case <-s.stop:
			return
		}
	}
}

func (s *Supervisor) check() {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	st := s.Store()
	if st != nil && st.Ping(ctx) == nil {
		return
	}

	s.log.Println("store unreachable, reconnecting")
	if err := s.Connect(context.Background()); err != nil {
		s.log.Printf("store reconnect: %v", err)
	}
}

// Stop halts the monitor loop and closes the store connection.
func (s *Supervisor) Stop() error {
	s.once.Do(func() { close(s.stop) })

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st == nil {
		return nil
	}
	return s.st.Close()
}
