// Package scheduler drives certificate issuance and renewal: cold-start
// recovery, the 30-day-before-expiry trigger, a 24h safety re-check, and
// failure backoff. Adapted from the teacher's nonce-pool single-flight
// pattern (acme/nonce.go in this module), reused here to coalesce
// concurrent get_tls_config calls into one in-flight issuance (spec.md
// §4.I, §5).
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/go-acmecert/acmecert/certstore"
)

const (
	// safetyInterval re-checks expiry periodically in case a scheduled
	// wake-up is missed (system clock jump, long sleep).
	safetyInterval = 24 * time.Hour

	// backoffInitial and backoffCeiling bound the retry delay after a
	// failed issuance attempt (spec.md §7).
	backoffInitial = 1 * time.Minute
	backoffCeiling = 1 * time.Hour
)

// Issuer obtains a fresh Bundle, the Order engine's job (acme.Client plus
// the responder wiring); the scheduler only decides when to call it.
type Issuer func(ctx context.Context) (*certstore.Bundle, error)

// Scheduler owns the single in-flight issuance and its timers.
type Scheduler struct {
	store  *certstore.Store
	issue  Issuer
	logger *log.Logger

	mu      sync.RWMutex
	current *certstore.Bundle

	group singleflight.Group

	timer     *time.Timer
	stopOnce  sync.Once
	done      chan struct{}
	backoff   time.Duration
}

// New constructs a Scheduler. It does not perform recovery or issuance;
// call Start for that.
func New(store *certstore.Store, issue Issuer, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		store:   store,
		issue:   issue,
		logger:  logger,
		done:    make(chan struct{}),
		backoff: backoffInitial,
	}
}

// Start runs recovery, ensures a current Bundle exists (blocking to issue
// one if not), and begins the background renewal loop (spec.md §4.I).
func (s *Scheduler) Start(ctx context.Context) (*certstore.Bundle, error) {
	if err := s.store.Recover(); err != nil {
		return nil, err
	}

	bundle, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	if bundle == nil {
		bundle, err = s.triggerIssuance(ctx)
		if err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.current = bundle
	s.mu.Unlock()

	go s.loop()

	return bundle, nil
}

// Current returns the live Bundle.
func (s *Scheduler) Current() *certstore.Bundle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// CheckForRenewal runs the expiry check immediately, issuing a replacement
// if the current Bundle is due. Exposed for tests that need to force a
// renewal without waiting on the timer (spec.md §8 scenario 3).
func (s *Scheduler) CheckForRenewal(ctx context.Context) error {
	s.mu.RLock()
	bundle := s.current
	s.mu.RUnlock()

	if bundle != nil && time.Now().Before(bundle.RenewAt()) {
		return nil
	}

	_, err := s.triggerIssuance(ctx)
	return err
}

// triggerIssuance runs the Issuer, coalescing concurrent callers into a
// single in-flight attempt (spec.md §5's "renewal flight flag"), and
// installs the result as the current Bundle on success.
func (s *Scheduler) triggerIssuance(ctx context.Context) (*certstore.Bundle, error) {
	v, err, _ := s.group.Do("issue", func() (interface{}, error) {
		return s.issue(ctx)
	})
	if err != nil {
		return nil, err
	}

	bundle := v.(*certstore.Bundle)
	s.mu.Lock()
	s.current = bundle
	s.mu.Unlock()
	return bundle, nil
}

// loop re-checks expiry at the scheduled wake-up and at every
// safetyInterval tick, retrying with exponential backoff on failure
// (spec.md §7: 1 min doubling to a 1 h ceiling).
func (s *Scheduler) loop() {
	for {
		s.mu.RLock()
		bundle := s.current
		s.mu.RUnlock()

		wait := safetyInterval
		if bundle != nil {
			if until := time.Until(bundle.RenewAt()); until < wait {
				wait = until
			}
		}
		if wait < 0 {
			wait = 0
		}

		s.timer = time.NewTimer(wait)
		select {
		case <-s.done:
			s.timer.Stop()
			return
		case <-s.timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		if err := s.CheckForRenewal(ctx); err != nil {
			s.logger.Printf("acmecert: scheduled renewal failed, retrying in %s: %v", s.backoff, err)
			cancel()
			select {
			case <-s.done:
				return
			case <-time.After(s.backoff):
			}
			s.backoff *= 2
			if s.backoff > backoffCeiling {
				s.backoff = backoffCeiling
			}
			continue
		}
		cancel()
		s.backoff = backoffInitial
	}
}

// Stop cancels the scheduler's timer. Any in-flight issuance completes
// rather than being interrupted (spec.md §5).
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}
