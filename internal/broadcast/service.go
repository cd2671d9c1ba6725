package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"campusbot/internal/transport"
	"campusbot/pkg/logx"
)

// Config controls the fan-out dispatcher.
type Config struct {
	// RatePerSec bounds the aggregate outbound send rate across all pair
	// tasks. <=0 uses the default of 20.
	RatePerSec int

	// MaxConcurrentPairs bounds how many pair tasks run at once. <=0 uses
	// the default of 8.
	MaxConcurrentPairs int
}

const (
	defaultRatePerSec = 20
	defaultMaxPairs   = 8
)

// Service is the broadcast engine. It owns no persistent state; every
// invocation works on fresh snapshots from its collaborators.
type Service struct {
	dir    Directory
	ledger Ledger
	admins AdminStore
	sender transport.Sender
	log    logx.Logger

	mu       sync.Mutex
	limiter  *rate.Limiter
	maxPairs int
}

func New(cfg Config, dir Directory, ledger Ledger, admins AdminStore, sender transport.Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{dir: dir, ledger: ledger, admins: admins, sender: sender, log: log}
	s.Apply(cfg)
	return s
}

// Apply swaps dispatcher settings at runtime. Safe to call concurrently
// with in-flight broadcasts; each send snapshots the current limiter.
func (s *Service) Apply(cfg Config) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = defaultRatePerSec
	}
	maxPairs := cfg.MaxConcurrentPairs
	if maxPairs <= 0 {
		maxPairs = defaultMaxPairs
	}
	s.mu.Lock()
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	s.maxPairs = maxPairs
	s.mu.Unlock()
}

// Broadcast fans one message out to every group in the requested scope.
//
// It returns ErrNotAuthorized or ErrInvalidScope before anything is sent or
// written; after that point every failure is local to one recipient or one
// pair and shows up as a false in the report, never as an error.
func (s *Service) Broadcast(ctx context.Context, req Request) (*Report, error) {
	admin, ok, err := s.admins.AdminByID(ctx, req.SenderID)
	if err != nil {
		return nil, fmt.Errorf("resolve sender: %w", err)
	}
	if !ok || admin.Archived {
		return nil, ErrNotAuthorized
	}
	// The wildcard is superuser-only and is rejected before any directory
	// or transport call.
	if req.Scope.Everyone && !admin.Superuser {
		return nil, ErrNotAuthorized
	}

	start := time.Now()
	log := s.log.With(logx.Int64("sender", admin.ID))

	if req.Scope.Everyone {
		msgID, err := s.ledger.CreateMessage(ctx, req.Text, req.Attachments, admin.ID)
		if err != nil {
			return nil, fmt.Errorf("create message: %w", err)
		}
		res := s.dispatchAll(ctx, msgID, req.Text, req.Attachments)
		rep := &Report{MessageID: msgID, Pairs: []PairResult{res}}
		log.Info("broadcast finished",
			logx.String("scope", "everyone"),
			logx.Int64("message", msgID),
			logx.Duration("took", time.Since(start)))
		return rep, nil
	}

	pairs, err := expandPairs(ctx, s.dir, admin, req.Scope, req.FacultyNames, log)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		// Every named faculty was unknown. Nothing to send, nothing written.
		return &Report{}, nil
	}

	msgID, err := s.ledger.CreateMessage(ctx, req.Text, req.Attachments, admin.ID)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	s.mu.Lock()
	maxPairs := s.maxPairs
	s.mu.Unlock()

	// Pair tasks run concurrently; each writes its own slot so the report
	// keeps the deterministic pair order fixed at dispatch time.
	results := make([]PairResult, len(pairs))
	sem := make(chan struct{}, maxPairs)
	var wg sync.WaitGroup
	for i, p := range pairs {
		wg.Add(1)
		go func(i int, p Pair) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = s.dispatchPair(ctx, p, msgID, req.Text, req.Attachments)
		}(i, p)
	}
	wg.Wait()

	rep := &Report{MessageID: msgID, Pairs: results}
	log.Info("broadcast finished",
		logx.Int("pairs", len(pairs)),
		logx.Int64("message", msgID),
		logx.String("outcome", rep.Outcome().String()),
		logx.Duration("took", time.Since(start)))
	return rep, nil
}
