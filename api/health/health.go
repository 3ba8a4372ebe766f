// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package health reports whether the components of a node are working.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/metric"
)

const checkTimeout = 5 * time.Second

var errDuplicateCheck = errors.New("duplicated check")

// Checker reports the health of one component. A non-nil error marks it
// unhealthy.
type Checker interface {
	HealthCheck(context.Context) (any, error)
}

type CheckerFunc func(context.Context) (any, error)

func (f CheckerFunc) HealthCheck(ctx context.Context) (any, error) {
	return f(ctx)
}

type Result struct {
	Details   any           `json:"message,omitempty"`
	Error     *string       `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

type APIReply struct {
	Checks  map[string]Result `json:"checks"`
	Healthy bool              `json:"healthy"`
}

type Health struct {
	log     log.Logger
	metrics *healthMetrics

	lock   sync.RWMutex
	checks map[string]Checker
}

func New(logger log.Logger, registry metric.Registry) (*Health, error) {
	m, err := newMetrics("health", registry)
	if err != nil {
		return nil, err
	}
	return &Health{
		log:     logger,
		metrics: m,
		checks:  make(map[string]Checker),
	}, nil
}

func (h *Health) Register(name string, checker Checker) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if _, ok := h.checks[name]; ok {
		return fmt.Errorf("%w: %q", errDuplicateCheck, name)
	}
	h.checks[name] = checker
	return nil
}

// Check runs every registered check and reports whether all passed.
func (h *Health) Check(ctx context.Context) (map[string]Result, bool) {
	h.lock.RLock()
	checks := maps.Clone(h.checks)
	h.lock.RUnlock()

	var (
		results = make(map[string]Result, len(checks))
		failing int
	)
	for _, name := range slices.Sorted(maps.Keys(checks)) {
		result := run(ctx, checks[name])
		if result.Error != nil {
			failing++
			h.log.Warn("health check failed",
				log.String("name", name),
				log.String("error", *result.Error),
			)
		}
		h.metrics.observe(name, result.Error != nil)
		results[name] = result
	}
	h.metrics.failing.Set(float64(failing))
	h.metrics.runs.Inc()
	return results, failing == 0
}

func run(ctx context.Context, checker Checker) Result {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	details, err := checker.HealthCheck(ctx)
	result := Result{
		Details:   details,
		Timestamp: start,
		Duration:  time.Since(start),
	}
	if err != nil {
		msg := err.Error()
		result.Error = &msg
	}
	return result
}

// ServeHTTP answers with every check result, 503 if any failed.
func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks, healthy := h.Check(r.Context())
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(&APIReply{
		Checks:  checks,
		Healthy: healthy,
	}); err != nil {
		h.log.Debug("couldn't write health reply",
			log.Err(err),
		)
	}
}
