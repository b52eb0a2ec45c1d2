// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package progress implements the ProgressReporter: a thin,
// monotonicity-guarding wrapper over Repository.SetSessionStatus so
// that external status-polling endpoints never observe progress go
// backwards while a session is non-terminal.
package progress

import (
	"context"
	"fmt"
	"sync"

	"github.com/rapidaai/voicecapture/internal/model"
)

// SessionStatusSetter is the slice of the Repository contract the
// reporter needs.
type SessionStatusSetter interface {
	SetSessionStatus(ctx context.Context, id, status string, progress *int, errMsg string) error
}

// Reporter emits weighted progress and terminal status for one
// Processor run. It is not safe to share across sessions but is safe
// for concurrent use within one, since segment completions can race.
type Reporter struct {
	repo      SessionStatusSetter
	sessionID string

	mu   sync.Mutex
	last int
}

// New builds a Reporter for one session_id's Processor run.
func New(repo SessionStatusSetter, sessionID string) *Reporter {
	return &Reporter{repo: repo, sessionID: sessionID}
}

// Report writes progress at the given status. If progress is less
// than the last value reported, the last value is kept instead —
// writes are idempotent and monotonically non-decreasing.
func (r *Reporter) Report(ctx context.Context, status string, progress int) error {
	r.mu.Lock()
	if progress < r.last {
		progress = r.last
	}
	r.last = progress
	r.mu.Unlock()

	p := progress
	return r.repo.SetSessionStatus(ctx, r.sessionID, status, &p, "")
}

// Complete marks the session ready_for_claiming at progress=100.
func (r *Reporter) Complete(ctx context.Context) error {
	return r.Report(ctx, model.StatusReadyForClaiming, 100)
}

// Fail marks the session failed at progress=100, matching the
// invariant that progress=100 iff status is one of
// ready_for_claiming, completed, or failed — a session that fails
// early (before any Report call) must not be left at progress=0.
func (r *Reporter) Fail(ctx context.Context, cause error) error {
	r.mu.Lock()
	r.last = 100
	r.mu.Unlock()

	msg := fmt.Sprintf("%v", cause)
	p := 100
	return r.repo.SetSessionStatus(ctx, r.sessionID, model.StatusFailed, &p, msg)
}
