// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package progress

import (
	"context"
	"errors"
	"testing"

	"github.com/rapidaai/voicecapture/internal/model"
)

type call struct {
	status   string
	progress *int
	errMsg   string
}

type fakeSetter struct {
	calls []call
}

func (f *fakeSetter) SetSessionStatus(ctx context.Context, id, status string, progress *int, errMsg string) error {
	f.calls = append(f.calls, call{status: status, progress: progress, errMsg: errMsg})
	return nil
}

func TestReport_MonotonicallyNonDecreasing(t *testing.T) {
	setter := &fakeSetter{}
	r := New(setter, "sess-1")

	if err := r.Report(context.Background(), model.StatusProcessing, 40); err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if err := r.Report(context.Background(), model.StatusProcessing, 10); err != nil {
		t.Fatalf("Report() error = %v", err)
	}

	if len(setter.calls) != 2 {
		t.Fatalf("len(calls) = %d, want 2", len(setter.calls))
	}
	if *setter.calls[1].progress != 40 {
		t.Errorf("second Report() progress = %d, want 40 (clamped to last)", *setter.calls[1].progress)
	}
}

func TestComplete_SetsProgress100(t *testing.T) {
	setter := &fakeSetter{}
	r := New(setter, "sess-2")

	if err := r.Complete(context.Background()); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	last := setter.calls[len(setter.calls)-1]
	if last.status != model.StatusReadyForClaiming {
		t.Errorf("status = %q, want %q", last.status, model.StatusReadyForClaiming)
	}
	if last.progress == nil || *last.progress != 100 {
		t.Errorf("progress = %v, want 100", last.progress)
	}
}

func TestFail_AlwaysReportsProgress100(t *testing.T) {
	cases := []struct {
		name       string
		priorCalls func(r *Reporter)
	}{
		{
			name:       "failure before any progress reported",
			priorCalls: func(r *Reporter) {},
		},
		{
			name: "failure after an early-stage report",
			priorCalls: func(r *Reporter) {
				r.Report(context.Background(), model.StatusProcessing, 10)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setter := &fakeSetter{}
			r := New(setter, "sess-3")
			tc.priorCalls(r)

			if err := r.Fail(context.Background(), errors.New("boom")); err != nil {
				t.Fatalf("Fail() error = %v", err)
			}

			last := setter.calls[len(setter.calls)-1]
			if last.status != model.StatusFailed {
				t.Errorf("status = %q, want %q", last.status, model.StatusFailed)
			}
			if last.progress == nil || *last.progress != 100 {
				t.Errorf("progress = %v, want 100 (progress=100 iff status is terminal)", last.progress)
			}
			if last.errMsg != "boom" {
				t.Errorf("errMsg = %q, want %q", last.errMsg, "boom")
			}
		})
	}
}

func TestFail_SubsequentReportDoesNotRegressProgress(t *testing.T) {
	setter := &fakeSetter{}
	r := New(setter, "sess-4")

	if err := r.Fail(context.Background(), errors.New("boom")); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if err := r.Report(context.Background(), model.StatusFailed, 10); err != nil {
		t.Fatalf("Report() error = %v", err)
	}

	last := setter.calls[len(setter.calls)-1]
	if *last.progress != 100 {
		t.Errorf("progress after Fail = %d, want clamped to 100", *last.progress)
	}
}
