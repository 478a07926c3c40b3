// Package contract holds reusable tests every platform adapter must pass.
package contract

import (
	"context"
	"testing"

	"mediaguard/internal/takedown/platforms"
	"mediaguard/pkg/domain"
)

// SubmitTest submits one takedown and checks the answer.
type SubmitTest struct {
	Name           string
	Submission     platforms.Submission
	ExpectedStatus string
	ValidateFunc   func(resp platforms.Response) error
}

// ContractSuite is the submission contract of one adapter.
type ContractSuite struct {
	Platform platforms.Platform
	Tests    []SubmitTest
}

func (s *ContractSuite) Run(t *testing.T) {
	for _, test := range s.Tests {
		t.Run(test.Name, func(t *testing.T) {
			resp, err := s.Platform.SubmitTakedown(context.Background(), test.Submission)
			if err != nil {
				t.Fatalf("submit takedown failed: %v", err)
			}
			if resp.Status != test.ExpectedStatus {
				t.Errorf("expected status %s, got %s", test.ExpectedStatus, resp.Status)
			}
			if resp.ResponseTime < 0 {
				t.Errorf("negative response time %s", resp.ResponseTime)
			}
			if resp.Status == platforms.StatusRemoved && resp.RemovalTime == nil {
				t.Error("removed response without removal time")
			}
			if test.ValidateFunc != nil {
				if err := test.ValidateFunc(resp); err != nil {
					t.Errorf("custom validation failed: %v", err)
				}
			}
		})
	}
}

// ScanTest checks that detections are attributed to the platform and the
// scanned hash.
type ScanTest struct {
	Platform      platforms.Platform
	Hash          domain.ContentHash
	ExpectedCount int
}

func (st *ScanTest) Run(t *testing.T) {
	found, err := st.Platform.ScanForContent(context.Background(), st.Hash)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(found) != st.ExpectedCount {
		t.Fatalf("expected %d detections, got %d", st.ExpectedCount, len(found))
	}
	for _, d := range found {
		if d.PlatformID != st.Platform.ID() {
			t.Errorf("detection attributed to %s, want %s", d.PlatformID, st.Platform.ID())
		}
		if d.ContentHash != st.Hash {
			t.Errorf("detection for %s, want %s", d.ContentHash, st.Hash)
		}
		if d.ExternalID == "" {
			t.Error("detection without external id")
		}
	}
}

// ErrorContractTest checks that a failing submission follows the taxonomy.
type ErrorContractTest struct {
	Name          string
	Platform      platforms.Platform
	Submission    platforms.Submission
	ExpectedError platforms.ErrorCategory
	ExpectedRetry bool
}

func (ect *ErrorContractTest) Run(t *testing.T) {
	t.Run(ect.Name, func(t *testing.T) {
		_, err := ect.Platform.SubmitTakedown(context.Background(), ect.Submission)
		if err == nil {
			t.Fatal("expected error but got none")
		}
		if category := platforms.GetCategory(err); category != ect.ExpectedError {
			t.Errorf("expected error category %s, got %s", ect.ExpectedError, category)
		}
		if retry := platforms.IsRetryable(err); retry != ect.ExpectedRetry {
			t.Errorf("expected retryable=%v, got %v", ect.ExpectedRetry, retry)
		}
	})
}
