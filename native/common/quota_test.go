package common

import (
	"errors"
	"math"
	"testing"
)

func TestCheckQuotaWithinEpoch(t *testing.T) {
	quota := Quota{MaxDisputesPerEpoch: 2, EpochSeconds: 3600}
	usage := QuotaNow{EpochID: 7}

	usage, err := CheckQuota(quota, 7, usage, 1)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	usage, err = CheckQuota(quota, 7, usage, 1)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if _, err = CheckQuota(quota, 7, usage, 1); !errors.Is(err, ErrQuotaDisputesExceeded) {
		t.Fatalf("expected ErrQuotaDisputesExceeded, got %v", err)
	}
	if usage.DisputeCount != 2 {
		t.Fatalf("failed check mutated usage: %+v", usage)
	}
}

func TestCheckQuotaEpochRoll(t *testing.T) {
	quota := Quota{MaxDisputesPerEpoch: 1, EpochSeconds: 3600}
	usage := QuotaNow{DisputeCount: 1, EpochID: 7}

	next, err := CheckQuota(quota, 8, usage, 1)
	if err != nil {
		t.Fatalf("epoch roll: %v", err)
	}
	if next.EpochID != 8 || next.DisputeCount != 1 {
		t.Fatalf("counters not reset: %+v", next)
	}
}

func TestCheckQuotaZeroIsUnlimited(t *testing.T) {
	usage := QuotaNow{DisputeCount: 1000, EpochID: 1}
	if _, err := CheckQuota(Quota{}, 1, usage, 1); err != nil {
		t.Fatalf("zero quota must not cap: %v", err)
	}
}

func TestCheckQuotaCounterOverflow(t *testing.T) {
	usage := QuotaNow{DisputeCount: math.MaxUint32, EpochID: 1}
	if _, err := CheckQuota(Quota{}, 1, usage, 1); !errors.Is(err, ErrQuotaCounterOverflow) {
		t.Fatalf("expected ErrQuotaCounterOverflow, got %v", err)
	}
}

type staticPauses map[string]bool

func (p staticPauses) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	if err := Guard(nil, "settlement"); err != nil {
		t.Fatalf("nil view must pass: %v", err)
	}
	pauses := staticPauses{"settlement": true}
	if err := Guard(pauses, "settlement"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauses, "other"); err != nil {
		t.Fatalf("unrelated module blocked: %v", err)
	}
}
