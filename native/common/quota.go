package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaDisputesExceeded = errors.New("quota disputes exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current dispute usage counters for an address.
type QuotaNow struct {
	DisputeCount uint32
	EpochID      uint64
}

// Quota defines the dispute-raising limits enforced per address.
type Quota struct {
	MaxDisputesPerEpoch uint32
	EpochSeconds        uint32
}

// CheckQuota verifies whether an additional dispute fits within the configured
// quota. The returned QuotaNow reflects the updated counters when the quota is
// not exceeded; on failure the previous counters are returned unchanged.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addDisputes uint32) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addDisputes > 0 {
		if next.DisputeCount > math.MaxUint32-addDisputes {
			return prev, ErrQuotaCounterOverflow
		}
		next.DisputeCount += addDisputes
	}
	if q.MaxDisputesPerEpoch > 0 && next.DisputeCount > q.MaxDisputesPerEpoch {
		return prev, ErrQuotaDisputesExceeded
	}

	return next, nil
}
