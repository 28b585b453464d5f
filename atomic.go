// This file holds the relaxed-add atomic counter primitives ScanStats
// builds on (§5 "Statistics counters use relaxed atomic add").

package exfatrecovery

import "sync/atomic"

func atomicAddUint64(addr *uint64, delta uint64) {
	atomic.AddUint64(addr, delta)
}

func atomicLoadUint64(addr *uint64) uint64 {
	return atomic.LoadUint64(addr)
}
