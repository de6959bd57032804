package health

import "fmt"

// StoreCheck probes the coordination store. A single-node deployment passes
// a nil ping and always reports healthy.
func StoreCheck(ping func() error) CheckFunc {
	return func() Check {
		check := Check{Name: "store"}

		if ping == nil {
			check.Status = StatusHealthy
			check.Message = "local mode"
			return check
		}
		if err := ping(); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
			return check
		}
		check.Status = StatusHealthy
		check.Message = "connected"
		return check
	}
}

// ClusterCheck reports the node's clustering state. A degraded node still
// serves local traffic, so degraded is not unhealthy here.
func ClusterCheck(state func() (clustered bool, healthy bool)) CheckFunc {
	return func() Check {
		check := Check{Name: "cluster", Details: make(map[string]any)}

		clustered, healthy := state()
		check.Details["clustered"] = clustered

		switch {
		case !clustered:
			check.Status = StatusHealthy
			check.Message = "cluster mode disabled"
		case healthy:
			check.Status = StatusHealthy
			check.Message = "clustered"
		default:
			check.Status = StatusDegraded
			check.Message = "local-only, store unreachable"
		}
		return check
	}
}

// ConnectionsCheck reports the live connection count, degrading as the
// process approaches its configured limit. A zero limit means unlimited.
func ConnectionsCheck(count func() int, limit int) CheckFunc {
	return func() Check {
		check := Check{Name: "connections", Details: make(map[string]any)}

		n := count()
		check.Details["active"] = n
		check.Details["limit"] = limit

		switch {
		case limit <= 0:
			check.Status = StatusHealthy
			check.Message = fmt.Sprintf("%d active", n)
		case n >= limit:
			check.Status = StatusUnhealthy
			check.Message = "connection limit reached"
		case n*10 >= limit*9:
			check.Status = StatusDegraded
			check.Message = "approaching connection limit"
		default:
			check.Status = StatusHealthy
			check.Message = fmt.Sprintf("%d of %d", n, limit)
		}
		return check
	}
}

// MemoryCheck reports process memory pressure.
func MemoryCheck(usage func() (alloc, sys uint64)) CheckFunc {
	return func() Check {
		check := Check{Name: "memory", Details: make(map[string]any)}

		alloc, sys := usage()
		check.Details["alloc_bytes"] = alloc
		check.Details["sys_bytes"] = sys

		if sys > 0 && float64(alloc)/float64(sys) > 0.9 {
			check.Status = StatusDegraded
			check.Message = "high memory usage"
		} else {
			check.Status = StatusHealthy
			check.Message = "memory usage normal"
		}
		return check
	}
}
