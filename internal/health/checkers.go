package health

import (
	"context"
	"database/sql"
	"time"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/circuitbreaker"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/vectordb"
)

const (
	defaultTimeout   = 5 * time.Second
	slowResponseTime = 100 * time.Millisecond
)

// Pinger is anything with a connectivity probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store is a pooled SQL store guarded by a circuit breaker.
type Store interface {
	Pinger
	Stats() sql.DBStats
	BreakerState() circuitbreaker.State
}

// StoreChecker checks one structured store.
type StoreChecker struct {
	name     string
	store    Store
	critical bool
}

func NewStoreChecker(name string, store Store, critical bool) *StoreChecker {
	return &StoreChecker{name: name, store: store, critical: critical}
}

func (d *StoreChecker) Name() string           { return d.name }
func (d *StoreChecker) IsCritical() bool       { return d.critical }
func (d *StoreChecker) Timeout() time.Duration { return defaultTimeout }

func (d *StoreChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	var result CheckResult

	if d.store.BreakerState() == circuitbreaker.StateOpen {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Store circuit breaker is open"
		return result
	}

	err := d.store.Ping(ctx)
	latency := time.Since(startTime)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Store ping failed"
		result.Details = map[string]any{"latency_ms": latency.Milliseconds()}
		return result
	}

	stats := d.store.Stats()
	switch {
	case stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections:
		result.Status = StatusDegraded
		result.Message = "Store connection pool exhausted"
	case latency > slowResponseTime:
		result.Status = StatusDegraded
		result.Message = "Store responding but with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = "Store healthy"
	}
	result.Details = map[string]any{
		"latency_ms":           latency.Milliseconds(),
		"open_connections":     stats.OpenConnections,
		"max_open_connections": stats.MaxOpenConnections,
		"idle_connections":     stats.Idle,
		"in_use_connections":   stats.InUse,
	}
	return result
}

// PingChecker covers the llm-service and the Redis caches.
type PingChecker struct {
	name     string
	pinger   Pinger
	critical bool
}

func NewPingChecker(name string, pinger Pinger, critical bool) *PingChecker {
	return &PingChecker{name: name, pinger: pinger, critical: critical}
}

func (p *PingChecker) Name() string           { return p.name }
func (p *PingChecker) IsCritical() bool       { return p.critical }
func (p *PingChecker) Timeout() time.Duration { return defaultTimeout }

func (p *PingChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	err := p.pinger.Ping(ctx)
	latency := time.Since(startTime)

	result := CheckResult{Details: map[string]any{"latency_ms": latency.Milliseconds()}}
	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = p.name + " ping failed"
	case latency > slowResponseTime:
		result.Status = StatusDegraded
		result.Message = p.name + " responding but with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = p.name + " healthy"
	}
	return result
}

// CollectionDescriber is satisfied by *vectordb.Client.
type CollectionDescriber interface {
	Collection(ctx context.Context, name string) (*vectordb.CollectionInfo, error)
}

// VectorIndexChecker verifies the literature collection exists and is
// populated. An empty collection is degraded, not down.
type VectorIndexChecker struct {
	client     CollectionDescriber
	collection string
}

func NewVectorIndexChecker(client CollectionDescriber, collection string) *VectorIndexChecker {
	return &VectorIndexChecker{client: client, collection: collection}
}

func (v *VectorIndexChecker) Name() string           { return "vector_index" }
func (v *VectorIndexChecker) IsCritical() bool       { return false }
func (v *VectorIndexChecker) Timeout() time.Duration { return defaultTimeout }

func (v *VectorIndexChecker) Check(ctx context.Context) CheckResult {
	info, err := v.client.Collection(ctx, v.collection)
	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   err.Error(),
			Message: "Vector index unavailable",
			Details: map[string]any{"collection": v.collection},
		}
	}

	result := CheckResult{
		Status:  StatusHealthy,
		Message: "Vector index healthy",
		Details: map[string]any{
			"collection":   v.collection,
			"points_count": info.PointsCount,
			"vector_size":  info.VectorSize,
		},
	}
	if info.PointsCount == 0 {
		result.Status = StatusDegraded
		result.Message = "Vector index collection is empty"
	}
	return result
}
