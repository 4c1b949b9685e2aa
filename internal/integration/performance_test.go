package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Sentinel-Gate/accessgate/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/accessgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/accessgate/internal/domain/condition"
	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
	"github.com/Sentinel-Gate/accessgate/internal/service"
)

// buildPerfDecisionService returns a decision service over n policies with
// a mix of exact, prefix, CIDR and conditional entries.
func buildPerfDecisionService(tb testing.TB, n int) *service.DecisionService {
	tb.Helper()

	reg := condition.NewRegistry()
	if err := cel.Register(reg); err != nil {
		tb.Fatalf("cel.Register: %v", err)
	}
	store := memory.NewPolicyStore()
	for i := 0; i < n; i++ {
		p := policy.Policy{
			ID:       fmt.Sprintf("perf-%04d", i),
			Name:     fmt.Sprintf("perf policy %d", i),
			Priority: i % 100,
			Enabled:  true,
			Version:  1,
		}
		switch i % 4 {
		case 0:
			p.Subject, p.Object, p.Action = fmt.Sprintf("user:u%d", i), fmt.Sprintf("svc/%d", i), policy.ActionAllow
		case 1:
			p.Subject, p.Object, p.Action = fmt.Sprintf("group:g%d", i%10), fmt.Sprintf("svc/%d/*", i), policy.ActionAllow
			p.Conditions = map[string]string{"time_range": "00:00-23:59", "risk_score": "< 50"}
		case 2:
			p.Subject, p.Object, p.Action = "*", fmt.Sprintf("10.%d.0.0/16", i%250), policy.ActionDeny
			p.Conditions = map[string]string{"ip_range": "192.168.0.0/16"}
		case 3:
			p.Subject, p.Object, p.Action = fmt.Sprintf("role:r%d", i%5), "*", policy.ActionLogOnly
			p.Conditions = map[string]string{"expression": `device_type == "laptop" && request_hour >= 0`}
		}
		store.AddPolicy(p)
	}
	return service.NewDecisionService(store, reg, testLogger())
}

func perfRequest(i int) policy.Request {
	risk := float64(i % 100)
	return policy.Request{
		Subject: policy.Subject{
			PrincipalID: fmt.Sprintf("u%d", i%1000),
			Groups:      []string{fmt.Sprintf("g%d", i%10)},
			Role:        fmt.Sprintf("r%d", i%5),
			DeviceType:  "laptop",
			RiskScore:   &risk,
		},
		Object: fmt.Sprintf("svc/%d/data", i%1000),
		Context: policy.RequestContext{
			Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			IPAddress: "192.168.10.20",
		},
	}
}

func BenchmarkDecide_1000Policies(b *testing.B) {
	svc := buildPerfDecisionService(b, 1000)
	ctx := context.Background()
	svc.Decide(ctx, perfRequest(0)) // warm the compile cache

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		svc.Decide(ctx, perfRequest(i))
	}
}

func BenchmarkDecide_Parallel(b *testing.B) {
	svc := buildPerfDecisionService(b, 1000)
	ctx := context.Background()
	svc.Decide(ctx, perfRequest(0))

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			svc.Decide(ctx, perfRequest(i))
			i++
		}
	})
}

// TestDecideLatency checks p50/p99 over a warm cache with 200 policies.
func TestDecideLatency(t *testing.T) {
	if testing.Short() {
		t.Skip("latency test skipped in -short mode")
	}
	svc := buildPerfDecisionService(t, 200)
	ctx := context.Background()
	svc.Decide(ctx, perfRequest(0))

	const samples = 2000
	latencies := make([]time.Duration, samples)
	for i := range latencies {
		start := time.Now()
		d := svc.Decide(ctx, perfRequest(i))
		latencies[i] = time.Since(start)
		if d.Reason == policy.ReasonInfrastructureError {
			t.Fatalf("unexpected infrastructure error: %s", d.Error)
		}
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p50 := latencies[samples/2]
	p99 := latencies[samples*99/100]
	t.Logf("p50=%v p99=%v", p50, p99)

	if p50 > perfP50Threshold {
		t.Errorf("p50 = %v, want <= %v", p50, perfP50Threshold)
	}
	if p99 > perfP99Threshold {
		t.Errorf("p99 = %v, want <= %v", p99, perfP99Threshold)
	}
}

// TestDecideConcurrentWithWrites runs decisions while policies change and
// checks every decision is well formed.
func TestDecideConcurrentWithWrites(t *testing.T) {
	store := memory.NewPolicyStore()
	reg := condition.NewRegistry()
	svc := service.NewDecisionService(store, reg, testLogger())
	admin := service.NewPolicyAdminService(store, nil, svc, nil, testLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				d := svc.Decide(ctx, perfRequest(w*1000+i))
				if !d.Action.Valid() {
					t.Errorf("invalid action %q", d.Action)
					return
				}
			}
		}(w)
	}

	for i := 0; i < 200; i++ {
		_, err := admin.Create(ctx, policy.Policy{
			ID: fmt.Sprintf("w-%d", i), Name: "writer", Subject: "*",
			Object: fmt.Sprintf("svc/%d/*", i), Action: policy.ActionAllow, Enabled: true,
		}, "test")
		if err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}
	close(stop)
	wg.Wait()

	if store.Len() != 200 {
		t.Errorf("store len = %d, want 200", store.Len())
	}
}
