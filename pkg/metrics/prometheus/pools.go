package prometheus

import (
	"github.com/marmos91/dittonet/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TaskCounter is satisfied by *workerpool.Pool.
type TaskCounter interface {
	TaskCount() int
	Size() int
}

// ResourceCounter is satisfied by *resourcepool.Pool[T].
type ResourceCounter interface {
	AvailableCount() int
	InUseCount() int
	Capacity() int
}

// RegisterWorkerPool exports the backlog and size of a worker pool, sampled
// at scrape time. No-op when metrics are disabled.
func RegisterWorkerPool(name string, p TaskCounter) {
	if !metrics.IsEnabled() {
		return
	}
	f := promauto.With(metrics.GetRegistry())
	labels := prometheus.Labels{"pool": name}

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "dittonet_worker_pool_pending_tasks",
		Help:        "Tasks queued and not yet picked up by a worker",
		ConstLabels: labels,
	}, func() float64 { return float64(p.TaskCount()) })

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "dittonet_worker_pool_workers",
		Help:        "Number of workers in the pool",
		ConstLabels: labels,
	}, func() float64 { return float64(p.Size()) })
}

// RegisterResourcePool exports the occupancy of a resource pool, sampled at
// scrape time. No-op when metrics are disabled.
func RegisterResourcePool(name string, p ResourceCounter) {
	if !metrics.IsEnabled() {
		return
	}
	f := promauto.With(metrics.GetRegistry())
	labels := prometheus.Labels{"pool": name}

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "dittonet_resource_pool_available",
		Help:        "Resources sitting in the free queue",
		ConstLabels: labels,
	}, func() float64 { return float64(p.AvailableCount()) })

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "dittonet_resource_pool_in_use",
		Help:        "Resources currently held, transient ones included",
		ConstLabels: labels,
	}, func() float64 { return float64(p.InUseCount()) })

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "dittonet_resource_pool_capacity",
		Help:        "Configured resource pool capacity",
		ConstLabels: labels,
	}, func() float64 { return float64(p.Capacity()) })
}
