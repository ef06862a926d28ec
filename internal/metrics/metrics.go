package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once    sync.Once
	service *Service
)

// Service holds the ceremony coordination metrics. Registration happens once
// per process regardless of how many components ask for the service.
type Service struct {
	WatchdogEvictions    prometheus.Counter
	SchedulerPromotions  prometheus.Counter
	ContributionDuration prometheus.Histogram
}

func New() *Service {
	once.Do(func() {
		service = &Service{
			WatchdogEvictions: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "ceremony",
				Name:      "watchdog_evictions_total",
				Help:      "RUNNING contributions invalidated by the watchdog sweep.",
			}),
			SchedulerPromotions: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "ceremony",
				Name:      "scheduler_promotions_total",
				Help:      "Ceremonies promoted from PRESELECTION to RUNNING.",
			}),
			ContributionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "ceremony",
				Name:      "contribution_duration_seconds",
				Help:      "Wall-clock duration of completed contributions.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			}),
		}
	})
	return service
}
