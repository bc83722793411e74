package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a fresh registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "pulse")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_namespace"),
				WithSubsystem("test_subsystem"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then options are applied", func() {
				So(manager.namespace, ShouldEqual, "test_namespace")
				So(manager.subsystem, ShouldEqual, "test_subsystem")
				So(manager.histogramBuckets, ShouldResemble, []float64{0.1, 0.5, 1.0})
			})
		})

		Convey("When empty options are given", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithNamespace(""), WithHistogramBuckets(nil), WithPrometheusRegistry(registry))

			Convey("Then defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "pulse")
				So(len(manager.histogramBuckets), ShouldBeGreaterThan, 0)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording cache outcomes", func() {
			before := testutil.ToFloat64(globalManager.cacheHits.WithLabelValues(TierShared))
			RecordCacheHit(TierShared)
			RecordCacheMiss()
			RecordCacheCompute(650, true)

			Convey("Then counters move", func() {
				So(testutil.ToFloat64(globalManager.cacheHits.WithLabelValues(TierShared)), ShouldEqual, before+1)
			})
		})

		Convey("When recording rate limit decisions", func() {
			before := testutil.ToFloat64(globalManager.rateLimitDecisions.WithLabelValues("diagnostic", "rejected"))
			RecordRateLimitDecision("diagnostic", false)
			RecordRateLimitDecision("diagnostic", true)

			Convey("Then the rejected counter increments once", func() {
				So(testutil.ToFloat64(globalManager.rateLimitDecisions.WithLabelValues("diagnostic", "rejected")), ShouldEqual, before+1)
			})
		})

		Convey("When recording the remaining families", func() {
			So(func() {
				RecordCacheError("get")
				RecordCacheInvalidation("tag")
				RecordLockOutcome("acquired")
				UpdateScopeEntries(3)
				RecordStoreError("memory", "update")
				RecordRateLimitFailOpen("diagnostic")
				RecordAlgorithmLatency("health_score", 12)
				RecordAlgorithmError("health_score")
				RecordAlgorithmTimeout()
				RecordBatchItem(true)
				RecordBatchItem(false)
				RecordDiagnostic(false, 120, 72)
				RecordDiagnostic(true, 1, 72)
				RecordJobTransition("pending")
				RecordJobCoalesced()
				UpdateQueueDepth("high", 4)
				RecordQueueRejected("full")
				UpdateWorkerCount(8)
				RecordWorkerProcessingLatency(40)
				RecordHTTPRequest("diagnose", "POST", "200")
				RecordHTTPRequestDuration("diagnose", "POST", "200", 10)
			}, ShouldNotPanic)
		})

		Convey("Then the registry is exposed", func() {
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}
