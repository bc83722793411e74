package loadtest

import (
	"errors"
	"net/http"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestClassify(t *testing.T) {
	Convey("Given HTTP answers", t, func() {
		So(classify(http.StatusOK, nil, false), ShouldEqual, OutcomeFresh)
		So(classify(http.StatusOK, nil, true), ShouldEqual, OutcomeCached)
		So(classify(http.StatusTooManyRequests, nil, false), ShouldEqual, OutcomeRateLimited)
		So(classify(http.StatusInternalServerError, nil, false), ShouldEqual, OutcomeFailed)
		So(classify(0, errors.New("refused"), false), ShouldEqual, OutcomeFailed)
	})
}

func TestSummarize(t *testing.T) {
	Convey("Given burst results", t, func() {
		rep := &Report{FreshBySubject: map[string]int{}, Duration: time.Second}
		summarize(rep, []result{
			{subject: "a", outcome: OutcomeFresh, elapsed: 40 * time.Millisecond},
			{subject: "a", outcome: OutcomeCached, elapsed: 10 * time.Millisecond},
			{subject: "a", outcome: OutcomeCached, elapsed: 20 * time.Millisecond},
			{subject: "a", outcome: OutcomeRateLimited, elapsed: 30 * time.Millisecond},
		})

		Convey("Then outcomes are counted", func() {
			So(rep.Requests, ShouldEqual, 4)
			So(rep.Fresh, ShouldEqual, 1)
			So(rep.Cached, ShouldEqual, 2)
			So(rep.RateLimited, ShouldEqual, 1)
			So(rep.FreshBySubject["a"], ShouldEqual, 1)
			So(rep.CacheHitRate(), ShouldAlmostEqual, 200.0/3, 0.001)
			So(rep.Throughput, ShouldEqual, 4)
		})

		Convey("Then percentiles come from sorted latencies", func() {
			So(rep.P50, ShouldEqual, 20*time.Millisecond)
			So(rep.P99, ShouldEqual, 30*time.Millisecond)
		})
	})

	Convey("Given no latencies", t, func() {
		So(percentile(nil, p99), ShouldEqual, time.Duration(0))
	})
}

func TestGenerator(t *testing.T) {
	Convey("Given generated subjects", t, func() {
		subjects := generateSubjects(3)

		Convey("Then ids are unique and metrics in range", func() {
			seen := map[string]bool{}
			for _, s := range subjects {
				So(seen[s.ID], ShouldBeFalse)
				seen[s.ID] = true
				for name, v := range s.Metrics {
					r := metricRanges[name]
					So(v, ShouldBeBetweenOrEqual, r[0], r[1])
				}
			}
		})

		Convey("Then mutate changes the counts", func() {
			before := subjects[0].Counts["leads"]
			subjects[0].mutate()
			So(subjects[0].Counts["leads"], ShouldEqual, before+1)
		})
	})
}
