package model_test

import (
	"testing"
	"time"

	model "github.com/okian/pulse/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestSubjectFingerprint(t *testing.T) {
	convey.Convey("Given a subject", t, func() {
		ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		s := model.Subject{ID: "b-1", UpdatedAt: ts, Counts: map[string]int64{"leads": 10, "offers": 2}}

		convey.Convey("When the fields are unchanged", func() {
			same := model.Subject{ID: "b-1", UpdatedAt: ts, Counts: map[string]int64{"offers": 2, "leads": 10}}

			convey.Convey("Then the fingerprints are equal", func() {
				convey.So(s.Fingerprint(), convey.ShouldEqual, same.Fingerprint())
				convey.So(len(s.Fingerprint()), convey.ShouldBeLessThanOrEqualTo, 16)
			})
		})

		convey.Convey("When a count changes", func() {
			changed := model.Subject{ID: "b-1", UpdatedAt: ts, Counts: map[string]int64{"leads": 11, "offers": 2}}
			convey.So(changed.Fingerprint(), convey.ShouldNotEqual, s.Fingerprint())
		})

		convey.Convey("When the timestamp changes", func() {
			changed := s
			changed.UpdatedAt = ts.Add(time.Second)
			convey.So(changed.Fingerprint(), convey.ShouldNotEqual, s.Fingerprint())
		})

		convey.Convey("When the timestamp is the same instant in another zone", func() {
			changed := s
			changed.UpdatedAt = ts.In(time.FixedZone("UZT", 5*3600))
			convey.So(changed.Fingerprint(), convey.ShouldEqual, s.Fingerprint())
		})

		convey.Convey("When a count key embeds the separators of two keys", func() {
			split := model.Subject{ID: "b-1", UpdatedAt: ts, Counts: map[string]int64{"a": 1, "b": 2}}
			joined := model.Subject{ID: "b-1", UpdatedAt: ts, Counts: map[string]int64{"a=1;b": 2}}

			convey.Convey("Then the two states do not collide", func() {
				convey.So(joined.Fingerprint(), convey.ShouldNotEqual, split.Fingerprint())
			})
		})

		convey.Convey("When only the id differs", func() {
			other := s
			other.ID = "b-2"

			convey.Convey("Then the fingerprint is unaffected", func() {
				convey.So(other.Fingerprint(), convey.ShouldEqual, s.Fingerprint())
			})
		})
	})
}

func TestJobStatus(t *testing.T) {
	convey.Convey("Given the job state machine", t, func() {
		convey.So(model.JobPending.CanTransition(model.JobProcessing), convey.ShouldBeTrue)
		convey.So(model.JobProcessing.CanTransition(model.JobCompleted), convey.ShouldBeTrue)
		convey.So(model.JobProcessing.CanTransition(model.JobFailed), convey.ShouldBeTrue)
		convey.So(model.JobPending.CanTransition(model.JobCompleted), convey.ShouldBeFalse)

		convey.Convey("Then terminal states are immutable", func() {
			for _, s := range []model.JobStatus{model.JobCompleted, model.JobFailed} {
				convey.So(s.Terminal(), convey.ShouldBeTrue)
				convey.So(s.CanTransition(model.JobProcessing), convey.ShouldBeFalse)
				convey.So(s.CanTransition(model.JobCompleted), convey.ShouldBeFalse)
			}
		})
	})
}

func TestDataMetric(t *testing.T) {
	convey.Convey("Given subject data", t, func() {
		d := model.Data{Metrics: map[string]float64{"health": 70}}
		v, ok := d.Metric("health")
		convey.So(ok, convey.ShouldBeTrue)
		convey.So(v, convey.ShouldEqual, 70)

		_, ok = d.Metric("missing")
		convey.So(ok, convey.ShouldBeFalse)
	})
}
