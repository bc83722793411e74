package scoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/pulse/internal/config"
	"github.com/okian/pulse/internal/domain/model"
	scoring "github.com/okian/pulse/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricAlgorithm_Score(t *testing.T) {
	Convey("Given a metric algorithm without latency", t, func() {
		a := scoring.NewMetricAlgorithm("funnel_analysis", "conversion_rate", 10, 0.2, 50)
		data := model.Data{Metrics: map[string]float64{"conversion_rate": 7.5, "huge": 1e6}}
		ctx := context.Background()

		Convey("When the metric is present", func() {
			score, err := a.Score(ctx, model.Subject{ID: "b-1"}, data)

			Convey("Then it applies the scale", func() {
				So(err, ShouldBeNil)
				So(score, ShouldEqual, 75.0)
				So(a.Weight(), ShouldEqual, 0.2)
				So(a.Fallback(), ShouldEqual, 50)
			})
		})

		Convey("When the scaled metric exceeds the range", func() {
			big := scoring.NewMetricAlgorithm("x", "huge", 1, 0, 0)
			score, err := big.Score(ctx, model.Subject{}, data)
			So(err, ShouldBeNil)
			So(score, ShouldEqual, 100.0)
		})

		Convey("When the metric is negative", func() {
			neg := scoring.NewMetricAlgorithm("x", "n", 1, 0, 0)
			score, err := neg.Score(ctx, model.Subject{}, model.Data{Metrics: map[string]float64{"n": -5}})
			So(err, ShouldBeNil)
			So(score, ShouldEqual, 0.0)
		})

		Convey("When the metric is missing", func() {
			_, err := a.Score(ctx, model.Subject{}, model.Data{})
			So(errors.Is(err, scoring.ErrMissingMetric), ShouldBeTrue)
		})
	})

	Convey("Given an algorithm scored against the industry baseline", t, func() {
		a := scoring.NewMetricAlgorithm("competitor_benchmark", "benchmark", 1, 0, 0, scoring.WithBaseline())
		ctx := context.Background()

		Convey("When the baseline is present", func() {
			data := model.Data{Metrics: map[string]float64{"benchmark": 30}, Benchmark: map[string]float64{"benchmark": 40}}
			score, err := a.Score(ctx, model.Subject{}, data)

			Convey("Then the score is relative to par", func() {
				So(err, ShouldBeNil)
				So(score, ShouldEqual, 37.5)
			})
		})

		Convey("When no baseline is known", func() {
			score, err := a.Score(ctx, model.Subject{}, model.Data{Metrics: map[string]float64{"benchmark": 30}})

			Convey("Then the raw metric is scored", func() {
				So(err, ShouldBeNil)
				So(score, ShouldEqual, 30)
			})
		})
	})

	Convey("Given a metric algorithm with simulated latency", t, func() {
		a := scoring.NewMetricAlgorithm("slow", "m", 1, 0, 0, scoring.WithLatencyRange(50*time.Millisecond, 60*time.Millisecond))

		Convey("When the context is cancelled first", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
			defer cancel()
			_, err := a.Score(ctx, model.Subject{}, model.Data{Metrics: map[string]float64{"m": 1}})

			Convey("Then it returns the context error", func() {
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
			})
		})
	})
}

func TestRegistry(t *testing.T) {
	Convey("Given a registry built from the default config", t, func() {
		reg, err := scoring.FromConfig(config.New().Algorithms)
		So(err, ShouldBeNil)

		Convey("Then every configured algorithm is registered", func() {
			So(reg.Len(), ShouldEqual, 10)
			a, err := reg.Get("health_score")
			So(err, ShouldBeNil)
			So(a.Weight(), ShouldEqual, 0.25)
		})

		Convey("Then only weighted algorithms contribute weights", func() {
			w := reg.Weights()
			So(len(w), ShouldEqual, 6)
			So(w, ShouldNotContainKey, "money_loss")
		})

		Convey("When registering a duplicate name", func() {
			err := reg.Register(scoring.NewFunc("health_score", 1, 0, nil))
			So(errors.Is(err, scoring.ErrDuplicate), ShouldBeTrue)
		})

		Convey("When looking up an unknown name", func() {
			_, err := reg.Get("astrology")
			So(errors.Is(err, scoring.ErrUnknown), ShouldBeTrue)
		})
	})

	Convey("Given a function-backed algorithm", t, func() {
		f := scoring.NewFunc("const", 0.5, 10, func(context.Context, model.Subject, model.Data) (float64, error) { return 80, nil })
		reg, err := scoring.NewRegistry(f)
		So(err, ShouldBeNil)
		So(reg.Names(), ShouldResemble, []string{"const"})

		score, err := f.Score(context.Background(), model.Subject{}, model.Data{})
		So(err, ShouldBeNil)
		So(score, ShouldEqual, 80)
	})
}
