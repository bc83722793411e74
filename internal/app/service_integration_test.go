package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	service "github.com/okian/pulse/internal/app"
	"github.com/okian/pulse/internal/config"
	"github.com/okian/pulse/internal/domain/diagnostic"
	"github.com/okian/pulse/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// healthyData scores 80 across every weighted reference algorithm.
func healthyData() model.Data {
	return model.Data{Metrics: map[string]float64{
		"health":          80,
		"dream_buyer":     80,
		"offer":           80,
		"conversion_rate": 8,
		"engagement":      80,
		"content":         80,
	}}
}

func startService(cfg *config.Config) (*service.Service, func()) {
	svc := service.New(service.WithConfig(cfg))
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc, func() { _ = svc.Stop(context.Background()) }
}

func TestServiceIntegration(t *testing.T) {
	for _, backend := range []string{config.BackendMemory, config.BackendBadger} {
		Convey(fmt.Sprintf("Given a started service on the %s backend", backend), t, func() {
			cfg := fastConfig()
			cfg.Store.Backend = backend
			cfg.Store.InMemory = true
			svc, stop := startService(cfg)
			defer stop()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			_, err := svc.PutSubject(ctx, "acme", map[string]int64{"leads": 3}, healthyData())
			So(err, ShouldBeNil)

			Convey("When diagnosing twice", func() {
				first, err := svc.Diagnose(ctx, "acme", false)
				So(err, ShouldBeNil)
				second, err := svc.Diagnose(ctx, "acme", false)
				So(err, ShouldBeNil)

				Convey("Then the first is computed and the second cached", func() {
					So(first.FromCache, ShouldBeFalse)
					So(second.FromCache, ShouldBeTrue)
					So(first.OverallScore, ShouldEqual, 80)
					So(first.StatusTier, ShouldEqual, model.TierExcellent)
					So(second.ComputedAt.Equal(first.ComputedAt), ShouldBeTrue)
				})

				Convey("Then informational algorithms without data fall back without moving the score", func() {
					So(first.SubResults["money_loss"].Failed(), ShouldBeTrue)
					So(len(first.SubResults), ShouldEqual, 10)
				})
			})

			Convey("When the subject's industry benchmark is replaced", func() {
				data := healthyData()
				data.Industry = "saas"
				data.Metrics["benchmark"] = 30
				_, err := svc.PutSubject(ctx, "acme", nil, data)
				So(err, ShouldBeNil)
				_, err = svc.PutBenchmark(ctx, "saas", map[string]float64{"benchmark": 60})
				So(err, ShouldBeNil)
				first, err := svc.Diagnose(ctx, "acme", false)
				So(err, ShouldBeNil)

				n, err := svc.PutBenchmark(ctx, "saas", map[string]float64{"benchmark": 30})
				So(err, ShouldBeNil)
				second, err := svc.Diagnose(ctx, "acme", false)
				So(err, ShouldBeNil)

				Convey("Then the relative algorithm follows the new reference", func() {
					So(first.SubResults["competitor_benchmark"].Score, ShouldEqual, 25)
					So(n, ShouldBeGreaterThanOrEqualTo, 2)
					So(second.FromCache, ShouldBeFalse)
					So(second.SubResults["competitor_benchmark"].Score, ShouldEqual, 50)
				})
			})

			Convey("When the subject mutates between calls", func() {
				first, err := svc.Diagnose(ctx, "acme", false)
				So(err, ShouldBeNil)
				_, err = svc.PutSubject(ctx, "acme", map[string]int64{"leads": 4}, healthyData())
				So(err, ShouldBeNil)
				second, err := svc.Diagnose(ctx, "acme", false)
				So(err, ShouldBeNil)

				Convey("Then the stale entry is never served", func() {
					So(second.FromCache, ShouldBeFalse)
					So(second.Meta.Fingerprint, ShouldNotEqual, first.Meta.Fingerprint)
				})
			})

			Convey("When invalidating a subject", func() {
				_, err := svc.Diagnose(ctx, "acme", false)
				So(err, ShouldBeNil)
				n, err := svc.Invalidate(ctx, "acme")
				So(err, ShouldBeNil)
				res, err := svc.Diagnose(ctx, "acme", false)
				So(err, ShouldBeNil)

				Convey("Then the next call recomputes", func() {
					So(n, ShouldBeGreaterThanOrEqualTo, 1)
					So(res.FromCache, ShouldBeFalse)
				})
			})

			Convey("When running a diagnostic asynchronously", func() {
				jobID, err := svc.RunAsync(ctx, "acme", model.PriorityHigh, false)
				So(err, ShouldBeNil)
				out, err := svc.WaitForResult(ctx, jobID, 5*time.Second)
				So(err, ShouldBeNil)

				Convey("Then the worker pool completes it", func() {
					So(out.Ready, ShouldBeTrue)
					So(out.Job.Status, ShouldEqual, model.JobCompleted)
					So(out.Result, ShouldNotBeNil)
					So(out.Result.OverallScore, ShouldEqual, 80)
				})

				Convey("Then the status record is readable", func() {
					job, err := svc.CheckStatus(ctx, jobID)
					So(err, ShouldBeNil)
					So(job.SubjectID, ShouldEqual, "acme")
				})
			})

			Convey("When running a single algorithm", func() {
				res, err := svc.RunSingle(ctx, "health_score", "acme")
				So(err, ShouldBeNil)
				So(res.Result.Score, ShouldEqual, 80)

				again, err := svc.RunSingle(ctx, "health_score", "acme")
				So(err, ShouldBeNil)
				So(again.FromCache, ShouldBeTrue)
			})

			Convey("When diagnosing an unknown subject", func() {
				_, err := svc.Diagnose(ctx, "ghost", false)
				So(errors.Is(err, diagnostic.ErrSubjectNotFound), ShouldBeTrue)
			})
		})
	}
}

func TestServiceBurst(t *testing.T) {
	Convey("Given a service with a tight diagnostic limit", t, func() {
		cfg := fastConfig()
		cfg.RateLimits["diagnostic"] = config.RateLimitConfig{Requests: 5, WindowSeconds: 60}
		svc, stop := startService(cfg)
		defer stop()
		ctx := context.Background()

		_, err := svc.PutSubject(ctx, "acme", nil, healthyData())
		So(err, ShouldBeNil)

		Convey("When twenty concurrent calls arrive", func() {
			var (
				mu                           sync.Mutex
				fresh, cached, limited, fail int
				wg                           sync.WaitGroup
			)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := svc.Diagnose(ctx, "acme", false)
					mu.Lock()
					defer mu.Unlock()
					var rl *diagnostic.RateLimitError
					switch {
					case errors.As(err, &rl):
						limited++
					case err != nil:
						fail++
					case res.FromCache:
						cached++
					default:
						fresh++
					}
				}()
			}
			wg.Wait()

			Convey("Then exactly the limit is admitted and computed once", func() {
				So(fail, ShouldEqual, 0)
				So(limited, ShouldEqual, 15)
				So(fresh+cached, ShouldEqual, 5)
				So(fresh, ShouldBeGreaterThanOrEqualTo, 1)
			})
		})
	})
}
