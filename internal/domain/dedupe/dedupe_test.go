package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	dedupe "github.com/okian/pulse/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryIndex(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new index", t, func() {
		d := dedupe.NewInMemoryIndex()
		So(d.Size(), ShouldEqual, 0)

		Convey("When a key is claimed", func() {
			owner, claimed := d.Claim(ctx, "k", "job-1")

			Convey("Then the caller owns it", func() {
				So(claimed, ShouldBeTrue)
				So(owner, ShouldEqual, "job-1")
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("And it is claimed again by another job", func() {
				owner, claimed := d.Claim(ctx, "k", "job-2")

				Convey("Then the first owner is returned", func() {
					So(claimed, ShouldBeFalse)
					So(owner, ShouldEqual, "job-1")
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And a different job tries to release it", func() {
				d.Release(ctx, "k", "job-2")

				Convey("Then the claim survives", func() {
					owner, ok := d.Lookup(ctx, "k")
					So(ok, ShouldBeTrue)
					So(owner, ShouldEqual, "job-1")
				})
			})

			Convey("And the owner releases it", func() {
				d.Release(ctx, "k", "job-1")

				Convey("Then the key can be claimed anew", func() {
					_, ok := d.Lookup(ctx, "k")
					So(ok, ShouldBeFalse)
					So(d.Size(), ShouldEqual, 0)
					_, claimed := d.Claim(ctx, "k", "job-3")
					So(claimed, ShouldBeTrue)
				})
			})
		})
	})

	Convey("Given a bounded index", t, func() {
		d := dedupe.NewInMemoryIndex(dedupe.WithMaxSize(3))
		for i := 0; i < 4; i++ {
			d.Claim(ctx, fmt.Sprintf("k%d", i), fmt.Sprintf("j%d", i))
		}

		Convey("Then the oldest entry is evicted", func() {
			So(d.Size(), ShouldEqual, 3)
			_, ok := d.Lookup(ctx, "k0")
			So(ok, ShouldBeFalse)
			_, ok = d.Lookup(ctx, "k3")
			So(ok, ShouldBeTrue)
		})

		Convey("When a middle entry is released and more are claimed", func() {
			d.Release(ctx, "k2", "j2")
			d.Claim(ctx, "k4", "j4")
			d.Claim(ctx, "k5", "j5")

			Convey("Then the list stays consistent", func() {
				So(d.Size(), ShouldEqual, 3)
				_, ok := d.Lookup(ctx, "k1")
				So(ok, ShouldBeFalse)
				for _, k := range []string{"k3", "k4", "k5"} {
					_, ok := d.Lookup(ctx, k)
					So(ok, ShouldBeTrue)
				}
			})
		})
	})

	Convey("Given concurrent claims on one key", t, func() {
		d := dedupe.NewInMemoryIndex(dedupe.WithMaxSize(0))
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, claimed := d.Claim(ctx, dedupe.Key("s", "fp"), fmt.Sprintf("j%d", i)); claimed {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly one claim wins", func() {
			So(wins.Load(), ShouldEqual, 1)
			So(d.Size(), ShouldEqual, 1)
		})
	})
}
