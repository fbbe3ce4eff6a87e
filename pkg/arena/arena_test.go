package arena_test

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/tsukuba-hpcs/mpich-chfs/pkg/arena"
)

func TestArenaAttachDetach(t *testing.T) {
	Convey("Given an unattached Arena", t, func() {
		a := arena.New()

		So(a.Attached(), ShouldBeFalse)

		Convey("Attach rejects a buffer too small to hold any segment", func() {
			err := a.Attach(make([]byte, 4))
			So(err, ShouldNotBeNil)
			So(a.Attached(), ShouldBeFalse)
		})

		Convey("When a large enough buffer is attached", func() {
			buf := make([]byte, 4096)
			err := a.Attach(buf)
			So(err, ShouldBeNil)
			So(a.Attached(), ShouldBeTrue)

			Convey("Then attaching again fails", func() {
				err := a.Attach(make([]byte, 4096))
				So(err, ShouldEqual, arena.ErrAlreadyAttached)
			})

			Convey("Then the whole buffer is available as one free segment", func() {
				id, ok := a.Find(1)
				So(ok, ShouldBeTrue)

				payload := a.Take(id, 64)
				So(len(payload), ShouldBeGreaterThanOrEqualTo, 64)
			})

			Convey("Then Detach with no active segments returns the original buffer", func() {
				out, size, err := a.Detach(context.Background())
				So(err, ShouldBeNil)
				So(size, ShouldEqual, len(buf))
				So(out, ShouldResemble, buf)
			})

			Convey("Then Detach with an active segment blocks until it is freed", func() {
				id, ok := a.Find(8)
				So(ok, ShouldBeTrue)
				a.Take(id, 8)

				waited := make(chan struct{})
				a.SetHandle(id, &blockingHandle{waited: waited})

				done := make(chan struct{})
				var out []byte
				var size int
				var derr error
				go func() {
					out, size, derr = a.Detach(context.Background())
					close(done)
				}()

				select {
				case <-done:
					t.Fatal("Detach returned before the active segment's handle was waited on")
				case <-time.After(20 * time.Millisecond):
				}

				close(waited)

				select {
				case <-done:
				case <-time.After(time.Second):
					t.Fatal("Detach did not return once the handle's Wait completed")
				}

				So(derr, ShouldBeNil)
				So(size, ShouldEqual, len(buf))
				So(out, ShouldResemble, buf)
				So(a.ActiveCount(), ShouldEqual, 0)
			})
		})

		Convey("Detach on an unattached arena succeeds idempotently", func() {
			out, size, err := a.Detach(context.Background())
			So(err, ShouldBeNil)
			So(out, ShouldBeNil)
			So(size, ShouldEqual, 0)

			out, size, err = a.Detach(context.Background())
			So(err, ShouldBeNil)
			So(out, ShouldBeNil)
			So(size, ShouldEqual, 0)
		})
	})
}

// blockingHandle is a [transport.Request]-shaped stand-in used to verify
// that Detach actually blocks on a segment's handle rather than refusing
// outright; it only implements the Wait method Detach needs.
type blockingHandle struct {
	waited chan struct{}
}

func (h *blockingHandle) Wait(ctx context.Context) error {
	<-h.waited
	return nil
}

func TestArenaTakeSplitsAndCoalesces(t *testing.T) {
	Convey("Given an attached Arena with a single large free segment", t, func() {
		a := arena.New()
		err := a.Attach(make([]byte, 4096))
		So(err, ShouldBeNil)

		Convey("Taking a small piece splits off a remainder segment", func() {
			id, ok := a.Find(32)
			So(ok, ShouldBeTrue)

			payload := a.Take(id, 32)
			So(len(payload), ShouldBeGreaterThanOrEqualTo, 32)

			Convey("And a second, independent allocation still succeeds", func() {
				id2, ok := a.Find(32)
				So(ok, ShouldBeTrue)
				So(id2, ShouldNotEqual, id)

				payload2 := a.Take(id2, 32)
				So(len(payload2), ShouldBeGreaterThanOrEqualTo, 32)
			})
		})

		Convey("Taking nearly the whole block does not leave a standalone remainder", func() {
			id, ok := a.Find(4050)
			So(ok, ShouldBeTrue)

			payload := a.Take(id, 4050)
			So(len(payload), ShouldBeGreaterThanOrEqualTo, 4050)

			_, ok = a.Find(1)
			So(ok, ShouldBeFalse)
		})

		Convey("Freeing adjacent segments merges them back into one", func() {
			id1, _ := a.Find(64)
			a.Take(id1, 64)

			id2, _ := a.Find(64)
			a.Take(id2, 64)

			id3, _ := a.Find(64)
			a.Take(id3, 64)

			// Before merging, no single free segment can satisfy a request
			// bigger than what remained of the original block.
			wholeRequest := 4000
			_, ok := a.Find(wholeRequest)
			So(ok, ShouldBeFalse)

			a.Free(id2)
			a.Free(id1)
			a.Free(id3)

			// After merging every freed segment back together with the
			// remainder, the arena can satisfy a request spanning all of them.
			_, ok = a.Find(wholeRequest)
			So(ok, ShouldBeTrue)
		})
	})
}

func TestArenaAllocIsAtomic(t *testing.T) {
	Convey("Given an attached Arena", t, func() {
		a := arena.New()
		err := a.Attach(make([]byte, 4096))
		So(err, ShouldBeNil)

		Convey("Alloc finds and takes a segment in one step", func() {
			id, payload, ok := a.Alloc(64)
			So(ok, ShouldBeTrue)
			So(len(payload), ShouldBeGreaterThanOrEqualTo, 64)
			So(a.ActiveCount(), ShouldEqual, 1)

			Convey("And a second Alloc never returns the same segment", func() {
				id2, _, ok := a.Alloc(64)
				So(ok, ShouldBeTrue)
				So(id2, ShouldNotEqual, id)
			})
		})

		Convey("Alloc reports failure once the arena is exhausted", func() {
			_, _, ok := a.Alloc(4050)
			So(ok, ShouldBeTrue)

			_, _, ok = a.Alloc(1)
			So(ok, ShouldBeFalse)
		})
	})
}

func TestArenaReserveCommitAbort(t *testing.T) {
	Convey("Given an attached Arena", t, func() {
		a := arena.New()
		err := a.Attach(make([]byte, 4096))
		So(err, ShouldBeNil)

		Convey("Reserve hands back the full free segment without splitting or activating it", func() {
			id, buf, ok := a.Reserve(32)
			So(ok, ShouldBeTrue)
			So(len(buf), ShouldBeGreaterThanOrEqualTo, 32)
			So(a.ActiveCount(), ShouldEqual, 0)

			Convey("A second Reserve never returns the same, still-reserved segment", func() {
				// The reserved segment is the only free one, so nothing is left.
				id2, _, ok := a.Reserve(32)
				So(ok, ShouldBeFalse)
				So(id2, ShouldNotEqual, id)
			})

			Convey("Commit splits to the actual packed size and activates it", func() {
				a.Commit(id, 10)
				So(a.ActiveCount(), ShouldEqual, 1)

				sent := a.Sent(id)
				So(len(sent), ShouldEqual, 10)

				Convey("And the remainder is available to a later Reserve", func() {
					_, _, ok := a.Reserve(100)
					So(ok, ShouldBeTrue)
				})
			})

			Convey("Abort releases the reservation without taking the segment", func() {
				a.Abort(id)
				So(a.ActiveCount(), ShouldEqual, 0)

				id2, ok := a.Find(4000)
				So(ok, ShouldBeTrue)
				So(id2, ShouldEqual, id)
			})
		})

		Convey("A reserved segment is invisible to Find and Alloc", func() {
			id, _, ok := a.Reserve(4000)
			So(ok, ShouldBeTrue)

			_, ok = a.Find(1)
			So(ok, ShouldBeFalse)

			_, _, ok = a.Alloc(1)
			So(ok, ShouldBeFalse)

			a.Abort(id)
		})
	})
}

func TestArenaFindFailsWhenExhausted(t *testing.T) {
	Convey("Given an arena with no segment large enough", t, func() {
		a := arena.New()
		err := a.Attach(make([]byte, 256))
		So(err, ShouldBeNil)

		id, ok := a.Find(1000)
		So(ok, ShouldBeFalse)
		So(id, ShouldEqual, arena.SegmentID(-1))
	})
}

func TestArenaActiveAndHandles(t *testing.T) {
	Convey("Given an arena with several active segments", t, func() {
		a := arena.New()
		err := a.Attach(make([]byte, 4096))
		So(err, ShouldBeNil)

		var ids []arena.SegmentID
		for i := 0; i < 3; i++ {
			id, ok := a.Find(32)
			So(ok, ShouldBeTrue)
			a.Take(id, 32)
			a.SetHandle(id, i)
			ids = append(ids, id)
		}

		So(a.ActiveCount(), ShouldEqual, 3)

		Convey("Active visits every segment and Free during iteration is safe", func() {
			visited := 0
			a.Active(func(id arena.SegmentID) bool {
				visited++
				v, ok := a.Handle(id)
				So(ok, ShouldBeTrue)
				So(v, ShouldBeIn, 0, 1, 2)
				a.Free(id)
				return true
			})

			So(visited, ShouldEqual, 3)
			So(a.ActiveCount(), ShouldEqual, 0)
		})

		Convey("Active stops early when f returns false", func() {
			visited := 0
			a.Active(func(id arena.SegmentID) bool {
				visited++
				return false
			})

			So(visited, ShouldEqual, 1)
			So(a.ActiveCount(), ShouldEqual, 3)
		})

		_ = ids
	})
}
