package interval

import (
	"math/rand"
	"testing"
	"time"

	"campuscal/internal/model"
)

var day = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func at(hour, min int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

func span(h1, m1, h2, m2 int) model.Interval {
	return model.Interval{Start: at(h1, m1), End: at(h2, m2)}
}

func equalSets(a, b []model.Interval) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Start.Equal(b[i].Start) || !a[i].End.Equal(b[i].End) {
			return false
		}
	}
	return true
}

func TestMergeExample(t *testing.T) {
	in := []model.Interval{span(10, 0, 11, 0), span(10, 30, 12, 0), span(14, 0, 15, 0)}
	want := []model.Interval{span(10, 0, 12, 0), span(14, 0, 15, 0)}

	got := Merge(in)
	if !equalSets(got, want) {
		t.Fatalf("Merge = %v, want %v", got, want)
	}
}

func TestMergeTouchingAndContained(t *testing.T) {
	in := []model.Interval{
		span(9, 0, 10, 0),
		span(10, 0, 11, 0), // touches
		span(9, 15, 9, 45), // contained
		span(13, 0, 14, 0),
	}
	want := []model.Interval{span(9, 0, 11, 0), span(13, 0, 14, 0)}

	if got := Merge(in); !equalSets(got, want) {
		t.Fatalf("Merge = %v, want %v", got, want)
	}
}

func TestMergeShortInputs(t *testing.T) {
	if got := Merge(nil); len(got) != 0 {
		t.Fatalf("Merge(nil) = %v", got)
	}
	one := []model.Interval{span(8, 0, 9, 0)}
	if got := Merge(one); !equalSets(got, one) {
		t.Fatalf("Merge(one) = %v", got)
	}
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	in := []model.Interval{span(14, 0, 15, 0), span(10, 0, 11, 0), span(10, 30, 12, 0)}
	orig := append([]model.Interval(nil), in...)

	Merge(in)
	if !equalSets(in, orig) {
		t.Fatalf("input mutated: %v", in)
	}
}

func TestMergeProperties(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		n := rnd.Intn(12)
		in := make([]model.Interval, n)
		for i := range in {
			start := rnd.Intn(24 * 60)
			length := rnd.Intn(180)
			in[i] = model.Interval{
				Start: day.Add(time.Duration(start) * time.Minute),
				End:   day.Add(time.Duration(start+length) * time.Minute),
			}
		}

		got := Merge(in)
		for i := 1; i < len(got); i++ {
			prev, cur := got[i-1], got[i]
			if !prev.Start.Before(cur.Start) {
				t.Fatalf("round %d: not sorted: %v", round, got)
			}
			if !prev.End.Before(cur.Start) {
				t.Fatalf("round %d: overlapping or touching pair: %v %v", round, prev, cur)
			}
		}
		if !equalSets(Merge(got), got) {
			t.Fatalf("round %d: merge not idempotent", round)
		}

		// Every covered minute of the input is covered by the output and
		// vice versa.
		for m := 0; m < 28*60; m++ {
			p := day.Add(time.Duration(m) * time.Minute)
			if covered(in, p) != covered(got, p) {
				t.Fatalf("round %d: coverage differs at %s", round, p)
			}
		}
	}
}

func covered(set []model.Interval, p time.Time) bool {
	for _, iv := range set {
		if !p.Before(iv.Start) && p.Before(iv.End) {
			return true
		}
	}
	return false
}

func TestConflicts(t *testing.T) {
	busy := []model.Interval{span(10, 0, 11, 0), span(14, 0, 15, 0)}

	cases := []struct {
		name string
		ev   model.Interval
		want bool
	}{
		{"touching before", span(9, 0, 10, 0), false},
		{"touching after", span(11, 0, 12, 0), false},
		{"overlap start", span(9, 30, 10, 30), true},
		{"inside", span(10, 15, 10, 45), true},
		{"covers", span(13, 0, 16, 0), true},
		{"gap", span(12, 0, 13, 0), false},
		{"after all", span(16, 0, 17, 0), false},
	}
	for _, tc := range cases {
		if got := Conflicts(tc.ev, busy); got != tc.want {
			t.Errorf("%s: Conflicts = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFilterNormalizesZones(t *testing.T) {
	sydney := time.FixedZone("AEDT", 11*3600)
	busy := []model.Interval{{
		Start: at(10, 0).In(sydney),
		End:   at(11, 0).In(sydney),
	}}
	events := []model.Event{
		{Summary: "clash", Start: at(10, 30), End: at(11, 30)},
		{Summary: "free", Start: at(11, 0), End: at(12, 0)},
	}

	got := Filter(events, busy)
	if len(got) != 1 || got[0].Summary != "free" {
		t.Fatalf("Filter = %+v", got)
	}
	if len(Filter(events, nil)) != 2 {
		t.Fatal("empty busy set must not filter")
	}
}
