package qfeature

import (
	"flag"
	"fmt"
	"log"
	"slices"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/combin"
)

func TestDimension(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n, r, numComps int
		dim            int
		err            error
	}{
		{n: 3, r: 2, numComps: 3, dim: 27},
		{n: 2, r: 2, numComps: 3, dim: 9},
		{n: 4, r: 0, numComps: 3, dim: 1},
		{n: 1, r: 1, numComps: 3, dim: 3},
		{n: 4, r: 3, numComps: 3, dim: 108},
		{n: 10, r: 4, numComps: 6, dim: 210 * 1296},
		{n: 0, r: 0, numComps: 3, dim: 1},
		{n: 2, r: 3, numComps: 3, err: ErrPrecondition},
		{n: 2, r: -1, numComps: 3, err: ErrPrecondition},
		{n: 2, r: 1, numComps: 0, err: ErrPrecondition},
		{n: 34, r: 17, numComps: 3, dim: 301362287628613860},
		{n: 40, r: 20, numComps: 2, dim: 144542561803960320},
		{n: 39, r: 39, numComps: 3, dim: 4052555153018976267},
		{n: 40, r: 40, numComps: 3, err: ErrOverflow},
		{n: 40, r: 20, numComps: 4, err: ErrOverflow},
		{n: 200, r: 100, numComps: 3, err: ErrOverflow},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d %d %d", test.n, test.r, test.numComps), func(t *testing.T) {
			t.Parallel()
			dim, err := Dimension(test.n, test.r, test.numComps)
			if test.err != nil {
				if !errors.Is(err, test.err) {
					t.Fatalf("%+v, expected %v", err, test.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if dim != test.dim {
				t.Fatalf("%d, expected %d", dim, test.dim)
			}
		})
	}
}

func TestInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		c       Combination
		invalid bool
	}{
		{c: Combination{}, invalid: false},
		{c: Combination{4}, invalid: false},
		{c: Combination{0, 3}, invalid: false},
		{c: Combination{2, 3, 8}, invalid: false},
		{c: Combination{0, 1}, invalid: true},
		{c: Combination{3, 0}, invalid: true},
		{c: Combination{3, 3}, invalid: true},
		{c: Combination{0, 3, 5}, invalid: true},
		{c: Combination{0, 6, 3}, invalid: true},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%v", test.c), func(t *testing.T) {
			t.Parallel()
			if invalid := Invalid(test.c, 3); invalid != test.invalid {
				t.Fatalf("%t, expected %t", invalid, test.invalid)
			}
		})
	}
}

func TestAdvance(t *testing.T) {
	t.Parallel()
	tests := []struct {
		c    Combination
		next Combination
		ok   bool
	}{
		{c: Combination{0, 3}, next: Combination{0, 4}, ok: true},
		{c: Combination{0, 8}, next: Combination{1, 3}, ok: true},
		{c: Combination{5, 8}, next: Combination{6, 6}, ok: true},
		{c: Combination{8, 8}, ok: false},
		{c: Combination{7}, next: Combination{8}, ok: true},
		{c: Combination{8}, ok: false},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%v", test.c), func(t *testing.T) {
			t.Parallel()
			before := slices.Clone(test.c)
			next, ok := Advance(test.c, 3, 3)
			if !slices.Equal(test.c, before) {
				t.Fatalf("input modified %v, expected %v", test.c, before)
			}
			if ok != test.ok {
				t.Fatalf("%t, expected %t", ok, test.ok)
			}
			if !ok {
				return
			}
			if !slices.Equal(next, test.next) {
				t.Fatalf("%v, expected %v", next, test.next)
			}
		})
	}
}

func TestFeatures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n        int
		r        int
		labels   []string
		features map[int]string
		dim      int
	}{
		{
			n: 3, r: 2, labels: DefaultLabels,
			features: map[int]string{0: "x x 1", 1: "x y 1", 5: "x 1 z", 6: "y x 1", 17: "z 1 z", 18: "1 x x", 26: "1 z z"},
			dim:      27,
		},
		{
			n: 4, r: 3, labels: DefaultLabels,
			features: map[int]string{0: "x x x 1", 1: "x x y 1", 50: "y 1 y z", 107: "1 z z z"},
			dim:      108,
		},
		{
			n: 4, r: 2, labels: []string{"a", "b"},
			features: map[int]string{0: "a a 1 1", 4: "a 1 1 a", 11: "b 1 1 b", 12: "1 a a 1", 23: "1 1 b b"},
			dim:      24,
		},
		{
			n: 4, r: 0, labels: DefaultLabels,
			features: map[int]string{0: "1 1 1 1"},
			dim:      1,
		},
		{
			n: 1, r: 1, labels: DefaultLabels,
			features: map[int]string{0: "x", 1: "y", 2: "z"},
			dim:      3,
		},
		{
			n: 3, r: 1, labels: DefaultLabels,
			features: map[int]string{0: "x 1 1", 4: "1 y 1", 8: "1 1 z"},
			dim:      9,
		},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d %d %v", test.n, test.r, test.labels), func(t *testing.T) {
			t.Parallel()
			seen := make(map[string]struct{})
			var num int
			for i, feat := range Features(test.n, test.r, test.labels) {
				if i != num {
					t.Fatalf("%d, expected %d", i, num)
				}
				num++
				if _, ok := seen[feat]; ok {
					t.Fatalf("duplicate %d %q", i, feat)
				}
				seen[feat] = struct{}{}
				if want, ok := test.features[i]; ok && feat != want {
					t.Fatalf("%d %q, expected %q", i, feat, want)
				}
			}
			if num != test.dim {
				t.Fatalf("%d, expected %d", num, test.dim)
			}
		})
	}
}

// TestCombinations checks the odometer against a brute force filter of all slot combinations.
func TestCombinations(t *testing.T) {
	t.Parallel()
	for n := 1; n <= 6; n++ {
		for r := 1; r <= n; r++ {
			for numComps := 1; numComps <= 3; numComps++ {
				t.Run(fmt.Sprintf("%d %d %d", n, r, numComps), func(t *testing.T) {
					t.Parallel()
					expected := make([]Combination, 0)
					for _, c := range combin.Combinations(n*numComps, r) {
						if !Invalid(c, numComps) {
							expected = append(expected, c)
						}
					}
					slices.SortFunc(expected, func(a, b Combination) int { return slices.Compare(a, b) })

					got := make([]Combination, 0, len(expected))
					for _, c := range Combinations(n, r, numComps) {
						if Invalid(c, numComps) {
							t.Fatalf("invalid %v", c)
						}
						got = append(got, c)
					}
					if len(got) != len(expected) {
						t.Fatalf("%d, expected %d", len(got), len(expected))
					}
					for i, c := range got {
						if !slices.Equal(c, expected[i]) {
							t.Fatalf("%d %v, expected %v", i, c, expected[i])
						}
					}
				})
			}
		}
	}
}

func TestUnrank(t *testing.T) {
	t.Parallel()
	for n := 1; n <= 6; n++ {
		for r := 1; r <= n; r++ {
			for numComps := 1; numComps <= 3; numComps++ {
				t.Run(fmt.Sprintf("%d %d %d", n, r, numComps), func(t *testing.T) {
					t.Parallel()
					for i, c := range Combinations(n, r, numComps) {
						u, err := Unrank(i, n, r, numComps)
						if err != nil {
							t.Fatalf("%+v", err)
						}
						if !slices.Equal(u, c) {
							t.Fatalf("%d %v, expected %v", i, u, c)
						}
					}
				})
			}
		}
	}

	dim, _ := Dimension(4, 2, 3)
	for _, i := range []int{-1, dim} {
		if _, err := Unrank(i, 4, 2, 3); !errors.Is(err, ErrPrecondition) {
			t.Fatalf("%d %+v", i, err)
		}
	}
}

func TestIndexer(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n        int
		r        int
		labels   []string
		strategy Strategy
		features map[int]string
	}{
		{n: 3, r: 2, labels: DefaultLabels, strategy: Enumerative, features: map[int]string{0: "x x 1", 13: "z y 1", 26: "1 z z"}},
		{n: 2, r: 2, labels: DefaultLabels, strategy: Direct, features: map[int]string{0: "x x", 1: "y x", 5: "z y", 8: "z z"}},
		{n: 3, r: 3, labels: DefaultLabels, strategy: Direct, features: map[int]string{11: "z x y", 26: "z z z"}},
		{n: 4, r: 0, labels: DefaultLabels, strategy: Scalar, features: map[int]string{0: "1 1 1 1"}},
		{n: 1, r: 1, labels: DefaultLabels, strategy: Direct, features: map[int]string{0: "x", 1: "y", 2: "z"}},
		{n: 4, r: 1, labels: DefaultLabels, strategy: RankOne, features: map[int]string{0: "x 1 1 1", 5: "1 z 1 1", 11: "1 1 1 z"}},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d %d", test.n, test.r), func(t *testing.T) {
			t.Parallel()
			for _, opt := range []IndexerOptions{NewIndexerOptions(), NewIndexerOptions().Unrank(true)} {
				ix, err := NewIndexer(test.n, test.r, test.labels, opt)
				if err != nil {
					t.Fatalf("%+v", err)
				}
				if ix.Strategy() != test.strategy {
					t.Fatalf("%s, expected %s", ix.Strategy(), test.strategy)
				}
				for i, want := range test.features {
					feat, err := ix.Feature(i)
					if err != nil {
						t.Fatalf("%+v", err)
					}
					if feat != want {
						t.Fatalf("%d %q, expected %q", i, feat, want)
					}
				}
				if _, err := ix.Feature(ix.Dimension()); !errors.Is(err, ErrPrecondition) {
					t.Fatalf("%+v", err)
				}
			}
		})
	}
}

// TestIndexerDirect checks the full rank strategy against base numComps digits.
func TestIndexerDirect(t *testing.T) {
	t.Parallel()
	const n = 4
	ix, err := NewIndexer(n, n, DefaultLabels)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for i := range ix.Dimension() {
		c := make(Combination, n)
		digits := i
		for site := range c {
			c[site] = site*3 + digits%3
			digits /= 3
		}
		if got, want := ix.MustFeature(i), Render(c, n, DefaultLabels); got != want {
			t.Fatalf("%d %q, expected %q", i, got, want)
		}
	}
}

// TestIndexerRankOne checks that the rank one shortcut agrees with the enumeration.
func TestIndexerRankOne(t *testing.T) {
	t.Parallel()
	ix, err := NewIndexer(5, 1, DefaultLabels)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	var num int
	for i, feat := range Features(5, 1, DefaultLabels) {
		if got := ix.MustFeature(i); got != feat {
			t.Fatalf("%d %q, expected %q", i, got, feat)
		}
		num++
	}
	if num != ix.Dimension() {
		t.Fatalf("%d, expected %d", num, ix.Dimension())
	}
}

func TestIndexerList(t *testing.T) {
	t.Parallel()
	list, err := FeatureList(3, 2, DefaultLabels)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	ix, err := NewIndexer(3, 2, DefaultLabels, NewIndexerOptions().List(list))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if feat := ix.MustFeature(13); feat != "z y 1" {
		t.Fatalf("%q", feat)
	}

	if _, err := NewIndexer(3, 2, DefaultLabels, NewIndexerOptions().List(list[:5])); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("%+v", err)
	}
	if _, err := NewIndexer(2, 3, DefaultLabels); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("%+v", err)
	}
	if _, err := NewIndexer(2, 1, nil); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("%+v", err)
	}
}

func TestFeatureListMemo(t *testing.T) {
	t.Parallel()
	a, err := FeatureList(5, 3, []string{"p", "q"})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	b, err := FeatureList(5, 3, []string{"p", "q"})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(a) != 80 || &a[0] != &b[0] {
		t.Fatalf("%d %p %p", len(a), &a[0], &b[0])
	}

	// Labels containing separators must not share an entry.
	c, err := FeatureList(2, 1, []string{"a\x00b", "c"})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	d, err := FeatureList(2, 1, []string{"a", "b\x00c"})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if expected := []string{"a\x00b 1", "c 1", "1 a\x00b", "1 c"}; !slices.Equal(c, expected) {
		t.Fatalf("%q, expected %q", c, expected)
	}
	if expected := []string{"a 1", "b\x00c 1", "1 a", "1 b\x00c"}; !slices.Equal(d, expected) {
		t.Fatalf("%q, expected %q", d, expected)
	}
}

func TestLabelsKey(t *testing.T) {
	t.Parallel()
	tests := [][2][]string{
		{{"a\x00b"}, {"a", "b"}},
		{{"a\x1fb", "c"}, {"a", "b\x1fc"}},
		{{"1:a"}, {"a"}},
		{{""}, {}},
		{{"", ""}, {""}},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%q", test), func(t *testing.T) {
			t.Parallel()
			if a, b := LabelsKey(test[0]), LabelsKey(test[1]); a == b {
				t.Fatalf("%q %q", a, b)
			}
		})
	}
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	m.Run()
}
