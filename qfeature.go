// Package qfeature maps linear indices of a flattened coefficient tensor to
// human readable features.
//
// A feature of rank r on n sites picks r distinct sites and puts one of the
// component labels (for example the Pauli axes x, y and z) on each of them.
// Unpicked sites carry the identity placeholder.
// The coefficient tensor of a rank r analysis has Dimension(n, r, numComps)
// entries, and this package recovers the feature of every entry.
package qfeature

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/combin"

	"github.com/fumin/qfeature/util"
)

const (
	// Identity is the placeholder of an unconstrained site.
	Identity = "1"

	// listCacheSize is the number of enumerated feature lists kept in memory.
	listCacheSize = 64
)

var (
	ErrPrecondition = errors.New("precondition")
	ErrOverflow     = errors.New("overflow")

	// DefaultLabels are the Pauli axes.
	DefaultLabels = []string{"x", "y", "z"}

	// maxLogBinomial bounds C(n, r) * (n+1), the largest intermediate product of combin.Binomial.
	maxLogBinomial = 62 * math.Ln2

	featureLists = newListCache(listCacheSize)
)

// A Combination is a sequence of flattened slots site*numComps+label.
// Valid combinations are strictly increasing and touch each site at most once.
type Combination []int

// Dimension returns the number of rank r features on n sites, C(n, r) * numComps^r.
func Dimension(n, r, numComps int) (int, error) {
	switch {
	case n < 0 || r < 0:
		return -1, errors.Wrap(ErrPrecondition, fmt.Sprintf("negative n %d r %d", n, r))
	case r > n:
		return -1, errors.Wrap(ErrPrecondition, fmt.Sprintf("rank %d larger than sites %d", r, n))
	case numComps < 1:
		return -1, errors.Wrap(ErrPrecondition, fmt.Sprintf("numComps %d", numComps))
	}

	logBinom := combin.LogGeneralizedBinomial(float64(n), float64(r)) + math.Log(float64(n+1))
	if logBinom > maxLogBinomial {
		return -1, errors.Wrap(ErrOverflow, fmt.Sprintf("binomial %d %d", n, r))
	}

	dim := combin.Binomial(n, r)
	for range r {
		if dim > math.MaxInt/numComps {
			return -1, errors.Wrap(ErrOverflow, fmt.Sprintf("%d %d %d", n, r, numComps))
		}
		dim *= numComps
	}
	return dim, nil
}

// Invalid reports whether c is not strictly increasing, or puts two labels on the same site.
func Invalid(c Combination, numComps int) bool {
	for i := 0; i < len(c)-1; i++ {
		for j := i + 1; j < len(c); j++ {
			if c[i] >= c[j] || c[i]/numComps == c[j]/numComps {
				return true
			}
		}
	}
	return false
}

// Advance returns the candidate after c in the odometer order over flattened slots.
// The returned combination is a new slice and may be invalid.
// ok is false once the first slot overflows, meaning the enumeration is exhausted.
func Advance(c Combination, n, numComps int) (next Combination, ok bool) {
	next = slices.Clone(c)
	last := numComps*n - 1
	for p := len(next) - 1; p >= 0; p-- {
		if next[p] < last {
			next[p]++
			return next, true
		}
		if p == 0 {
			break
		}

		// Carry: restart at the site after the largest preceding slot that is not itself carrying.
		reset := 0
		for _, s := range next[:p] {
			if s < last {
				reset = max(reset, s)
			}
		}
		reset = reset / numComps * numComps
		if reset/numComps < n-1 {
			reset += numComps
		}
		next[p] = reset
	}
	return next, false
}

// Combinations iterates over the valid combinations of rank r in canonical order.
// It yields nothing if Dimension fails.
func Combinations(n, r, numComps int) func(yield func(int, Combination) bool) {
	return func(yield func(int, Combination) bool) {
		dim, err := Dimension(n, r, numComps)
		if err != nil {
			return
		}
		if r == 0 {
			yield(0, Combination{})
			return
		}

		c := make(Combination, r)
		for i := range c {
			c[i] = i * numComps
		}
		ok := true
		for i := 0; i < dim; i++ {
			for ok && Invalid(c, numComps) {
				c, ok = Advance(c, n, numComps)
			}
			if !ok {
				return
			}
			if !yield(i, c) {
				return
			}
			c, ok = Advance(c, n, numComps)
		}
	}
}

// Features iterates over the rendered features of rank r in canonical order.
func Features(n, r int, labels []string) func(yield func(int, string) bool) {
	return func(yield func(int, string) bool) {
		for i, c := range Combinations(n, r, len(labels)) {
			if !yield(i, Render(c, n, labels)) {
				return
			}
		}
	}
}

// Render writes the label of each site in ascending order, separated by spaces.
func Render(c Combination, n int, labels []string) string {
	numComps := len(labels)
	feat := make([]string, n)
	for i := range feat {
		feat[i] = Identity
	}
	for _, slot := range c {
		feat[slot/numComps] = labels[slot%numComps]
	}
	return strings.Join(feat, " ")
}

// Unrank returns the index-th valid combination of the canonical order without enumerating the ones before it.
//
// Slots are ordered lexicographically, so the site of the i-th slot is the most significant choice,
// followed by its label, followed by the rest of the combination.
// Each choice of site s and label for the i-th slot leaves Dimension(n-1-s, r-1-i, numComps) completions.
func Unrank(index, n, r, numComps int) (Combination, error) {
	dim, err := Dimension(n, r, numComps)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if index < 0 || index >= dim {
		return nil, errors.Wrap(ErrPrecondition, fmt.Sprintf("index %d dimension %d", index, dim))
	}

	c := make(Combination, 0, r)
	site := 0
	for i := range r {
		rem := r - 1 - i
		for ; site < n; site++ {
			block, err := Dimension(n-1-site, rem, numComps)
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("%d %d %d %d", index, n, r, numComps))
			}
			if index < block*numComps {
				label := index / block
				index -= label * block
				c = append(c, site*numComps+label)
				site++
				break
			}
			index -= block * numComps
		}
	}
	return c, nil
}

// FeatureList returns all features of rank r in canonical order.
// Lists are memoized per (n, r, labels), callers must not modify the result.
func FeatureList(n, r int, labels []string) ([]string, error) {
	dim, err := Dimension(n, r, len(labels))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	key := listKey{n: n, r: r, labels: LabelsKey(labels)}
	if list, ok := featureLists.Get(key); ok {
		return list, nil
	}

	progress := util.NewProgress(fmt.Sprintf("features n %d r %d", n, r), dim, 10*time.Second)
	list := make([]string, 0, dim)
	for i, feat := range Features(n, r, labels) {
		list = append(list, feat)
		progress.Step(i + 1)
	}
	if len(list) != dim {
		return nil, errors.Errorf("%d %d", len(list), dim)
	}

	featureLists.Add(key, list)
	return list, nil
}

// LabelsKey encodes labels into a string that is distinct for every distinct sequence of labels.
// Each label is prefixed with its length, so separators inside labels cannot collide.
func LabelsKey(labels []string) string {
	var b strings.Builder
	for _, l := range labels {
		b.WriteString(strconv.Itoa(len(l)))
		b.WriteByte(':')
		b.WriteString(l)
	}
	return b.String()
}

type listKey struct {
	n      int
	r      int
	labels string
}

func newListCache(size int) *lru.Cache[listKey, []string] {
	c, err := lru.New[listKey, []string](size)
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return c
}

// Strategy is the way an Indexer turns a linear index into a feature.
type Strategy int

const (
	// Scalar is the single rank 0 feature.
	Scalar Strategy = iota
	// Direct decodes the base numComps digits of the index, least significant digit first, when every site is picked.
	Direct
	// RankOne reads the index as a flattened slot.
	RankOne
	// Enumerative looks up the canonical enumeration.
	Enumerative
)

func (s Strategy) String() string {
	switch s {
	case Scalar:
		return "scalar"
	case Direct:
		return "direct"
	case RankOne:
		return "rank-one"
	case Enumerative:
		return "enumerative"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// IndexerOptions are options for building an Indexer.
type IndexerOptions struct {
	unrank bool
	list   []string
}

// NewIndexerOptions returns the default Indexer options.
func NewIndexerOptions() IndexerOptions {
	return IndexerOptions{}
}

// Unrank makes the enumerative strategy compute each feature with Unrank instead of materializing the full list.
func (opt IndexerOptions) Unrank(u bool) IndexerOptions {
	opt.unrank = u
	return opt
}

// List supplies a precomputed canonical feature list for the enumerative strategy.
func (opt IndexerOptions) List(list []string) IndexerOptions {
	opt.list = list
	return opt
}

// An Indexer maps linear indices to features for a fixed n, r and set of labels.
type Indexer struct {
	n        int
	r        int
	labels   []string
	dim      int
	strategy Strategy
	unrank   bool
	list     []string
}

func NewIndexer(n, r int, labels []string, options ...IndexerOptions) (*Indexer, error) {
	opt := NewIndexerOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	if len(labels) == 0 {
		return nil, errors.Wrap(ErrPrecondition, "no labels")
	}
	dim, err := Dimension(n, r, len(labels))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	ix := &Indexer{n: n, r: r, labels: slices.Clone(labels), dim: dim, unrank: opt.unrank}
	switch {
	case r == 0:
		ix.strategy = Scalar
	case r == n:
		ix.strategy = Direct
	case r == 1:
		ix.strategy = RankOne
	default:
		ix.strategy = Enumerative
	}

	if ix.strategy != Enumerative || ix.unrank {
		return ix, nil
	}
	switch {
	case opt.list != nil:
		if len(opt.list) != dim {
			return nil, errors.Wrap(ErrPrecondition, fmt.Sprintf("list %d dimension %d", len(opt.list), dim))
		}
		ix.list = opt.list
	default:
		ix.list, err = FeatureList(n, r, labels)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	return ix, nil
}

func (ix *Indexer) N() int             { return ix.n }
func (ix *Indexer) Rank() int          { return ix.r }
func (ix *Indexer) Labels() []string   { return slices.Clone(ix.labels) }
func (ix *Indexer) Dimension() int     { return ix.dim }
func (ix *Indexer) Strategy() Strategy { return ix.strategy }

// Feature returns the feature of linear index i.
func (ix *Indexer) Feature(i int) (string, error) {
	if i < 0 || i >= ix.dim {
		return "", errors.Wrap(ErrPrecondition, fmt.Sprintf("index %d dimension %d", i, ix.dim))
	}

	numComps := len(ix.labels)
	switch ix.strategy {
	case Scalar:
		return Render(nil, ix.n, ix.labels), nil
	case Direct:
		feat := make([]string, ix.r)
		digits := i
		for k := range feat {
			feat[k] = ix.labels[digits%numComps]
			digits /= numComps
		}
		return strings.Join(feat, " "), nil
	case RankOne:
		return Render(Combination{i}, ix.n, ix.labels), nil
	}

	if ix.list != nil {
		return ix.list[i], nil
	}
	c, err := Unrank(i, ix.n, ix.r, numComps)
	if err != nil {
		return "", errors.Wrap(err, "")
	}
	return Render(c, ix.n, ix.labels), nil
}

// MustFeature is like Feature but panics on error.
func (ix *Indexer) MustFeature(i int) string {
	feat, err := ix.Feature(i)
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return feat
}
