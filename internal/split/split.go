// Package split partitions clip records into cross-validation folds.
package split

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/tphakala/birdsed/internal/errors"
)

// Splitter tags.
const (
	NameKFold           = "kfold"
	NameStratifiedKFold = "stratified-kfold"
)

// Fold holds sorted train and validation indices.
type Fold struct {
	Train []int
	Valid []int
}

// Splitter assigns every item to exactly one validation fold. labels holds
// one stratification key per item.
type Splitter interface {
	Split(labels []string) ([]Fold, error)
	NSplits() int
}

// KFold splits items into k consecutive folds after an optional seeded
// shuffle. The first n mod k folds get one extra item.
type KFold struct {
	K       int
	Shuffle bool
	Seed    uint64
}

func (s KFold) NSplits() int { return s.K }

func (s KFold) Split(labels []string) ([]Fold, error) {
	if err := check(len(labels), s.K); err != nil {
		return nil, err
	}
	order := indices(len(labels))
	if s.Shuffle {
		shuffle(order, s.Seed)
	}

	assign := make([]int, len(labels))
	start := 0
	for f := range s.K {
		size := len(labels) / s.K
		if f < len(labels)%s.K {
			size++
		}
		for _, i := range order[start : start+size] {
			assign[i] = f
		}
		start += size
	}
	return folds(assign, s.K), nil
}

// StratifiedKFold keeps the share of every label roughly equal across
// folds. Items of each label are shuffled with the seed and dealt to folds
// in turn, continuing where the previous label stopped.
type StratifiedKFold struct {
	K    int
	Seed uint64
}

func (s StratifiedKFold) NSplits() int { return s.K }

func (s StratifiedKFold) Split(labels []string) ([]Fold, error) {
	if err := check(len(labels), s.K); err != nil {
		return nil, err
	}

	groups := make(map[string][]int)
	for i, l := range labels {
		groups[l] = append(groups[l], i)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	assign := make([]int, len(labels))
	next := 0
	for g, key := range keys {
		members := groups[key]
		shuffle(members, s.Seed+uint64(g))
		for _, i := range members {
			assign[i] = next
			next = (next + 1) % s.K
		}
	}
	return folds(assign, s.K), nil
}

func check(n, k int) error {
	if k < 2 {
		return errors.New(fmt.Errorf("need at least 2 splits, got %d", k)).
			Component("split").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if n < k {
		return errors.New(fmt.Errorf("cannot split %d items into %d folds", n, k)).
			Component("split").
			Category(errors.CategoryDataset).
			Build()
	}
	return nil
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func shuffle(s []int, seed uint64) {
	rng := rand.New(rand.NewPCG(seed, 0x5b1173))
	rng.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}

func folds(assign []int, k int) []Fold {
	out := make([]Fold, k)
	for i, f := range assign {
		out[f].Valid = append(out[f].Valid, i)
		for g := range out {
			if g != f {
				out[g].Train = append(out[g].Train, i)
			}
		}
	}
	return out
}
