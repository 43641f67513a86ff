// Package citation renumbers bracketed citation markers in generated answers and links them
// to their sources.
package citation

import (
	"regexp"
	"strconv"

	"github.com/wenhaiyang6/parenting/internal/models"
)

var markerRe = regexp.MustCompile(`\[(\d+)\]`)

// Ref is a source in display order, tagged with whether the answer cites it.
type Ref struct {
	models.Source
	IsCited bool `json:"isCited"`
}

// Result is the display form of an answer.
type Result struct {
	Text    string `json:"text"`
	Sources []Ref  `json:"sources"`
	// Mapping maps an original source index to its display index (both zero-based).
	// Only cited sources appear.
	Mapping map[int]int `json:"-"`
}

// CitedCount returns how many leading refs are cited.
func (r Result) CitedCount() int {
	n := 0
	for _, ref := range r.Sources {
		if ref.IsCited {
			n++
		}
	}
	return n
}

// Renumber rewrites in-range markers so that cited sources are numbered contiguously from 1
// in order of first appearance, and reorders sources as cited-then-uncited.
// Markers outside [1, len(sources)] are left verbatim.
func Renumber(answer string, sources []models.Source) Result {
	if answer == "" || len(sources) == 0 {
		return Result{Text: answer, Sources: uncited(sources), Mapping: map[int]int{}}
	}

	order := citationOrder(answer, len(sources))
	mapping := make(map[int]int, len(order))
	for newIdx, oldIdx := range order {
		mapping[oldIdx] = newIdx
	}

	text := markerRe.ReplaceAllStringFunc(answer, func(m string) string {
		oldIdx, ok := markerIndex(m, len(sources))
		if !ok {
			return m
		}
		return "[" + strconv.Itoa(mapping[oldIdx]+1) + "]"
	})

	return Result{Text: text, Sources: reorder(sources, order), Mapping: mapping}
}

// Reconcile renumbers citations and turns every renumbered marker into a markdown link to
// its source. Uncited sources are returned after cited ones, unlinked.
func Reconcile(answer string, sources []models.Source) Result {
	res := Renumber(answer, sources)
	if answer == "" || len(sources) == 0 {
		return res
	}
	res.Text = markerRe.ReplaceAllStringFunc(res.Text, func(m string) string {
		idx, ok := markerIndex(m, len(res.Sources))
		if !ok || !res.Sources[idx].IsCited {
			return m
		}
		return m + "(" + res.Sources[idx].Link + ")"
	})
	return res
}

// citationOrder returns in-range zero-based source indices in order of first appearance.
func citationOrder(answer string, n int) []int {
	seen := make(map[int]bool)
	var order []int
	for _, m := range markerRe.FindAllString(answer, -1) {
		idx, ok := markerIndex(m, n)
		if !ok || seen[idx] {
			continue
		}
		seen[idx] = true
		order = append(order, idx)
	}
	return order
}

// markerIndex parses "[k]" into k-1 and reports whether it addresses one of n sources.
func markerIndex(marker string, n int) (int, bool) {
	k, err := strconv.Atoi(marker[1 : len(marker)-1])
	if err != nil {
		return 0, false
	}
	idx := k - 1
	return idx, idx >= 0 && idx < n
}

func reorder(sources []models.Source, order []int) []Ref {
	out := make([]Ref, 0, len(sources))
	cited := make(map[int]bool, len(order))
	for _, idx := range order {
		cited[idx] = true
		out = append(out, Ref{Source: sources[idx], IsCited: true})
	}
	for i, s := range sources {
		if !cited[i] {
			out = append(out, Ref{Source: s})
		}
	}
	return out
}

func uncited(sources []models.Source) []Ref {
	out := make([]Ref, len(sources))
	for i, s := range sources {
		out[i] = Ref{Source: s}
	}
	return out
}
