// Package diag defines Dev-Loop's error taxonomy and "did-you-mean"
// suggestion matching, grounded on the teacher's use of
// github.com/pkg/errors for wrapping/causes throughout internal/run and
// internal/daemon.
package diag

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// Kind identifies one of the taxonomy buckets from spec.md §7.
type Kind string

const (
	KindFetch    Kind = "FetchError"
	KindCorpus   Kind = "CorpusError"
	KindPlan     Kind = "PlanError"
	KindExecutor Kind = "ExecutorError"
	KindTask     Kind = "TaskFailure"
	KindCancel   Kind = "Cancelled"
)

// Error is a typed diagnostic carrying a Kind, a subkind code, and the
// offending Name so the user surface can render suggestions.
type Error struct {
	Kind    Kind
	Code    string
	Name    string
	Suggest string
	cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s[%s]: %s", e.Kind, e.Code, e.Name)
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.Suggest != "" {
		msg = fmt.Sprintf("%s (did you mean %q?)", msg, e.Suggest)
	}
	return msg
}

// Unwrap lets errors.Is/errors.As see through to the cause.
func (e *Error) Unwrap() error { return e.cause }

// New builds an Error, looking up a suggestion in candidates if name
// doesn't exactly match one of them.
func New(kind Kind, code, name string, candidates []string) *Error {
	return &Error{Kind: kind, Code: code, Name: name, Suggest: Suggest(name, candidates)}
}

// Wrap builds an Error with an underlying cause and no suggestion.
func Wrap(kind Kind, code string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Name: code, cause: cause}
}

// WithCause attaches a cause to an existing Error and returns it, mirroring
// the teacher's errors.Wrapf chaining style.
func (e *Error) WithCause(cause error) *Error {
	e.cause = cause
	return e
}

// errorsWrap is the package-internal call into pkg/errors.Wrap; other
// packages reach it through Annotate without importing
// github.com/pkg/errors themselves.
func errorsWrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Annotate is a convenience wrapper matching run.go's errors.Wrap idiom.
func Annotate(err error, message string) error {
	return errorsWrap(err, message)
}

// Suggest returns the closest candidate to name within the
// bounded edit-distance threshold from spec.md §4.I: <=2 for names of
// length >= 4, <=1 otherwise. Returns "" if nothing qualifies.
func Suggest(name string, candidates []string) string {
	threshold := 1
	if len(name) >= 4 {
		threshold = 2
	}
	best := ""
	bestDist := threshold + 1
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	for _, c := range sorted {
		d := levenshtein(name, c)
		if d <= threshold && d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

// levenshtein computes the classic edit distance between a and b.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			curr[j] = m
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}
