package broadcast

import "strings"

// PairResult is one pair's outcome: one boolean per group, in directory
// order. Course and Faculty are display labels ("ALL"/"ALL" for the
// wildcard pseudo-pair).
type PairResult struct {
	Course    string
	Faculty   string
	Delivered []bool
}

type Outcome int

const (
	NotSent Outcome = iota
	PartiallySent
	FullySent
)

func (o Outcome) String() string {
	switch o {
	case FullySent:
		return "fully sent"
	case PartiallySent:
		return "partially sent"
	default:
		return "not sent"
	}
}

// Report aggregates per-pair results, in the deterministic pair order fixed
// at dispatch time.
type Report struct {
	MessageID int64
	Pairs     []PairResult
}

// Outcome classifies the whole report: FullySent when every delivery
// succeeded, NotSent when every one failed (or there was nothing to send),
// PartiallySent otherwise.
func (r *Report) Outcome() Outcome {
	var ok, fail bool
	for _, p := range r.Pairs {
		for _, d := range p.Delivered {
			if d {
				ok = true
			} else {
				fail = true
			}
		}
	}
	switch {
	case ok && !fail:
		return FullySent
	case ok && fail:
		return PartiallySent
	default:
		return NotSent
	}
}

// Summary renders one line per pair: "<course> <faculty>: + - ..." with one
// symbol per group in delivery order.
func (r *Report) Summary() string {
	lines := make([]string, 0, len(r.Pairs))
	for _, p := range r.Pairs {
		var b strings.Builder
		b.WriteString(p.Course)
		b.WriteString(" ")
		b.WriteString(p.Faculty)
		b.WriteString(":")
		for _, d := range p.Delivered {
			if d {
				b.WriteString(" +")
			} else {
				b.WriteString(" -")
			}
		}
		lines = append(lines, b.String())
	}
	return strings.Join(lines, "\n")
}
