package ser

// opKind identifies a single edit operation in an alignment.
type opKind int

const (
	opMatch opKind = iota
	opInsert
	opDelete
	opSubstitute
	opMove
)

// editOp is one step of the alignment between reference and hypothesis.
// refIdx/hypIdx are token positions; -1 marks the side an operation does
// not touch (insertions have no reference token, deletions no hypothesis
// token).
type editOp struct {
	kind   opKind
	refIdx int
	hypIdx int
	refTok string
	hypTok string
}

// align runs the Levenshtein dynamic program over the two token sequences
// and backtraces the table into an ordered operation list. Matches are
// included so callers can reconstruct the full alignment; they carry no
// edit cost.
func align(ref, hyp []string) []editOp {
	n, m := len(ref), len(hyp)

	d := make([][]int, n+1)
	for i := range d {
		d[i] = make([]int, m+1)
		d[i][0] = i
	}
	for j := 0; j <= m; j++ {
		d[0][j] = j
	}

	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if ref[i-1] == hyp[j-1] {
				d[i][j] = d[i-1][j-1]
				continue
			}
			best := d[i-1][j-1] // substitution
			if d[i-1][j] < best {
				best = d[i-1][j] // deletion
			}
			if d[i][j-1] < best {
				best = d[i][j-1] // insertion
			}
			d[i][j] = best + 1
		}
	}

	// Backtrace from the bottom-right corner. Operations come out in
	// reverse order and are flipped before returning.
	var rev []editOp
	i, j := n, m
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && ref[i-1] == hyp[j-1]:
			rev = append(rev, editOp{kind: opMatch, refIdx: i - 1, hypIdx: j - 1, refTok: ref[i-1], hypTok: hyp[j-1]})
			i--
			j--
		case i > 0 && j > 0 && d[i][j] == d[i-1][j-1]+1:
			rev = append(rev, editOp{kind: opSubstitute, refIdx: i - 1, hypIdx: j - 1, refTok: ref[i-1], hypTok: hyp[j-1]})
			i--
			j--
		case i > 0 && d[i][j] == d[i-1][j]+1:
			rev = append(rev, editOp{kind: opDelete, refIdx: i - 1, hypIdx: -1, refTok: ref[i-1]})
			i--
		default:
			rev = append(rev, editOp{kind: opInsert, refIdx: -1, hypIdx: j - 1, hypTok: hyp[j-1]})
			j--
		}
	}

	ops := make([]editOp, len(rev))
	for k := range rev {
		ops[len(rev)-1-k] = rev[k]
	}
	return ops
}

// foldMoves rewrites substitution pairs that swap the same two tokens
// within the configured window into a single move operation. For a pair
// (a, b) where a.refTok == b.hypTok and a.hypTok == b.refTok, the earlier
// substitution becomes the move and the later one is dropped, so a block
// swap costs one edit instead of two.
func (s *Scorer) foldMoves(ops []editOp) []editOp {
	consumed := make([]bool, len(ops))

	for a := 0; a < len(ops); a++ {
		if ops[a].kind != opSubstitute || consumed[a] {
			continue
		}
		for b := a + 1; b < len(ops); b++ {
			if ops[b].kind != opSubstitute || consumed[b] {
				continue
			}
			if ops[b].refIdx-ops[a].refIdx > s.moveWindow {
				break
			}
			if ops[a].refTok == ops[b].hypTok && ops[a].hypTok == ops[b].refTok {
				ops[a].kind = opMove
				consumed[b] = true
				break
			}
		}
	}

	out := ops[:0]
	for k, op := range ops {
		if consumed[k] {
			continue
		}
		out = append(out, op)
	}
	return out
}
