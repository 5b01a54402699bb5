package decoder

import (
	"errors"
	"regexp"
	"strings"

	"solana-curve-indexer/internal/domain"
	"solana-curve-indexer/internal/solana"
)

var errMissingAccount = errors.New("missing account")

// call is one instruction invoking a venue program.
type call struct {
	pos domain.Position
	ix  *solana.Instruction
}

// programCalls returns every instruction of tx invoking programID in call order:
// top-level instruction i, then its inner group.
// Instructions whose program index is out of range are skipped.
func programCalls(tx *solana.Transaction, programID string) []call {
	var out []call
	for outer := range tx.Instructions {
		ix := &tx.Instructions[outer]
		if tx.ProgramID(ix) == programID {
			out = append(out, call{pos: domain.Position{TxIndex: tx.Index, Outer: outer, Inner: -1}, ix: ix})
		}
		inner := tx.InnerGroup(outer)
		for j := range inner {
			if tx.ProgramID(&inner[j]) == programID {
				out = append(out, call{pos: domain.Position{TxIndex: tx.Index, Outer: outer, Inner: j}, ix: &inner[j]})
			}
		}
	}
	return out
}

// logPosition is reported for log lines, which carry no instruction index.
func logPosition(tx *solana.Transaction) domain.Position {
	return domain.Position{TxIndex: tx.Index, Outer: -1, Inner: -1}
}

var (
	invokeLine = regexp.MustCompile(`^Program (\w+) invoke \[\d+\]`)
	exitLine   = regexp.MustCompile(`^Program (\w+) (success|failed)`)
)

// programLogs returns the text after marker on every log line emitted while
// programID is the innermost running program, in log order.
func programLogs(logs []string, programID, marker string) []string {
	var (
		stack []string
		out   []string
	)
	for _, line := range logs {
		if m := invokeLine.FindStringSubmatch(line); m != nil {
			stack = append(stack, m[1])
			continue
		}
		if m := exitLine.FindStringSubmatch(line); m != nil {
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			continue
		}
		if len(stack) == 0 || stack[len(stack)-1] != programID {
			continue
		}
		if rest, ok := strings.CutPrefix(line, marker); ok {
			out = append(out, strings.TrimSpace(rest))
		}
	}
	return out
}
