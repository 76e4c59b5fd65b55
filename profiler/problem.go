// Package profiler measures and verifies fused GEMM configurations: it owns
// benchmark-file parsing, device tensor setup, the timing loop, and report
// formatting for the command-line frontend.
package profiler

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/warptile/warptile"
)

// GemmProblem is one benchmark entry: a group index and its problem extents.
type GemmProblem struct {
	Group int
	Shape warptile.ProblemShape
}

// LoadBenchmark parses a benchmark stream of lines of the form
//
//	<group> <M>x<N>x<K>
//
// Blank lines and lines starting with '#' are skipped. Parsing stops at the
// first malformed line, returning everything read up to it; a benchmark file
// may therefore end with free-form trailer text.
func LoadBenchmark(r io.Reader) ([]GemmProblem, error) {
	var problems []GemmProblem
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, ok := parseProblemLine(line)
		if !ok {
			break
		}
		problems = append(problems, p)
	}
	return problems, sc.Err()
}

func parseProblemLine(line string) (GemmProblem, bool) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return GemmProblem{}, false
	}
	group, err := strconv.Atoi(fields[0])
	if err != nil || group < 0 {
		return GemmProblem{}, false
	}
	dims := strings.Split(fields[1], "x")
	if len(dims) != 3 {
		return GemmProblem{}, false
	}
	var ext [3]int
	for i, d := range dims {
		v, err := strconv.Atoi(d)
		if err != nil || v <= 0 {
			return GemmProblem{}, false
		}
		ext[i] = v
	}
	return GemmProblem{
		Group: group,
		Shape: warptile.ProblemShape{M: ext[0], N: ext[1], K: ext[2], L: 1},
	}, true
}
