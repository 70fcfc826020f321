// Package dagitty converts dagitty graph descriptions into parameter
// documents. Every node and edge gets neutral defaults; the output is
// a starting point meant to be edited, not a finished study.
package dagitty

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jregier/n1sim/internal/study"
)

var (
	// ErrNoOutcome is returned when no node carries an [outcome] tag.
	ErrNoOutcome = errors.New("dagitty: no node tagged [outcome]")

	// ErrMultipleOutcomes is returned when more than one node does.
	ErrMultipleOutcomes = errors.New("dagitty: more than one node tagged [outcome]")
)

// ParseError reports a malformed line in a dagitty document.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("dagitty: line %d: %s", e.Line, e.Reason)
}

// Edge is one directed arrow of the graph.
type Edge struct {
	Source string
	Target string
}

// Graph is a parsed dagitty document: nodes split by tag, edges in
// declaration order.
type Graph struct {
	Exposures []string
	Outcome   string
	Variables []string
	Edges     []Edge
}

// Parse reads a dagitty document of the form
//
//	dag {
//	  Treatment_1 [exposure]
//	  Pain [outcome]
//	  Stress
//	  Treatment_1 -> Pain
//	  Stress -> Pain
//	  }
//
// Node lines are a name with optional bracketed tags; [exposure] and
// [outcome] pick the node's role, anything else is a context variable.
// Edge lines use -> or <-. Node references are not resolved here, only
// when the graph is turned into parameters.
func Parse(data []byte) (*Graph, error) {
	g := &Graph{}
	seen := map[string]bool{}
	inBody := false
	closed := false
	line := 0

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if !inBody {
			if !strings.HasSuffix(text, "{") {
				return nil, &ParseError{Line: line, Reason: fmt.Sprintf("expected a dag header ending in {, got %q", text)}
			}
			inBody = true
			continue
		}
		if text == "}" {
			closed = true
			break
		}

		fields := strings.Fields(text)
		switch {
		case len(fields) == 3 && isArrow(fields[1]):
			src, tgt := fields[0], fields[2]
			if fields[1] == "<-" {
				src, tgt = tgt, src
			}
			g.Edges = append(g.Edges, Edge{Source: src, Target: tgt})
		case strings.ContainsAny(text, "<>"):
			return nil, &ParseError{Line: line, Reason: fmt.Sprintf("unsupported edge %q, want \"A -> B\"", text)}
		default:
			name := fields[0]
			if seen[name] {
				return nil, &ParseError{Line: line, Reason: fmt.Sprintf("duplicate node %q", name)}
			}
			seen[name] = true
			tags := strings.Join(fields[1:], " ")
			switch {
			case strings.Contains(tags, "outcome"):
				if g.Outcome != "" {
					return nil, ErrMultipleOutcomes
				}
				g.Outcome = name
			case strings.Contains(tags, "exposure"):
				g.Exposures = append(g.Exposures, name)
			default:
				g.Variables = append(g.Variables, name)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("dagitty: read: %w", err)
	}
	if !inBody {
		return nil, &ParseError{Line: line, Reason: "empty document"}
	}
	if !closed {
		return nil, &ParseError{Line: line, Reason: "missing closing }"}
	}
	return g, nil
}

func isArrow(op string) bool { return op == "->" || op == "<-" }

// Parameters fills the graph skeleton with neutral defaults: unit
// onset, washout and effect for exposures, a zero-anchored outcome
// with 0.1 noise on drift and observation, standard normal variables,
// every edge at coefficient 1. The result passes the same validation
// as a hand-written document.
func (g *Graph) Parameters() (*study.Parameters, error) {
	if g.Outcome == "" {
		return nil, ErrNoOutcome
	}

	doc := struct {
		Exposures    map[string]study.Exposure       `json:"exposures"`
		Outcome      study.Outcome                   `json:"outcome"`
		Variables    map[string]study.Variable       `json:"variables"`
		Dependencies map[string]float64              `json:"dependencies"`
		OverTime     map[string]map[string][]float64 `json:"over_time_dependencies"`
	}{
		Exposures: make(map[string]study.Exposure, len(g.Exposures)),
		Outcome: study.Outcome{
			Name:   g.Outcome,
			SigmaB: 0.1,
			Sigma0: 0.1,
			Bounds: unitBounds(),
		},
		Variables:    make(map[string]study.Variable, len(g.Variables)),
		Dependencies: make(map[string]float64, len(g.Edges)),
		OverTime:     map[string]map[string][]float64{},
	}
	for _, name := range g.Exposures {
		doc.Exposures[name] = study.Exposure{Gamma: 1, Tau: 1, Effect: 1}
	}
	for _, name := range g.Variables {
		doc.Variables[name] = study.Variable{
			Distribution: study.DistNormal,
			Mean:         0,
			Std:          1,
			Bounds:       unitBounds(),
		}
	}
	for _, e := range g.Edges {
		doc.Dependencies[e.Source+" -> "+e.Target] = 1
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("dagitty: encode parameters: %w", err)
	}
	return study.Load(data)
}

// Convert parses a dagitty document and returns default parameters.
func Convert(data []byte) (*study.Parameters, error) {
	g, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return g.Parameters()
}

// ConvertFile reads path and converts its dagitty description.
func ConvertFile(path string) (*study.Parameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dagitty file: %w", err)
	}
	return Convert(data)
}

func unitBounds() study.Boundaries {
	lo, hi := -1.0, 1.0
	return study.Boundaries{Lower: &lo, Upper: &hi}
}
