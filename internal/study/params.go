package study

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
)

// Distribution names accepted for sampled variables.
const (
	DistNormal    = "normal"
	DistPoisson   = "poisson"
	DistUniform   = "uniform"
	DistBernoulli = "bernoulli"
)

// NodeKind classifies a name in the causal graph.
type NodeKind int

const (
	KindExposure NodeKind = iota
	KindVariable
	KindOutcome
)

func (k NodeKind) String() string {
	switch k {
	case KindExposure:
		return "exposure"
	case KindVariable:
		return "variable"
	case KindOutcome:
		return "outcome"
	}
	return "unknown"
}

// Boundaries is a closed, half-open or open interval. A nil side is
// unbounded. The JSON form is a two-element array, null for open sides:
// [0, 15], [0, null], [null, null].
type Boundaries struct {
	Lower *float64
	Upper *float64
}

// Bounded reports whether at least one side is set.
func (b Boundaries) Bounded() bool {
	return b.Lower != nil || b.Upper != nil
}

// Clip forces v into the interval and reports whether it moved.
func (b Boundaries) Clip(v float64) (float64, bool) {
	if b.Lower != nil && v < *b.Lower {
		return *b.Lower, true
	}
	if b.Upper != nil && v > *b.Upper {
		return *b.Upper, true
	}
	return v, false
}

// Contains reports whether v lies inside the interval.
func (b Boundaries) Contains(v float64) bool {
	_, moved := b.Clip(v)
	return !moved
}

func (b *Boundaries) UnmarshalJSON(data []byte) error {
	var pair []*float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("boundaries must be a [lower, upper] array: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("boundaries must have exactly 2 elements, got %d", len(pair))
	}
	b.Lower = pair[0]
	b.Upper = pair[1]
	return nil
}

func (b Boundaries) MarshalJSON() ([]byte, error) {
	return json.Marshal([]*float64{b.Lower, b.Upper})
}

// Exposure is one treatment arm with first-order onset and washout
// dynamics. Tau controls how fast the effect approaches Effect while
// administered, Gamma how fast it decays once stopped.
type Exposure struct {
	Gamma  float64 `json:"gamma"`
	Tau    float64 `json:"tau"`
	Effect float64 `json:"treatment_effect"`
}

// Outcome is the single target series of the study. Baseline is the
// anchor of the drift random walk (X_0), SigmaB its per-day step noise,
// Sigma0 the observation noise added on top of the latent value. Round
// rounds observed values to whole numbers, for integer-valued scales.
type Outcome struct {
	Name      string     `json:"name"`
	Baseline  float64    `json:"X_0"`
	DriftMean float64    `json:"mu_b,omitempty"`
	SigmaB    float64    `json:"sigma_b"`
	Sigma0    float64    `json:"sigma_0"`
	Bounds    Boundaries `json:"boundaries,omitempty"`
	Round     bool       `json:"round,omitempty"`
}

// Variable is a context node. Constant variables always take Mean.
// Distribution selects the exogenous draw; an empty distribution means
// the value is fully derived from dependencies. Rate parameterizes
// poisson, P bernoulli; normal uses Mean and Std, uniform the bounds.
type Variable struct {
	Constant     bool       `json:"constant,omitempty"`
	Distribution string     `json:"distribution,omitempty"`
	Mean         float64    `json:"mean,omitempty"`
	Std          float64    `json:"std,omitempty"`
	Rate         float64    `json:"rate,omitempty"`
	P            float64    `json:"p,omitempty"`
	Bounds       Boundaries `json:"boundaries,omitempty"`
}

// Dependency is one contemporaneous edge: Source's value today enters
// Target's value today, scaled by Coeff.
type Dependency struct {
	Source string
	Target string
	Coeff  float64
}

// Parameters is the validated causal model of one study. Treated as
// read-only after Load.
type Parameters struct {
	Exposures map[string]Exposure
	Outcome   Outcome
	Variables map[string]Variable

	// Dependencies holds the contemporaneous edges sorted by target,
	// then source, so iteration order is stable.
	Dependencies []Dependency

	// OverTime maps target -> source -> lagged coefficients, where
	// index 0 applies to the source's value one day back, index 1 two
	// days back, and so on.
	OverTime map[string]map[string][]float64

	nodes map[string]NodeKind
}

type paramsDoc struct {
	Exposures    map[string]Exposure             `json:"exposures"`
	Outcome      Outcome                         `json:"outcome"`
	Variables    map[string]Variable             `json:"variables"`
	Dependencies map[string]float64              `json:"dependencies"`
	OverTime     map[string]map[string][]float64 `json:"over_time_dependencies"`
}

// Load parses and validates a JSON parameter document. Any structural
// problem returns a *SchemaError; the returned Parameters are safe to
// share across goroutines.
func Load(data []byte) (*Parameters, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var doc paramsDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, &SchemaError{Field: "document", Reason: err.Error()}
	}

	p := &Parameters{
		Exposures: doc.Exposures,
		Outcome:   doc.Outcome,
		Variables: doc.Variables,
		OverTime:  doc.OverTime,
	}
	if p.Exposures == nil {
		p.Exposures = map[string]Exposure{}
	}
	if p.Variables == nil {
		p.Variables = map[string]Variable{}
	}
	if p.OverTime == nil {
		p.OverTime = map[string]map[string][]float64{}
	}

	if err := p.index(); err != nil {
		return nil, err
	}
	if err := p.parseEdges(doc.Dependencies); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadFile reads and parses a parameter document from disk.
func LoadFile(path string) (*Parameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read parameters: %w", err)
	}
	return Load(data)
}

// Marshal serializes the parameters back to their JSON document form.
func (p *Parameters) Marshal() ([]byte, error) {
	doc := paramsDoc{
		Exposures:    p.Exposures,
		Outcome:      p.Outcome,
		Variables:    p.Variables,
		Dependencies: make(map[string]float64, len(p.Dependencies)),
		OverTime:     p.OverTime,
	}
	for _, d := range p.Dependencies {
		doc.Dependencies[d.Source+" -> "+d.Target] = d.Coeff
	}
	return json.MarshalIndent(doc, "", "  ")
}

func (p *Parameters) index() error {
	p.nodes = make(map[string]NodeKind, len(p.Exposures)+len(p.Variables)+1)
	if p.Outcome.Name == "" {
		return &SchemaError{Field: "outcome.name", Reason: "required"}
	}
	p.nodes[p.Outcome.Name] = KindOutcome
	for name := range p.Exposures {
		if name == "" {
			return &SchemaError{Field: "exposures", Reason: "empty exposure name"}
		}
		if _, dup := p.nodes[name]; dup {
			return &SchemaError{Field: "exposures." + name, Reason: "name already used"}
		}
		p.nodes[name] = KindExposure
	}
	for name := range p.Variables {
		if name == "" {
			return &SchemaError{Field: "variables", Reason: "empty variable name"}
		}
		if _, dup := p.nodes[name]; dup {
			return &SchemaError{Field: "variables." + name, Reason: "name already used"}
		}
		p.nodes[name] = KindVariable
	}
	return nil
}

func (p *Parameters) parseEdges(raw map[string]float64) error {
	seen := make(map[string]bool, len(raw))
	p.Dependencies = make([]Dependency, 0, len(raw))
	for key, coeff := range raw {
		src, tgt, ok := splitEdge(key)
		if !ok {
			return &SchemaError{Field: "dependencies", Reason: fmt.Sprintf("malformed edge %q, want \"source -> target\"", key)}
		}
		if _, known := p.nodes[src]; !known {
			return &SchemaError{Field: "dependencies", Reason: fmt.Sprintf("edge %q: unknown source %q", key, src)}
		}
		if _, known := p.nodes[tgt]; !known {
			return &SchemaError{Field: "dependencies", Reason: fmt.Sprintf("edge %q: unknown target %q", key, tgt)}
		}
		canon := src + " -> " + tgt
		if seen[canon] {
			return &SchemaError{Field: "dependencies", Reason: fmt.Sprintf("duplicate edge %q", canon)}
		}
		seen[canon] = true
		p.Dependencies = append(p.Dependencies, Dependency{Source: src, Target: tgt, Coeff: coeff})
	}
	sort.Slice(p.Dependencies, func(i, j int) bool {
		a, b := p.Dependencies[i], p.Dependencies[j]
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Source < b.Source
	})
	return nil
}

func splitEdge(key string) (src, tgt string, ok bool) {
	src, tgt, found := strings.Cut(key, "->")
	src = strings.TrimSpace(src)
	tgt = strings.TrimSpace(tgt)
	if !found || src == "" || tgt == "" {
		return "", "", false
	}
	return src, tgt, true
}

func (p *Parameters) validate() error {
	if p.Outcome.SigmaB < 0 {
		return &SchemaError{Field: "outcome.sigma_b", Reason: "must be >= 0"}
	}
	if p.Outcome.Sigma0 < 0 {
		return &SchemaError{Field: "outcome.sigma_0", Reason: "must be >= 0"}
	}
	if err := checkBounds("outcome.boundaries", p.Outcome.Bounds); err != nil {
		return err
	}
	if !p.Outcome.Bounds.Contains(p.Outcome.Baseline) {
		return &SchemaError{Field: "outcome.X_0", Reason: "baseline outside boundaries"}
	}

	for _, name := range sortedKeys(p.Exposures) {
		exp := p.Exposures[name]
		if exp.Tau <= 0 {
			return &SchemaError{Field: "exposures." + name + ".tau", Reason: "must be > 0"}
		}
		if exp.Gamma <= 0 {
			return &SchemaError{Field: "exposures." + name + ".gamma", Reason: "must be > 0"}
		}
	}

	for _, name := range sortedKeys(p.Variables) {
		v := p.Variables[name]
		field := "variables." + name
		if err := checkBounds(field+".boundaries", v.Bounds); err != nil {
			return err
		}
		switch v.Distribution {
		case "":
		case DistNormal:
			if v.Std < 0 {
				return &SchemaError{Field: field + ".std", Reason: "must be >= 0"}
			}
		case DistPoisson:
			if v.Rate <= 0 {
				return &SchemaError{Field: field + ".rate", Reason: "must be > 0 for poisson"}
			}
		case DistUniform:
			if v.Bounds.Lower == nil || v.Bounds.Upper == nil {
				return &SchemaError{Field: field + ".boundaries", Reason: "uniform needs finite boundaries"}
			}
		case DistBernoulli:
			if v.P < 0 || v.P > 1 {
				return &SchemaError{Field: field + ".p", Reason: "must be in [0, 1]"}
			}
		default:
			return &SchemaError{Field: field + ".distribution", Reason: fmt.Sprintf("unknown distribution %q", v.Distribution)}
		}
	}

	for _, d := range p.Dependencies {
		if p.nodes[d.Target] == KindExposure {
			src, isVar := p.Variables[d.Source]
			if !isVar {
				return &SchemaError{Field: "dependencies", Reason: fmt.Sprintf("edge into exposure %q: source must be a variable", d.Target)}
			}
			if src.Constant || src.Distribution == "" || src.Std <= 0 {
				return &SchemaError{Field: "dependencies", Reason: fmt.Sprintf("edge %q -> %q: adherence sources need a distribution with std > 0", d.Source, d.Target)}
			}
		}
		if math.IsNaN(d.Coeff) || math.IsInf(d.Coeff, 0) {
			return &SchemaError{Field: "dependencies", Reason: fmt.Sprintf("edge %q -> %q: coefficient must be finite", d.Source, d.Target)}
		}
	}

	for _, tgt := range sortedKeys(p.OverTime) {
		field := "over_time_dependencies." + tgt
		kind, known := p.nodes[tgt]
		if !known {
			return &SchemaError{Field: field, Reason: "unknown target"}
		}
		if kind == KindExposure {
			return &SchemaError{Field: field, Reason: "over-time targets must be variables or the outcome"}
		}
		for _, src := range sortedKeys(p.OverTime[tgt]) {
			if _, known := p.nodes[src]; !known {
				return &SchemaError{Field: field + "." + src, Reason: "unknown source"}
			}
			if len(p.OverTime[tgt][src]) == 0 {
				return &SchemaError{Field: field + "." + src, Reason: "empty effects list"}
			}
			for _, c := range p.OverTime[tgt][src] {
				if math.IsNaN(c) || math.IsInf(c, 0) {
					return &SchemaError{Field: field + "." + src, Reason: "coefficients must be finite"}
				}
			}
		}
	}
	return nil
}

func checkBounds(field string, b Boundaries) error {
	if b.Lower != nil && b.Upper != nil && *b.Lower > *b.Upper {
		return &SchemaError{Field: field, Reason: "lower bound above upper bound"}
	}
	return nil
}

// Kind reports how name participates in the graph.
func (p *Parameters) Kind(name string) (NodeKind, bool) {
	k, ok := p.nodes[name]
	return k, ok
}

// Nodes returns every node name sorted lexically.
func (p *Parameters) Nodes() []string {
	names := make([]string, 0, len(p.nodes))
	for n := range p.nodes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// VariableNames returns the variable names sorted lexically.
func (p *Parameters) VariableNames() []string {
	return sortedKeys(p.Variables)
}

// ExposureNames returns the exposure names sorted lexically.
func (p *Parameters) ExposureNames() []string {
	return sortedKeys(p.Exposures)
}

// Inbound returns the contemporaneous edges into target, sorted by
// source.
func (p *Parameters) Inbound(target string) []Dependency {
	var in []Dependency
	for _, d := range p.Dependencies {
		if d.Target == target {
			in = append(in, d)
		}
	}
	return in
}

// MaxLag returns the deepest over-time lag any edge reaches back, in
// days. Zero means no over-time dependencies.
func (p *Parameters) MaxLag() int {
	max := 0
	for _, sources := range p.OverTime {
		for _, effects := range sources {
			if len(effects) > max {
				max = len(effects)
			}
		}
	}
	return max
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
