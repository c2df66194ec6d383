package processor

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/bimalab/fireregime/utils"
)

// NoDataClass marks unclassified pixels in exported class maps.
const NoDataClass uint8 = 0

type MatchPolicy int

const (
	FirstMatch MatchPolicy = iota
	LastMatch
)

func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch s {
	case "", "first":
		return FirstMatch, nil
	case "last":
		return LastMatch, nil
	default:
		return FirstMatch, fmt.Errorf("unknown match policy %q", s)
	}
}

// ClassRule maps values between Lower and Upper to Class. Infinite bounds
// are open-ended and their inclusivity is ignored.
type ClassRule struct {
	Lower          float64
	Upper          float64
	LowerInclusive bool
	UpperInclusive bool
	Class          uint8
	Label          string
}

func (r ClassRule) Match(v float64) bool {
	if !math.IsInf(r.Lower, -1) {
		if v < r.Lower || (v == r.Lower && !r.LowerInclusive) {
			return false
		}
	}
	if !math.IsInf(r.Upper, 1) {
		if v > r.Upper || (v == r.Upper && !r.UpperInclusive) {
			return false
		}
	}
	return true
}

func (r ClassRule) String() string {
	lb, ub := "(", ")"
	if r.LowerInclusive && !math.IsInf(r.Lower, -1) {
		lb = "["
	}
	if r.UpperInclusive && !math.IsInf(r.Upper, 1) {
		ub = "]"
	}
	return fmt.Sprintf("%s%g, %g%s -> %d", lb, r.Lower, r.Upper, ub, r.Class)
}

// ClassTable is an ordered set of rules partitioning the real line.
type ClassTable struct {
	Name     string
	Rules    []ClassRule
	Policy   MatchPolicy
	Default  uint8
	MinClass uint8
	MaxClass uint8
}

func (t *ClassTable) sortedRules() []ClassRule {
	rules := append([]ClassRule(nil), t.Rules...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Lower < rules[j].Lower })
	return rules
}

// Validate checks that the rules cover the real line without gaps or
// overlaps and that every class lies in [MinClass, MaxClass].
func (t *ClassTable) Validate() error {
	if len(t.Rules) == 0 {
		return fmt.Errorf("class table %s: %w: no rules", t.Name, ErrRangeGap)
	}
	if t.MinClass == NoDataClass || t.MinClass > t.MaxClass {
		return fmt.Errorf("class table %s: %w: domain [%d, %d]", t.Name, ErrClassOutOfDomain, t.MinClass, t.MaxClass)
	}
	if t.Default < t.MinClass || t.Default > t.MaxClass {
		return fmt.Errorf("class table %s: %w: default %d", t.Name, ErrClassOutOfDomain, t.Default)
	}

	rules := t.sortedRules()
	for _, r := range rules {
		if math.IsNaN(r.Lower) || math.IsNaN(r.Upper) {
			return fmt.Errorf("class table %s: rule %v has a NaN bound", t.Name, r)
		}
		if r.Class < t.MinClass || r.Class > t.MaxClass {
			return fmt.Errorf("class table %s: %w: rule %v", t.Name, ErrClassOutOfDomain, r)
		}
		if r.Lower > r.Upper || (r.Lower == r.Upper && !(r.LowerInclusive && r.UpperInclusive)) {
			return fmt.Errorf("class table %s: %w: empty rule %v", t.Name, ErrRangeGap, r)
		}
	}

	if first := rules[0]; !math.IsInf(first.Lower, -1) {
		return fmt.Errorf("class table %s: %w: values below %g are unclassified", t.Name, ErrRangeGap, first.Lower)
	}
	if last := rules[len(rules)-1]; !math.IsInf(last.Upper, 1) {
		return fmt.Errorf("class table %s: %w: values above %g are unclassified", t.Name, ErrRangeGap, last.Upper)
	}

	for i := 1; i < len(rules); i++ {
		prev, next := rules[i-1], rules[i]
		switch {
		case prev.Upper < next.Lower:
			return fmt.Errorf("class table %s: %w between %v and %v", t.Name, ErrRangeGap, prev, next)
		case prev.Upper > next.Lower:
			return fmt.Errorf("class table %s: %w between %v and %v", t.Name, ErrRangeOverlap, prev, next)
		case prev.UpperInclusive && next.LowerInclusive:
			return fmt.Errorf("class table %s: %w at %g", t.Name, ErrRangeOverlap, next.Lower)
		case !prev.UpperInclusive && !next.LowerInclusive:
			return fmt.Errorf("class table %s: %w at %g", t.Name, ErrRangeGap, next.Lower)
		}
	}
	return nil
}

// Labels maps class ids to their labels.
func (t *ClassTable) Labels() map[uint8]string {
	out := map[uint8]string{}
	for _, r := range t.Rules {
		out[r.Class] = r.Label
	}
	return out
}

// Classifier evaluates a validated class table.
type Classifier struct {
	Table *ClassTable
	rules []ClassRule
}

func NewClassifier(table *ClassTable) (*Classifier, error) {
	if table == nil {
		return nil, fmt.Errorf("nil class table")
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{Table: table, rules: table.sortedRules()}, nil
}

// ClassOf returns the class of v. ok is false for NaN.
func (c *Classifier) ClassOf(v float64) (uint8, bool) {
	if math.IsNaN(v) {
		return NoDataClass, false
	}
	if c.Table.Policy == LastMatch {
		for i := len(c.rules) - 1; i >= 0; i-- {
			if c.rules[i].Match(v) {
				return c.rules[i].Class, true
			}
		}
		return c.Table.Default, true
	}
	for _, r := range c.rules {
		if r.Match(v) {
			return r.Class, true
		}
	}
	return c.Table.Default, true
}

// Classify maps every valid sample of band to its class. Invalid and NaN
// samples stay invalid.
func (c *Classifier) Classify(r *Raster, band string) (*ClassMap, error) {
	src, err := r.Band(band)
	if err != nil {
		return nil, err
	}
	cm := NewClassMap(r.Grid, c.Table)
	cm.TimeStamp = r.TimeStamp
	for i, valid := range src.Valid {
		if !valid {
			continue
		}
		class, ok := c.ClassOf(src.Data[i])
		if !ok {
			continue
		}
		cm.Classes[i] = class
		cm.Valid[i] = true
	}
	return cm, nil
}

// FillDefault assigns the table default to every pixel inside mask that
// Classify left invalid. Pixels outside mask keep NoDataClass.
func (c *Classifier) FillDefault(cm *ClassMap, mask []bool) error {
	if len(mask) != len(cm.Valid) {
		return fmt.Errorf("%w: mask has %d pixels, class map %d", ErrGridMismatch, len(mask), len(cm.Valid))
	}
	for i, inside := range mask {
		if inside && !cm.Valid[i] {
			cm.Classes[i] = c.Table.Default
			cm.Valid[i] = true
		}
	}
	return nil
}

// ClassMap is a classified raster. Invalid pixels hold NoDataClass.
type ClassMap struct {
	Grid      Grid
	Name      string
	Classes   []uint8
	Valid     []bool
	MinClass  uint8
	MaxClass  uint8
	Labels    map[uint8]string
	TimeStamp time.Time
}

func NewClassMap(grid Grid, table *ClassTable) *ClassMap {
	return &ClassMap{
		Grid:     grid,
		Name:     table.Name,
		Classes:  make([]uint8, grid.Size()),
		Valid:    make([]bool, grid.Size()),
		MinClass: table.MinClass,
		MaxClass: table.MaxClass,
		Labels:   table.Labels(),
	}
}

// ValueSet returns the distinct classes of valid pixels in ascending order.
func (cm *ClassMap) ValueSet() []uint8 {
	var seen [256]bool
	for i, v := range cm.Valid {
		if v {
			seen[cm.Classes[i]] = true
		}
	}
	var out []uint8
	for c, ok := range seen {
		if ok {
			out = append(out, uint8(c))
		}
	}
	return out
}

// Histogram counts valid pixels per class.
func (cm *ClassMap) Histogram() map[uint8]int {
	out := map[uint8]int{}
	for i, v := range cm.Valid {
		if v {
			out[cm.Classes[i]]++
		}
	}
	return out
}

// SeverityTable classifies dNBR following the USGS burn severity breaks.
// Negative change is its own class.
func SeverityTable() *ClassTable {
	inf := math.Inf(1)
	return &ClassTable{
		Name:     "severity",
		Policy:   FirstMatch,
		Default:  1,
		MinClass: 1,
		MaxClass: 6,
		Rules: []ClassRule{
			{Lower: -inf, Upper: 0, Class: 1, Label: "NA"},
			{Lower: 0, Upper: 0.10, LowerInclusive: true, Class: 2, Label: "Unburned"},
			{Lower: 0.10, Upper: 0.27, LowerInclusive: true, Class: 3, Label: "Low Severity"},
			{Lower: 0.27, Upper: 0.44, LowerInclusive: true, Class: 4, Label: "Moderate-Low"},
			{Lower: 0.44, Upper: 0.66, LowerInclusive: true, Class: 5, Label: "Moderate-High"},
			{Lower: 0.66, Upper: inf, LowerInclusive: true, Class: 6, Label: "High"},
		},
	}
}

// FrequencyTable classifies the number of years burned.
func FrequencyTable() *ClassTable {
	inf := math.Inf(1)
	return &ClassTable{
		Name:     "frequency",
		Policy:   FirstMatch,
		Default:  1,
		MinClass: 1,
		MaxClass: 6,
		Rules: []ClassRule{
			{Lower: -inf, Upper: 0, UpperInclusive: true, Class: 1, Label: "No record"},
			{Lower: 0, Upper: 2, UpperInclusive: true, Class: 2, Label: "Low"},
			{Lower: 2, Upper: 4, UpperInclusive: true, Class: 3, Label: "Medium"},
			{Lower: 4, Upper: 10, UpperInclusive: true, Class: 4, Label: "Medium-High"},
			{Lower: 10, Upper: 15, UpperInclusive: true, Class: 5, Label: "High"},
			{Lower: 15, Upper: inf, Class: 6, Label: "Severe"},
		},
	}
}

// ClassTableFromConfig builds a table from its configuration form. Missing
// bounds are infinite.
func ClassTableFromConfig(cfg *utils.ClassTableConfig) (*ClassTable, error) {
	policy, err := ParseMatchPolicy(cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("class table %s: %v", cfg.Name, err)
	}
	t := &ClassTable{
		Name:     cfg.Name,
		Policy:   policy,
		Default:  cfg.Default,
		MinClass: cfg.MinClass,
		MaxClass: cfg.MaxClass,
	}
	for _, rc := range cfg.Rules {
		r := ClassRule{
			Lower:          math.Inf(-1),
			Upper:          math.Inf(1),
			LowerInclusive: rc.LowerInclusive,
			UpperInclusive: rc.UpperInclusive,
			Class:          rc.Class,
			Label:          rc.Label,
		}
		if rc.Lower != nil {
			r.Lower = *rc.Lower
		}
		if rc.Upper != nil {
			r.Upper = *rc.Upper
		}
		t.Rules = append(t.Rules, r)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Rescale divides band by divisor, truncating toward zero when truncate is
// set. Other bands are dropped.
func Rescale(r *Raster, band string, divisor float64, truncate bool) (*Raster, error) {
	if divisor == 0 {
		return nil, fmt.Errorf("rescale %s: zero divisor", band)
	}
	src, err := r.Band(band)
	if err != nil {
		return nil, err
	}
	dst := &MaskedBand{Data: make([]float64, len(src.Data)), Valid: src.Valid}
	for i, v := range src.Data {
		v /= divisor
		if truncate {
			v = math.Trunc(v)
		}
		dst.Data[i] = v
	}
	return NewRaster(r.Grid, r.ID, r.TimeStamp).withBand(band, dst), nil
}
