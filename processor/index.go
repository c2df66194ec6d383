package processor

import (
	"fmt"
	"math"

	goeval "github.com/edisonguo/govaluate"
)

// DefaultReflectanceScale converts Sentinel-2 L2A digital numbers to
// surface reflectance.
const DefaultReflectanceScale = 0.0001

// IndexCalculator appends a band computed from a band-math expression over
// the raster's existing bands.
type IndexCalculator struct {
	Name             string
	Expression       string
	ReflectanceScale float64
	expr             *goeval.EvaluableExpression
	vars             []string
}

// NewIndexCalculator parses expression once. Variables in the expression
// name the bands it reads.
func NewIndexCalculator(name, expression string, reflectanceScale float64) (*IndexCalculator, error) {
	expr, err := goeval.NewEvaluableExpression(expression)
	if err != nil {
		return nil, fmt.Errorf("index %s: %v", name, err)
	}

	seen := map[string]bool{}
	var vars []string
	for _, token := range expr.Tokens() {
		if token.Kind != goeval.VARIABLE {
			continue
		}
		varName, ok := token.Value.(string)
		if !ok {
			return nil, fmt.Errorf("index %s: variable token '%v' failed to cast string", name, token.Value)
		}
		if !seen[varName] {
			seen[varName] = true
			vars = append(vars, varName)
		}
	}
	if len(vars) == 0 {
		return nil, fmt.Errorf("index %s: expression %q references no band", name, expression)
	}

	return &IndexCalculator{
		Name:             name,
		Expression:       expression,
		ReflectanceScale: reflectanceScale,
		expr:             expr,
		vars:             vars,
	}, nil
}

// NormalizedDifference builds the (a - b) / (a + b) index.
func NormalizedDifference(name, a, b string) (*IndexCalculator, error) {
	return NewIndexCalculator(name, fmt.Sprintf("(%s - %s) / (%s + %s)", a, b, a, b), DefaultReflectanceScale)
}

// NBR is the Normalized Burn Ratio over Sentinel-2 NIR (B8) and SWIR2 (B12).
func NBR() (*IndexCalculator, error) {
	return NormalizedDifference("nbr", "B8", "B12")
}

// Bands returns the band names read by the expression.
func (ic *IndexCalculator) Bands() []string {
	return ic.vars
}

// Apply scales every band of r by the reflectance factor and appends the
// index band. The index is computed from the unscaled samples; a ratio index
// is scale invariant. Pixels where any input is invalid or the result is
// not finite are invalid.
func (ic *IndexCalculator) Apply(r *Raster) (*Raster, error) {
	inputs := make([]*MaskedBand, len(ic.vars))
	for i, v := range ic.vars {
		b, err := r.Band(v)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", ic.Name, err)
		}
		inputs[i] = b
	}

	out := NewRaster(r.Grid, r.ID, r.TimeStamp)
	for _, ns := range r.NameSpaces {
		if ns == ic.Name {
			continue
		}
		src := r.Bands[ns]
		if ic.ReflectanceScale == 0 || ic.ReflectanceScale == 1 {
			out.withBand(ns, src)
			continue
		}
		scaled := &MaskedBand{Data: make([]float64, len(src.Data)), Valid: src.Valid}
		for i, v := range src.Data {
			scaled.Data[i] = v * ic.ReflectanceScale
		}
		out.withBand(ns, scaled)
	}

	size := r.Grid.Size()
	index := NewMaskedBand(size)
	params := make(map[string]interface{}, len(ic.vars))
	for i := 0; i < size; i++ {
		valid := true
		for iv, b := range inputs {
			if !b.Valid[i] {
				valid = false
				break
			}
			params[ic.vars[iv]] = b.Data[i]
		}
		if !valid {
			continue
		}

		result, err := ic.expr.Evaluate(params)
		if err != nil {
			return nil, fmt.Errorf("index %s: eval '%v' error: %v", ic.Name, ic.Expression, err)
		}

		var val float64
		switch res := result.(type) {
		case float32:
			val = float64(res)
		case float64:
			val = res
		default:
			return nil, fmt.Errorf("index %s: failed to cast eval result '%v' to float", ic.Name, result)
		}
		if math.IsNaN(val) || math.IsInf(val, 0) {
			continue
		}
		index.Data[i] = val
		index.Valid[i] = true
	}
	out.withBand(ic.Name, index)

	return out, nil
}

// IndexStage applies an IndexCalculator to every raster passing through.
type IndexStage struct {
	In    chan *Raster
	Out   chan *Raster
	Error chan error
	Calc  *IndexCalculator
}

func NewIndexStage(calc *IndexCalculator, errChan chan error) *IndexStage {
	return &IndexStage{
		In:    make(chan *Raster, 100),
		Out:   make(chan *Raster, 100),
		Error: errChan,
		Calc:  calc,
	}
}

func (s *IndexStage) Run() {
	defer close(s.Out)
	for r := range s.In {
		out, err := s.Calc.Apply(r)
		if err != nil {
			sendError(s.Error, err)
			continue
		}
		s.Out <- out
	}
}
