package processor

import (
	"fmt"
)

// Sentinel-2 scene classification values.
const (
	SCLCloudShadow = 3
	SCLCirrus      = 10
)

// QualityMask removes cloudy, snowy, shadowed and cirrus pixels from an
// acquisition. A pixel survives only if cloud AND snow probabilities are
// both below their thresholds and its SCL value is not excluded.
type QualityMask struct {
	CloudBand    string
	SnowBand     string
	SCLBand      string
	MaxCloudProb float64
	MaxSnowProb  float64
	ExcludedSCL  []int
}

func DefaultQualityMask() QualityMask {
	return QualityMask{
		CloudBand:    "MSK_CLDPRB",
		SnowBand:     "MSK_SNWPRB",
		SCLBand:      "SCL",
		MaxCloudProb: 5,
		MaxSnowProb:  5,
		ExcludedSCL:  []int{SCLCloudShadow, SCLCirrus},
	}
}

// QualityBands lists the auxiliary bands the mask reads.
func (q QualityMask) QualityBands() []string {
	return []string{q.CloudBand, q.SnowBand, q.SCLBand}
}

// Compute returns the per-pixel validity derived from the quality bands.
func (q QualityMask) Compute(r *Raster) ([]bool, error) {
	cloud, err := r.Band(q.CloudBand)
	if err != nil {
		return nil, err
	}
	snow, err := r.Band(q.SnowBand)
	if err != nil {
		return nil, err
	}
	scl, err := r.Band(q.SCLBand)
	if err != nil {
		return nil, err
	}

	out := make([]bool, r.Grid.Size())
	for i := range out {
		if !cloud.Valid[i] || !snow.Valid[i] || !scl.Valid[i] {
			continue
		}
		ok := cloud.Data[i] < q.MaxCloudProb && snow.Data[i] < q.MaxSnowProb
		class := int(scl.Data[i])
		for _, ex := range q.ExcludedSCL {
			if class == ex {
				ok = false
				break
			}
		}
		out[i] = ok
	}
	return out, nil
}

// Apply returns a copy of acq with the quality mask ANDed into every band.
func (q QualityMask) Apply(acq *Acquisition) (*Acquisition, error) {
	if acq == nil || acq.Raster == nil {
		return nil, fmt.Errorf("quality mask: empty acquisition")
	}
	mask, err := q.Compute(acq.Raster)
	if err != nil {
		return nil, fmt.Errorf("quality mask %s: %w", acq.ID, err)
	}

	src := acq.Raster
	out := NewRaster(src.Grid, src.ID, src.TimeStamp)
	for _, ns := range src.NameSpaces {
		b := src.Bands[ns]
		masked := &MaskedBand{Data: b.Data, Valid: make([]bool, len(b.Valid))}
		for i, v := range b.Valid {
			masked.Valid[i] = v && mask[i]
		}
		out.withBand(ns, masked)
	}

	return &Acquisition{ID: acq.ID, Tile: acq.Tile, CloudCover: acq.CloudCover, Raster: out}, nil
}

// SpectralBandPrefix selects the Sentinel-2 reflectance bands.
const SpectralBandPrefix = "B"

// AcquisitionMasker is the pipeline stage applying a QualityMask to every
// incoming acquisition. When KeepPrefix is set only the bands with that
// prefix leave the stage.
type AcquisitionMasker struct {
	In         chan *Acquisition
	Out        chan *Acquisition
	Error      chan error
	Mask       QualityMask
	KeepPrefix string
}

func NewAcquisitionMasker(mask QualityMask, errChan chan error) *AcquisitionMasker {
	return &AcquisitionMasker{
		In:    make(chan *Acquisition, 100),
		Out:   make(chan *Acquisition, 100),
		Error: errChan,
		Mask:  mask,
	}
}

func (m *AcquisitionMasker) Run() {
	defer close(m.Out)
	for acq := range m.In {
		masked, err := m.Mask.Apply(acq)
		if err != nil {
			sendError(m.Error, err)
			continue
		}
		if m.KeepPrefix != "" {
			masked.Raster = masked.Raster.SelectPrefix(m.KeepPrefix)
		}
		m.Out <- masked
	}
}

func sendError(errChan chan error, err error) {
	select {
	case errChan <- err:
	default:
	}
}
