package processor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/CloudyKit/jet"
	"github.com/bimalab/fireregime/utils"
)

const SidecarTemplate = "sidecar.tpl"

const defaultSidecarTemplate = `{
  "job": {{ quote(.Job) }},
  "type": {{ quote(.Type) }},
  "product": {{ quote(.Product) }},
  "generated": {{ quote(.Generated) }},
  "period": {{ quote(.Period) }},
  "crs": {{ quote(.CRS) }},
  "scale": {{ .Scale }},
  "files": [{{ range i, f := .Files }}{{ if i > 0 }}, {{ end }}{{ quote(f) }}{{ end }}],
  "legend": [{{ range i, s := .Legend }}{{ if i > 0 }},{{ end }}
    {"class": {{ s.Class }}, "label": {{ quote(s.Label) }}, "colour": {{ quote(s.Hex) }}, "pixels": {{ s.Pixels }}}{{ end }}
  ]
}
`

// SidecarSwatch is one legend entry of a sidecar.
type SidecarSwatch struct {
	Class  uint8
	Label  string
	Hex    string
	Pixels int
}

// SidecarData describes an exported product.
type SidecarData struct {
	Job       string
	Type      string
	Product   string
	Generated string
	Period    string
	CRS       string
	Scale     float64
	Files     []string
	Legend    []SidecarSwatch
}

func jsonQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// SidecarWriter renders sidecar documents from a jet template set.
type SidecarWriter struct {
	view     *jet.Set
	template *jet.Template
}

// NewSidecarWriter loads SidecarTemplate from templateDir, falling back to
// the built-in layout when the file does not exist.
func NewSidecarWriter(templateDir string) (*SidecarWriter, error) {
	if templateDir == "" {
		templateDir = filepath.Join(utils.DataDir, "templates")
	}
	view := jet.NewSet(jet.SafeWriter(func(w io.Writer, b []byte) {
		w.Write(b)
	}), templateDir, "/")
	view.AddGlobal("quote", jsonQuote)

	var tpl *jet.Template
	var err error
	if _, statErr := os.Stat(filepath.Join(templateDir, SidecarTemplate)); statErr == nil {
		tpl, err = view.GetTemplate(SidecarTemplate)
	} else {
		tpl, err = view.LoadTemplate(SidecarTemplate, defaultSidecarTemplate)
	}
	if err != nil {
		return nil, fmt.Errorf("sidecar template: %v", err)
	}
	return &SidecarWriter{view: view, template: tpl}, nil
}

// NewSidecarData fills the legend from cm and palette. cm may be nil for
// continuous products.
func NewSidecarData(job *utils.Job, product string, files []string, cm *ClassMap, palette *utils.Palette) (*SidecarData, error) {
	data := &SidecarData{
		Job:       job.Name,
		Type:      job.Type,
		Product:   product,
		Generated: time.Now().UTC().Format(time.RFC3339),
		Period:    fmt.Sprintf("%s/%s", job.StartTime.Format("2006-01-02"), job.EndTime.Format("2006-01-02")),
		CRS:       job.Export.CRS,
		Scale:     job.Export.Scale,
	}
	for _, f := range files {
		data.Files = append(data.Files, filepath.Base(f))
	}
	sort.Strings(data.Files)

	if cm != nil {
		swatches, err := legendSwatches(cm, palette)
		if err != nil {
			return nil, err
		}
		hist := cm.Histogram()
		for _, s := range swatches {
			data.Legend = append(data.Legend, SidecarSwatch{Class: s.Class, Label: s.Label, Hex: s.Hex, Pixels: hist[s.Class]})
		}
	}
	return data, nil
}

func (sw *SidecarWriter) Render(data *SidecarData) ([]byte, error) {
	var buf bytes.Buffer
	if err := sw.template.Execute(&buf, make(jet.VarMap), data); err != nil {
		return nil, fmt.Errorf("sidecar render: %v", err)
	}
	return buf.Bytes(), nil
}

// Write renders data to path.
func (sw *SidecarWriter) Write(path string, data *SidecarData) error {
	out, err := sw.Render(data)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0644)
}
