package export

import (
	"errors"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/gotmc/monoscan"
)

// maxLegend is the most wavelengths that get a legend entry; beyond that
// the legend would cover the data.
const maxLegend = 12

// Plot draws current against time, one line per wavelength. The image format
// follows the file extension (.png, .svg, .pdf).
type Plot struct {
	Path          string
	Width, Height vg.Length
}

func (p Plot) Export(res *monoscan.ScanResult) error {
	if res.TotalSamples() == 0 {
		return exportErr(p.Path, errors.New("no samples to plot"))
	}
	pl := plot.New()
	pl.Title.Text = "Photocurrent, run " + res.RunID.String()[:8]
	pl.X.Label.Text = TimeHeader
	pl.Y.Label.Text = CurrentHeader
	pl.Add(plotter.NewGrid())

	for i, wr := range res.Results {
		if len(wr.Samples) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(wr.Samples))
		for j, s := range wr.Samples {
			pts[j] = plotter.XY{X: s.Elapsed.Seconds(), Y: s.Current}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return exportErr(p.Path, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		pl.Add(line)
		if len(res.Results) <= maxLegend {
			pl.Legend.Add(FormatNumber(wr.Wavelength)+" nm", line)
		}
	}

	w, h := p.Width, p.Height
	if w == 0 || h == 0 {
		w, h = 10*vg.Inch, 6*vg.Inch
	}
	if err := pl.Save(w, h, p.Path); err != nil {
		return exportErr(p.Path, err)
	}
	return nil
}
