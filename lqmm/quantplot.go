package lqmm

import (
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// QuantPlotter draws fixed-effects estimates against the quantile level,
// one line per term, with the pointwise confidence band as error bars.
// Estimates with p-values below the significance threshold are drawn with a
// filled marker.
type QuantPlotter struct {
	plt *plot.Plot

	labels []string
	lines  []*plotter.Line

	// Significance threshold for the filled markers
	alpha float64

	width  vg.Length
	height vg.Length
}

// NewQuantPlotter returns a default QuantPlotter.
func NewQuantPlotter() *QuantPlotter {

	qp := &QuantPlotter{
		alpha:  0.05,
		width:  6,
		height: 4,
	}

	var err error
	qp.plt, err = plot.New()
	if err != nil {
		panic(err)
	}

	return qp
}

// Width sets the width of the plot in inches.
func (qp *QuantPlotter) Width(w float64) *QuantPlotter {
	qp.width = vg.Length(w)
	return qp
}

// Height sets the height of the plot in inches.
func (qp *QuantPlotter) Height(h float64) *QuantPlotter {
	qp.height = vg.Length(h)
	return qp
}

// Alpha sets the significance threshold distinguishing filled from open
// markers.
func (qp *QuantPlotter) Alpha(a float64) *QuantPlotter {
	qp.alpha = a
	return qp
}

// Add plots one term's estimates across quantile levels.  taus, est, lcb,
// ucb and pval are aligned; lcb, ucb and pval may be nil when uncertainty
// information is unavailable.
func (qp *QuantPlotter) Add(label string, taus, est, lcb, ucb, pval []float64) *QuantPlotter {

	pts := make(plotter.XYs, len(taus))
	for i := range taus {
		pts[i].X = taus[i]
		pts[i].Y = est[i]
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		panic(err)
	}
	line.Color = plotutil.Color(len(qp.lines))
	qp.plt.Add(line)

	if lcb != nil && ucb != nil {
		bars := make(plotter.YErrors, len(taus))
		for i := range taus {
			bars[i].Low = est[i] - lcb[i]
			bars[i].High = ucb[i] - est[i]
		}
		eb, err := plotter.NewYErrorBars(struct {
			plotter.XYer
			plotter.YErrorer
		}{pts, bars})
		if err != nil {
			panic(err)
		}
		eb.Color = line.Color
		qp.plt.Add(eb)
	}

	// Filled markers where the estimate is significant, open elsewhere.
	var sig, nsig plotter.XYs
	for i := range taus {
		if pval != nil && pval[i] < qp.alpha {
			sig = append(sig, pts[i])
		} else {
			nsig = append(nsig, pts[i])
		}
	}
	for _, grp := range []struct {
		pts   plotter.XYs
		shape draw.GlyphDrawer
	}{
		{sig, draw.CircleGlyph{}},
		{nsig, draw.RingGlyph{}},
	} {
		if len(grp.pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(grp.pts)
		if err != nil {
			panic(err)
		}
		sc.GlyphStyle.Shape = grp.shape
		sc.GlyphStyle.Color = line.Color
		qp.plt.Add(sc)
	}

	qp.labels = append(qp.labels, label)
	qp.lines = append(qp.lines, line)

	return qp
}

// AddReference overlays a horizontal reference line, typically a mean-model
// estimate for the same term.
func (qp *QuantPlotter) AddReference(label string, level float64) *QuantPlotter {

	pts := plotter.XYs{{X: 0, Y: level}, {X: 1, Y: level}}
	line, err := plotter.NewLine(pts)
	if err != nil {
		panic(err)
	}
	line.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}
	line.Color = plotutil.Color(len(qp.lines))
	qp.plt.Add(line)

	qp.labels = append(qp.labels, label)
	qp.lines = append(qp.lines, line)

	return qp
}

// Plot finishes the plot layout.
func (qp *QuantPlotter) Plot() *QuantPlotter {

	qp.plt.X.Label.Text = "Quantile"
	qp.plt.Y.Label.Text = "Coefficient"
	qp.plt.X.Min = 0
	qp.plt.X.Max = 1

	leg, err := plot.NewLegend()
	if err != nil {
		panic(err)
	}
	for i := range qp.lines {
		leg.Add(qp.labels[i], qp.lines[i])
	}
	if len(qp.lines) > 1 {
		leg.Top = true
		qp.plt.Legend = leg
	}

	return qp
}

// GetPlotStruct returns the underlying plot value.
func (qp *QuantPlotter) GetPlotStruct() *plot.Plot {
	return qp.plt
}

// Save writes the plot to the given file.
func (qp *QuantPlotter) Save(fname string) {

	if err := qp.plt.Save(qp.width*vg.Inch, qp.height*vg.Inch, fname); err != nil {
		panic(err)
	}
}
