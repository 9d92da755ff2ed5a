package report

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"strconv"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"trainwatch/history"
)

// Series colours.
var (
	colorLoss    = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	colorAvgLoss = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	colorMAP     = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	colorTime    = color.RGBA{R: 255, G: 127, B: 14, A: 255}

	colorBackground = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colorFrame      = color.RGBA{R: 60, G: 60, B: 60, A: 255}
	colorGrid       = color.RGBA{R: 225, G: 225, B: 225, A: 255}
	colorText       = color.RGBA{R: 20, G: 20, B: 20, A: 255}
	colorMuted      = color.RGBA{R: 140, G: 140, B: 140, A: 255}
)

// Series is one line of a panel.
type Series struct {
	Label string
	X     []float64
	Y     []float64
	Color color.RGBA
	Thick bool
}

// Panel is one chart with axes.
type Panel struct {
	Title  string
	XLabel string
	YLabel string
	Series []Series
}

func (p Panel) empty() bool {
	for _, s := range p.Series {
		if len(s.X) > 0 {
			return false
		}
	}
	return true
}

// ChartRenderer rasterises panels into PNG-ready images.
type ChartRenderer struct {
	ProgressSize image.Point
	FinalSize    image.Point
	face         font.Face
}

// NewChartRenderer returns a renderer with the default image sizes.
func NewChartRenderer() *ChartRenderer {
	return &ChartRenderer{
		ProgressSize: image.Pt(1000, 800),
		FinalSize:    image.Pt(1400, 1000),
		face:         basicfont.Face7x13,
	}
}

// Progress draws loss and avg loss above the mAP curve.
func (r *ChartRenderer) Progress(snap history.Snapshot) *image.RGBA {
	img := newCanvas(r.ProgressSize)
	b := img.Bounds()
	half := b.Dy() / 2

	r.drawPanel(img, image.Rect(0, 0, b.Dx(), half), Panel{
		Title:  "Training Progress - Loss",
		XLabel: "iteration",
		YLabel: "loss",
		Series: []Series{
			lossSeries(snap, "loss", false),
			lossSeries(snap, "avg loss", true),
		},
	})
	r.drawPanel(img, image.Rect(0, half, b.Dx(), b.Dy()), mapPanel(snap, "Training Progress - mAP"))
	return img
}

// Final draws the 2x2 summary: loss, avg loss, mAP and time per iteration.
func (r *ChartRenderer) Final(snap history.Snapshot) *image.RGBA {
	img := newCanvas(r.FinalSize)
	b := img.Bounds()
	midX, midY := b.Dx()/2, b.Dy()/2

	r.drawPanel(img, image.Rect(0, 0, midX, midY), Panel{
		Title:  "Loss per Iteration",
		XLabel: "iteration",
		YLabel: "loss",
		Series: []Series{lossSeries(snap, "loss", false)},
	})
	r.drawPanel(img, image.Rect(midX, 0, b.Dx(), midY), Panel{
		Title:  "Average Loss per Iteration",
		XLabel: "iteration",
		YLabel: "avg loss",
		Series: []Series{lossSeries(snap, "avg loss", true)},
	})
	r.drawPanel(img, image.Rect(0, midY, midX, b.Dy()), mapPanel(snap, "mAP per Iteration"))

	times := snap.IterationTimes()
	ts := Series{Label: "seconds", Color: colorTime}
	for _, t := range times {
		ts.X = append(ts.X, float64(t.Iteration))
		ts.Y = append(ts.Y, t.Seconds)
	}
	r.drawPanel(img, image.Rect(midX, midY, b.Dx(), b.Dy()), Panel{
		Title:  "Time per Iteration",
		XLabel: "iteration",
		YLabel: "seconds",
		Series: []Series{ts},
	})
	return img
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

func lossSeries(snap history.Snapshot, label string, avg bool) Series {
	s := Series{Label: label, Color: colorLoss, Thick: avg}
	if avg {
		s.Color = colorAvgLoss
	}
	s.X = make([]float64, len(snap.Losses))
	s.Y = make([]float64, len(snap.Losses))
	for i, l := range snap.Losses {
		s.X[i] = float64(l.Iteration)
		if avg {
			s.Y[i] = l.AvgLoss
		} else {
			s.Y[i] = l.Loss
		}
	}
	return s
}

// mapPanel plots each mAP reading at the iteration it followed. Readings
// that arrived before any loss line are placed at iteration 0.
func mapPanel(snap history.Snapshot, title string) Panel {
	s := Series{Label: "mAP@0.5", Color: colorMAP, Thick: true}
	for _, v := range snap.Validations {
		x := 0.0
		if v.HasIteration {
			x = float64(v.Iteration)
		}
		s.X = append(s.X, x)
		s.Y = append(s.Y, v.MAP)
	}
	return Panel{Title: title, XLabel: "iteration", YLabel: "mAP", Series: []Series{s}}
}

func newCanvas(size image.Point) *image.RGBA {
	img := image.NewRGBA(image.Rectangle{Max: size})
	draw.Draw(img, img.Bounds(), image.NewUniform(colorBackground), image.Point{}, draw.Src)
	return img
}

const (
	marginLeft   = 70
	marginRight  = 20
	marginTop    = 34
	marginBottom = 40
	tickCount    = 5
)

func (r *ChartRenderer) drawPanel(img *image.RGBA, area image.Rectangle, p Panel) {
	plot := image.Rect(area.Min.X+marginLeft, area.Min.Y+marginTop, area.Max.X-marginRight, area.Max.Y-marginBottom)
	if plot.Dx() < 10 || plot.Dy() < 10 {
		return
	}

	r.text(img, area.Min.X+(area.Dx()-r.measure(p.Title))/2, area.Min.Y+20, p.Title, colorText)
	r.text(img, plot.Min.X+(plot.Dx()-r.measure(p.XLabel))/2, area.Max.Y-8, p.XLabel, colorMuted)
	r.text(img, area.Min.X+6, plot.Min.Y-6, p.YLabel, colorMuted)

	if p.empty() {
		strokeRect(img, plot, colorFrame)
		msg := "no data"
		r.text(img, plot.Min.X+(plot.Dx()-r.measure(msg))/2, plot.Min.Y+plot.Dy()/2, msg, colorMuted)
		return
	}

	xMin, xMax, yMin, yMax := bounds(p.Series)
	toPx := func(x, y float64) (int, int) {
		px := plot.Min.X + int(math.Round((x-xMin)/(xMax-xMin)*float64(plot.Dx()-1)))
		py := plot.Max.Y - 1 - int(math.Round((y-yMin)/(yMax-yMin)*float64(plot.Dy()-1)))
		return px, py
	}

	for i := 0; i <= tickCount; i++ {
		frac := float64(i) / tickCount
		gy := plot.Max.Y - 1 - int(frac*float64(plot.Dy()-1))
		gx := plot.Min.X + int(frac*float64(plot.Dx()-1))
		hLine(img, plot.Min.X, plot.Max.X, gy, colorGrid)
		vLine(img, gx, plot.Min.Y, plot.Max.Y, colorGrid)

		yl := formatTick(yMin + frac*(yMax-yMin))
		r.text(img, plot.Min.X-6-r.measure(yl), gy+4, yl, colorMuted)
		xl := formatTick(xMin + frac*(xMax-xMin))
		r.text(img, gx-r.measure(xl)/2, plot.Max.Y+16, xl, colorMuted)
	}
	strokeRect(img, plot, colorFrame)

	for _, s := range p.Series {
		n := min(len(s.X), len(s.Y))
		if n == 0 {
			continue
		}
		px, py := toPx(s.X[0], s.Y[0])
		plotPoint(img, px, py, s.Color, s.Thick, plot)
		for i := 1; i < n; i++ {
			qx, qy := toPx(s.X[i], s.Y[i])
			line(img, px, py, qx, qy, s.Color, s.Thick, plot)
			px, py = qx, qy
		}
	}

	r.legend(img, plot, p.Series)
}

func (r *ChartRenderer) legend(img *image.RGBA, plot image.Rectangle, series []Series) {
	y := plot.Min.Y + 16
	for _, s := range series {
		if s.Label == "" || len(s.X) == 0 {
			continue
		}
		x := plot.Max.X - r.measure(s.Label) - 34
		for dy := -1; dy <= 1; dy++ {
			hLine(img, x, x+20, y-4+dy, s.Color)
		}
		r.text(img, x+26, y, s.Label, colorText)
		y += 16
	}
}

// bounds returns a padded, non-degenerate data range across all series.
func bounds(series []Series) (xMin, xMax, yMin, yMax float64) {
	xMin, yMin = math.Inf(1), math.Inf(1)
	xMax, yMax = math.Inf(-1), math.Inf(-1)
	for _, s := range series {
		for i := 0; i < min(len(s.X), len(s.Y)); i++ {
			xMin, xMax = math.Min(xMin, s.X[i]), math.Max(xMax, s.X[i])
			yMin, yMax = math.Min(yMin, s.Y[i]), math.Max(yMax, s.Y[i])
		}
	}
	if xMax-xMin < 1e-12 {
		xMin, xMax = xMin-1, xMax+1
	}
	if yMax-yMin < 1e-12 {
		pad := math.Max(math.Abs(yMin)*0.1, 1e-3)
		yMin, yMax = yMin-pad, yMax+pad
	} else {
		pad := (yMax - yMin) * 0.05
		yMin, yMax = yMin-pad, yMax+pad
	}
	return xMin, xMax, yMin, yMax
}

func formatTick(v float64) string {
	if math.Abs(v) >= 1e5 || (v != 0 && math.Abs(v) < 1e-3) {
		return strconv.FormatFloat(v, 'e', 1, 64)
	}
	return strconv.FormatFloat(v, 'g', 4, 64)
}

func (r *ChartRenderer) text(img *image.RGBA, x, y int, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: r.face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func (r *ChartRenderer) measure(s string) int {
	return font.MeasureString(r.face, s).Ceil()
}

func hLine(img *image.RGBA, x0, x1, y int, c color.RGBA) {
	for x := x0; x < x1; x++ {
		img.SetRGBA(x, y, c)
	}
}

func vLine(img *image.RGBA, x, y0, y1 int, c color.RGBA) {
	for y := y0; y < y1; y++ {
		img.SetRGBA(x, y, c)
	}
}

func strokeRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	hLine(img, r.Min.X, r.Max.X, r.Min.Y, c)
	hLine(img, r.Min.X, r.Max.X, r.Max.Y-1, c)
	vLine(img, r.Min.X, r.Min.Y, r.Max.Y, c)
	vLine(img, r.Max.X-1, r.Min.Y, r.Max.Y, c)
}

func plotPoint(img *image.RGBA, x, y int, c color.RGBA, thick bool, clip image.Rectangle) {
	if !thick {
		if image.Pt(x, y).In(clip) {
			img.SetRGBA(x, y, c)
		}
		return
	}
	for dx := 0; dx <= 1; dx++ {
		for dy := 0; dy <= 1; dy++ {
			if p := image.Pt(x+dx, y+dy); p.In(clip) {
				img.SetRGBA(p.X, p.Y, c)
			}
		}
	}
}

// line draws a Bresenham segment clipped to the plot area.
func line(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA, thick bool, clip image.Rectangle) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		plotPoint(img, x0, y0, c, thick, clip)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
