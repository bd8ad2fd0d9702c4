// Package plot renders measurement curves as standalone SVG documents.
package plot

import (
	"fmt"
	"math"
	"strings"
)

// margins around the plot area, in pixels
type margin struct {
	top, right, bottom, left float64
}

// Series is one set of samples to draw
type Series struct {
	X     []float64
	Y     []float64
	Label string
	Color string

	// Scatter draws markers at each sample instead of a connected line
	Scatter bool
}

// palette cycles when a series does not name its own color
var palette = []string{"#e41a1c", "#377eb8", "#4daf4a", "#984ea3", "#ff7f00"}

// Plot builds an SVG chart from one or more series
type Plot struct {
	Width  float64
	Height float64
	Title  string
	XLabel string
	YLabel string

	series []Series
	m      margin
}

// New creates a Plot with the given pixel dimensions
func New(width, height float64) *Plot {
	return &Plot{
		Width:  width,
		Height: height,
		m:      margin{top: 40, right: 30, bottom: 50, left: 60},
	}
}

// AddSeries appends a series to the plot.  An empty color picks from the
// default palette.
func (p *Plot) AddSeries(s Series) *Plot {
	if s.Color == "" {
		s.Color = palette[len(p.series)%len(palette)]
	}
	p.series = append(p.series, s)
	return p
}

// plotArea returns the drawable region inside the margins
func (p *Plot) plotArea() (w, h float64) {
	return p.Width - p.m.left - p.m.right, p.Height - p.m.top - p.m.bottom
}

// Render produces the SVG document
func (p *Plot) Render() string {
	xmin, xmax := math.Inf(1), math.Inf(-1)
	ymin, ymax := math.Inf(1), math.Inf(-1)
	for _, s := range p.series {
		for i := range s.X {
			xmin = math.Min(xmin, s.X[i])
			xmax = math.Max(xmax, s.X[i])
			ymin = math.Min(ymin, s.Y[i])
			ymax = math.Max(ymax, s.Y[i])
		}
	}
	if math.IsInf(xmin, 1) {
		xmin, xmax = 0, 1
	}
	if math.IsInf(ymin, 1) {
		ymin, ymax = 0, 1
	}
	xrange := xmax - xmin
	if xrange == 0 {
		xrange = 1
	}
	yrange := ymax - ymin
	if yrange == 0 {
		yrange = 1
	}
	xmin -= xrange * 0.05
	xmax += xrange * 0.05
	ymin -= yrange * 0.1
	ymax += yrange * 0.1

	pw, ph := p.plotArea()
	sx := func(x float64) float64 {
		return p.m.left + (x-xmin)/(xmax-xmin)*pw
	}
	sy := func(y float64) float64 {
		return p.m.top + ph - (y-ymin)/(ymax-ymin)*ph
	}

	sb := strings.Builder{}
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d">`,
		int(p.Width), int(p.Height))
	fmt.Fprintf(&sb, `<rect width="%d" height="%d" fill="#ffffff"/>`,
		int(p.Width), int(p.Height))

	if p.Title != "" {
		fmt.Fprintf(&sb, `<text x="%f" y="25" text-anchor="middle" font-family="sans-serif" font-size="16">%s</text>`,
			p.Width/2, escape(p.Title))
	}

	// axes
	fmt.Fprintf(&sb, `<line x1="%f" y1="%f" x2="%f" y2="%f" stroke="#333" stroke-width="2"/>`,
		p.m.left, p.m.top, p.m.left, p.m.top+ph)
	fmt.Fprintf(&sb, `<line x1="%f" y1="%f" x2="%f" y2="%f" stroke="#333" stroke-width="2"/>`,
		p.m.left, p.m.top+ph, p.m.left+pw, p.m.top+ph)

	// axis labels
	fmt.Fprintf(&sb, `<text x="%f" y="%f" text-anchor="middle" font-family="sans-serif" font-size="12">%s</text>`,
		p.m.left+pw/2, p.Height-10, escape(p.XLabel))
	fmt.Fprintf(&sb, `<text x="15" y="%f" text-anchor="middle" font-family="sans-serif" font-size="12" transform="rotate(-90, 15, %f)">%s</text>`,
		p.m.top+ph/2, p.m.top+ph/2, escape(p.YLabel))

	// ticks and gridlines
	const nTicks = 5
	for i := 0; i <= nTicks; i++ {
		x := xmin + (xmax-xmin)*float64(i)/nTicks
		px := sx(x)
		fmt.Fprintf(&sb, `<line x1="%f" y1="%f" x2="%f" y2="%f" stroke="#333" stroke-width="1"/>`,
			px, p.m.top+ph, px, p.m.top+ph+5)
		fmt.Fprintf(&sb, `<text x="%f" y="%f" text-anchor="middle" font-family="sans-serif" font-size="10">%.2f</text>`,
			px, p.m.top+ph+20, x)
		fmt.Fprintf(&sb, `<line x1="%f" y1="%f" x2="%f" y2="%f" stroke="#ddd" stroke-width="0.5"/>`,
			px, p.m.top, px, p.m.top+ph)

		y := ymin + (ymax-ymin)*float64(i)/nTicks
		py := sy(y)
		fmt.Fprintf(&sb, `<line x1="%f" y1="%f" x2="%f" y2="%f" stroke="#333" stroke-width="1"/>`,
			p.m.left-5, py, p.m.left, py)
		fmt.Fprintf(&sb, `<text x="%f" y="%f" text-anchor="end" font-family="sans-serif" font-size="10">%.2f</text>`,
			p.m.left-10, py+4, y)
		fmt.Fprintf(&sb, `<line x1="%f" y1="%f" x2="%f" y2="%f" stroke="#ddd" stroke-width="0.5"/>`,
			p.m.left, py, p.m.left+pw, py)
	}

	for _, s := range p.series {
		if len(s.X) == 0 {
			continue
		}
		if s.Scatter {
			for i := range s.X {
				fmt.Fprintf(&sb, `<circle cx="%f" cy="%f" r="2.5" fill="%s"/>`,
					sx(s.X[i]), sy(s.Y[i]), s.Color)
			}
			continue
		}
		path := strings.Builder{}
		for i := range s.X {
			cmd := "L"
			if i == 0 {
				cmd = "M"
			}
			fmt.Fprintf(&path, "%s%f,%f ", cmd, sx(s.X[i]), sy(s.Y[i]))
		}
		fmt.Fprintf(&sb, `<path d="%s" stroke="%s" stroke-width="2" fill="none"/>`,
			strings.TrimSpace(path.String()), s.Color)
	}

	// legend, only when labels exist
	legendY := p.m.top + 10
	for _, s := range p.series {
		if s.Label == "" {
			continue
		}
		x1 := p.Width - p.m.right - 50
		fmt.Fprintf(&sb, `<line x1="%f" y1="%f" x2="%f" y2="%f" stroke="%s" stroke-width="2"/>`,
			x1, legendY, x1+20, legendY, s.Color)
		fmt.Fprintf(&sb, `<text x="%f" y="%f" font-family="sans-serif" font-size="10">%s</text>`,
			x1+25, legendY+4, escape(s.Label))
		legendY += 20
	}

	sb.WriteString(`</svg>`)
	return sb.String()
}

// escape sanitizes text nodes for inclusion in the SVG
func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
