package visassets

import (
	"encoding/xml"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
)

// colormap is a sorted list of control points over [0, 1]. Lookups
// interpolate between control points in CIELab space.
type colormap struct {
	entries []controlPoint
}

type controlPoint struct {
	pos   float64
	color rgbColor
}

type colormapPointXML struct {
	X float64 `xml:"x,attr"`
	R float64 `xml:"r,attr"`
	G float64 `xml:"g,attr"`
	B float64 `xml:"b,attr"`
}

type colormapNodeXML struct {
	XMLName xml.Name
	Points  []colormapPointXML `xml:"Point"`
	Maps    []colormapNodeXML  `xml:"ColorMap"`
}

// parseColormapXML reads a ParaView-style colormap document. The root may be
// either a ColorMaps wrapper or a bare ColorMap.
func parseColormapXML(data []byte) (*colormap, error) {
	var root colormapNodeXML
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse colormap xml: %w", err)
	}
	points := root.Points
	if root.XMLName.Local == "ColorMaps" {
		if len(root.Maps) == 0 {
			return nil, fmt.Errorf("colormap xml has no ColorMap node")
		}
		points = root.Maps[0].Points
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("colormap xml has no control points")
	}

	cm := &colormap{}
	for _, p := range points {
		cm.addControlPoint(p.X, rgbColor{r: p.R, g: p.G, b: p.B})
	}
	return cm, nil
}

func (c *colormap) addControlPoint(pos float64, col rgbColor) {
	c.entries = append(c.entries, controlPoint{pos: pos, color: col})
	sort.SliceStable(c.entries, func(i, j int) bool {
		return c.entries[i].pos < c.entries[j].pos
	})
}

// lookup returns the color at pos, clamping outside the control point range.
func (c *colormap) lookup(pos float64) rgbColor {
	switch len(c.entries) {
	case 0:
		return rgbColor{}
	case 1:
		return c.entries[0].color
	}

	first := c.entries[0]
	last := c.entries[len(c.entries)-1]
	if pos <= first.pos {
		return first.color
	}
	if pos >= last.pos {
		return last.color
	}

	upper := 1
	for c.entries[upper].pos < pos {
		upper++
	}
	lo := c.entries[upper-1]
	hi := c.entries[upper]
	alpha := (pos - lo.pos) / (hi.pos - lo.pos)
	return lerpLab(lo.color, hi.color, alpha)
}

// writePNG samples the colormap once per column and writes a width x height
// preview raster.
func (c *colormap) writePNG(path string, width, height int) error {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for col := 0; col < width; col++ {
		sample := c.lookup(float64(col) / float64(width))
		px := color.RGBA{
			R: uint8(sample.r * 255),
			G: uint8(sample.g * 255),
			B: uint8(sample.b * 255),
			A: 255,
		}
		for row := 0; row < height; row++ {
			img.SetRGBA(col, row, px)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create preview dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create preview: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encode preview: %w", err)
	}
	return nil
}
