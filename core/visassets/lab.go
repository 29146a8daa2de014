package visassets

import "math"

// sRGB <-> CIELab conversion, D65 reference white, following the easyrgb
// pseudocode. Channels are 0-1 floats.

type rgbColor struct {
	r, g, b float64
}

type labColor struct {
	l, a, b float64
}

func rgbToLab(c rgbColor) labColor {
	r := linearize(c.r)
	g := linearize(c.g)
	b := linearize(c.b)

	x := (r*0.4124 + g*0.3576 + b*0.1805) / 0.95047
	y := (r*0.2126 + g*0.7152 + b*0.0722) / 1.00000
	z := (r*0.0193 + g*0.1192 + b*0.9505) / 1.08883

	x = labForward(x)
	y = labForward(y)
	z = labForward(z)

	return labColor{
		l: 116.0*y - 16.0,
		a: 500.0 * (x - y),
		b: 200.0 * (y - z),
	}
}

func labToRGB(c labColor) rgbColor {
	y := (c.l + 16.0) / 116.0
	x := c.a/500.0 + y
	z := y - c.b/200.0

	x = 0.95047 * labInverse(x)
	y = 1.00000 * labInverse(y)
	z = 1.08883 * labInverse(z)

	r := x*3.2406 + y*-1.5372 + z*-0.4986
	g := x*-0.96890 + y*1.8758 + z*0.0415
	b := x*0.05570 + y*-0.2040 + z*1.0570

	return rgbColor{
		r: clamp01(delinearize(r)),
		g: clamp01(delinearize(g)),
		b: clamp01(delinearize(b)),
	}
}

func lerpLab(c1, c2 rgbColor, alpha float64) rgbColor {
	lab1 := rgbToLab(c1)
	lab2 := rgbToLab(c2)
	return labToRGB(labColor{
		l: lab1.l*(1.0-alpha) + lab2.l*alpha,
		a: lab1.a*(1.0-alpha) + lab2.a*alpha,
		b: lab1.b*(1.0-alpha) + lab2.b*alpha,
	})
}

func linearize(v float64) float64 {
	if v > 0.04045 {
		return math.Pow((v+0.055)/1.055, 2.4)
	}
	return v / 12.92
}

func delinearize(v float64) float64 {
	if v > 0.0031308 {
		return 1.055*math.Pow(v, 1.0/2.4) - 0.055
	}
	return 12.92 * v
}

func labForward(v float64) float64 {
	if v > 0.008856 {
		return math.Cbrt(v)
	}
	return 7.787*v + 16.0/116.0
}

func labInverse(v float64) float64 {
	if v3 := v * v * v; v3 > 0.008856 {
		return v3
	}
	return (v - 16.0/116.0) / 7.787
}

func clamp01(v float64) float64 {
	return math.Max(0.0, math.Min(1.0, v))
}
