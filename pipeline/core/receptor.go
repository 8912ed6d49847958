package core

import (
	"math"
	"time"

	"github.com/google/uuid"
)

const gridDigits = 8

// Receptor is a single (x, y, z, t) starting point for one simulation:
// longitude, latitude, height above ground in meters, and release time.
type Receptor struct {
	ID      uuid.UUID
	SceneID uuid.UUID
	X       float64
	Y       float64
	Z       float64
	T       time.Time
}

// BuildReceptor creates a receptor owned by sceneID.
func BuildReceptor(sceneID uuid.UUID, x, y, z float64, t time.Time) Receptor {
	return Receptor{ID: NewID(), SceneID: sceneID, X: x, Y: y, Z: z, T: t.UTC()}
}

// Point is a horizontal grid vertex.
type Point struct {
	X float64
	Y float64
}

// Grid is a regular longitude/latitude grid with inclusive bounds.
type Grid struct {
	XMin float64 `json:"xmin" yaml:"xmin"`
	XMax float64 `json:"xmax" yaml:"xmax"`
	XRes float64 `json:"xres" yaml:"xres"`
	YMin float64 `json:"ymin" yaml:"ymin"`
	YMax float64 `json:"ymax" yaml:"ymax"`
	YRes float64 `json:"yres" yaml:"yres"`
}

// Validate returns ErrInvalidGrid for non-positive resolutions or inverted bounds.
func (g Grid) Validate() error {
	if g.XRes <= 0 || g.YRes <= 0 || g.XMax < g.XMin || g.YMax < g.YMin {
		return ErrInvalidGrid
	}

	return nil
}

// Points returns the grid vertices, x-major, rounded to 8 digits.
func (g Grid) Points() []Point {
	xs := fromToBy(g.XMin, g.XMax, g.XRes)
	ys := fromToBy(g.YMin, g.YMax, g.YRes)

	points := make([]Point, 0, len(xs)*len(ys))
	for _, x := range xs {
		for _, y := range ys {
			points = append(points, Point{X: x, Y: y})
		}
	}

	return points
}

// fromToBy returns the inclusive sequence start, start+step, ..., stop.
func fromToBy(start, stop, step float64) []float64 {
	length := int(math.Round((stop - start) / step))
	scale := math.Pow(10, gridDigits)

	values := make([]float64, 0, length+1)
	for i := 0; i <= length; i++ {
		values = append(values, math.Round((start+step*float64(i))*scale)/scale)
	}

	return values
}
