package reproject

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/kiesman99/reproject/pkg/crs"
)

// CalculateBounds returns the lon/lat coverage of a source tile set.
// Explicit bounds win. Otherwise the northwest corner of the first cell
// and the point one projected unit inside the far corner of the last cell
// are unprojected and spanned.
func CalculateBounds(src *crs.CRS, explicit *orb.Bound) (orb.Bound, error) {
	if explicit != nil {
		return *explicit, nil
	}
	if src == nil || src.Projection == nil {
		return orb.Bound{}, fmt.Errorf("%w: %v", crs.ErrNoProjection, src)
	}
	m := src.TileMatrix
	if m == nil {
		return orb.Bound{}, fmt.Errorf("%w: %s", crs.ErrNoTileMatrix, src.Code)
	}

	nw := orb.Point{m.X(0), m.Y(0)}
	se := orb.Point{
		inside(m.X(0), m.X(m.Cols())),
		inside(m.Y(0), m.Y(m.Rows())),
	}

	return src.Projection.Unproject(nw).Bound().Extend(src.Projection.Unproject(se)), nil
}

// inside steps one unit back from edge toward origin. Leaflet's plugin
// always subtracts one, which leaves decreasing axes outside the matrix.
func inside(origin, edge float64) float64 {
	if edge < origin {
		return edge + 1
	}
	return edge - 1
}
