package crs

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/wroge/wgs84"
)

// TransformFunc maps a point from one coordinate space to another.
type TransformFunc func(orb.Point) orb.Point

// TransformPair holds the forward (lon/lat to CRS) and inverse (CRS to
// lon/lat) transforms of a CRS.
type TransformPair struct {
	Forward TransformFunc
	Inverse TransformFunc
}

// Provider resolves a CRS code, and optionally a proj4 definition, into
// its transform pair.
type Provider interface {
	Resolve(code, def string) (TransformPair, error)
}

// ProviderFunc adapts a function to the Provider interface
type ProviderFunc func(code, def string) (TransformPair, error)

func (f ProviderFunc) Resolve(code, def string) (TransformPair, error) {
	return f(code, def)
}

type wgs84Provider struct {
	epsg *wgs84.Repository
}

// NewProvider returns a Provider backed by the wgs84 EPSG repository.
// Definitions, when given, take precedence over the code.
func NewProvider() Provider {
	return &wgs84Provider{epsg: wgs84.EPSG()}
}

func (p *wgs84Provider) Resolve(code, def string) (TransformPair, error) {
	var ref wgs84.CoordinateReferenceSystem
	if strings.TrimSpace(def) != "" {
		parsed, err := ParseProj4(def)
		if err != nil {
			return TransformPair{}, fmt.Errorf("%s: %w", code, err)
		}
		ref = parsed
	} else {
		n, err := epsgNumber(code)
		if err != nil {
			return TransformPair{}, err
		}
		ref = p.epsg.Code(n)
		if ref == nil {
			return TransformPair{}, fmt.Errorf("%w: %s", ErrUnknownCRS, code)
		}
	}

	geographic := wgs84.WGS84().LonLat()
	return TransformPair{
		Forward: adapt(wgs84.Transform(geographic, ref)),
		Inverse: adapt(wgs84.Transform(ref, geographic)),
	}, nil
}

func adapt(f func(a, b, c float64) (float64, float64, float64)) TransformFunc {
	return func(p orb.Point) orb.Point {
		x, y, _ := f(p[0], p[1], 0)
		return orb.Point{x, y}
	}
}

func epsgNumber(code string) (int, error) {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.TrimPrefix(s, "EPSG:")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCRS, code)
	}
	return n, nil
}

type spheroid struct {
	a, fi float64
}

func (s spheroid) A() float64 {
	return s.a
}
func (s spheroid) Fi() float64 {
	return s.fi
}

var ellipsoids = map[string]spheroid{
	"WGS84":  {a: 6378137, fi: 298.257223563},
	"GRS80":  {a: 6378137, fi: 298.257222101},
	"INTL":   {a: 6378388, fi: 297},
	"BESSEL": {a: 6377397.155, fi: 299.1528128},
}

// ParseProj4 builds a coordinate reference system from a proj4 definition.
// Supported projections are longlat, merc (spherical web mercator only),
// tmerc and utm. Datum shifts (+towgs84) are ignored.
func ParseProj4(def string) (wgs84.CoordinateReferenceSystem, error) {
	params := map[string]string{}
	for _, tok := range strings.Fields(def) {
		tok = strings.TrimPrefix(tok, "+")
		k, v, _ := strings.Cut(tok, "=")
		params[k] = v
	}

	if u, ok := params["units"]; ok && u != "m" && u != "degrees" {
		return nil, fmt.Errorf("unsupported units %q", u)
	}

	datum, err := datumFor(params)
	if err != nil {
		return nil, err
	}

	switch params["proj"] {
	case "longlat", "latlong":
		return datum.LonLat(), nil
	case "merc":
		a, b := params["a"], params["b"]
		if a == "6378137" && b == "6378137" {
			return wgs84.WebMercator(), nil
		}
		return nil, fmt.Errorf("only spherical web mercator is supported for +proj=merc")
	case "tmerc":
		lon0, err := floatParam(params, "lon_0", 0)
		if err != nil {
			return nil, err
		}
		lat0, err := floatParam(params, "lat_0", 0)
		if err != nil {
			return nil, err
		}
		k, err := floatParam(params, "k", 1)
		if err != nil {
			return nil, err
		}
		if _, ok := params["k_0"]; ok {
			if k, err = floatParam(params, "k_0", 1); err != nil {
				return nil, err
			}
		}
		x0, err := floatParam(params, "x_0", 0)
		if err != nil {
			return nil, err
		}
		y0, err := floatParam(params, "y_0", 0)
		if err != nil {
			return nil, err
		}
		return datum.TransverseMercator(lon0, lat0, k, x0, y0), nil
	case "utm":
		zone, err := floatParam(params, "zone", 0)
		if err != nil {
			return nil, err
		}
		if zone < 1 || zone > 60 || zone != math.Trunc(zone) {
			return nil, fmt.Errorf("invalid utm zone %v", zone)
		}
		north := 0.0
		if _, south := params["south"]; south {
			north = 10000000
		}
		return datum.TransverseMercator(zone*6-183, 0, 0.9996, 500000, north), nil
	case "":
		return nil, fmt.Errorf("proj4 definition without +proj")
	default:
		return nil, fmt.Errorf("unsupported projection %q", params["proj"])
	}
}

func datumFor(params map[string]string) (wgs84.Datum, error) {
	var s spheroid
	if name, ok := params["ellps"]; ok {
		known, ok := ellipsoids[strings.ToUpper(name)]
		if !ok {
			return wgs84.Datum{}, fmt.Errorf("unsupported ellipsoid %q", name)
		}
		s = known
	} else if _, ok := params["rf"]; ok {
		a, err := floatParam(params, "a", 0)
		if err != nil {
			return wgs84.Datum{}, err
		}
		rf, err := floatParam(params, "rf", 0)
		if err != nil {
			return wgs84.Datum{}, err
		}
		s = spheroid{a: a, fi: rf}
	} else if d, ok := params["datum"]; !ok || strings.EqualFold(d, "WGS84") {
		return wgs84.WGS84(), nil
	} else {
		return wgs84.Datum{}, fmt.Errorf("unsupported datum %q", d)
	}

	return wgs84.Datum{
		Spheroid: s,
		Area: wgs84.AreaFunc(func(lon, lat float64) bool {
			return true
		}),
	}, nil
}

func floatParam(params map[string]string, key string, def float64) (float64, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid +%s=%s: %w", key, v, err)
	}
	return f, nil
}
