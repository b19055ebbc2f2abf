package stitch

import (
	"context"
	"fmt"
	"image"
	"sync"

	"golang.org/x/image/draw"

	"github.com/kiesman99/reproject/pkg/tile"
)

// maxPixels caps the size of a composed image
const maxPixels = 10000 * 10000

// TileSource creates tile surfaces asynchronously.
type TileSource interface {
	CreateTile(ctx context.Context, c tile.Coords, done func(error)) *image.RGBA
}

// Range is an inclusive rectangle of display tiles at one zoom level
type Range struct {
	Zoom       int
	MinX, MinY int
	MaxX, MaxY int
}

// Tiles returns the number of tiles in the range
func (r Range) Tiles() int {
	return (r.MaxX - r.MinX + 1) * (r.MaxY - r.MinY + 1)
}

// FailedTile represents a single failed tile
type FailedTile struct {
	Coords tile.Coords
	Err    error
}

// TileError represents errors related to tile downloading
type TileError struct {
	Message         string
	FailedTiles     []FailedTile
	SuccessfulTiles int
	TotalTiles      int
}

func (e *TileError) Error() string {
	return e.Message
}

// Stitcher composes a range of tiles into one image
type Stitcher struct {
	source   TileSource
	tileSize image.Point
}

// NewStitcher creates a new stitcher instance
func NewStitcher(source TileSource, tileSize image.Point) *Stitcher {
	return &Stitcher{source: source, tileSize: tileSize}
}

// Stitch requests every tile of r concurrently and draws each finished
// tile at its offset. Failed tiles are left transparent; the call fails
// when no tile or more than half of them could be loaded.
func (s *Stitcher) Stitch(ctx context.Context, r Range) (*image.RGBA, error) {
	if r.MaxX < r.MinX || r.MaxY < r.MinY {
		return nil, fmt.Errorf("empty tile range %+v", r)
	}

	width := (r.MaxX - r.MinX + 1) * s.tileSize.X
	height := (r.MaxY - r.MinY + 1) * s.tileSize.Y
	if int64(width)*int64(height) > maxPixels {
		return nil, fmt.Errorf("requested image size too large: %dx%d", width, height)
	}

	type pending struct {
		coords  tile.Coords
		surface *image.RGBA
		err     error
	}

	total := r.Tiles()
	results := make([]pending, total)
	var wg sync.WaitGroup
	var mu sync.Mutex

	idx := 0
	for ty := r.MinY; ty <= r.MaxY; ty++ {
		for tx := r.MinX; tx <= r.MaxX; tx++ {
			c := tile.Coords{X: tx, Y: ty, Z: r.Zoom}
			i := idx
			idx++
			results[i].coords = c

			wg.Add(1)
			surface := s.source.CreateTile(ctx, c, func(err error) {
				mu.Lock()
				results[i].err = err
				mu.Unlock()
				wg.Done()
			})
			mu.Lock()
			results[i].surface = surface
			mu.Unlock()
		}
	}
	wg.Wait()

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	var failed []FailedTile
	for _, p := range results {
		if p.err != nil {
			failed = append(failed, FailedTile{Coords: p.coords, Err: p.err})
			continue
		}
		offset := image.Pt((p.coords.X-r.MinX)*s.tileSize.X, (p.coords.Y-r.MinY)*s.tileSize.Y)
		dst := image.Rectangle{Min: offset, Max: offset.Add(s.tileSize)}
		draw.Draw(out, dst, p.surface, image.Point{}, draw.Over)
	}

	successful := total - len(failed)
	if successful == 0 {
		return nil, &TileError{
			Message:         "No tiles could be downloaded successfully",
			FailedTiles:     failed,
			SuccessfulTiles: successful,
			TotalTiles:      total,
		}
	}
	if len(failed) > total/2 {
		return nil, &TileError{
			Message:         fmt.Sprintf("Too many tile download failures: %d/%d failed", len(failed), total),
			FailedTiles:     failed,
			SuccessfulTiles: successful,
			TotalTiles:      total,
		}
	}

	return out, nil
}
