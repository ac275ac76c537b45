// Package tiler composes resolved tile images into single page frames for
// the export video.
package tiler

import (
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
)

// Compose draws the given tile files onto a black canvas and writes the
// result as a lossless PNG frame. Placement is row-major starting from the
// BOTTOM of the canvas: tile i sits at
//
//	left = (i mod columns) * tileWidth
//	top  = totalHeight - (i/columns + 1) * tileHeight
//
// The manifest consumer correlates sequence numbers with these positions,
// so the order must not change. Tiles are composited opaque, no blending.
func Compose(inputs []string, totalWidth, totalHeight, tileWidth, tileHeight int, output string) error {
	columns := totalWidth / tileWidth
	rows := totalHeight / tileHeight
	if len(inputs) > columns*rows {
		return fmt.Errorf("compose: %d tiles exceed page capacity %d", len(inputs), columns*rows)
	}

	dc := gg.NewContext(totalWidth, totalHeight)
	dc.SetRGB(0, 0, 0)
	dc.Clear()

	for i, input := range inputs {
		img, err := imaging.Open(input)
		if err != nil {
			return fmt.Errorf("compose: failed to open tile %s: %w", input, err)
		}
		left := (i % columns) * tileWidth
		top := totalHeight - (i/columns+1)*tileHeight
		dc.DrawImage(img, left, top)
	}

	if err := dc.SavePNG(output); err != nil {
		return fmt.Errorf("compose: failed to save frame: %w", err)
	}

	return nil
}
