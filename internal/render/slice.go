package render

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/atlasdatatech/tileserver/internal/metatile"
)

// sliceImage crops a rendered metatile raster into width*height
// row-major 256*scale-pixel tiles and PNG-encodes each (spec.md §4.6:
// "slice the image into width × height row-major tiles").
func sliceImage(id metatile.ID, img image.Image, scale int) (metatile.Metatile, error) {
	tileSize := metatile.TileSize * scale
	ids := id.TileIDs()
	tiles := make([]metatile.Tile, 0, len(ids))

	i := 0
	for y := 0; y < int(id.Height); y++ {
		for x := 0; x < int(id.Width); x++ {
			rect := image.Rect(x*tileSize, y*tileSize, (x+1)*tileSize, (y+1)*tileSize)
			crop := image.NewRGBA(image.Rect(0, 0, tileSize, tileSize))
			draw.Draw(crop, crop.Bounds(), img, rect.Min, draw.Src)
			data, err := EncodePNG(crop)
			if err != nil {
				return metatile.Metatile{}, fmt.Errorf("render: encode tile %v: %w", ids[i], err)
			}
			tiles = append(tiles, metatile.Tile{ID: ids[i], Data: data})
			i++
		}
	}

	out := metatile.Metatile{ID: id, Tiles: tiles}
	if err := out.Validate(); err != nil {
		return metatile.Metatile{}, err
	}
	return out, nil
}
