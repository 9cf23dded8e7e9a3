// Package badge renders run progress as the short text and colour shown on
// the toolbar button.
package badge

import (
	"math"
	"strconv"

	"github.com/lotas/tabharvest/internal/types"
)

const (
	ColorLoading  = "#8b67b3"
	ColorSaving   = "#486fe3"
	ColorFinished = "#579900"
	ColorFailed   = "#d3290f"
	ColorEmpty    = "#cc9a23"
)

var (
	coarseGlyphs = []rune("◷◶◵◴")
	fineGlyphs   = []rune("○◔◑◕●")
)

// CoarseSteps is the number of phases of the coarse loading glyph.
const CoarseSteps = 4

// Badge is the rendered state of the toolbar button.
type Badge struct {
	Text  string
	Color string
}

// Loading renders a loading tick.
func Loading(tick types.LoadingTick) Badge {
	if tick.Fine {
		x := int(math.Round(tick.Percent / 100 * 4))
		x = max(0, min(x, len(fineGlyphs)-1))
		return Badge{Text: string(fineGlyphs[x]), Color: ColorLoading}
	}
	p := ((tick.Phase % CoarseSteps) + CoarseSteps) % CoarseSteps
	return Badge{Text: string(coarseGlyphs[p]), Color: ColorLoading}
}

// Saving renders the saved count. ok is false while nothing was saved.
func Saving(saved int) (b Badge, ok bool) {
	if saved <= 0 {
		return Badge{}, false
	}
	return Badge{Text: strconv.Itoa(saved), Color: ColorSaving}, true
}

// Finished renders the final count. Failures win over an empty result.
func Finished(saved int, hadErrors bool) Badge {
	color := ColorFinished
	switch {
	case hadErrors:
		color = ColorFailed
	case saved == 0:
		color = ColorEmpty
	}
	return Badge{Text: strconv.Itoa(saved), Color: color}
}
