package browser

import (
	"runtime"

	"github.com/kbinani/screenshot"
)

// getScreenResolution returns the width and height of the main (first) display
func getScreenResolution() map[string]int {
	if screenshot.NumActiveDisplays() == 0 {
		return map[string]int{"width": 1920, "height": 1080}
	}
	b := screenshot.GetDisplayBounds(0)
	return map[string]int{
		"width":  b.Dx(),
		"height": b.Dy(),
	}
}

// getWindowAdjustments returns (borderAdjust, titlebarAdjust) for major OSes
func getWindowAdjustments() (int, int) {
	switch runtime.GOOS {
	case "darwin":
		return -4, 24
	case "windows":
		return -8, 0
	default:
		return 0, 0
	}
}
