package engine

import (
	"fmt"
	"image"

	"github.com/tracerlab/flowtrace/internal/params"
	"github.com/tracerlab/flowtrace/internal/ptv"
)

// Detect finds bright blobs in one camera's prepared image. A blob is a
// 4-connected region of pixels at or above the camera's grey threshold
// whose neighbor-to-neighbor grey step stays within the discontinuity
// tolerance. Blobs outside the configured size or intensity bounds are
// dropped. Surviving targets carry grey-weighted centroids and come back
// sorted by vertical pixel coordinate with sequential point numbers.
func Detect(img *image.Gray, tp params.TargetParams, cam int) ([]ptv.Target, error) {
	if cam < 0 || cam >= len(tp.GreyThresh) {
		return nil, fmt.Errorf("no grey threshold for camera %d", cam)
	}
	thresh := tp.GreyThresh[cam]
	if thresh < 1 {
		// A zero threshold would flood-fill the whole frame.
		return nil, fmt.Errorf("camera %d: grey threshold %d is not positive", cam, thresh)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	visited := make([]bool, w*h)
	at := func(x, y int) int { return int(img.GrayAt(b.Min.X+x, b.Min.Y+y).Y) }

	var targets []ptv.Target
	var stack [][2]int

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if visited[y*w+x] || at(x, y) < thresh {
				continue
			}

			// Grow the region from this seed.
			var n, sumg int
			var sumX, sumY float64
			minX, maxX := x, x
			minY, maxY := y, y

			visited[y*w+x] = true
			stack = append(stack[:0], [2]int{x, y})
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				px, py := p[0], p[1]
				g := at(px, py)

				n++
				sumg += g
				sumX += float64(px) * float64(g)
				sumY += float64(py) * float64(g)
				minX, maxX = min(minX, px), max(maxX, px)
				minY, maxY = min(minY, py), max(maxY, py)

				for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
					nx, ny := px+d[0], py+d[1]
					if nx < 0 || nx >= w || ny < 0 || ny >= h || visited[ny*w+nx] {
						continue
					}
					ng := at(nx, ny)
					if ng < thresh || abs(ng-g) > tp.Discont {
						continue
					}
					visited[ny*w+nx] = true
					stack = append(stack, [2]int{nx, ny})
				}
			}

			nx := maxX - minX + 1
			ny := maxY - minY + 1
			if n < tp.MinNPix || n > tp.MaxNPix ||
				nx < tp.MinNPixX || nx > tp.MaxNPixX ||
				ny < tp.MinNPixY || ny > tp.MaxNPixY ||
				sumg <= tp.SumGreyMin {
				continue
			}

			targets = append(targets, ptv.Target{
				Pnr:  ptv.UnmatchedPnr,
				X:    sumX / float64(sumg),
				Y:    sumY / float64(sumg),
				N:    n,
				NX:   nx,
				NY:   ny,
				SumG: sumg,
				Tnr:  ptv.UnlinkedTnr,
			})
		}
	}

	ptv.SortByVertical(targets)
	return targets, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
