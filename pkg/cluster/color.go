package cluster

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
)

// orphamColor marks single-gene phams. White may repeat across phams;
// every other color is unique among live phams.
const orphamColor = "#FFFFFF"

// MakeColor returns a display color for a new pham. Single-gene phams
// are white; larger phams get an HSV-derived color seeded by the member
// set, nudged until it avoids every color in used. Deterministic for a
// given membership and reservation set.
func MakeColor(geneIDs []string, used map[string]bool) string {
	if len(geneIDs) == 1 {
		return orphamColor
	}

	sorted := make([]string, len(geneIDs))
	copy(sorted, geneIDs)
	sort.Strings(sorted)

	h := fnv.New64a()
	for _, id := range sorted {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	seed := h.Sum64()

	hue := float64(seed%3600) / 3600
	sat := 0.5 + float64((seed/3600)%500)/1000    // 0.5 - 1.0
	val := 0.8 + float64((seed/1800000)%200)/1000 // 0.8 - 1.0

	for i := 0; i < 3600; i++ {
		color := hexColor(hsvToRGB(math.Mod(hue+float64(i)/360, 1), sat, val))
		if color != orphamColor && !used[color] {
			return color
		}
	}
	// Hue space exhausted; fall back to the seed color.
	return hexColor(hsvToRGB(hue, sat, val))
}

func hsvToRGB(h, s, v float64) (uint8, uint8, uint8) {
	i := math.Floor(h * 6)
	f := h*6 - i
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)

	var r, g, b float64
	switch int(i) % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return uint8(r * 255), uint8(g * 255), uint8(b * 255)
}

func hexColor(r, g, b uint8) string {
	return fmt.Sprintf("#%02X%02X%02X", r, g, b)
}
