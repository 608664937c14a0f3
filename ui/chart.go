package ui

import (
	"strings"

	"github.com/ftahirops/xconn/engine"
	"github.com/ftahirops/xconn/util"
)

var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// resampleData reduces data to fit targetWidth columns by averaging buckets.
func resampleData(data []float64, targetWidth int) []float64 {
	if len(data) <= targetWidth || targetWidth <= 0 {
		return data
	}
	result := make([]float64, targetWidth)
	for i := 0; i < targetWidth; i++ {
		srcStart := i * len(data) / targetWidth
		srcEnd := (i + 1) * len(data) / targetWidth
		if srcStart >= srcEnd {
			srcEnd = srcStart + 1
		}
		sum := float64(0)
		for j := srcStart; j < srcEnd; j++ {
			sum += data[j]
		}
		result[i] = sum / float64(srcEnd-srcStart)
	}
	return result
}

// sparkline renders data as a single line of block characters scaled to
// the largest value.
func sparkline(data []float64, width int) string {
	data = resampleData(data, width)
	maxVal := float64(0)
	for _, v := range data {
		if v > maxVal {
			maxVal = v
		}
	}
	var sb strings.Builder
	for i := len(data); i < width; i++ {
		sb.WriteRune(sparkBlocks[0])
	}
	for _, v := range data {
		idx := 0
		if maxVal > 0 {
			idx = int(v / maxVal * float64(len(sparkBlocks)-1))
		}
		if idx < 0 {
			idx = 0
		}
		sb.WriteRune(sparkBlocks[idx])
	}
	return sb.String()
}

// renderThroughput shows upload and download sparklines with the latest rate.
func renderThroughput(samples []engine.Sample, width int) string {
	up := make([]float64, len(samples))
	down := make([]float64, len(samples))
	var last engine.Sample
	for i, s := range samples {
		up[i] = float64(s.Upload)
		down[i] = float64(s.Download)
		last = s
	}
	sparkW := (width - 40) / 2
	if sparkW > 60 {
		sparkW = 60
	}
	if sparkW < 8 {
		return kv("speed", util.FormatSpeed(last.Upload, last.Download))
	}
	return labelStyle.Render("up ") + okStyle.Render(sparkline(up, sparkW)) + " " +
		valueStyle.Render(padRight(util.FormatTraffic(last.Upload)+"/s", 12)) + "  " +
		labelStyle.Render("down ") + okStyle.Render(sparkline(down, sparkW)) + " " +
		valueStyle.Render(util.FormatTraffic(last.Download)+"/s")
}
