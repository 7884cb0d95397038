package viz

import (
	"strings"

	"github.com/guptarohit/asciigraph"
)

type Field struct {
	Label string
	Value string
}

type Chart struct {
	Caption string
	Values  []float64
}

// Summary renders a titled panel of label/value lines followed by line
// charts. Charts with fewer than two values are skipped.
func Summary(title string, fields []Field, charts ...Chart) string {
	var s strings.Builder
	s.WriteString(Title.Render(title) + "\n\n")
	for _, f := range fields {
		s.WriteString(Metric(f.Label, f.Value) + "\n")
	}
	for _, c := range charts {
		if len(c.Values) < 2 {
			continue
		}
		plot := asciigraph.Plot(c.Values,
			asciigraph.Height(8),
			asciigraph.Width(60),
			asciigraph.Caption(c.Caption))
		s.WriteString(Graph.Render(plot) + "\n")
		s.WriteString(Sparkline(c.Values, 60) + "\n")
	}
	return Panel.Render(strings.TrimRight(s.String(), "\n"))
}
