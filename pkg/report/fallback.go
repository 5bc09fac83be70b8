package report

import (
	"fmt"
	"strings"

	"github.com/nebelbild/data-analysis/pkg/dataset"
)

// Fallback composes a basic statistical report from a dataset summary and
// any figures the built-in charts produced. It is used when every generated
// task failed, so the wording avoids claiming any model-driven analysis.
func Fallback(request string, s *dataset.Summary, figures []string) string {
	var b strings.Builder

	b.WriteString("# Data Analysis Report\n\n")
	b.WriteString("The requested analysis could not be completed, so this report ")
	b.WriteString("contains an automatic statistical overview of the uploaded data.\n\n")

	if request != "" {
		fmt.Fprintf(&b, "**Original request:** %s\n\n", request)
	}

	b.WriteString("## Dataset Overview\n\n")
	fmt.Fprintf(&b, "- File: `%s`\n", s.Name)
	fmt.Fprintf(&b, "- Rows: %d\n", s.RowCount)
	fmt.Fprintf(&b, "- Columns: %d\n", s.ColumnCount)
	fmt.Fprintf(&b, "- Missing values: %d\n\n", s.Missing)

	if len(s.Numeric) > 0 {
		b.WriteString("## Numeric Columns\n\n")
		b.WriteString("| Column | Count | Mean | Std | Min | Max |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, c := range s.Numeric {
			fmt.Fprintf(&b, "| %s | %d | %.4g | %.4g | %.4g | %.4g |\n",
				c.Name, c.Count, c.Mean, c.Std, c.Min, c.Max)
		}
		b.WriteString("\n")
	}

	if len(s.Categorical) > 0 {
		b.WriteString("## Categorical Columns\n\n")
		for _, name := range s.Categorical {
			fmt.Fprintf(&b, "- %s\n", name)
		}
		b.WriteString("\n")
	}

	if len(figures) > 0 {
		b.WriteString("## Figures\n\n")
		for _, name := range figures {
			fmt.Fprintf(&b, "![%s](%s)\n\n", name, name)
		}
	}

	return b.String()
}
