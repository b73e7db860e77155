package contract

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/avandelay-labs/refinery/internal/domain"
)

// Failure records one failed contract attempt for hint construction.
type Failure struct {
	// Raw is the model's full response for that attempt.
	Raw string

	// Violation is the single-line parse or schema failure description.
	Violation string
}

// rawExcerptLimit bounds how much of a failing response is echoed back in
// a correction hint.
const rawExcerptLimit = 1500

// BuildPrompt constructs the attempt prompt from the base prompt, the
// contract, and every prior failure. Pure: identical inputs always yield
// the identical prompt, so correction behavior is reproducible.
//
// Hints escalate with the failure count. The first retry restates the
// format requirement and names the violation; later retries also echo the
// failing output and demand a bare JSON response.
func BuildPrompt(base string, c *domain.OutputContract, failures []Failure) string {
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\n")
	writeFormatInstructions(&b, c)

	if len(failures) == 0 {
		return b.String()
	}

	last := failures[len(failures)-1]
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Your previous response did not satisfy the required format (%s).\n", last.Violation)

	if len(failures) == 1 {
		b.WriteString("Correct the issue and respond again, following the schema exactly.")
		return b.String()
	}

	fmt.Fprintf(&b, "This is correction attempt %d. Your previous response was:\n\n%s\n\n",
		len(failures)+1, excerpt(last.Raw, rawExcerptLimit))
	b.WriteString("Respond with ONLY the JSON object. No prose, no explanation, no markdown fences. ")
	b.WriteString("Every required property must be present and every value must match its declared type.")
	return b.String()
}

func writeFormatInstructions(b *strings.Builder, c *domain.OutputContract) {
	switch c.Format {
	case domain.FormatStructuredText:
		b.WriteString("Include in your response a JSON object conforming to this JSON Schema:\n")
	default:
		b.WriteString("Respond with a single JSON object conforming to this JSON Schema:\n")
	}
	b.Write(c.Schema)
}

// excerpt truncates on a rune boundary so a multi-byte character is never
// split mid-sequence.
func excerpt(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + "..."
}
