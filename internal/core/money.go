// Package core holds the finalized-bill data model and the money/date
// formatting used by the export engine.
//
// Money is kept as signed integer cents everywhere; formatting produces the
// decimal-comma representation mandated by the external accounting import.
package core

import "fmt"

// FormatCents renders a signed cent amount as "{euros},{two-digit cents}",
// e.g. 12345 -> "123,45", 95 -> "0,95", -140 -> "-1,40".
func FormatCents(cents int32) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d,%02d", sign, cents/100, cents%100)
}

// FormatCentsLegacyNegative reproduces the historic formatter, defective
// sign placement included: the euro part carries the sign only when it is
// non-zero and the ones digit of the fraction carries its own sign, so
// -25 renders as "0,2-5" instead of "-0,25". Positive amounts render
// identically to FormatCents. Kept selectable because downstream files
// produced by earlier releases were written this way.
func FormatCentsLegacyNegative(cents int32) string {
	tens := cents % 100
	if tens < 0 {
		tens = -tens
	}
	return fmt.Sprintf("%d,%d%d", cents/100, tens/10, cents%10)
}
