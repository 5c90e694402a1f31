// Package sequence allocates human-readable sequential codes such as
// appointment numbers (A007), invoice numbers (INV-2026-00012) and queue
// tokens (F2-014).
package sequence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Well-known code prefixes and widths.
const (
	AppointmentPrefix = "A"
	AppointmentWidth  = 3

	TokenWidth = 3

	DeathCertificateBase  = "DC"
	DeathCertificateWidth = 6
	AdmissionBase         = "IPD"
	AdmissionWidth        = 6
	LabOrderBase          = "LAB"
	InvoiceBase           = "INV"
	PurchaseOrderBase     = "PO"
	ERVisitBase           = "ER"
	TicketBase            = "TKT"
	YearlyWidth           = 5
)

// Format renders prefix followed by n zero-padded to width digits.
// Numbers wider than width are printed in full.
func Format(prefix string, n, width int) string {
	return fmt.Sprintf("%s%0*d", prefix, width, n)
}

// Suffix returns the trailing integer of code, or 0 when code has no
// trailing digits.
func Suffix(code string) int {
	i := len(code)
	for i > 0 && code[i-1] >= '0' && code[i-1] <= '9' {
		i--
	}
	if i == len(code) {
		return 0
	}
	n, err := strconv.Atoi(code[i:])
	if err != nil {
		return 0
	}
	return n
}

// Next returns the code following last. An empty last starts at 1.
func Next(last, prefix string, width int) string {
	if last == "" {
		return Format(prefix, 1, width)
	}
	return Format(prefix, Suffix(last)+1, width)
}

// YearPrefix builds "BASE-YYYY-". Codes restart at 1 each calendar year
// because the last code is looked up within the prefix.
func YearPrefix(base string, t time.Time) string {
	return fmt.Sprintf("%s-%d-", base, t.Year())
}

// ExpandTemplate fills the {floor} and {code} placeholders of a token prefix
// template such as "F{floor}".
func ExpandTemplate(tpl string, floor int, code string) string {
	r := strings.NewReplacer("{floor}", strconv.Itoa(floor), "{code}", code)
	return r.Replace(tpl)
}

// TokenNumber renders "<prefix>-NNN".
func TokenNumber(prefix string, seq int) string {
	return Format(prefix+"-", seq, TokenWidth)
}
