package utils

import (
	"fmt"
	"strings"
)

// MaskCard renders a card for logs and responses, e.g. "411111******1111".
// Only the BIN and last four digits are ever stored, so the middle is always masked.
func MaskCard(bin, last4 string) string {
	const panLength = 16
	fill := panLength - len(bin) - len(last4)
	if fill < 0 {
		fill = 0
	}
	return bin + strings.Repeat("*", fill) + last4
}

// CardLabel returns a short human label such as "VISA ••1111"
func CardLabel(network, last4 string) string {
	return fmt.Sprintf("%s ••%s", strings.ToUpper(network), last4)
}
