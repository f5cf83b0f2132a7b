package credential

import "regexp"

// Printed ID cards carry a barcode such as "STBT2123456": "ST", a programme
// code (BT, MT or MCA), an admission year digit 2-5 and a six digit
// admission number. The last six characters are that admission number.
var barcodePattern = regexp.MustCompile(`^ST(BT|MT|MCA)[2-5][0-9]{6}$`)

const admissionLen = 6

// ParseBarcode reports whether s is a printed ID barcode and, if so, returns
// the admission number it encodes.
func ParseBarcode(s string) (string, bool) {
	if !barcodePattern.MatchString(s) {
		return "", false
	}
	return s[len(s)-admissionLen:], true
}
