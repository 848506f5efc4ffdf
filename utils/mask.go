package utils

// MaskSSN renders an SSN as ***-**-1234 given its last four digits.
func MaskSSN(last4 string) string {
	if len(last4) != 4 {
		return ""
	}
	return "***-**-" + last4
}
