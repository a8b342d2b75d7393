package wire

import (
	"strconv"
	"strings"
)

// BuildConfig renders the one outbound frame of a session:
//
//	CONFIG,<runways>,<planes>,<p1>,...,<pN>\r\n
//
// It refuses to emit a message whose priorities disagree with planes or
// are not unique positive integers.
func BuildConfig(runways, planes int, priorities []int) ([]byte, error) {
	if err := ValidateConfig(runways, planes, priorities); err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString(tokenConfig)
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(runways))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(planes))
	for _, p := range priorities {
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(p))
	}
	b.WriteString("\r\n")
	return []byte(b.String()), nil
}

// ValidateConfig checks session parameters before anything is sent.
func ValidateConfig(runways, planes int, priorities []int) error {
	if runways <= 0 {
		return &ConfigurationError{Field: "runways", Reason: "must be positive"}
	}
	if planes <= 0 {
		return &ConfigurationError{Field: "planes", Reason: "must be positive"}
	}
	if len(priorities) != planes {
		return &ConfigurationError{
			Field:  "priorities",
			Reason: "expected " + strconv.Itoa(planes) + " values, got " + strconv.Itoa(len(priorities)),
		}
	}
	seen := make(map[int]struct{}, len(priorities))
	for i, p := range priorities {
		if p <= 0 {
			return &ConfigurationError{
				Field:  "priorities",
				Reason: "plane " + strconv.Itoa(i+1) + " has non-positive priority " + strconv.Itoa(p),
			}
		}
		if _, dup := seen[p]; dup {
			return &ConfigurationError{
				Field:  "priorities",
				Reason: "priority " + strconv.Itoa(p) + " is used more than once",
			}
		}
		seen[p] = struct{}{}
	}
	return nil
}
