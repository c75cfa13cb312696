package format

import "fmt"

const (
	Byte     = 1
	KiloByte = Byte * 1000
	MegaByte = KiloByte * 1000
	GigaByte = MegaByte * 1000
	TeraByte = GigaByte * 1000
)

var byteUnits = []struct {
	size int64
	name string
}{
	{TeraByte, "TB"},
	{GigaByte, "GB"},
	{MegaByte, "MB"},
	{KiloByte, "KB"},
}

// HumanBytes formats a file size in decimal units with one fractional digit.
func HumanBytes(b int64) string {
	for _, u := range byteUnits {
		if b > u.size {
			return fmt.Sprintf("%.1f %s", float64(b)/float64(u.size), u.name)
		}
	}
	return fmt.Sprintf("%d B", b)
}
