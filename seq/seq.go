// Package seq implements the run-encoded sequence-list codec used by REQ
// packets: a compact representation of a set of 15-bit sequence numbers.
//
// The domain is [0, 0x8000); the top bit (0x8000) is reserved as a range
// marker and must never appear in a caller-supplied sequence number.
package seq

import (
	"sort"

	"github.com/relidp/relidp/rerr"
)

// Marker is the bit that flags a zipped value as a run endpoint rather than
// a singleton.
const Marker uint16 = 0x8000

// Max is one past the largest value the codec accepts as raw input.
const Max uint16 = 0x8000

// Zip compresses a set of sequence numbers into the run-encoded wire form.
// Values are sorted and deduplicated first. A maximal run of two or more
// consecutive integers is emitted as a marked (start, end) pair; a singleton
// is emitted unmarked. Zip returns rerr.ErrInvalidInput if any input value
// has the marker bit set.
func Zip(values []uint16) ([]uint16, error) {
	sorted := dedupeSort(values)
	for _, v := range sorted {
		if v&Marker != 0 {
			return nil, rerr.Wrap(rerr.InvalidInput, nil, "sequence value %#x has marker bit set", v)
		}
	}
	if len(sorted) == 0 {
		return nil, nil
	}

	out := make([]uint16, 0, len(sorted))
	i := 0
	for i < len(sorted) {
		start := sorted[i]
		end := start
		j := i + 1
		for j < len(sorted) && sorted[j] == end+1 {
			end = sorted[j]
			j++
		}
		if end > start {
			out = append(out, start|Marker, end|Marker)
		} else {
			out = append(out, start)
		}
		i = j
	}
	return out, nil
}

// Unzip expands a run-encoded wire list back into the full set of sequence
// numbers, sorted ascending with duplicates removed. A marked value
// immediately followed by another marked value is a closed range [a, b]
// (both masked of the marker bit). A marked value not followed by another
// marked value decays to its masked form; the following value is left for
// normal processing rather than being consumed.
func Unzip(values []uint16) []uint16 {
	sorted := dedupeSort(values)

	var out []uint16
	for i := 0; i < len(sorted); {
		v := sorted[i]
		if v&Marker == 0 {
			out = append(out, v)
			i++
			continue
		}
		if i+1 < len(sorted) && sorted[i+1]&Marker != 0 {
			a, b := v&^Marker, sorted[i+1]&^Marker
			for x := a; x <= b; x++ {
				out = append(out, x)
				if x == 0xFFFF {
					break
				}
			}
			i += 2
			continue
		}
		out = append(out, v&^Marker)
		i++
	}
	return dedupeSort(out)
}

func dedupeSort(values []uint16) []uint16 {
	if len(values) == 0 {
		return nil
	}
	cp := append([]uint16(nil), values...)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	out := cp[:1]
	for _, v := range cp[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
