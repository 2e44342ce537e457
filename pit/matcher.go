package pit

import "strings"

// Match is the resolved destination of a firmware member: a partition ID
// and device type pair, adopted either from a PIT entry or the
// filename-fallback heuristic (spec.md §4.5).
type Match struct {
	PartitionID uint32
	DeviceType  uint32
}

var compressionOrImageSuffixes = []string{".lz4", ".gz", ".img", ".bin"}

// base strips every trailing compression/image suffix from a member name,
// one at a time, so a stacked name like "boot.img.lz4" reduces fully to
// "boot" rather than stopping after the first suffix (spec.md §4.5/§8's
// S4 example).
func base(n string) string {
	for {
		stripped := false
		for _, suf := range compressionOrImageSuffixes {
			if strings.HasSuffix(strings.ToLower(n), suf) {
				n = n[:len(n)-len(suf)]
				stripped = true
				break
			}
		}
		if !stripped {
			return n
		}
	}
}

// stripImgBin strips only .img/.bin, used when comparing against an
// entry's flash_filename which may itself carry one of those suffixes.
func stripImgBin(n string) string {
	lower := strings.ToLower(n)
	if strings.HasSuffix(lower, ".img") || strings.HasSuffix(lower, ".bin") {
		return n[:len(n)-4]
	}
	return n
}

func normalizeDash(s string) string {
	return strings.ReplaceAll(s, "-", "_")
}

// MatchMember resolves a firmware member name against a PIT using the
// four-rule precedence order from spec.md §4.5. p may be nil, in which
// case the filename-based heuristic is used.
func MatchMember(name string, p *Pit) Match {
	if p != nil {
		b := base(name)
		for _, e := range p.Entries {
			if strings.EqualFold(name, e.FlashFilename) {
				return Match{e.PartitionID, e.DeviceType}
			}
		}
		for _, e := range p.Entries {
			if b == stripImgBin(e.FlashFilename) {
				return Match{e.PartitionID, e.DeviceType}
			}
		}
		for _, e := range p.Entries {
			if b == e.PartitionName {
				return Match{e.PartitionID, e.DeviceType}
			}
		}
		nb := normalizeDash(b)
		for _, e := range p.Entries {
			if nb == normalizeDash(e.PartitionName) || nb == normalizeDash(stripImgBin(e.FlashFilename)) {
				return Match{e.PartitionID, e.DeviceType}
			}
		}
	}
	return heuristicMatch(name)
}

// heuristicMatch is used when no PIT is available.
func heuristicMatch(name string) Match {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "recovery"):
		return Match{10, 2}
	case strings.Contains(lower, "sboot"), strings.Contains(lower, "bootloader"), strings.Contains(lower, "bl"):
		return Match{80, 2}
	case strings.Contains(lower, "boot"):
		return Match{3, 2}
	case strings.Contains(lower, "modem"), strings.Contains(lower, "radio"), strings.Contains(lower, "cp"):
		return Match{11, 2}
	default:
		return Match{0, 2}
	}
}
