package dict

import (
	"regexp"
	"strconv"

	"gopkg.in/ini.v1"
)

var matchIdxRegExp = regexp.MustCompile(`^[0-9A-Fa-f]{4}$`)
var matchSubidxRegExp = regexp.MustCompile(`^([0-9A-Fa-f]{4})sub([0-9A-Fa-f]+)$`)

// ParseEDS loads an EDS/DCF (INI-formatted) object dictionary file and
// caches every entry whose DefaultValue parses as an unsigned integer.
// This is intentionally shallow compared to a full EDS parser: the SDO
// client only ever looks up cached scalar COB-ID entries (0x1200 sub
// 1/2), never typed object values.
func ParseEDS(file any, nodeId uint8) (*StaticDictionary, error) {
	edsFile, err := ini.Load(file)
	if err != nil {
		return nil, err
	}
	dictionary := NewStaticDictionary(nodeId)

	var currentIndex uint16
	for _, section := range edsFile.Sections() {
		name := section.Name()
		switch {
		case matchIdxRegExp.MatchString(name):
			idx, err := strconv.ParseUint(name, 16, 16)
			if err != nil {
				return nil, err
			}
			currentIndex = uint16(idx)
			cacheDefaultValue(dictionary, Entry{Index: currentIndex, SubIndex: 0}, section)

		case matchSubidxRegExp.MatchString(name):
			groups := matchSubidxRegExp.FindStringSubmatch(name)
			idx, err := strconv.ParseUint(groups[1], 16, 16)
			if err != nil {
				return nil, err
			}
			sub, err := strconv.ParseUint(groups[2], 16, 8)
			if err != nil {
				return nil, err
			}
			cacheDefaultValue(dictionary, Entry{Index: uint16(idx), SubIndex: uint8(sub)}, section)
		}
	}
	return dictionary, nil
}

func cacheDefaultValue(dictionary *StaticDictionary, entry Entry, section *ini.Section) {
	key := section.Key("DefaultValue")
	if key == nil || key.String() == "" {
		return
	}
	value, err := strconv.ParseUint(key.String(), 0, 32)
	if err != nil {
		return
	}
	dictionary.Set(entry, uint32(value))
}
