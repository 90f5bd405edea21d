package dict

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleEds = `
[1000]
ParameterName=Device type
DataType=0x0007
DefaultValue=0

[1200]
ParameterName=SDO server parameter
SubNumber=3

[1200sub1]
ParameterName=COB-ID client to server
DataType=0x0007
DefaultValue=0x602

[1200sub2]
ParameterName=COB-ID server to client
DataType=0x0007
DefaultValue=0x582
`

func TestParseEDSCachesIndexAndSubIndexDefaults(t *testing.T) {
	dictionary, err := ParseEDS(strings.NewReader(sampleEds), 0x02)
	assert.NoError(t, err)

	v, ok := dictionary.GetCached(Entry{Index: 0x1000, SubIndex: 0})
	assert.True(t, ok)
	assert.Equal(t, uint32(0), v)

	tx, ok := dictionary.GetCached(Entry{Index: 0x1200, SubIndex: 1})
	assert.True(t, ok)
	assert.Equal(t, uint32(0x602), tx)

	rx, ok := dictionary.GetCached(Entry{Index: 0x1200, SubIndex: 2})
	assert.True(t, ok)
	assert.Equal(t, uint32(0x582), rx)

	assert.EqualValues(t, 0x02, dictionary.NodeID())
}

func TestParseEDSIgnoresMissingDefaultValue(t *testing.T) {
	dictionary, err := ParseEDS(strings.NewReader("[2000]\nParameterName=No default\n"), 0x01)
	assert.NoError(t, err)

	_, ok := dictionary.GetCached(Entry{Index: 0x2000, SubIndex: 0})
	assert.False(t, ok)
}

func TestStaticDictionarySetAndGet(t *testing.T) {
	d := NewStaticDictionary(0x7F)
	_, ok := d.GetCached(Entry{Index: 0x1018, SubIndex: 1})
	assert.False(t, ok)

	d.Set(Entry{Index: 0x1018, SubIndex: 1}, 0xCAFE)
	v, ok := d.GetCached(Entry{Index: 0x1018, SubIndex: 1})
	assert.True(t, ok)
	assert.Equal(t, uint32(0xCAFE), v)
}
