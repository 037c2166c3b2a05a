package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONDecoder_Null(t *testing.T) {
	for _, raw := range []string{"", "null", "  null  "} {
		p, err := JSONDecoder{}.Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, KindNull, p.Kind)
	}
}

func TestJSONDecoder_ObjectPreservesKeyOrderAndNumberKinds(t *testing.T) {
	p, err := JSONDecoder{}.Decode(`{"id":5,"name":"Tree 1","weight":1.5}`)
	require.NoError(t, err)
	require.Equal(t, KindObject, p.Kind)
	require.Len(t, p.Object, 3)

	assert.Equal(t, "id", p.Object[0].Key)
	assert.Equal(t, "name", p.Object[1].Key)
	assert.Equal(t, "weight", p.Object[2].Key)

	id, ok := p.Get("id")
	require.True(t, ok)
	assert.Equal(t, int64(5), id.Scalar)

	weight, ok := p.Get("weight")
	require.True(t, ok)
	assert.Equal(t, 1.5, weight.Scalar)
}

func TestJSONDecoder_ScalarArray(t *testing.T) {
	p, err := JSONDecoder{}.Decode(`["Palm","Arecaceae"]`)
	require.NoError(t, err)
	require.Equal(t, KindArray, p.Kind)
	require.Len(t, p.Array, 2)
	assert.Equal(t, "Palm", p.Array[0].Scalar)
	assert.Equal(t, "Arecaceae", p.Array[1].Scalar)
}

func TestJSONDecoder_ObjectArray(t *testing.T) {
	p, err := JSONDecoder{}.Decode(`[{"id":1,"name":"warm-climate"},{"id":2,"name":"green-leaves"}]`)
	require.NoError(t, err)
	require.Equal(t, KindArray, p.Kind)
	require.Len(t, p.Array, 2)
	assert.Equal(t, KindObject, p.Array[0].Kind)

	name, ok := p.Array[1].Get("name")
	require.True(t, ok)
	assert.Equal(t, "green-leaves", name.Scalar)
}

func TestJSONDecoder_IntegerVsRealDistinct(t *testing.T) {
	intPayload, err := JSONDecoder{}.Decode(`42`)
	require.NoError(t, err)
	realPayload, err := JSONDecoder{}.Decode(`42.0`)
	require.NoError(t, err)

	assert.IsType(t, int64(0), intPayload.Scalar)
	assert.IsType(t, float64(0), realPayload.Scalar)
}
