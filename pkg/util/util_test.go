package util

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Map(t *testing.T) {
	out := Map([]string{"a", "b"}, func(s string, i uint64) string {
		return fmt.Sprintf("%d:%s", i, s)
	})
	assert.Equal(t, []string{"0:a", "1:b"}, out)
	assert.Empty(t, Map([]int(nil), func(v int, _ uint64) int { return v }))
}

func Test_Filter(t *testing.T) {
	even := Filter([]int{1, 2, 3, 4}, func(v int) bool { return v%2 == 0 })
	assert.Equal(t, []int{2, 4}, even)
	assert.Empty(t, Filter([]int{1}, func(int) bool { return false }))
}
