package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap(t *testing.T) {
	m := NewMap[string, []int]()

	_, ok := m.Get("file:///Cargo.toml")
	assert.False(t, ok)

	m.Put("file:///Cargo.toml", []int{1})
	m.Put("file:///pom.xml", []int{2})
	m.Put("file:///Cargo.toml", []int{3})

	v, ok := m.Get("file:///Cargo.toml")
	assert.True(t, ok)
	assert.Equal(t, []int{3}, v)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, []string{"file:///Cargo.toml", "file:///pom.xml"}, m.Keys(func(a, b string) bool { return a < b }))

	m.Delete("file:///Cargo.toml")
	assert.Equal(t, 1, m.Len())
}

func TestMapConcurrentWriters(t *testing.T) {
	m := NewMap[string, int]()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("doc-%d", i%10)
			m.Put(key, i)
			_, _ = m.Get(key)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, m.Len())
}
