package stream

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_CountsPerKeyAndTotal(t *testing.T) {
	tr := NewConnectionTracker()

	tr.Connect("school:a")
	tr.Connect("school:a")
	tr.Connect("class:a:1")

	stats := tr.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByKey["school:a"])
	assert.Equal(t, 1, stats.ByKey["class:a:1"])
}

func TestTracker_DisconnectNeverGoesNegative(t *testing.T) {
	tr := NewConnectionTracker()

	tr.Connect("school:a")
	tr.Disconnect("school:a")
	tr.Disconnect("school:a")
	tr.Disconnect("school:never-seen")

	stats := tr.Stats()
	assert.Equal(t, 0, stats.Total)
	assert.Empty(t, stats.ByKey)
}

func TestTracker_StatsReturnsCopy(t *testing.T) {
	tr := NewConnectionTracker()
	tr.Connect("school:a")

	stats := tr.Stats()
	stats.ByKey["school:a"] = 99

	assert.Equal(t, 1, tr.Stats().ByKey["school:a"])
}

func TestTracker_ConcurrentConnects(t *testing.T) {
	tr := NewConnectionTracker()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Connect("school:a")
			tr.Disconnect("school:a")
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, tr.Stats().Total)
}
