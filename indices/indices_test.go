package indices_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/indices"
	"github.com/frobware/go-saiagent/sai"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAddAndRemovePort(t *testing.T) {
	idx := indices.New()
	idx.AddPort(0x1001, 7, 100)

	id, ok := idx.PortID(0x1001)
	assert.True(t, ok)
	assert.Equal(t, saiagent.PortID(7), id)
	hw, ok := idx.PortSaiID(7)
	assert.True(t, ok)
	assert.Equal(t, sai.ObjectID(0x1001), hw)
	vlan, ok := idx.VlanID(0x1001)
	assert.True(t, ok)
	assert.Equal(t, saiagent.VlanID(100), vlan)

	idx.RemovePort(0x1001, 7)
	_, ok = idx.PortID(0x1001)
	assert.False(t, ok)
	assert.Equal(t, 0, idx.Len())
}

func TestConcurrentReadersDuringWrites(t *testing.T) {
	idx := indices.New()
	const ports = 256

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for hw := sai.ObjectID(1); hw <= ports; hw++ {
					if id, ok := idx.PortID(hw); ok {
						// Entries are only ever written with
						// matching ids.
						if uint64(id) != uint64(hw) {
							t.Errorf("port %s resolved to %d", hw, id)
							return
						}
					}
				}
			}
		}()
	}

	for round := 0; round < 20; round++ {
		for hw := sai.ObjectID(1); hw <= ports; hw++ {
			idx.AddPort(hw, saiagent.PortID(hw), 1)
		}
		for hw := sai.ObjectID(1); hw <= ports; hw += 2 {
			idx.RemovePort(hw, saiagent.PortID(hw))
		}
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, ports/2, idx.Len())
}
