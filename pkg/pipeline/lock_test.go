package pipeline

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func (p *Pipeline) lockRefs(packetID string) int {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	if l, ok := p.writeLocks[packetID]; ok {
		return l.refs
	}
	return 0
}

var _ = Describe("write locks", func() {
	var p *Pipeline

	BeforeEach(func() {
		p = &Pipeline{writeLocks: make(map[string]*writeLock)}
	})

	It("drops the entry once the holder releases", func() {
		unlock := p.lockWrite("p1")
		Expect(p.lockRefs("p1")).To(Equal(1))

		unlock()
		p.locksMu.Lock()
		Expect(p.writeLocks).To(BeEmpty())
		p.locksMu.Unlock()
	})

	It("keeps the entry alive while another holder waits", func() {
		first := p.lockWrite("p1")

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := p.lockWrite("p1")
			unlock()
		}()

		// The waiter registers before it blocks on the mutex.
		Eventually(func() int { return p.lockRefs("p1") }).Should(Equal(2))

		first()
		wg.Wait()

		p.locksMu.Lock()
		Expect(p.writeLocks).To(BeEmpty())
		p.locksMu.Unlock()
	})

	It("tracks distinct packet ids independently", func() {
		unlockA := p.lockWrite("a")
		unlockB := p.lockWrite("b")
		Expect(p.lockRefs("a")).To(Equal(1))
		Expect(p.lockRefs("b")).To(Equal(1))

		unlockA()
		Expect(p.lockRefs("a")).To(BeZero())
		Expect(p.lockRefs("b")).To(Equal(1))

		unlockB()
		p.locksMu.Lock()
		Expect(p.writeLocks).To(BeEmpty())
		p.locksMu.Unlock()
	})
})
