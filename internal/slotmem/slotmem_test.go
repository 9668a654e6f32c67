package slotmem_test

import (
	"encoding/binary"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/proxypool/internal/slotmem"
)

var _ = Describe("Table", func() {
	var table *slotmem.Table

	BeforeEach(func() {
		var err error
		table, err = slotmem.NewMemory("workers", 16, 3)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(table.Close()).To(Succeed())
	})

	Describe("Grab", func() {
		It("should hand out slots in index order", func() {
			Expect(table.Lock()).To(Succeed())
			defer table.Unlock()

			for want := 0; want < 3; want++ {
				i, err := table.Grab()
				Expect(err).NotTo(HaveOccurred())
				Expect(i).To(Equal(want))
				Expect(table.InUse(i)).To(BeTrue())
			}
		})

		It("should fail with ErrFull when every slot is taken", func() {
			Expect(table.Lock()).To(Succeed())
			defer table.Unlock()

			for i := 0; i < 3; i++ {
				_, err := table.Grab()
				Expect(err).NotTo(HaveOccurred())
			}
			_, err := table.Grab()
			Expect(err).To(MatchError(slotmem.ErrFull))
		})

		It("should reuse a freed slot", func() {
			Expect(table.Lock()).To(Succeed())
			defer table.Unlock()

			a, _ := table.Grab()
			_, _ = table.Grab()
			Expect(table.Free(a)).To(Succeed())
			Expect(table.InUse(a)).To(BeFalse())

			again, err := table.Grab()
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(Equal(a))
		})
	})

	Describe("Read and Update", func() {
		It("should return what was written", func() {
			Expect(table.Update(1, func(rec []byte) {
				binary.LittleEndian.PutUint64(rec, 42)
			})).To(Succeed())

			buf := make([]byte, table.RecordSize())
			Expect(table.Read(1, buf)).To(Succeed())
			Expect(binary.LittleEndian.Uint64(buf)).To(Equal(uint64(42)))
		})

		It("should reject indexes outside the table", func() {
			buf := make([]byte, table.RecordSize())
			Expect(table.Read(3, buf)).To(MatchError(slotmem.ErrSlot))
			Expect(table.Update(-1, func([]byte) {})).To(MatchError(slotmem.ErrSlot))
		})

		It("should never expose a torn record to readers", func() {
			const writers = 8
			const rounds = 500

			var wg sync.WaitGroup
			wg.Add(writers)
			for w := 0; w < writers; w++ {
				go func(v uint64) {
					defer wg.Done()
					for r := 0; r < rounds; r++ {
						_ = table.Update(0, func(rec []byte) {
							binary.LittleEndian.PutUint64(rec[0:], v)
							binary.LittleEndian.PutUint64(rec[8:], v)
						})
					}
				}(uint64(w))
			}

			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()

			buf := make([]byte, table.RecordSize())
			for {
				Expect(table.Read(0, buf)).To(Succeed())
				Expect(binary.LittleEndian.Uint64(buf[0:])).To(Equal(binary.LittleEndian.Uint64(buf[8:])))
				select {
				case <-done:
					return
				default:
				}
			}
		})

		It("should read-modify-write atomically", func() {
			var wg sync.WaitGroup
			for g := 0; g < 50; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = table.Update(2, func(rec []byte) {
						binary.LittleEndian.PutUint64(rec, binary.LittleEndian.Uint64(rec)+1)
					})
				}()
			}
			wg.Wait()

			buf := make([]byte, table.RecordSize())
			Expect(table.Read(2, buf)).To(Succeed())
			Expect(binary.LittleEndian.Uint64(buf)).To(Equal(uint64(50)))
		})
	})

	Describe("abandoned writes", func() {
		It("should recover a slot whose writer never finished", func() {
			DeferCleanup(slotmem.SetStaleWrite(20 * time.Millisecond))
			Expect(table.Update(1, func(rec []byte) {
				binary.LittleEndian.PutUint64(rec, 7)
			})).To(Succeed())
			table.SetSequence(1, 3)

			read := make(chan uint64, 1)
			go func() {
				defer GinkgoRecover()
				buf := make([]byte, table.RecordSize())
				Expect(table.Read(1, buf)).To(Succeed())
				read <- binary.LittleEndian.Uint64(buf)
			}()
			Eventually(read).Should(Receive(Equal(uint64(7))))

			updated := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				Expect(table.Update(1, func(rec []byte) {
					binary.LittleEndian.PutUint64(rec, 8)
				})).To(Succeed())
				close(updated)
			}()
			Eventually(updated).Should(BeClosed())
		})
	})

	Describe("ForEach", func() {
		It("should visit only in-use slots", func() {
			Expect(table.Lock()).To(Succeed())
			_, _ = table.Grab()
			b, _ := table.Grab()
			_, _ = table.Grab()
			Expect(table.Free(b)).To(Succeed())
			Expect(table.Unlock()).To(Succeed())

			var seen []int
			table.ForEach(func(i int) bool {
				seen = append(seen, i)
				return true
			})
			Expect(seen).To(Equal([]int{0, 2}))
		})
	})
})
