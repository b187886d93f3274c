package journal_test

import (
	"context"
	"io/ioutil"
	"os"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/fastprodman/purchaseledger/internal/repos/journal"
	waljournal "github.com/fastprodman/purchaseledger/internal/repos/journal/wal"
)

func reserved(steamID string, id uint64, amount int64) journal.Record {
	return journal.Record{
		Kind:          journal.KindReserved,
		ReservationID: id,
		SteamID:       steamID,
		CurrencyID:    "Askal_Coin",
		Amount:        amount,
	}
}

var _ = Describe("Journal", func() {
	var (
		tmpDir string
		j      *waljournal.Journal
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = ioutil.TempDir("", "journal-wal")
		Expect(err).NotTo(HaveOccurred())

		j, err = waljournal.Open(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		ctx = context.Background()
	})

	AfterEach(func() {
		if j != nil {
			j.Close()
		}

		os.RemoveAll(tmpDir)
	})

	It("starts empty", func() {
		recs, err := journal.Collect(ctx, j)
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(BeEmpty())
	})

	It("assigns gapless sequences starting at 1", func() {
		for i := uint64(1); i <= 3; i++ {
			rec, err := j.Append(ctx, reserved("1", i, int64(i*10)))
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Sequence).To(Equal(i))
			Expect(rec.Timestamp.IsZero()).To(BeFalse())
		}

		recs, err := journal.Collect(ctx, j)
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(HaveLen(3))
		Expect(recs[2].Amount).To(Equal(int64(30)))
	})

	It("survives a reopen and continues the sequence", func() {
		first, err := j.Append(ctx, reserved("1", 1, 10))
		Expect(err).NotTo(HaveOccurred())
		Expect(j.Close()).To(Succeed())

		j, err = waljournal.Open(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		recs, err := journal.Collect(ctx, j)
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(HaveLen(1))
		Expect(recs[0].Sequence).To(Equal(first.Sequence))
		Expect(recs[0].SteamID).To(Equal("1"))
		Expect(recs[0].Timestamp.Equal(first.Timestamp)).To(BeTrue())

		second, err := j.Append(ctx, reserved("2", 2, 20))
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Sequence).To(Equal(uint64(2)))
	})

	It("rejects invalid records without consuming a sequence", func() {
		_, err := j.Append(ctx, journal.Record{Kind: journal.KindReserved, SteamID: "1", CurrencyID: "Askal_Coin"})
		Expect(err).To(MatchError(ContainSubstring("without reservation id")))

		rec, err := j.Append(ctx, reserved("1", 1, 10))
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Sequence).To(Equal(uint64(1)))
	})

	It("refuses appends after close", func() {
		Expect(j.Close()).To(Succeed())
		Expect(j.Close()).To(Succeed())

		_, err := j.Append(ctx, reserved("1", 1, 10))
		Expect(err).To(Equal(journal.ErrClosed))
	})

	It("stops reading when the consumer stops", func() {
		for i := uint64(1); i <= 5; i++ {
			_, err := j.Append(ctx, reserved("1", i, 1))
			Expect(err).NotTo(HaveOccurred())
		}

		seen := 0
		for _, err := range j.ReadAll(ctx) {
			Expect(err).NotTo(HaveOccurred())

			seen++
			if seen == 2 {
				break
			}
		}

		Expect(seen).To(Equal(2))
	})
})
