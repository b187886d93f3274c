package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/fastprodman/purchaseledger/internal/config"
	waljournal "github.com/fastprodman/purchaseledger/internal/repos/journal/wal"
	"github.com/fastprodman/purchaseledger/internal/services/ledger"
)

func TestJournalcat(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Journalcat Suite")
}

var _ = Describe("Parsing", func() {
	It("parses a fully populated dump command line", func() {
		args, err := parseArgs([]string{
			"--backend", "badger",
			"--path", "/tmp/j",
			"dump",
			"--steamID", "42",
			"--kind", "reserved",
			"--kind", "committed",
			"--json",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(args.command).To(Equal("dump"))
		Expect(args.backend).To(Equal(config.BackendBadger))
		Expect(args.path).To(Equal("/tmp/j"))
		Expect(args.steamID).To(Equal("42"))
		Expect(args.kinds).To(Equal([]string{"reserved", "committed"}))
		Expect(args.asJSON).To(BeTrue())
	})

	It("rejects unknown kinds", func() {
		_, err := parseArgs([]string{"dump", "--kind", "refunded"})
		Expect(err).To(HaveOccurred())
	})

	It("requires a DSN for postgres", func() {
		_, err := parseArgs([]string{"--backend", "postgres", "--dsn", "", "verify"})
		Expect(err).To(MatchError(ContainSubstring("--dsn")))
	})
})

var _ = Describe("Executing", func() {
	var (
		dir string
		out *bytes.Buffer
		ctx context.Context
	)

	BeforeEach(func() {
		var err error

		dir, err = os.MkdirTemp("", "journalcat")
		Expect(err).NotTo(HaveOccurred())

		out = &bytes.Buffer{}
		ctx = context.Background()

		j, err := waljournal.Open(dir)
		Expect(err).NotTo(HaveOccurred())

		led := ledger.New(j, config.Currencies{{ID: "Askal_Coin", Start: 1000}})

		id, err := led.Reserve(ctx, "1", "Askal_Coin", 300)
		Expect(err).NotTo(HaveOccurred())
		Expect(led.Commit(ctx, id)).To(Succeed())

		_, err = led.Reserve(ctx, "2", "Askal_Coin", 50)
		Expect(err).NotTo(HaveOccurred())

		Expect(j.Close()).To(Succeed())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	run := func(argv ...string) error {
		args, err := parseArgs(append([]string{"--path", dir}, argv...))
		Expect(err).NotTo(HaveOccurred())

		return args.execute(ctx, out)
	}

	It("dumps every record", func() {
		Expect(run("dump")).To(Succeed())

		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		Expect(lines).To(HaveLen(5))
		Expect(lines[0]).To(ContainSubstring("opened"))
		Expect(lines[2]).To(ContainSubstring("committed"))
	})

	It("filters and encodes JSON", func() {
		Expect(run("dump", "--steamID", "2", "--kind", "reserved", "--json")).To(Succeed())

		var rec jsonRecord
		Expect(json.Unmarshal(out.Bytes(), &rec)).To(Succeed())
		Expect(rec.Sequence).To(Equal(uint64(5)))
		Expect(rec.Kind).To(Equal("reserved"))
		Expect(rec.Amount).To(Equal(int64(50)))
	})

	It("replays balances and pending reservations", func() {
		Expect(run("replay")).To(Succeed())

		Expect(out.String()).To(ContainSubstring("1/Askal_Coin 700"))
		Expect(out.String()).To(ContainSubstring("2/Askal_Coin 950 (pending reservation 2)"))
		Expect(out.String()).To(ContainSubstring("pending reservations: 1"))
	})

	It("verifies a consistent journal", func() {
		Expect(run("verify")).To(Succeed())
		Expect(out.String()).To(HavePrefix("ok: 5 records"))
	})
})
