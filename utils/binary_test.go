package utils_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"DeploymentOrchestrator/utils"
)

type payload struct {
	Name string
	Port int
}

var _ = Describe("Store", func() {
	var store utils.Store

	BeforeEach(func() {
		store = utils.Store{Dir: filepath.Join(GinkgoT().TempDir(), "state")}
	})

	It("round-trips an object through gob", func() {
		in := payload{Name: "site", Port: 8080}
		Expect(store.Save("cid-1.gob", in)).To(Succeed())

		var out payload
		Expect(store.Load("cid-1.gob", &out)).To(Succeed())
		Expect(out).To(Equal(in))
	})

	It("creates the base directory on first save", func() {
		Expect(store.Save("cid-1.gob", payload{})).To(Succeed())
		_, err := os.Stat(store.Dir)
		Expect(err).ToNot(HaveOccurred())
	})

	It("deletes stored objects", func() {
		Expect(store.Save("cid-1.gob", payload{})).To(Succeed())
		Expect(store.Delete("cid-1.gob")).To(Succeed())

		var out payload
		Expect(store.Load("cid-1.gob", &out)).ToNot(Succeed())
	})

	It("fails to load what was never saved", func() {
		var out payload
		Expect(store.Load("missing.gob", &out)).ToNot(Succeed())
	})
})
