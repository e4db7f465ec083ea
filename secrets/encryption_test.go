package secrets_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"DeploymentOrchestrator/secrets"
)

var _ = Describe("Encryption", func() {
	It("round-trips a value under a generated key", func() {
		key, err := secrets.GenerateKey()
		Expect(err).ToNot(HaveOccurred())

		cipherText, err := secrets.Encrypt("hunter2", key)
		Expect(err).ToNot(HaveOccurred())
		Expect(cipherText).ToNot(Equal("hunter2"))

		plainText, err := secrets.Decrypt(cipherText, key)
		Expect(err).ToNot(HaveOccurred())
		Expect(plainText).To(Equal("hunter2"))
	})

	It("generates a distinct key per call", func() {
		a, err := secrets.GenerateKey()
		Expect(err).ToNot(HaveOccurred())
		b, err := secrets.GenerateKey()
		Expect(err).ToNot(HaveOccurred())
		Expect(a).ToNot(Equal(b))
	})

	It("refuses to decrypt under the wrong key", func() {
		key1, _ := secrets.GenerateKey()
		key2, _ := secrets.GenerateKey()

		cipherText, err := secrets.Encrypt("hunter2", key1)
		Expect(err).ToNot(HaveOccurred())

		_, err = secrets.Decrypt(cipherText, key2)
		Expect(err).To(HaveOccurred())
	})

	It("rejects truncated cipher text", func() {
		key, _ := secrets.GenerateKey()
		_, err := secrets.Decrypt("c2hvcnQ=", key)
		Expect(err).To(HaveOccurred())
	})
})
