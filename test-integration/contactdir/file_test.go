package integration

import (
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/contactdir/contactdir-server/internal/status"
	"github.com/contactdir/contactdir-server/test-integration/contactdir/helpers"
)

var _ = Describe("File Source Integration", Label("file"), func() {
	var (
		tempDir      string
		contactsFile string
		server       *helpers.ServerTestHelper
	)

	BeforeEach(func() {
		tempDir = createTempDir("contactdir-file-test-")
		contactsFile = helpers.WriteContactsFile(filepath.Join(tempDir, "contacts.json"), helpers.CreateContacts(5))

		configPath := helpers.WriteConfigYAML(tempDir, fmt.Sprintf(`
directoryName: integration
source:
  type: file
  file:
    path: %s
sync:
  batchSize: 2
  intervalMinutes: 30
  schedulerEnabled: false
storage:
  type: memory
  dataDir: %s
`, contactsFile, filepath.Join(tempDir, "data")))

		server = helpers.NewServerTestHelper(ctx, configPath)
		Expect(server.StartServer()).To(Succeed())
		server.WaitForServerReady(5 * time.Second)
	})

	AfterEach(func() {
		Expect(server.StopServer()).To(Succeed())
		cleanupTempDir(tempDir)
	})

	It("starts Idle with an empty directory", func() {
		Expect(server.GetSyncState().Status).To(Equal(status.StatusIdle))
		Expect(server.ListContacts("").Contacts).To(BeEmpty())
	})

	It("imports every contact across several pages", func() {
		Expect(server.TriggerSync()).To(Equal(http.StatusAccepted))

		state := server.WaitForSyncStatus(status.StatusSuccess, 10*time.Second)
		Expect(state.RecordsProcessed).To(Equal(5))
		Expect(state.RecordsCreated).To(Equal(5))
		Expect(state.RecordsDeleted).To(BeZero())
		Expect(state.LastSyncAt).NotTo(BeNil())

		all := server.ListAllContacts(2)
		Expect(all).To(HaveLen(5))
		Expect(all[0].ExternalID).To(Equal("c001"))
		Expect(all[0].DisplayName).To(Equal("Contact 001"))
	})

	It("soft-deletes contacts that disappear from the source", func() {
		Expect(server.TriggerSync()).To(Equal(http.StatusAccepted))
		server.WaitForSyncStatus(status.StatusSuccess, 10*time.Second)

		remaining := helpers.CreateContacts(5)[:3]
		remaining[0].DisplayName = "Renamed"
		helpers.WriteContactsFile(contactsFile, remaining)

		Expect(server.TriggerSync()).To(Equal(http.StatusAccepted))
		Eventually(func() int {
			return server.GetSyncState().RecordsDeleted
		}, 10*time.Second, 25*time.Millisecond).Should(Equal(2))

		state := server.GetSyncState()
		Expect(state.Status).To(Equal(status.StatusSuccess))
		Expect(state.RecordsUpdated).To(Equal(1))
		Expect(state.RecordsCreated).To(BeZero())

		all := server.ListAllContacts(10)
		Expect(all).To(HaveLen(3))

		resp, err := server.Get("/v1/contacts/c005")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("fails without deleting anything when the source cannot be read", func() {
		Expect(server.TriggerSync()).To(Equal(http.StatusAccepted))
		server.WaitForSyncStatus(status.StatusSuccess, 10*time.Second)

		Expect(writeFile(contactsFile, "not json")).To(Succeed())

		Expect(server.TriggerSync()).To(Equal(http.StatusAccepted))
		state := server.WaitForSyncStatus(status.StatusFailed, 10*time.Second)
		Expect(state.LastError).NotTo(BeEmpty())
		Expect(state.LastErrorKind).NotTo(BeEmpty())

		Expect(server.ListAllContacts(10)).To(HaveLen(5))
	})
})
