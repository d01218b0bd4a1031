package integration

import (
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	pkgsync "github.com/contactdir/contactdir-server/internal/sync"
	"github.com/contactdir/contactdir-server/internal/status"
	"github.com/contactdir/contactdir-server/test-integration/contactdir/helpers"
)

var _ = Describe("API Source Integration", Label("api"), func() {
	var (
		tempDir string
		remote  *helpers.FakeRemote
		server  *helpers.ServerTestHelper
	)

	BeforeEach(func() {
		tempDir = createTempDir("contactdir-api-test-")
		remote = helpers.NewFakeRemote(helpers.CreateContacts(7))

		configPath := helpers.WriteConfigYAML(tempDir, fmt.Sprintf(`
directoryName: integration
source:
  type: api
  api:
    endpoint: %s
    pagePath: /contacts
    timeout: 5s
sync:
  batchSize: 3
  intervalMinutes: 30
  schedulerEnabled: false
storage:
  type: sqlite
  dataDir: %s
`, remote.URL(), filepath.Join(tempDir, "data")))

		server = helpers.NewServerTestHelper(ctx, configPath)
		Expect(server.StartServer()).To(Succeed())
		server.WaitForServerReady(5 * time.Second)
	})

	AfterEach(func() {
		remote.Close()
		Expect(server.StopServer()).To(Succeed())
		cleanupTempDir(tempDir)
	})

	Context("Pagination", func() {
		It("follows the provider cursor until the last page", func() {
			Expect(server.TriggerSync()).To(Equal(http.StatusAccepted))

			state := server.WaitForSyncStatus(status.StatusSuccess, 10*time.Second)
			Expect(state.RecordsProcessed).To(Equal(7))
			Expect(state.RecordsCreated).To(Equal(7))
			Expect(remote.Requests()).To(Equal(3))

			Expect(server.ListAllContacts(4)).To(HaveLen(7))
		})

		It("does not rewrite unchanged contacts on the next pull", func() {
			Expect(server.TriggerSync()).To(Equal(http.StatusAccepted))
			server.WaitForSyncStatus(status.StatusSuccess, 10*time.Second)
			first := server.ListAllContacts(10)

			Expect(server.TriggerSync()).To(Equal(http.StatusAccepted))
			Eventually(func() int {
				return remote.Requests()
			}, 10*time.Second, 25*time.Millisecond).Should(Equal(6))
			state := server.WaitForSyncStatus(status.StatusSuccess, 10*time.Second)
			Expect(state.RecordsCreated).To(BeZero())
			Expect(state.RecordsUpdated).To(BeZero())

			second := server.ListAllContacts(10)
			Expect(second).To(HaveLen(len(first)))
			for i := range first {
				Expect(second[i].ID).To(Equal(first[i].ID))
				Expect(second[i].UpdatedAt).To(BeTemporally("==", first[i].UpdatedAt))
			}
		})
	})

	Context("Deletion", func() {
		It("soft-deletes contacts missing from a later complete pull", func() {
			Expect(server.TriggerSync()).To(Equal(http.StatusAccepted))
			server.WaitForSyncStatus(status.StatusSuccess, 10*time.Second)

			remote.SetRecords(helpers.CreateContacts(4))
			Expect(server.TriggerSync()).To(Equal(http.StatusAccepted))
			Eventually(func() int {
				return server.GetSyncState().RecordsDeleted
			}, 10*time.Second, 25*time.Millisecond).Should(Equal(3))

			Expect(server.ListAllContacts(10)).To(HaveLen(4))
		})

		It("restores a contact that comes back", func() {
			Expect(server.TriggerSync()).To(Equal(http.StatusAccepted))
			server.WaitForSyncStatus(status.StatusSuccess, 10*time.Second)

			remote.SetRecords(helpers.CreateContacts(6))
			Expect(server.TriggerSync()).To(Equal(http.StatusAccepted))
			Eventually(func() int {
				return server.GetSyncState().RecordsDeleted
			}, 10*time.Second, 25*time.Millisecond).Should(Equal(1))
			server.WaitForSyncStatus(status.StatusSuccess, 10*time.Second)

			remote.SetRecords(helpers.CreateContacts(7))
			Expect(server.TriggerSync()).To(Equal(http.StatusAccepted))
			Eventually(func() int {
				return server.GetSyncState().RecordsUpdated
			}, 10*time.Second, 25*time.Millisecond).Should(Equal(1))

			resp, err := server.Get("/v1/contacts/c007")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Context("Failures", func() {
		It("keeps earlier pages and deletes nothing when a later page fails", func() {
			Expect(server.TriggerSync()).To(Equal(http.StatusAccepted))
			server.WaitForSyncStatus(status.StatusSuccess, 10*time.Second)

			records := helpers.CreateContacts(5)
			records[0].DisplayName = "Changed First"
			remote.SetRecords(records)
			remote.FailPage(2, http.StatusBadGateway)

			Expect(server.TriggerSync()).To(Equal(http.StatusAccepted))
			state := server.WaitForSyncStatus(status.StatusFailed, 10*time.Second)
			Expect(state.LastErrorKind).To(Equal(string(pkgsync.KindRemoteUnavailable)))
			Expect(state.RecordsDeleted).To(BeZero())

			all := server.ListAllContacts(10)
			Expect(all).To(HaveLen(7))
			Expect(all[0].DisplayName).To(Equal("Changed First"))
		})

		It("reports expired credentials", func() {
			remote.RejectCredentials(true)

			Expect(server.TriggerSync()).To(Equal(http.StatusAccepted))
			state := server.WaitForSyncStatus(status.StatusFailed, 10*time.Second)
			Expect(state.LastErrorKind).To(Equal(string(pkgsync.KindRemoteAuthExpired)))
			Expect(state.LastSyncAt).NotTo(BeNil())

			remote.RejectCredentials(false)
			Expect(server.TriggerSync()).To(Equal(http.StatusAccepted))
			server.WaitForSyncStatus(status.StatusSuccess, 10*time.Second)
		})
	})

	Context("Concurrent triggers", func() {
		It("starts exactly one attempt", func() {
			remote.Hold()

			const callers = 8
			codes := make([]int, callers)
			var wg sync.WaitGroup
			for i := range callers {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					codes[i] = server.TriggerSync()
				}()
			}
			wg.Wait()

			Expect(codes).To(ContainElement(http.StatusAccepted))
			accepted := 0
			for _, code := range codes {
				if code == http.StatusAccepted {
					accepted++
				} else {
					Expect(code).To(Equal(http.StatusConflict))
				}
			}
			Expect(accepted).To(Equal(1))
			Expect(server.GetSyncState().Status).To(Equal(status.StatusRunning))

			remote.Release()
			server.WaitForSyncStatus(status.StatusSuccess, 10*time.Second)
		})
	})
})
