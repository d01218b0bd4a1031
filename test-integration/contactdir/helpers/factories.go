package helpers

import (
	"fmt"

	"github.com/contactdir/contactdir-server/internal/contacts"
)

// CreateContacts returns n remote records with ids c001..cNNN
func CreateContacts(n int) []contacts.RemoteRecord {
	records := make([]contacts.RemoteRecord, 0, n)
	for i := 1; i <= n; i++ {
		records = append(records, contacts.RemoteRecord{
			ExternalID:  fmt.Sprintf("c%03d", i),
			DisplayName: fmt.Sprintf("Contact %03d", i),
			PhoneNumbers: []contacts.PhoneNumber{
				{Number: fmt.Sprintf("+33 1 00 00 %02d %02d", i/100, i%100), Type: "work"},
			},
			Organization: "Acme",
		})
	}
	return records
}
