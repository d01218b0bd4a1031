package app

import (
	"github.com/contactdir/contactdir-server/internal/directory"
	"github.com/contactdir/contactdir-server/internal/events"
	"github.com/contactdir/contactdir-server/internal/storage"
	"github.com/contactdir/contactdir-server/internal/sync/coordinator"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// SyncCoordinator runs manual, scheduled and startup syncs
	SyncCoordinator coordinator.Coordinator

	// DirectoryService serves the non-deleted contacts
	DirectoryService directory.Service

	// Store is the local contact store shared by the sync and the directory
	Store storage.Store

	// Publisher is notified at the end of every sync attempt
	Publisher events.Publisher
}
