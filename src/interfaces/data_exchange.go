package interfaces

import "card-market-tracker/src/models"

// -----------------------------------------------------------------------------
// IDataExchanger shares finished metric sets with external listeners (HTTP/websocket).
// -----------------------------------------------------------------------------

type IDataExchanger interface {
	// -----------------------------------------------------------------------------
	// Broadcast pushes a new metrics set to connected listeners and updates state.
	Broadcast(payload models.MLatestData)

	// -----------------------------------------------------------------------------
	// UpdateAllDatas updates the internal state without broadcasting.
	UpdateAllDatas(data models.MLatestData)

	// -----------------------------------------------------------------------------
	// Start the server
	Start() error

	// -----------------------------------------------------------------------------
	// Stop the server gracefully
	Stop() error
}
