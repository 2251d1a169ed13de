package guardtype

// Request is the service-chain object the Challenge Engine services: a paid
// record specifying a client-chain blockheight window during which
// guardnodes must respond to challenges.
type Request struct {
	// Txid identifies the request; it is the primary key used by the
	// Store and the key guardnodes and the payments subsystem refer to.
	Txid Hash

	// GenesisBlockhash pins this request to one client chain.
	GenesisBlockhash Hash

	// StartBlockheight and EndBlockheight are the inclusive service-chain
	// window the auction committed to.
	StartBlockheight uint32
	EndBlockheight   uint32

	// StartBlockheightClientchain and EndBlockheightClientchain are the
	// engine-derived client-chain window; see pkg/challenger's alignment
	// step for how they are computed and re-aligned on restart.
	StartBlockheightClientchain uint32
	EndBlockheightClientchain   uint32

	// FeePercentage and NumTickets are economic parameters opaque to the
	// engine; it carries them through to the Store unexamined.
	FeePercentage uint32
	NumTickets    uint32

	// IsPaymentComplete and PaymentTxid are set by the external payments
	// subsystem once it has disbursed fees for this request. The engine
	// never reads or writes them; Store.UpdateRequest round-trips them.
	IsPaymentComplete bool
	PaymentTxid       *Hash
}

// HasValidClientchainWindow reports whether the client-chain window is
// well-formed (start <= end). An uncomputed all-zero window also passes.
func (r Request) HasValidClientchainWindow() bool {
	return r.StartBlockheightClientchain <= r.EndBlockheightClientchain
}
