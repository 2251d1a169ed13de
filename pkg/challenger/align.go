package challenger

import (
	"math"

	"github.com/commerceblock/guardnode-coordinator/pkg/guardtype"
)

// AlignInputs bundles the chain state the alignment formula needs.
type AlignInputs struct {
	ServiceBlockTimeSec float64
	ClientBlockTimeSec  float64
	HeightSvc           uint32
	HeightCli           uint32
}

// Align recomputes the client-chain window boundary. When stored is non-nil (the Store already holds
// a Request for this txid — the crash-recovery path), it re-anchors
// EndBlockheightClientchain to preserve real-wall-clock parity with the
// service-chain window given any drift between the two chains' block
// times. When stored is nil (fresh discovery), it computes the initial
// client-chain window from the current client-chain height.
func Align(stored *guardtype.Request, fresh guardtype.Request, in AlignInputs) guardtype.Request {
	if stored != nil {
		req := *stored
		startSvc, endSvc := req.StartBlockheight, req.EndBlockheight
		startCli := req.StartBlockheightClientchain

		if in.HeightSvc < startSvc || in.HeightCli < startCli {
			return req
		}

		svcPeriodSec := float64(endSvc-startSvc) * in.ServiceBlockTimeSec
		clientEnd0 := float64(startCli) + math.Floor(svcPeriodSec/in.ClientBlockTimeSec)

		svcElapsedSec := float64(in.HeightSvc-startSvc) * in.ServiceBlockTimeSec
		cliElapsedSec := float64(in.HeightCli-startCli) * in.ClientBlockTimeSec
		drift := svcElapsedSec - cliElapsedSec

		driftBlocks := int64(drift / in.ClientBlockTimeSec) // truncates toward zero, sign-preserving
		endCli := int64(clientEnd0) - driftBlocks
		if endCli < 0 {
			endCli = 0
		}
		req.EndBlockheightClientchain = uint32(endCli)
		return req
	}

	req := fresh
	req.StartBlockheightClientchain = in.HeightCli
	svcPeriodSec := float64(req.EndBlockheight-req.StartBlockheight) * in.ServiceBlockTimeSec
	req.EndBlockheightClientchain = in.HeightCli + uint32(math.Floor(svcPeriodSec/in.ClientBlockTimeSec))
	return req
}
