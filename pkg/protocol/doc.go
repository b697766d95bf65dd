// Package protocol implements the master side of the OPDI session:
// the handshake on the control channel, the Basic (BP) and Extended (EP)
// command sets, streaming channel dispatch, and the keepalive.
//
// A session is set up by running a Handshaker over a started
// router.Router. The handshake selects a Constructor from a Registry by
// the magic the device announces, and the resulting Protocol serves as
// the ports.Backend for every port the device declares.
//
//	hs := &protocol.Handshaker{Router: r, Config: protocol.DefaultConfig()}
//	p, err := hs.Run(ctx)
//	if err != nil {
//	    return err
//	}
//	p.Initiate()
//	caps, err := p.Capabilities(ctx)
package protocol
