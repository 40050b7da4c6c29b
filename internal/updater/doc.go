// Package updater drives the network update subsystems of a device from the
// state of its network link.
//
// A Controller is configured once through a Builder and then polled from a
// single loop. Each Handle call compares the current link state with the
// previous one:
//
//	prev  now    transition        actions
//	down  up     link established  resolve identity, start advertisement,
//	                               attach + listen + advertise the portal,
//	                               start the background listener
//	up    down   link lost         stop advertisement
//	up    up     link stable       service portal and listener once
//	down  down   idle              nothing
//
// There is no debouncing. A link that flaps re-runs the full established
// sequence on every up edge, so advertisements are re-registered each time.
//
// # Usage Example
//
//	b := updater.NewBuilder().
//	    SetHostIdentity("device1").
//	    EnableWebPortal("admin", "secret", "/update")
//
//	ctrl, err := b.Build(updater.Deps{
//	    Link:       monitor,
//	    Advertiser: advertiser,
//	    WebServer:  srv,
//	    Uploader:   uploader,
//	})
//	if err != nil {
//	    return err
//	}
//	defer ctrl.Close()
//
//	for {
//	    ctrl.Handle()
//	}
//
// Collaborator failures are logged and never change the cached link state.
// The only recovery is the next link-established edge.
package updater
