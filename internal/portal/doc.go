// Package portal implements the browser-based firmware update portal.
//
// Server is a cooperative HTTP server: connections are accepted and parsed by
// net/http, but handlers only run when the poll loop calls ServeOnePending,
// one request per call. UploadHandler mounts a chi router on the server with
// two routes under the configured base path:
//
//	GET  <base>   upload form (field "firmware")
//	POST <base>   multipart upload, staged into a firmware.Store
//
// Both routes sit behind HTTP Basic Auth when a username or password is set.
//
// # Usage Example
//
//	srv := portal.NewServer(portal.ServerConfig{})
//	uploader := portal.NewUploadHandler(store, false)
//
//	if err := uploader.Attach(srv, "/update", "admin", "secret"); err != nil {
//	    return err
//	}
//	if err := srv.Listen(80); err != nil {
//	    return err
//	}
//	for {
//	    srv.ServeOnePending()
//	}
package portal
