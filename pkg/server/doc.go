// Package server hosts a transport.Router over HTTP.
//
// A Server mounts the router under a chi root that adds request IDs, real
// client IPs and panic recovery, plus a JSON health endpoint and an optional
// Prometheus scrape endpoint:
//
//	router := transport.NewRouter()
//	router.BindMethod("Example.lugma/Chat/SendMessage", sendMessage)
//	router.BindStream("Example.lugma/Chat/SubscribeToEvents", subscribe)
//
//	srv := server.New(&server.ServerConfig{
//	    Address:     ":8080",
//	    MetricsPath: "/metrics",
//	}, router)
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
//
// Run blocks until SIGINT or SIGTERM. Shutdown closes every live stream
// before draining HTTP connections.
package server
