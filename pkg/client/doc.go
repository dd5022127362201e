/*
Package client provides a Go client for the digest admin API.

The CLI uses it to talk to a running `digest serve`:

	c := client.NewClient("localhost:8080")
	report, err := c.Health()
	rep, err := c.Repair()
	_, err = c.SetGroup(123, api.GroupRequest{Hour: 21, Minute: 30, LeastMessageCount: 10})

Every call has its own timeout; repairs get a longer one. Non-2xx responses
come back as *APIError, and IsNotFound matches a 404. An unhealthy snapshot
from /health (HTTP 503) is returned as a report, not as an error.

GRPCServing queries the grpc.health.v1 service of the same server.
*/
package client
