/*
Package api exposes the digest admin API over HTTP and the gRPC health service.

# HTTP routes

	GET    /health        JSON health snapshot, 503 when unhealthy
	GET    /health/text   plain-text health message
	POST   /repair        run a repair, JSON report
	GET    /ready         readiness of the registered components
	GET    /livez         liveness
	GET    /metrics       Prometheus metrics
	GET    /groups        configured groups
	GET    /groups/{id}   one group
	PUT    /groups/{id}   store a group and (re)schedule its job
	DELETE /groups/{id}   remove a group and its job
	GET    /jobs          jobs registered in the scheduler
	GET    /jobs/{name}   one job with its next and previous fire times

A health check that finds problems is still a successful request: the
snapshot is returned with status 503 so load balancers can act on it. A
partial repair is returned with status 200; only an orchestrator that cannot
run at all produces a 500.

Errors are JSON objects with a single "error" field. Unknown groups are 404,
malformed IDs or configs are 400.

Requests are logged at debug level and counted in digest_api_requests_total
by route pattern and status.

# gRPC health

GRPCHealth serves grpc.health.v1 for the "digest" service and registers
server reflection. The service starts NOT_SERVING and follows the verdicts
passed to SetServing.
*/
package api
