// Package api exposes the backup pipeline over HTTP.
//
// Routes:
//
//	POST /api/v1/backups                    create a backup, 201 with the record
//	GET  /api/v1/backups                    list the catalog
//	GET  /api/v1/backups/{filename}/verify  recompute and compare a checksum
//	POST /api/v1/restore                    restore an artifact by bare name
//	POST /api/v1/cleanup                    apply retention
//	GET  /healthz                           scheduler health
//	GET  /metrics                           prometheus exposition
//
// Failures are rendered as {"error": <TYPE>, "message": <text>}.
package api
