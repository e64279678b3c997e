// Package api serves the HTTP actions a client takes during onboarding.
//
// Routes:
//
//	POST /api/start          {"sessionId", "username"}
//	POST /api/email          {"sessionId", "email"}
//	POST /api/name           {"sessionId", "name"}
//	POST /api/upload         multipart: sessionId field, image file
//	GET  /api/sessions/{id}  current record
//
// Every action answers {"ok":true}, including for an unknown session id.
// Bodies that fail to parse or lack a field get 400 with {"error": ...} and
// never reach the router.
package api
