// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Envelope
//
// Every response body shares one envelope:
//
//	{"status": 200, "message": "...", "data": {...}, "errors": [], "success": true}
//
// Success helpers:
//
//	httputil.WriteSuccess(w, http.StatusOK, "Project fetched successfully", project)
//	httputil.WriteCreated(w, "Task created successfully", task)
//
// Errors are written through a single boundary that understands apperrors kinds:
//
//	if err != nil {
//		httputil.WriteError(w, r, err)
//		return
//	}
//
// Untyped errors become a generic 500 and are logged with the request id.
//
// # Request Parsing
//
//	var req createTaskRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// # Validation
//
//	v := httputil.NewValidator()
//	v.Required("email", req.Email)
//	v.Email("email", req.Email)
//	if err := v.Err(); err != nil { ... }
package httputil
