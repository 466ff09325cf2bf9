// Package client is the HTTP client coven-ctx uses to talk to a coven-context server.
//
// # Requests
//
// Every method maps onto one /api route. Non-2xx responses carrying a
// {"error": "..."} body come back as *APIError so callers can branch on
// the status:
//
//	c := client.New("http://127.0.0.1:7777")
//	res, err := c.StartSession(ctx, session.StartInput{Name: "auth"})
//	var apiErr *client.APIError
//	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
//	    ...
//	}
//
// # Streaming
//
// Stream reads /api/events/stream once and hands each data frame to a
// callback; comment frames (keep-alives) are skipped. Tail wraps Stream with
// reconnects: it resumes after the last sequence it delivered, backs off
// between attempts and drops frames it has already delivered.
package client
