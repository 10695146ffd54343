// Package client is the Go SDK for the lifecycled HTTP API.
//
// Every call authenticates with an actor bearer token. The token carries the
// actor id, role and owning entity; request bodies never do.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithBearerToken(os.Getenv("NZILA_TOKEN")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Moving a resource
//
//	out, err := c.ApplyTransition(ctx, "payout", "po-1", client.TransitionRequest{
//	    Target:  "APPROVED",
//	    Payload: map[string]any{"note": "checked against invoice"},
//	})
//
// A refused transition returns an *APIError whose Code is the rejection code
// (ROLE_DENIED, GUARD_FAILURE, NO_SUCH_EDGE or ALREADY_TERMINAL):
//
//	var apiErr *client.APIError
//	if errors.As(err, &apiErr) && apiErr.Code == "GUARD_FAILURE" {
//	    fmt.Println(apiErr.Message)
//	}
//
// # Verifying evidence
//
// VerifySeal posts a pack and its seal to the server, which recomputes every
// hash and checks the HMAC with its keyring.
package client
