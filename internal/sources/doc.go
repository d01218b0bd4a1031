// Package sources provides the clients that retrieve contact records from
// the remote contact source, one page at a time.
//
// A Source is consumed sequentially by the reconciler: each FetchPage call
// continues from the cursor returned by the previous one, and an empty
// NextCursor marks the end of the full set. Sources never retry internally;
// failures are returned as *Error values carrying a Kind so the caller can
// tell an expired credential from a transient outage.
//
// Current implementations:
//   - APISource: paginated JSON HTTP API, with optional static bearer token
//     or OAuth2 client credentials
//   - FileSource: a local JSON file, paginated in memory
package sources
