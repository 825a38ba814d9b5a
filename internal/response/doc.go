// Package response renders the spoken reply for a handled directive.
//
// Replies come from text/template files embedded under templates/, one per
// Kind. FromResult and FromFailure map dispatch results and device failures
// to a kind and its Context, so callers never assemble sentences by hand.
// Topics and IDs are not part of Context and cannot appear in a reply.
package response
