// Package auth orchestrates admin authentication.
//
// A login opens a token family: a server-side record holding the id of the
// only refresh token that may still be exchanged. Each refresh swaps that id
// atomically (storage.TokenFamilyStore.RotateFamily). Presenting any other
// refresh token of the family is treated as theft: the family is deleted,
// the presented and live tokens are blacklisted, and a CRITICAL audit event
// is written before the call returns.
//
//	NoFamily --login--> Active(id, tok) --refresh--> Active(id, tok')
//	Active --logout--> Invalidated
//	Active --stale tok presented--> Compromised
//
// Every failure is an *Error carrying a Kind. Kind.PublicMessage is the only
// text that may reach clients.
package auth
