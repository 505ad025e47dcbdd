// Package accounts provides user account flows on top of Bun persistence and
// go-router controllers: pending registration with email activation, direct
// registration, session login, profile updates, password change and reset.
//
// Activation tokens:
//   - ActivationTokenService seals a user id and an issuance timestamp into an
//     HS256 signed token. Tokens are not stored; Redeem verifies the signature
//     and the age against a caller supplied maximum.
//   - ActivateAccountHandler is the policy layer around Redeem. It resolves the
//     user and flips the account to active with a conditional update so two
//     concurrent redemptions activate the account only once.
//
// Pending users:
//   - A pending registration deletes every inactive record for the email before
//     creating a new one. At most one active account may own an email.
//
// Activity sinks:
//   - ActivitySink receives audit events (registration, activation, login and
//     password changes). Sinks run best effort so a failing sink never blocks
//     an account flow.
package accounts
