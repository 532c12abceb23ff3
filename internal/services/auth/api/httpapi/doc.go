// Package httpapi exposes the auth authority over HTTP.
//
// Every authentication failure leaves this package as the same 401 body so a
// caller cannot tell which stage rejected it or whether the account exists.
package httpapi
