// Package server is the daemon surface: an HTTP/JSON API over a unix
// socket that short-lived CLI invocations call instead of holding cache
// state themselves. Client is the matching caller side.
package server
