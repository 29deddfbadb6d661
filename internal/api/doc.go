// Package api hosts the REST surface for submitting research tasks and
// querying their state, along with the auth and metrics middleware that
// wraps every handler.
package api
