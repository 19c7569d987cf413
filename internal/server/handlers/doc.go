// Package handlers contains the HTTP handlers for the state-exchange API.
package handlers
