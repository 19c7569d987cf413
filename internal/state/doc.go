// Package state implements the state-exchange domain: the typed state
// record, the claims mapper, the tenant key manager, the exchange
// orchestrator and the storage contract the relational backends implement.
package state
