// Package workflow implements the gated shipment workflow: ordered stages
// that each require uploaded documents and unanimous signer approval before
// the shipment advances. Engine is the only mutator of shipment state; every
// mutation runs through Repository.Update so it commits atomically per
// shipment.
package workflow
