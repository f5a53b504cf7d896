// Command shipctl drives the shipment API from a terminal: it mints
// operator tokens, manages roles, creates shipments from template files,
// uploads documents, approves stages and prints shipment status.
package main
