// Package consensusengine implements the CrowdProof evidence verification
// core inside the verification context.
//
// The module owns the vote ledger (one current vote per evidence and
// verifier), the consensus evaluator that derives evidence status from the
// full vote set, evidence registration and read models, and the outbox-backed
// workers that publish status changes and register uploaded evidence. Business
// rules live in the application and domain layers; storage, metrics and
// transport sit behind ports and adapters.
package consensusengine
